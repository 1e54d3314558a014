// Package validate cross-checks the entity store against the legacy
// collection and the entry property schema.
package validate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"airsync/internal/airentry"
	"airsync/internal/config"
	"airsync/internal/legacy"
)

type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warning"
)

const (
	codeInvalidEntry       = "invalid_entry"
	codeDuplicateID        = "duplicate_id"
	codeFloorIndexMismatch = "floor_index_mismatch"
	codeMissingInLegacy    = "missing_in_legacy"
	codeMissingInStore     = "missing_in_store"
	codeFieldDrift         = "field_drift"
	codeMissingRequired    = "missing_required_property"
	codePropertyInvalid    = "property_invalid"
	codeUnknownEntryType   = "unknown_entry_type"
)

type Issue struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Floor    string   `json:"floor,omitempty"`
	Entry    string   `json:"entry,omitempty"`
}

type Report struct {
	Issues []Issue `json:"issues"`
}

// Errors and Warnings split the report by severity.
func (r *Report) Errors() []Issue   { return r.filter(SeverityError) }
func (r *Report) Warnings() []Issue { return r.filter(SeverityWarn) }

func (r *Report) filter(s Severity) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == s {
			out = append(out, issue)
		}
	}
	return out
}

// EntrySource is the read side of the entity store.
type EntrySource interface {
	List() []airentry.Entry
	ListFloor(floor string) []airentry.Entry
	Floors() []string
}

// Run checks store consistency, compares every floor with the legacy
// collection and, when schema is not nil, checks entry properties.
func Run(ctx context.Context, schema *config.Schema, store EntrySource, collection legacy.Collection) (*Report, error) {
	if store == nil {
		return nil, fmt.Errorf("entry store is required")
	}
	if collection == nil {
		return nil, fmt.Errorf("legacy collection is required")
	}

	issues := make([]Issue, 0)
	entries := store.List()

	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.ID]; dup {
			issues = append(issues, entryIssue(e, SeverityError, codeDuplicateID, "duplicate entry id"))
		}
		seen[e.ID] = struct{}{}

		if err := airentry.Validate(e); err != nil {
			issues = append(issues, entryIssue(e, SeverityError, codeInvalidEntry, err.Error()))
		}
		issues = append(issues, validateProperties(schema, e)...)
	}

	issues = append(issues, validateFloorIndex(store, entries)...)

	legacyFloors, err := collection.Floors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list legacy floors: %w", err)
	}
	floors := unionFloors(store.Floors(), legacyFloors)
	for _, floor := range floors {
		items, err := collection.List(ctx, floor)
		if err != nil {
			return nil, fmt.Errorf("list legacy floor %s: %w", floor, err)
		}
		issues = append(issues, compareFloor(floor, store.ListFloor(floor), items)...)
	}

	return &Report{Issues: issues}, nil
}

func validateFloorIndex(store EntrySource, entries []airentry.Entry) []Issue {
	var issues []Issue
	indexed := 0
	for _, floor := range store.Floors() {
		for _, e := range store.ListFloor(floor) {
			indexed++
			if e.FloorName != floor {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Code:     codeFloorIndexMismatch,
					Message:  fmt.Sprintf("indexed under %s but belongs to %s", floor, e.FloorName),
					Floor:    floor,
					Entry:    e.ID,
				})
			}
		}
	}
	if indexed != len(entries) {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Code:     codeFloorIndexMismatch,
			Message:  fmt.Sprintf("floor index holds %d entries, store holds %d", indexed, len(entries)),
		})
	}
	return issues
}

func compareFloor(floor string, entries []airentry.Entry, items []legacy.Item) []Issue {
	var issues []Issue
	byID := make(map[string]legacy.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	inStore := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		inStore[e.ID] = struct{}{}
		it, ok := byID[e.ID]
		if !ok {
			issues = append(issues, entryIssue(e, SeverityError, codeMissingInLegacy, "entry missing from legacy collection"))
			continue
		}
		if fields := patchFields(legacy.Diff(e, it)); len(fields) > 0 {
			issues = append(issues, entryIssue(e, SeverityError, codeFieldDrift,
				fmt.Sprintf("legacy item differs in %s", strings.Join(fields, ", "))))
		}
	}

	for _, it := range items {
		if _, ok := inStore[it.ID]; ok {
			continue
		}
		issues = append(issues, Issue{
			Severity: SeverityError,
			Code:     codeMissingInStore,
			Message:  "legacy item missing from store",
			Floor:    floor,
			Entry:    it.ID,
		})
	}
	return issues
}

func validateProperties(schema *config.Schema, e airentry.Entry) []Issue {
	if schema == nil {
		return nil
	}
	entryType, ok := schema.EntryTypeByName(string(e.Type))
	if !ok {
		return []Issue{entryIssue(e, SeverityWarn, codeUnknownEntryType,
			fmt.Sprintf("entry type %s is not declared in the schema", e.Type))}
	}

	var issues []Issue
	for _, problem := range entryType.Check(e.Properties) {
		if problem.Missing {
			issues = append(issues, entryIssue(e, SeverityWarn, codeMissingRequired, problem.Message))
			continue
		}
		issues = append(issues, entryIssue(e, SeverityError, codePropertyInvalid, problem.Message))
	}
	return issues
}

func patchFields(p airentry.Patch) []string {
	var fields []string
	if p.Type != nil {
		fields = append(fields, "type")
	}
	if p.Position != nil {
		fields = append(fields, "position")
	}
	if p.Dimensions != nil {
		fields = append(fields, "dimensions")
	}
	if p.Line != nil {
		fields = append(fields, "line")
	}
	for key := range p.Properties {
		fields = append(fields, "properties."+key)
	}
	if p.WallPosition != nil {
		fields = append(fields, "wallPosition")
	}
	sort.Strings(fields)
	return fields
}

func unionFloors(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, f := range a {
		set[f] = struct{}{}
	}
	for _, f := range b {
		set[f] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func entryIssue(e airentry.Entry, severity Severity, code, message string) Issue {
	return Issue{
		Severity: severity,
		Code:     code,
		Message:  message,
		Floor:    e.FloorName,
		Entry:    e.ID,
	}
}
