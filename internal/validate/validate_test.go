package validate

import (
	"context"
	"testing"

	"airsync/internal/airentry"
	"airsync/internal/config"
	"airsync/internal/legacy"
)

// skewedStore returns canned listings so index corruption can be simulated.
type skewedStore struct {
	all     []airentry.Entry
	byFloor map[string][]airentry.Entry
}

func (s *skewedStore) List() []airentry.Entry { return s.all }

func (s *skewedStore) ListFloor(floor string) []airentry.Entry { return s.byFloor[floor] }

func (s *skewedStore) Floors() []string {
	var out []string
	for floor := range s.byFloor {
		out = append(out, floor)
	}
	return out
}

func newMirrored(t *testing.T) (*airentry.Store, *legacy.MemoryCollection, airentry.Entry) {
	t.Helper()
	store := airentry.NewStore()
	coll := legacy.NewMemoryCollection()
	e, err := store.Create("ground", airentry.Spec{
		Type:       airentry.TypeWindow,
		Position:   airentry.Position{X: 1, Y: 2},
		Dimensions: airentry.Dimensions{Width: 100, Height: 80},
		Properties: airentry.Properties{"state": "open"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := coll.Upsert(context.Background(), "ground", legacy.FromEntry(e)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return store, coll, e
}

func TestRun_Consistent(t *testing.T) {
	store, coll, _ := newMirrored(t)

	report, err := Run(context.Background(), nil, store, coll)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Issues) != 0 {
		t.Fatalf("expected no issues, got %+v", report.Issues)
	}
}

func TestRun_MissingInLegacy(t *testing.T) {
	store, coll, _ := newMirrored(t)
	if _, err := store.Create("first", airentry.Spec{Type: airentry.TypeVent, Dimensions: airentry.Dimensions{Width: 10, Height: 10}}); err != nil {
		t.Fatalf("create: %v", err)
	}

	report, err := Run(context.Background(), nil, store, coll)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !hasIssueCode(report.Issues, codeMissingInLegacy) {
		t.Fatalf("expected missing in legacy issue")
	}
}

func TestRun_MissingInStore(t *testing.T) {
	store, coll, _ := newMirrored(t)
	if err := coll.Upsert(context.Background(), "basement", legacy.Item{ID: "orphan", Type: "door"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	report, err := Run(context.Background(), nil, store, coll)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !hasIssueCode(report.Issues, codeMissingInStore) {
		t.Fatalf("expected missing in store issue")
	}
	if len(report.Errors()) != 1 || report.Errors()[0].Entry != "orphan" {
		t.Fatalf("unexpected errors: %+v", report.Errors())
	}
}

func TestRun_FieldDrift(t *testing.T) {
	store, coll, e := newMirrored(t)
	it := legacy.FromEntry(e)
	it.Position.X = 40
	it.Properties["state"] = "closed"
	if err := coll.Upsert(context.Background(), "ground", it); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	report, err := Run(context.Background(), nil, store, coll)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Issues) != 1 {
		t.Fatalf("expected one issue, got %+v", report.Issues)
	}
	issue := report.Issues[0]
	if issue.Code != codeFieldDrift {
		t.Fatalf("expected field drift, got %s", issue.Code)
	}
	if issue.Message != "legacy item differs in position, properties.state" {
		t.Fatalf("unexpected message %q", issue.Message)
	}
}

func TestRun_FloorIndexMismatch(t *testing.T) {
	store, coll, e := newMirrored(t)
	moved := e
	moved.FloorName = "first"

	skewed := &skewedStore{
		all:     store.List(),
		byFloor: map[string][]airentry.Entry{"ground": {moved}},
	}
	report, err := Run(context.Background(), nil, skewed, coll)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !hasIssueCode(report.Issues, codeFloorIndexMismatch) {
		t.Fatalf("expected floor index mismatch issue")
	}
}

func TestRun_DuplicateAndInvalid(t *testing.T) {
	_, coll, e := newMirrored(t)
	bad := e
	bad.Type = "skylight"

	skewed := &skewedStore{
		all:     []airentry.Entry{e, bad},
		byFloor: map[string][]airentry.Entry{"ground": {e, bad}},
	}
	report, err := Run(context.Background(), nil, skewed, coll)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !hasIssueCode(report.Issues, codeDuplicateID) {
		t.Fatalf("expected duplicate id issue")
	}
	if !hasIssueCode(report.Issues, codeInvalidEntry) {
		t.Fatalf("expected invalid entry issue")
	}
}

func TestRun_SchemaProperties(t *testing.T) {
	schema, err := config.ParseSchema([]byte(`version: 1
entry_types:
  - name: window
    properties:
      - { name: state, type: enum, values: [open, closed], required: true }
      - { name: temperature, type: number, required: true }
`))
	if err != nil {
		t.Fatalf("schema: %v", err)
	}

	store, coll, e := newMirrored(t)
	report, err := Run(context.Background(), schema, store, coll)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !hasIssueCode(report.Warnings(), codeMissingRequired) {
		t.Fatalf("expected missing required property warning")
	}
	if len(report.Errors()) != 0 {
		t.Fatalf("expected no errors, got %+v", report.Errors())
	}

	updated, err := store.Update(e.ID, airentry.Patch{Properties: airentry.Properties{"state": "ajar", "temperature": 20}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := coll.Upsert(context.Background(), "ground", legacy.FromEntry(updated)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	report, err = Run(context.Background(), schema, store, coll)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !hasIssueCode(report.Errors(), codePropertyInvalid) {
		t.Fatalf("expected invalid property error")
	}

	if _, err := store.Create("ground", airentry.Spec{Type: airentry.TypeVent, Dimensions: airentry.Dimensions{Width: 5, Height: 5}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	report, err = Run(context.Background(), schema, store, coll)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !hasIssueCode(report.Warnings(), codeUnknownEntryType) {
		t.Fatalf("expected unknown entry type warning")
	}
}

func TestRun_RequiresInputs(t *testing.T) {
	if _, err := Run(context.Background(), nil, nil, legacy.NewMemoryCollection()); err == nil {
		t.Fatalf("expected error without store")
	}
	if _, err := Run(context.Background(), nil, airentry.NewStore(), nil); err == nil {
		t.Fatalf("expected error without collection")
	}
}

func hasIssueCode(issues []Issue, code string) bool {
	for _, issue := range issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}
