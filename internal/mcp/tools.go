package mcp

import (
	"context"
	"fmt"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"airsync/internal/airentry"
	"airsync/internal/config"
	"airsync/internal/viewsync"
)

type ListEntriesInput struct {
	Floor string `json:"floor,omitempty" jsonschema:"restrict to one floor"`
}

type GetEntryInput struct {
	ID string `json:"id" jsonschema:"entry id"`
}

type CreateEntryInput struct {
	Floor        string              `json:"floor" jsonschema:"floor name, e.g. ground or first"`
	Type         string              `json:"type" jsonschema:"window, door or vent"`
	Position     airentry.Position   `json:"position" jsonschema:"plan position"`
	Dimensions   airentry.Dimensions `json:"dimensions" jsonschema:"opening size"`
	Line         airentry.Line       `json:"line" jsonschema:"wall segment the entry sits on"`
	Properties   map[string]any      `json:"properties,omitempty" jsonschema:"simulation properties"`
	WallPosition *float64            `json:"wallPosition,omitempty" jsonschema:"position along the wall in percent"`
}

type UpdateEntryInput struct {
	ID        string         `json:"id" jsonschema:"entry id"`
	Patch     airentry.Patch `json:"patch" jsonschema:"fields to change; a null property removes it"`
	Immediate bool           `json:"immediate,omitempty" jsonschema:"commit now instead of batching under an edit session"`
}

type DeleteEntryInput struct {
	ID string `json:"id" jsonschema:"entry id"`
}

type StartEditInput struct {
	ID string `json:"id" jsonschema:"entry to lock for editing"`
}

type EndEditInput struct{}

type SyncStatsInput struct{}

type GetSchemaInput struct{}

type RecentUpdatesInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of updates, newest last"`
}

type EntryOutput struct {
	ID           string              `json:"id"`
	FloorName    string              `json:"floorName"`
	Type         string              `json:"type"`
	Position     airentry.Position   `json:"position"`
	Dimensions   airentry.Dimensions `json:"dimensions"`
	Line         airentry.Line       `json:"line"`
	Properties   map[string]any      `json:"properties"`
	WallPosition *float64            `json:"wallPosition,omitempty"`
	CreatedAt    string              `json:"createdAt"`
	LastModified string              `json:"lastModified"`
}

type ListEntriesOutput struct {
	Entries []EntryOutput `json:"entries"`
}

type UpdateEntryOutput struct {
	Queued  bool         `json:"queued"`
	Pending int          `json:"pending"`
	Entry   *EntryOutput `json:"entry,omitempty"`
}

type DeleteEntryOutput struct {
	Deleted bool `json:"deleted"`
}

type EditStateOutput struct {
	ActiveEditor   string `json:"activeEditor,omitempty"`
	EditingEntryID string `json:"editingEntryId,omitempty"`
	LockActive     bool   `json:"lockActive"`
}

type SyncStatsOutput struct {
	StoreCount  int             `json:"storeCount"`
	LegacyCount int             `json:"legacyCount"`
	SyncState   string          `json:"syncState"`
	Syncing     bool            `json:"syncing"`
	Initialized bool            `json:"initialized"`
	Edit        EditStateOutput `json:"edit"`
}

type UpdateOutput struct {
	Kind       string       `json:"kind"`
	EntryID    string       `json:"entryId"`
	FloorName  string       `json:"floorName,omitempty"`
	SourceView string       `json:"sourceView,omitempty"`
	Origin     string       `json:"origin"`
	At         string       `json:"at"`
	Entry      *EntryOutput `json:"entry,omitempty"`
}

type RecentUpdatesOutput struct {
	Updates []UpdateOutput `json:"updates"`
}

type SchemaOutput struct {
	Version    int               `json:"version"`
	EntryTypes []EntryTypeOutput `json:"entry_types"`
}

type EntryTypeOutput struct {
	Name       string           `json:"name"`
	Properties []PropertyOutput `json:"properties"`
}

type PropertyOutput struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Values   []string `json:"values,omitempty"`
	Required bool     `json:"required,omitempty"`
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "list_entries",
		Description: "List air entries, optionally for one floor",
	}, s.handleListEntries)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "get_entry",
		Description: "Retrieve one air entry",
	}, s.handleGetEntry)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "create_entry",
		Description: "Create a window, door or vent on a floor",
	}, s.handleCreateEntry)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "update_entry",
		Description: "Change an air entry; batched while an edit session is active",
	}, s.handleUpdateEntry)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "delete_entry",
		Description: "Delete an air entry",
	}, s.handleDeleteEntry)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "start_edit",
		Description: "Take the edit lock for an entry",
	}, s.handleStartEdit)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "end_edit",
		Description: "Commit queued edits and release the edit lock",
	}, s.handleEndEdit)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "sync_stats",
		Description: "Report store and legacy counts, bridge state and the edit lock",
	}, s.handleSyncStats)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "recent_updates",
		Description: "Return the latest updates other views made",
	}, s.handleRecentUpdates)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "get_schema",
		Description: "Return the entry property schema",
	}, s.handleGetSchema)
}

func (s *Server) handleListEntries(ctx context.Context, req *sdk.CallToolRequest, input ListEntriesInput) (*sdk.CallToolResult, ListEntriesOutput, error) {
	var entries []airentry.Entry
	if input.Floor != "" {
		entries = s.store.ListFloor(input.Floor)
	} else {
		entries = s.store.List()
	}

	output := make([]EntryOutput, 0, len(entries))
	for _, e := range entries {
		output = append(output, entryOutput(e))
	}
	return nil, ListEntriesOutput{Entries: output}, nil
}

func (s *Server) handleGetEntry(ctx context.Context, req *sdk.CallToolRequest, input GetEntryInput) (*sdk.CallToolResult, EntryOutput, error) {
	if input.ID == "" {
		return nil, EntryOutput{}, fmt.Errorf("id is required")
	}
	e, ok := s.store.Get(input.ID)
	if !ok {
		return nil, EntryOutput{}, fmt.Errorf("entry %q not found", input.ID)
	}
	return nil, entryOutput(e), nil
}

func (s *Server) handleCreateEntry(ctx context.Context, req *sdk.CallToolRequest, input CreateEntryInput) (*sdk.CallToolResult, EntryOutput, error) {
	if input.Floor == "" {
		return nil, EntryOutput{}, fmt.Errorf("floor is required")
	}
	e, err := s.store.Create(input.Floor, airentry.Spec{
		Type:         airentry.Type(input.Type),
		Position:     input.Position,
		Dimensions:   input.Dimensions,
		Line:         input.Line,
		Properties:   airentry.Properties(input.Properties),
		WallPosition: input.WallPosition,
	}, airentry.WithOrigin(ViewID))
	if err != nil {
		return nil, EntryOutput{}, err
	}
	s.logger.Debug("entry created", zap.String("id", e.ID))
	return nil, entryOutput(e), nil
}

func (s *Server) handleUpdateEntry(ctx context.Context, req *sdk.CallToolRequest, input UpdateEntryInput) (*sdk.CallToolResult, UpdateEntryOutput, error) {
	if input.ID == "" {
		return nil, UpdateEntryOutput{}, fmt.Errorf("id is required")
	}
	if !s.sync.CanEdit(ViewID, input.ID) {
		return nil, UpdateEntryOutput{}, viewsync.ErrLockDenied
	}
	if err := s.sync.PropagateUpdate(ViewID, input.ID, viewsync.KindFor(input.Patch), input.Patch, input.Immediate); err != nil {
		return nil, UpdateEntryOutput{}, err
	}

	out := UpdateEntryOutput{Pending: s.sync.Pending(input.ID)}
	out.Queued = out.Pending > 0
	if e, ok := s.store.Get(input.ID); ok {
		eo := entryOutput(e)
		out.Entry = &eo
	}
	return nil, out, nil
}

func (s *Server) handleDeleteEntry(ctx context.Context, req *sdk.CallToolRequest, input DeleteEntryInput) (*sdk.CallToolResult, DeleteEntryOutput, error) {
	if input.ID == "" {
		return nil, DeleteEntryOutput{}, fmt.Errorf("id is required")
	}
	if !s.sync.CanEdit(ViewID, input.ID) {
		return nil, DeleteEntryOutput{}, viewsync.ErrLockDenied
	}
	if !s.store.Delete(input.ID, airentry.WithOrigin(ViewID)) {
		return nil, DeleteEntryOutput{}, fmt.Errorf("entry %q not found", input.ID)
	}
	return nil, DeleteEntryOutput{Deleted: true}, nil
}

func (s *Server) handleStartEdit(ctx context.Context, req *sdk.CallToolRequest, input StartEditInput) (*sdk.CallToolResult, EditStateOutput, error) {
	if input.ID == "" {
		return nil, EditStateOutput{}, fmt.Errorf("id is required")
	}
	if !s.sync.StartEditSession(ViewID, input.ID) {
		return nil, EditStateOutput{}, viewsync.ErrLockDenied
	}
	return nil, editStateOutput(s.sync.State()), nil
}

func (s *Server) handleEndEdit(ctx context.Context, req *sdk.CallToolRequest, input EndEditInput) (*sdk.CallToolResult, EditStateOutput, error) {
	s.sync.EndEditSession(ViewID)
	return nil, editStateOutput(s.sync.State()), nil
}

func (s *Server) handleSyncStats(ctx context.Context, req *sdk.CallToolRequest, input SyncStatsInput) (*sdk.CallToolResult, SyncStatsOutput, error) {
	out := SyncStatsOutput{
		StoreCount: len(s.store.List()),
		SyncState:  "detached",
		Edit:       editStateOutput(s.sync.State()),
	}
	if s.stats == nil {
		return nil, out, nil
	}
	stats, err := s.stats.Stats(ctx)
	if err != nil {
		return nil, SyncStatsOutput{}, err
	}
	out.StoreCount = stats.StoreCount
	out.LegacyCount = stats.LegacyCount
	out.SyncState = stats.State.String()
	out.Syncing = stats.Syncing
	out.Initialized = stats.Initialized
	return nil, out, nil
}

func (s *Server) handleRecentUpdates(ctx context.Context, req *sdk.CallToolRequest, input RecentUpdatesInput) (*sdk.CallToolResult, RecentUpdatesOutput, error) {
	updates := s.recentUpdates(input.Limit)
	output := make([]UpdateOutput, 0, len(updates))
	for _, u := range updates {
		output = append(output, updateOutput(u))
	}
	return nil, RecentUpdatesOutput{Updates: output}, nil
}

func (s *Server) handleGetSchema(ctx context.Context, req *sdk.CallToolRequest, input GetSchemaInput) (*sdk.CallToolResult, SchemaOutput, error) {
	return nil, schemaOutputFromConfig(s.schema), nil
}

func schemaOutputFromConfig(schema *config.Schema) SchemaOutput {
	if schema == nil {
		return SchemaOutput{EntryTypes: []EntryTypeOutput{}}
	}

	out := SchemaOutput{
		Version:    schema.Version,
		EntryTypes: make([]EntryTypeOutput, 0, len(schema.EntryTypes)),
	}
	for _, entryType := range schema.EntryTypes {
		entryOut := EntryTypeOutput{
			Name:       entryType.Name,
			Properties: make([]PropertyOutput, 0, len(entryType.Properties)),
		}
		for _, prop := range entryType.Properties {
			entryOut.Properties = append(entryOut.Properties, PropertyOutput{
				Name:     prop.Name,
				Type:     prop.Type,
				Values:   prop.Values,
				Required: prop.Required,
			})
		}
		out.EntryTypes = append(out.EntryTypes, entryOut)
	}
	return out
}

func entryOutput(e airentry.Entry) EntryOutput {
	return EntryOutput{
		ID:           e.ID,
		FloorName:    e.FloorName,
		Type:         string(e.Type),
		Position:     e.Position,
		Dimensions:   e.Dimensions,
		Line:         e.Line,
		Properties:   map[string]any(e.Properties.Clone()),
		WallPosition: e.WallPosition,
		CreatedAt:    e.CreatedAt.Format(time.RFC3339Nano),
		LastModified: e.LastModified.Format(time.RFC3339Nano),
	}
}

func updateOutput(u viewsync.Update) UpdateOutput {
	out := UpdateOutput{
		Kind:       string(u.Kind),
		EntryID:    u.EntryID,
		FloorName:  u.FloorName,
		SourceView: u.SourceView,
		Origin:     string(u.Origin),
		At:         u.At.Format(time.RFC3339Nano),
	}
	if u.Entry != nil {
		eo := entryOutput(*u.Entry)
		out.Entry = &eo
	}
	return out
}

func editStateOutput(st viewsync.State) EditStateOutput {
	return EditStateOutput{
		ActiveEditor:   st.ActiveEditor,
		EditingEntryID: st.EditingEntryID,
		LockActive:     st.LockActive,
	}
}
