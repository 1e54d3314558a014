package wsview

import (
	"airsync/internal/airentry"
	"airsync/internal/viewsync"
)

// Outbound message types.
const (
	TypeHello  = "hello"
	TypeUpdate = "update"
	TypeState  = "state"
	TypeReply  = "reply"
)

// Command types a browser view may send.
const (
	CmdStartEdit = "start_edit"
	CmdEndEdit   = "end_edit"
	CmdPropagate = "propagate"
	CmdCreate    = "create"
	CmdDelete    = "delete"
	CmdList      = "list"
)

type Command struct {
	RequestID string              `json:"requestId"`
	Type      string              `json:"type"`
	EntryID   string              `json:"entryId,omitempty"`
	Floor     string              `json:"floor,omitempty"`
	Kind      viewsync.UpdateKind `json:"kind,omitempty"`
	Patch     *airentry.Patch     `json:"patch,omitempty"`
	Spec      *airentry.Spec      `json:"spec,omitempty"`
	Immediate bool                `json:"immediate,omitempty"`
}

type Message struct {
	Type      string           `json:"type"`
	ViewID    string           `json:"viewId,omitempty"`
	RequestID string           `json:"requestId,omitempty"`
	OK        bool             `json:"ok,omitempty"`
	Error     string           `json:"error,omitempty"`
	Update    *viewsync.Update `json:"update,omitempty"`
	State     *viewsync.State  `json:"state,omitempty"`
	Entry     *airentry.Entry  `json:"entry,omitempty"`
	Entries   []airentry.Entry `json:"entries,omitempty"`
}
