// Package legacy holds the pre-existing persisted shape of air entries and the
// collection backends that store it, one list of items per floor.
package legacy

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("legacy collection closed")

// Collection is a per-floor store of legacy items.
//
// Watch calls fn with the name of a floor whose items changed through some
// path other than this Collection value. Backends that cannot tell the
// difference may also report their own writes; callers must tolerate that.
type Collection interface {
	Floors(ctx context.Context) ([]string, error)
	List(ctx context.Context, floor string) ([]Item, error)
	Upsert(ctx context.Context, floor string, item Item) error
	Remove(ctx context.Context, floor, id string) error
	Watch(ctx context.Context, fn func(floor string)) (stop func(), err error)
	Close(ctx context.Context) error
}

type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

type Position struct {
	X float64  `json:"x" yaml:"x"`
	Y float64  `json:"y" yaml:"y"`
	Z *float64 `json:"z,omitempty" yaml:"z,omitempty"`
}

type Dimensions struct {
	Width           float64  `json:"width" yaml:"width"`
	Height          float64  `json:"height" yaml:"height"`
	DistanceToFloor *float64 `json:"distanceToFloor,omitempty" yaml:"distanceToFloor,omitempty"`
	Shape           string   `json:"shape,omitempty" yaml:"shape,omitempty"`
}

type Line struct {
	Start Point `json:"start" yaml:"start"`
	End   Point `json:"end" yaml:"end"`
}

// Item is one legacy air entry. It carries no floor or timestamps; the floor
// is the key it is stored under.
type Item struct {
	ID           string         `json:"id" yaml:"id"`
	Type         string         `json:"type" yaml:"type"`
	Position     Position       `json:"position" yaml:"position"`
	Dimensions   Dimensions     `json:"dimensions" yaml:"dimensions"`
	Line         Line           `json:"line" yaml:"line"`
	Properties   map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
	WallPosition *float64       `json:"wallPosition,omitempty" yaml:"wallPosition,omitempty"`
}
