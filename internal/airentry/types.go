// Package airentry is the authoritative store for air entries: the windows,
// doors and vents attached to walls on a floor plan.
//
// The Store owns id generation, validation, CRUD and a synchronous observer
// registry. Every value it hands out is an independent copy.
package airentry

import "time"

type Type string

const (
	TypeWindow Type = "window"
	TypeDoor   Type = "door"
	TypeVent   Type = "vent"
)

func (t Type) Valid() bool {
	switch t {
	case TypeWindow, TypeDoor, TypeVent:
		return true
	}
	return false
}

type Shape string

const (
	ShapeRectangular Shape = "rectangular"
	ShapeCircular    Shape = "circular"
)

// Point is a wall-line endpoint in plan coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Position struct {
	X float64  `json:"x" validate:"finite"`
	Y float64  `json:"y" validate:"finite"`
	Z *float64 `json:"z,omitempty" validate:"omitempty,finite"`
}

type Dimensions struct {
	Width           float64  `json:"width" validate:"finite"`
	Height          float64  `json:"height" validate:"finite"`
	DistanceToFloor *float64 `json:"distanceToFloor,omitempty" validate:"omitempty,finite"`
	Shape           Shape    `json:"shape,omitempty" validate:"omitempty,oneof=rectangular circular"`
}

// Line is the wall segment an entry is attached to.
type Line struct {
	Start Point `json:"start"`
	End   Point `json:"end"`
}

// Properties holds open-ended simulation attributes (state, temperature,
// flow settings). Values are JSON-compatible: strings, numbers, booleans,
// nested maps and slices.
type Properties map[string]any

type Entry struct {
	ID           string     `json:"id"`
	FloorName    string     `json:"floorName" validate:"required"`
	CreatedAt    time.Time  `json:"createdAt"`
	Type         Type       `json:"type" validate:"oneof=window door vent"`
	Position     Position   `json:"position"`
	Dimensions   Dimensions `json:"dimensions"`
	Line         Line       `json:"line"`
	Properties   Properties `json:"properties"`
	WallPosition *float64   `json:"wallPosition,omitempty" validate:"omitempty,finite"`
	LastModified time.Time  `json:"lastModified"`
}

// Spec carries the caller-supplied fields of a new entry.
type Spec struct {
	Type         Type       `json:"type"`
	Position     Position   `json:"position"`
	Dimensions   Dimensions `json:"dimensions"`
	Line         Line       `json:"line"`
	Properties   Properties `json:"properties,omitempty"`
	WallPosition *float64   `json:"wallPosition,omitempty"`
}

func (e Entry) Clone() Entry {
	cp := e
	cp.Position = e.Position.clone()
	cp.Dimensions = e.Dimensions.clone()
	cp.Properties = e.Properties.Clone()
	cp.WallPosition = cloneFloat(e.WallPosition)
	return cp
}

func (p Position) clone() Position {
	p.Z = cloneFloat(p.Z)
	return p
}

func (d Dimensions) clone() Dimensions {
	d.DistanceToFloor = cloneFloat(d.DistanceToFloor)
	return d
}

// Clone returns a deep copy; nested maps and slices are copied too.
func (p Properties) Clone() Properties {
	if p == nil {
		return Properties{}
	}
	cp := make(Properties, len(p))
	for k, v := range p {
		cp[k] = cloneValue(v)
	}
	return cp
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cp := make(map[string]any, len(val))
		for k, inner := range val {
			cp[k] = cloneValue(inner)
		}
		return cp
	case Properties:
		return val.Clone()
	case []any:
		cp := make([]any, len(val))
		for i, inner := range val {
			cp[i] = cloneValue(inner)
		}
		return cp
	case []string:
		return append([]string(nil), val...)
	case []float64:
		return append([]float64(nil), val...)
	default:
		return v
	}
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Float returns a pointer to v, for optional fields.
func Float(v float64) *float64 {
	return &v
}
