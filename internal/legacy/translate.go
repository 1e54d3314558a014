package legacy

import (
	"encoding/json"
	"reflect"

	"airsync/internal/airentry"
)

// FromEntry renders e in the legacy shape.
func FromEntry(e airentry.Entry) Item {
	return Item{
		ID:   e.ID,
		Type: string(e.Type),
		Position: Position{
			X: e.Position.X,
			Y: e.Position.Y,
			Z: copyFloat(e.Position.Z),
		},
		Dimensions: Dimensions{
			Width:           e.Dimensions.Width,
			Height:          e.Dimensions.Height,
			DistanceToFloor: copyFloat(e.Dimensions.DistanceToFloor),
			Shape:           string(e.Dimensions.Shape),
		},
		Line: Line{
			Start: Point{X: e.Line.Start.X, Y: e.Line.Start.Y},
			End:   Point{X: e.Line.End.X, Y: e.Line.End.Y},
		},
		Properties:   map[string]any(e.Properties.Clone()),
		WallPosition: copyFloat(e.WallPosition),
	}
}

// ToSpec converts the item into creation parameters for the entity store.
func (it Item) ToSpec() airentry.Spec {
	return airentry.Spec{
		Type: airentry.Type(it.Type),
		Position: airentry.Position{
			X: it.Position.X,
			Y: it.Position.Y,
			Z: copyFloat(it.Position.Z),
		},
		Dimensions: airentry.Dimensions{
			Width:           it.Dimensions.Width,
			Height:          it.Dimensions.Height,
			DistanceToFloor: copyFloat(it.Dimensions.DistanceToFloor),
			Shape:           airentry.Shape(it.Dimensions.Shape),
		},
		Line:         it.line(),
		Properties:   airentry.Properties(it.Properties).Clone(),
		WallPosition: copyFloat(it.WallPosition),
	}
}

func (it Item) line() airentry.Line {
	return airentry.Line{
		Start: airentry.Point{X: it.Line.Start.X, Y: it.Line.Start.Y},
		End:   airentry.Point{X: it.Line.End.X, Y: it.Line.End.Y},
	}
}

// Diff returns the patch that brings current in line with it. Optional
// fields absent from the item are left alone; properties missing from the
// item are removed. An empty patch means the two agree.
func Diff(current airentry.Entry, it Item) airentry.Patch {
	var p airentry.Patch

	if t := airentry.Type(it.Type); t != current.Type {
		p.Type = &t
	}

	var pos airentry.PositionPatch
	posChanged := false
	if it.Position.X != current.Position.X {
		pos.X = airentry.Float(it.Position.X)
		posChanged = true
	}
	if it.Position.Y != current.Position.Y {
		pos.Y = airentry.Float(it.Position.Y)
		posChanged = true
	}
	if floatChanged(current.Position.Z, it.Position.Z) {
		pos.Z = copyFloat(it.Position.Z)
		posChanged = true
	}
	if posChanged {
		p.Position = &pos
	}

	var dim airentry.DimensionsPatch
	dimChanged := false
	if it.Dimensions.Width != current.Dimensions.Width {
		dim.Width = airentry.Float(it.Dimensions.Width)
		dimChanged = true
	}
	if it.Dimensions.Height != current.Dimensions.Height {
		dim.Height = airentry.Float(it.Dimensions.Height)
		dimChanged = true
	}
	if floatChanged(current.Dimensions.DistanceToFloor, it.Dimensions.DistanceToFloor) {
		dim.DistanceToFloor = copyFloat(it.Dimensions.DistanceToFloor)
		dimChanged = true
	}
	if s := airentry.Shape(it.Dimensions.Shape); s != "" && s != current.Dimensions.Shape {
		dim.Shape = &s
		dimChanged = true
	}
	if dimChanged {
		p.Dimensions = &dim
	}

	if l := it.line(); l != current.Line {
		p.Line = &l
	}

	props := diffProperties(current.Properties, it.Properties)
	if len(props) > 0 {
		p.Properties = props
	}

	if floatChanged(current.WallPosition, it.WallPosition) {
		p.WallPosition = copyFloat(it.WallPosition)
	}
	return p
}

// floatChanged reports whether next sets a value different from cur. A nil
// next never counts as a change.
func floatChanged(cur, next *float64) bool {
	if next == nil {
		return false
	}
	return cur == nil || *cur != *next
}

func diffProperties(cur airentry.Properties, next map[string]any) airentry.Properties {
	out := airentry.Properties{}
	for k, v := range next {
		old, ok := cur[k]
		if ok && sameValue(old, v) {
			continue
		}
		out[k] = v
	}
	for k := range cur {
		if _, ok := next[k]; !ok {
			out[k] = nil
		}
	}
	return out
}

// sameValue compares two JSON-compatible values after normalizing them
// through encoding/json, so 3 and 3.0 or map types from different decoders
// compare equal.
func sameValue(a, b any) bool {
	na, errA := normalize(a)
	nb, errB := normalize(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return reflect.DeepEqual(na, nb)
}

func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// CloneItem returns a deep copy of it.
func CloneItem(it Item) Item {
	cp := it
	cp.Position.Z = copyFloat(it.Position.Z)
	cp.Dimensions.DistanceToFloor = copyFloat(it.Dimensions.DistanceToFloor)
	cp.WallPosition = copyFloat(it.WallPosition)
	if it.Properties != nil {
		cp.Properties = map[string]any(airentry.Properties(it.Properties).Clone())
	}
	return cp
}
