package airentry

type PositionPatch struct {
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
	Z *float64 `json:"z,omitempty"`
}

type DimensionsPatch struct {
	Width           *float64 `json:"width,omitempty"`
	Height          *float64 `json:"height,omitempty"`
	DistanceToFloor *float64 `json:"distanceToFloor,omitempty"`
	Shape           *Shape   `json:"shape,omitempty"`
}

// Patch is a partial update grouped by field. Position, Dimensions and
// Properties merge key by key into the existing entry; Type, Line and
// WallPosition replace the prior value when set. A nil value under a
// Properties key removes that key.
type Patch struct {
	Type         *Type            `json:"type,omitempty"`
	Position     *PositionPatch   `json:"position,omitempty"`
	Dimensions   *DimensionsPatch `json:"dimensions,omitempty"`
	Line         *Line            `json:"line,omitempty"`
	Properties   Properties       `json:"properties,omitempty"`
	WallPosition *float64         `json:"wallPosition,omitempty"`
}

func (p Patch) IsEmpty() bool {
	return p.Type == nil &&
		p.Position == nil &&
		p.Dimensions == nil &&
		p.Line == nil &&
		len(p.Properties) == 0 &&
		p.WallPosition == nil
}

// Merge folds later on top of p, field group by field group. Within a group
// the later value of each key wins.
func (p Patch) Merge(later Patch) Patch {
	out := p.Clone()

	if later.Type != nil {
		t := *later.Type
		out.Type = &t
	}
	if later.Position != nil {
		if out.Position == nil {
			out.Position = &PositionPatch{}
		}
		mergeFloat(&out.Position.X, later.Position.X)
		mergeFloat(&out.Position.Y, later.Position.Y)
		mergeFloat(&out.Position.Z, later.Position.Z)
	}
	if later.Dimensions != nil {
		if out.Dimensions == nil {
			out.Dimensions = &DimensionsPatch{}
		}
		mergeFloat(&out.Dimensions.Width, later.Dimensions.Width)
		mergeFloat(&out.Dimensions.Height, later.Dimensions.Height)
		mergeFloat(&out.Dimensions.DistanceToFloor, later.Dimensions.DistanceToFloor)
		if later.Dimensions.Shape != nil {
			s := *later.Dimensions.Shape
			out.Dimensions.Shape = &s
		}
	}
	if later.Line != nil {
		l := *later.Line
		out.Line = &l
	}
	if len(later.Properties) > 0 {
		if out.Properties == nil {
			out.Properties = Properties{}
		}
		for k, v := range later.Properties {
			out.Properties[k] = cloneValue(v)
		}
	}
	if later.WallPosition != nil {
		out.WallPosition = cloneFloat(later.WallPosition)
	}
	return out
}

func (p Patch) Clone() Patch {
	var out Patch
	if p.Type != nil {
		t := *p.Type
		out.Type = &t
	}
	if p.Position != nil {
		out.Position = &PositionPatch{
			X: cloneFloat(p.Position.X),
			Y: cloneFloat(p.Position.Y),
			Z: cloneFloat(p.Position.Z),
		}
	}
	if p.Dimensions != nil {
		out.Dimensions = &DimensionsPatch{
			Width:           cloneFloat(p.Dimensions.Width),
			Height:          cloneFloat(p.Dimensions.Height),
			DistanceToFloor: cloneFloat(p.Dimensions.DistanceToFloor),
		}
		if p.Dimensions.Shape != nil {
			s := *p.Dimensions.Shape
			out.Dimensions.Shape = &s
		}
	}
	if p.Line != nil {
		l := *p.Line
		out.Line = &l
	}
	if p.Properties != nil {
		out.Properties = make(Properties, len(p.Properties))
		for k, v := range p.Properties {
			out.Properties[k] = cloneValue(v)
		}
	}
	out.WallPosition = cloneFloat(p.WallPosition)
	return out
}

// applyTo returns a copy of e with the patch merged in. Identity fields
// (ID, FloorName, CreatedAt) are never touched.
func (p Patch) applyTo(e Entry) Entry {
	out := e.Clone()

	if p.Type != nil {
		out.Type = *p.Type
	}
	if p.Position != nil {
		setFloat(&out.Position.X, p.Position.X)
		setFloat(&out.Position.Y, p.Position.Y)
		mergeFloat(&out.Position.Z, p.Position.Z)
	}
	if p.Dimensions != nil {
		setFloat(&out.Dimensions.Width, p.Dimensions.Width)
		setFloat(&out.Dimensions.Height, p.Dimensions.Height)
		mergeFloat(&out.Dimensions.DistanceToFloor, p.Dimensions.DistanceToFloor)
		if p.Dimensions.Shape != nil {
			out.Dimensions.Shape = *p.Dimensions.Shape
		}
	}
	if p.Line != nil {
		out.Line = *p.Line
	}
	for k, v := range p.Properties {
		if v == nil {
			delete(out.Properties, k)
			continue
		}
		out.Properties[k] = cloneValue(v)
	}
	if p.WallPosition != nil {
		out.WallPosition = cloneFloat(p.WallPosition)
	}
	return out
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func mergeFloat(dst **float64, src *float64) {
	if src != nil {
		*dst = cloneFloat(src)
	}
}
