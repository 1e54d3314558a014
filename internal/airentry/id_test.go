package airentry

import "testing"

func TestFloorPrefix(t *testing.T) {
	tests := []struct {
		floor string
		want  string
	}{
		{"ground", "0F"},
		{"Ground", "0F"},
		{"first", "1F"},
		{"tenth", "10F"},
		{"basement", "B1"},
		{"floor 3", "3F"},
		{"level12", "12F"},
		{"mezzanine", "MEZ"},
		{"  attic  ", "ATT"},
		{"---", "XF"},
	}
	for _, tt := range tests {
		t.Run(tt.floor, func(t *testing.T) {
			if got := FloorPrefix(tt.floor); got != tt.want {
				t.Fatalf("FloorPrefix(%q) = %q, want %q", tt.floor, got, tt.want)
			}
		})
	}
}

func TestParseID(t *testing.T) {
	parts, ok := ParseID("vent_B1_7_a1b2c3")
	if !ok {
		t.Fatalf("expected id to parse")
	}
	if parts.Type != TypeVent || parts.FloorPrefix != "B1" || parts.Counter != 7 || parts.Suffix != "a1b2c3" {
		t.Fatalf("unexpected parts %+v", parts)
	}

	for _, bad := range []string{"", "window_0F_1", "skylight_0F_1_abc", "window_0F_0_abc", "window__1_abc"} {
		if _, ok := ParseID(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestPatchMerge(t *testing.T) {
	a := Patch{Position: &PositionPatch{X: Float(1), Y: Float(5)}, Properties: Properties{"state": "open"}}
	b := Patch{Position: &PositionPatch{X: Float(2)}, Properties: Properties{"note": nil}}

	merged := a.Merge(b)
	if *merged.Position.X != 2 || *merged.Position.Y != 5 {
		t.Fatalf("unexpected position %+v", merged.Position)
	}
	if _, ok := merged.Properties["note"]; !ok {
		t.Fatalf("expected removal marker to survive merge")
	}
	if *a.Position.X != 1 {
		t.Fatalf("merge mutated its receiver")
	}
	if (Patch{}).IsEmpty() != true || merged.IsEmpty() {
		t.Fatalf("unexpected IsEmpty result")
	}
}
