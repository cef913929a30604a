package parse

import (
	"reflect"
	"testing"
)

func TestSplitComposite(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		delimiter string
		want      Composite
	}{
		{
			name: "three segments with hierarchical category",
			raw:  "Electric Bicycle | Shtenli Model Gt11 | Li-ion 48V 15Ah",
			want: Composite{
				CategoryPath: []string{"Electric Bicycle"},
				Name:         "Shtenli Model Gt11",
				Description:  "Li-ion 48V 15Ah",
			},
		},
		{
			name: "category path with slash",
			raw:  "Tools / Power Tools | Drill X200",
			want: Composite{
				CategoryPath: []string{"Tools", "Power Tools"},
				Name:         "Drill X200",
			},
		},
		{
			name: "category path with angle bracket",
			raw:  "Garden > Irrigation > Hoses | Hose 25m | reinforced",
			want: Composite{
				CategoryPath: []string{"Garden", "Irrigation", "Hoses"},
				Name:         "Hose 25m",
				Description:  "reinforced",
			},
		},
		{
			name: "single segment doubles as category and name",
			raw:  "Widget Basic",
			want: Composite{
				CategoryPath: []string{"Widget Basic"},
				Name:         "Widget Basic",
			},
		},
		{
			name: "four segments join trailing description",
			raw:  "Cat | Name | part one | part two",
			want: Composite{
				CategoryPath: []string{"Cat"},
				Name:         "Name",
				Description:  "part one part two",
			},
		},
		{
			name: "empty segments are dropped",
			raw:  "| Name only ||",
			want: Composite{
				CategoryPath: []string{"Name only"},
				Name:         "Name only",
			},
		},
		{
			name: "no segments at all",
			raw:  "   ",
			want: Composite{
				CategoryPath: []string{},
				Name:         "",
			},
		},
		{
			name:      "custom delimiter",
			raw:       "Cat ;; Name ;; Desc",
			delimiter: ";;",
			want: Composite{
				CategoryPath: []string{"Cat"},
				Name:         "Name",
				Description:  "Desc",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitComposite(tt.raw, tt.delimiter)

			if !reflect.DeepEqual(got.CategoryPath, tt.want.CategoryPath) {
				t.Errorf("CategoryPath = %v, want %v", got.CategoryPath, tt.want.CategoryPath)
			}
			if got.Name != tt.want.Name {
				t.Errorf("Name = %q, want %q", got.Name, tt.want.Name)
			}
			if got.Description != tt.want.Description {
				t.Errorf("Description = %q, want %q", got.Description, tt.want.Description)
			}
			if got.RawComposite != tt.raw {
				t.Errorf("RawComposite = %q, want %q", got.RawComposite, tt.raw)
			}
		})
	}
}

func TestSplitHierarchy(t *testing.T) {
	tests := []struct {
		category string
		want     []string
	}{
		{"Tools", []string{"Tools"}},
		{"Tools / Hand Tools", []string{"Tools", "Hand Tools"}},
		{"A > B > C", []string{"A", "B", "C"}},
		{"A / B / ", []string{"A", "B"}},
	}

	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			if got := splitHierarchy(tt.category); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitHierarchy(%q) = %v, want %v", tt.category, got, tt.want)
			}
		})
	}
}
