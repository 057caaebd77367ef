package pattern

import (
	"reflect"
	"strings"
	"testing"
)

func TestNewTouchSet(t *testing.T) {
	tests := []struct {
		name    string
		raw     []string
		want    TouchSet
		wantErr bool
	}{
		{"nil input", nil, nil, false},
		{"valid touches sorted and deduped", []string{"caching", "auth", "caching"}, TouchSet{TouchAuth, TouchCaching}, false},
		{"case folded", []string{"Database", "API"}, TouchSet{TouchAPI, TouchDatabase}, false},
		{"empty entries dropped", []string{"", "schema"}, TouchSet{TouchSchema}, false},
		{"unknown touch rejected", []string{"frontend"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewTouchSet(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NewTouchSet(%v) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestTouchSetOverlaps(t *testing.T) {
	a := TouchSet{TouchDatabase, TouchCaching}
	b := TouchSet{TouchCaching}
	c := TouchSet{TouchAuth, TouchNetwork}

	if !a.Overlaps(b) {
		t.Error("sets sharing caching should overlap")
	}
	if a.Overlaps(c) {
		t.Error("disjoint sets should not overlap")
	}
	if a.Overlaps(nil) {
		t.Error("nothing overlaps the empty set")
	}
}

func TestTouchSetMissing(t *testing.T) {
	required := TouchSet{TouchCaching, TouchDatabase}
	actual := TouchSet{TouchDatabase}

	missing := required.Missing(actual)
	if !reflect.DeepEqual(missing, TouchSet{TouchCaching}) {
		t.Errorf("Missing = %v, want [caching]", missing)
	}
	if got := required.Missing(required); got != nil {
		t.Errorf("Missing against itself = %v, want nil", got)
	}
}

func TestNewTagSet(t *testing.T) {
	got, err := NewTagSet([]string{"Redis", "go", "redis", ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := TagSet{"go", "redis"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NewTagSet = %v, want %v", got, want)
	}

	if _, err := NewTagSet([]string{strings.Repeat("x", maxTagLen+1)}); err == nil {
		t.Error("oversized tag should be rejected")
	}
}

func TestScopeValidate(t *testing.T) {
	tests := []struct {
		name    string
		scope   Scope
		wantErr bool
	}{
		{"valid", Scope{WorkspaceID: "ws-1", ProjectID: "proj_a"}, false},
		{"empty workspace", Scope{ProjectID: "p"}, true},
		{"empty project", Scope{WorkspaceID: "w"}, true},
		{"illegal characters", Scope{WorkspaceID: "ws/1", ProjectID: "p"}, true},
		{"too long", Scope{WorkspaceID: strings.Repeat("a", 65), ProjectID: "p"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scope.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
