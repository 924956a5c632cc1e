package index

import (
	"errors"
	"testing"
)

func TestParseNamespace(t *testing.T) {
	tests := []struct {
		in      string
		want    Namespace
		wantErr bool
	}{
		{"fastapi", NamespaceFastAPI, false},
		{"django", NamespaceDjango, false},
		{"rails", NamespaceRails, false},
		{"FastAPI", NamespaceFastAPI, false},
		{"  RAILS  ", NamespaceRails, false},
		{"flask", "", true},
		{"", "", true},
		{"fastapi/django", "", true},
	}
	for _, tt := range tests {
		got, err := ParseNamespace(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownNamespace) {
				t.Errorf("ParseNamespace(%q) err = %v, want ErrUnknownNamespace", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseNamespace(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseNamespace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		ns   Namespace
		want string
	}{
		{NamespaceFastAPI, "FastAPI"},
		{NamespaceDjango, "Django"},
		{NamespaceRails, "Ruby on Rails"},
	}
	for _, tt := range tests {
		if got := tt.ns.DisplayName(); got != tt.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.ns, got, tt.want)
		}
	}
}
