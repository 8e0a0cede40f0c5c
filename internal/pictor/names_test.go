package pictor

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"plain", "vacation", true},
		{"with extension", "photo-01.jpg", true},
		{"spaces inside", "summer 2023", true},
		{"unicode", "fotos añejas", true},
		{"empty", "", false},
		{"dot", ".", false},
		{"dotdot", "..", false},
		{"hidden", ".thumbnails", false},
		{"too long", strings.Repeat("x", 256), false},
		{"max length", strings.Repeat("x", 255), true},
		{"separator", "a/b", false},
		{"newline", "line\nbreak", false},
		{"tab", "tab\there", false},
		{"leading space", " padded", false},
		{"trailing space", "padded ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.ok && err != nil {
				t.Errorf("ValidateName(%q) = %v, want nil", tt.input, err)
			}
			if !tt.ok {
				if !IsSecurity(err) {
					t.Errorf("ValidateName(%q) = %v, want security error", tt.input, err)
				}
			}
		})
	}
}
