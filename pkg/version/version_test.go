package version

import (
	"strings"
	"testing"
)

func TestVersion(t *testing.T) {
	tests := []struct {
		name  string
		check func(string) bool
	}{
		{"DefaultsToDev", func(v string) bool { return v == "dev" }},
		{"SingleLine", func(v string) bool { return !strings.ContainsAny(v, "\r\n") }},
		{"NoPadding", func(v string) bool { return v == strings.TrimSpace(v) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(Version) {
				t.Errorf("Version = %q", Version)
			}
		})
	}
}
