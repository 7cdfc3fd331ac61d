package model

import (
	"math"
	"testing"
)

func TestClampPage(t *testing.T) {
	tests := []struct {
		name                  string
		page, perPage         int
		wantPage, wantPerPage int
	}{
		{"Defaults", DefaultPage, DefaultPerPage, 1, 10},
		{"PerPageTooLarge", 1, 1000, 1, 50},
		{"PerPageZero", 1, 0, 1, 1},
		{"PerPageNegative", 3, -5, 3, 1},
		{"PageZero", 0, 10, 1, 10},
		{"PageNegative", -2, 10, 1, 10},
		{"InRange", 4, 25, 4, 25},
		{"PageHuge", math.MaxInt, 50, MaxPage, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, perPage := ClampPage(tt.page, tt.perPage)
			if page != tt.wantPage || perPage != tt.wantPerPage {
				t.Errorf("ClampPage(%d, %d) = (%d, %d), want (%d, %d)", tt.page, tt.perPage, page, perPage, tt.wantPage, tt.wantPerPage)
			}
		})
	}
}

func TestOffset(t *testing.T) {
	if got := Offset(3, 10); got != 20 {
		t.Errorf("Offset(3, 10) = %d, want 20", got)
	}
	if got := Offset(1, 50); got != 0 {
		t.Errorf("Offset(1, 50) = %d, want 0", got)
	}
	if got := Offset(ClampPage(math.MaxInt, MaxPerPage)); got < 0 {
		t.Errorf("Offset of the last page = %d, want non-negative", got)
	}
}
