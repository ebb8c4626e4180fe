package mmfile

import (
	"os"
	"testing"
)

func TestPageRange(t *testing.T) {
	ps := os.Getpagesize()
	tests := []struct {
		name       string
		off, n     int
		limit      int
		start, end int
	}{
		{"inside first page", 10, 20, 4 * ps, 0, ps},
		{"spans two pages", ps - 1, 2, 4 * ps, 0, 2 * ps},
		{"aligned", ps, ps, 4 * ps, ps, 2 * ps},
		{"clipped to limit", 3*ps + 1, 10 * ps, 3*ps + 100, 3 * ps, 3*ps + 100},
		{"empty", 0, 0, 4 * ps, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := pageRange(tt.off, tt.n, tt.limit)
			if start != tt.start || end != tt.end {
				t.Fatalf("pageRange(%d,%d,%d) = [%d,%d), want [%d,%d)",
					tt.off, tt.n, tt.limit, start, end, tt.start, tt.end)
			}
		})
	}
}
