package processor

import (
	"slices"
	"testing"
)

func TestPhoneVariants(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"972535777550", []string{"972535777550", "9720535777550"}},
		{"9720535777550", []string{"972535777550", "9720535777550"}},
		{"053-577-7550", []string{"972535777550", "9720535777550"}},
		{"+972 53 577 7550", []string{"972535777550", "9720535777550"}},
		{"+1 (415) 555-0100", []string{"14155550100"}},
		{"n/a", nil},
	}
	for _, tt := range tests {
		if got := phoneVariants(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("phoneVariants(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
