package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{name: "identical", a: "NETFLIX", b: "NETFLIX", want: 1.0},
		{name: "disjoint", a: "ABC", b: "XYZ", want: 0.0},
		{name: "both empty", a: "", b: "", want: 1.0},
		{name: "one empty", a: "ABC", b: "", want: 0.0},
		{name: "half overlap", a: "ABCD", b: "ABXY", want: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Ratio(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCache_NormalizesAndMemoizes(t *testing.T) {
	c := NewCache()

	first := c.Ratio("  netflix.com ", "NETFLIX.COM")
	assert.InDelta(t, 1.0, first, 1e-9)
	assert.Equal(t, 1, c.Len())

	c.Ratio("NETFLIX.COM", "netflix.com")
	assert.Equal(t, 1, c.Len())

	c.Ratio("SPOTIFY", "NETFLIX.COM")
	assert.Equal(t, 2, c.Len())
}
