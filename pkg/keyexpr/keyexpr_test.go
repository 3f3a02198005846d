package keyexpr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		key   string
		match bool
	}{
		{"exact", "node/n1/data", "node/n1/data", true},
		{"exact mismatch", "node/n1/data", "node/n2/data", false},
		{"single wild", "node/*/data", "node/n1/data", true},
		{"single wild one segment only", "node/*/data", "node/a/b/data", false},
		{"single wild wrong suffix", "node/*/data", "node/n1/config", false},
		{"status glob", "fabric/*/status", "fabric/sensor-7/status", true},
		{"status glob depth", "fabric/*/status", "fabric/a/b/status", false},
		{"multi wild", "node/**", "node/n1/event/reset", true},
		{"multi wild zero segments", "node/**", "node", true},
		{"multi wild middle", "node/**/config", "node/a/b/c/config", true},
		{"multi wild middle direct", "node/**/config", "node/config", true},
		{"trailing segment count", "node/n1", "node/n1/data", false},
		{"shorter key", "node/n1/data", "node/n1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.match, Match(tt.expr, tt.key))
		})
	}
}

func TestIntersects(t *testing.T) {
	tests := []struct {
		name      string
		a, b      string
		intersect bool
	}{
		{"identical concrete", "node/n1/data", "node/n1/data", true},
		{"disjoint concrete", "node/n1/data", "node/n2/data", false},
		{"concrete vs single wild", "node/n1/data", "node/*/data", true},
		{"two single wilds", "node/*/data", "*/n1/data", true},
		{"wild different depth", "node/*/data", "node/*/*/data", false},
		{"multi wild vs concrete", "node/**", "node/n5/event/stop", true},
		{"multi wild vs wild", "**/status", "fabric/*/status", true},
		{"disjoint suffix", "node/*/config", "node/*/data", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.intersect, Intersects(tt.a, tt.b))
			assert.Equal(t, tt.intersect, Intersects(tt.b, tt.a))
		})
	}
}

func TestSegment(t *testing.T) {
	key := "node/n1/event/reset"
	assert.Equal(t, "node", Segment(key, 0))
	assert.Equal(t, "n1", Segment(key, 1))
	assert.Equal(t, "reset", Segment(key, -1))
	assert.Equal(t, "event", Segment(key, -2))
	assert.Equal(t, "", Segment(key, 7))
	assert.Equal(t, "", Segment(key, -9))
}

func TestIsConcrete(t *testing.T) {
	assert.True(t, IsConcrete("node/n1/data"))
	assert.False(t, IsConcrete("node/*/data"))
	assert.False(t, IsConcrete("node/**"))
}
