package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPattern(t *testing.T) {
	tests := []struct {
		expr    string
		pattern string
	}{
		{"node/n1/config", "node/n1/config"},
		{"fabric/*/status", "fabric/*/status"},
		{"node/**", "node/*"},
		{"node/**/config", "node/*/config"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.pattern, Pattern(tt.expr))
		})
	}
}
