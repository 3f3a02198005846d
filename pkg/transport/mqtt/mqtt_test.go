package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter(t *testing.T) {
	tests := []struct {
		expr   string
		filter string
	}{
		{"node/n1/config", "node/n1/config"},
		{"fabric/*/status", "fabric/+/status"},
		{"node/*/data", "node/+/data"},
		{"node/n1/event/*", "node/n1/event/+"},
		{"node/**", "node/#"},
		{"node/**/config", "node/#"},
		{"**", "#"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.filter, Filter(tt.expr))
		})
	}
}
