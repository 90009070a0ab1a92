package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWireTracing(t *testing.T) {
	tests := []struct {
		level   string
		verbose bool
		want    bool
	}{
		{"debug", false, true},
		{"DEBUG", false, true},
		{"info", false, false},
		{"warning", false, false},
		{"info", true, true},
		{"", false, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, wireTracing(tt.level, tt.verbose), "level=%q verbose=%v", tt.level, tt.verbose)
	}
}
