package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKnownMode(t *testing.T) {
	for _, mode := range []string{"cluster", "predict", "all"} {
		assert.True(t, knownMode(mode), mode)
	}
	for _, mode := range []string{"", "Cluster", "evaluate", "config.yaml"} {
		assert.False(t, knownMode(mode), mode)
	}
}
