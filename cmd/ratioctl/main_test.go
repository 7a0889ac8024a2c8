package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssignments(t *testing.T) {
	patch, err := parseAssignments([]string{"persistent=false", "total_upload=1099511627776", "label=seed box", "ratio_goal=1.5"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"persistent":   false,
		"total_upload": int64(1 << 40),
		"label":        "seed box",
		"ratio_goal":   1.5,
	}, patch)

	_, err = parseAssignments(nil)
	require.Error(t, err)

	_, err = parseAssignments([]string{"=1"})
	require.Error(t, err)

	_, err = parseAssignments([]string{"persistent"})
	require.Error(t, err)
}
