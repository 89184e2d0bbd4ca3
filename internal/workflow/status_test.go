package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultTerminalSet(t *testing.T) {
	ts := NewTerminalSet(nil)

	assert.True(t, ts.Contains(StatusSuccess))
	assert.True(t, ts.Contains(StatusFailed))
	assert.True(t, ts.Contains(StatusError))
	assert.False(t, ts.Contains(StatusPending))
	assert.False(t, ts.Contains(StatusExecuting))
}

func TestCustomTerminalSetKeepsMinimum(t *testing.T) {
	ts := NewTerminalSet([]string{"CANCELLED"})

	assert.True(t, ts.Contains(JobStatus("CANCELLED")))
	assert.True(t, ts.Contains(StatusSuccess), "SUCCESS is always terminal")
	assert.True(t, ts.Contains(StatusFailed), "FAILED is always terminal")
	assert.False(t, ts.Contains(StatusError), "default extras are replaced")
}
