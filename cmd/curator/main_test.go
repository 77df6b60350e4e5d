package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartialFailureError(t *testing.T) {
	err := &PartialFailureError{Failed: 2, Total: 5}
	assert.Equal(t, "2 of 5 pairs failed", err.Error())
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, ExitSuccess},
		{"partial failure", &PartialFailureError{Failed: 1, Total: 3}, ExitPartialFailure},
		{"wrapped partial failure", fmt.Errorf("batch: %w", &PartialFailureError{Failed: 1, Total: 3}), ExitPartialFailure},
		{"regular error", errors.New("config error"), ExitError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
