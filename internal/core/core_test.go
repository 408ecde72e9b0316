package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	t.Run("ErrorMessages", func(t *testing.T) {
		tests := []struct {
			err     error
			message string
		}{
			{ErrCompile, "netcap: dsl compile error"},
			{ErrFilterSyntax, "netcap: filter syntax error"},
			{ErrExtraction, "netcap: extraction failed"},
			{ErrCaptureDevice, "netcap: capture device error"},
			{ErrCommandParse, "netcap: command parse error"},
			{ErrNameNotFound, "netcap: name not found"},
		}

		for _, tt := range tests {
			if tt.err.Error() != tt.message {
				t.Errorf("expected error message %q, got %q", tt.message, tt.err.Error())
			}
		}
	})

	t.Run("ErrorWrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("set filter %q: %w", "tcp and", ErrFilterSyntax)
		if !errors.Is(wrapped, ErrFilterSyntax) {
			t.Error("errors.Is failed for wrapped error")
		}
		if errors.Is(wrapped, ErrCompile) {
			t.Error("wrapped filter error must not match ErrCompile")
		}
	})
}
