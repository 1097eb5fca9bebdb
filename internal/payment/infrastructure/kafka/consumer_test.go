package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecomflow/payment-platform/internal/payment/application"
)

// Business outcomes end the message; everything else must stop the loop so
// the offset stays uncommitted and the broker redelivers after restart.
func TestIsBusinessOutcome(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		business bool
	}{
		{"gateway declined", fmt.Errorf("init: %w", application.ErrGateway), true},
		{"validation", application.ErrValidation, true},
		{"not found", application.ErrNotFound, true},
		{"database down", errors.New("connect: connection refused"), false},
		{"timeout", context.DeadlineExceeded, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.business, isBusinessOutcome(tc.err))
		})
	}
}
