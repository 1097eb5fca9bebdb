package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecomflow/payment-platform/internal/order/application"
)

// Only business drops may commit their offset; anything else has to stop the
// loop, otherwise a later commit on the same partition would advance the
// group offset past the failed message and lose it.
func TestFatal(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"unknown order", application.ErrNotFound, false},
		{"wrapped unknown order", errors.Join(errors.New("apply"), application.ErrNotFound), false},
		{"undecodable payload", errors.Join(errUndecodable, errors.New("bad json")), false},
		{"database down", errors.New("connect: connection refused"), true},
		{"timeout", context.DeadlineExceeded, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.fatal, fatal(tc.err))
		})
	}
}
