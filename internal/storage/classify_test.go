package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// deadTimeout mimics a net.Error produced when a connection deadline fires.
type deadTimeout struct{}

func (deadTimeout) Error() string   { return "read tcp: i/o timeout" }
func (deadTimeout) Timeout() bool   { return true }
func (deadTimeout) Temporary() bool { return true }

// refusedDial mimics a driver failure that happened before any data reached
// the server.
type refusedDial struct {
	retryable bool
}

func (refusedDial) Error() string       { return "dial tcp: connection refused" }
func (e refusedDial) SafeToRetry() bool { return e.retryable }

func TestClassifyNil(t *testing.T) {
	t.Parallel()

	require.NoError(t, classify(nil))
}

func TestClassifyDeadlineExceeded(t *testing.T) {
	t.Parallel()

	require.Equal(t, ErrTimeout, classify(context.DeadlineExceeded))
	require.Equal(t, ErrTimeout, classify(fmt.Errorf("querying users: %w", context.DeadlineExceeded)))
}

func TestClassifyNetTimeout(t *testing.T) {
	t.Parallel()

	require.Equal(t, ErrTimeout, classify(deadTimeout{}))
	require.Equal(t, ErrTimeout, classify(fmt.Errorf("exec: %w", deadTimeout{})))
}

func TestClassifyRetryable(t *testing.T) {
	t.Parallel()

	require.Equal(t, ErrTransient, classify(refusedDial{retryable: true}))

	// Not safe to retry means the caller must see the original error.
	err := refusedDial{retryable: false}
	require.Equal(t, error(err), classify(err))
}

func TestClassifyPassthrough(t *testing.T) {
	t.Parallel()

	boom := errors.New("duplicate key value violates unique constraint")
	require.Equal(t, boom, classify(boom))
	require.Equal(t, ErrUserNotExist, classify(ErrUserNotExist))
}
