package xcmd

import (
	"context"
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunUntilInterrupted(t *testing.T) {
	log := zap.NewNop().Sugar()

	err := RunUntilInterrupted(context.Background(), log, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	failure := errors.New("failure")
	err = RunUntilInterrupted(context.Background(), log, func(ctx context.Context) error {
		return failure
	})
	require.ErrorIs(t, err, failure)

	// Cancellation not caused by a signal is reported.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = RunUntilInterrupted(ctx, log, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestInterrupted(t *testing.T) {
	err := error(Interrupted{Signal: syscall.SIGTERM})
	require.True(t, isInterrupted(err))
	require.Equal(t, "terminated", err.Error())
	require.False(t, isInterrupted(context.Canceled))
}
