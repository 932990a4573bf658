package xcmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// Interrupted is the error returned when the process receives a
// termination signal.
type Interrupted struct {
	os.Signal
}

func (m Interrupted) Error() string {
	return m.String()
}

// WaitInterrupted blocks until either SIGINT or SIGTERM signal is received or
// the provided context is canceled.
func WaitInterrupted(ctx context.Context) error {
	ch := make(chan os.Signal, 1)

	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)

	select {
	case v := <-ch:
		return Interrupted{Signal: v}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunUntilInterrupted runs fn with a context that is canceled when the
// process receives a termination signal.
//
// Cancellation caused by the signal is a clean shutdown and yields nil.
func RunUntilInterrupted(ctx context.Context, log *zap.SugaredLogger, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	go func() {
		err := WaitInterrupted(ctx)
		if isInterrupted(err) {
			log.Infof("caught signal: %v", err)
			cancel(err)
		}
	}()

	err := fn(ctx)
	if isInterrupted(context.Cause(ctx)) && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func isInterrupted(err error) bool {
	var interrupted Interrupted
	return errors.As(err, &interrupted)
}
