package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// ErrSubscriptionClosed is returned when the kernel closes a netlink
// subscription.
var ErrSubscriptionClosed = errors.New("netlink subscription closed")

// SubscribeFunc starts delivering updates into ch until done is closed.
//
// The channel is closed when the subscription breaks.
type SubscribeFunc[T any] func(ch chan<- T, done <-chan struct{}) error

// Subscription keeps a netlink subscription alive.
type Subscription[T any] struct {
	// Name is used for logging.
	Name string
	// Subscribe starts the subscription.
	Subscribe SubscribeFunc[T]
	// Resync is called after every successful (re)subscription, since
	// updates are lost while there is none.
	Resync func()
	// Handle is called for every received update.
	Handle func(update T)
	// BackOff schedules resubscription attempts.
	BackOff *backoff.ExponentialBackOff
	// ResetTimeout resets the backoff once a subscription lived that long.
	ResetTimeout time.Duration
	Log          *zap.SugaredLogger
}

// NewBackOff returns the exponential backoff used for resubscription.
func NewBackOff(initial time.Duration) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         30 * time.Second,
	}
	b.Reset()
	return b
}

// Run runs the subscription until the context is canceled, resubscribing
// with exponential backoff whenever it fails.
func (m *Subscription[T]) Run(ctx context.Context) error {
	b := m.BackOff
	if b == nil {
		b = NewBackOff(backoff.DefaultInitialInterval)
	}
	resetTimeout := m.ResetTimeout
	if resetTimeout == 0 {
		resetTimeout = 10 * time.Minute
	}

	for {
		startedAt := time.Now()
		err := m.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if time.Since(startedAt) > resetTimeout {
			b.Reset()
		}
		delay := b.NextBackOff()
		m.Log.Warnw("netlink subscription failed, resubscribing",
			zap.String("name", m.Name),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (m *Subscription[T]) runOnce(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan T, 16)
	if err := m.Subscribe(ch, ctx.Done()); err != nil {
		return err
	}
	m.Log.Debugw("subscribed to netlink updates", zap.String("name", m.Name))

	if m.Resync != nil {
		m.Resync()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-ch:
			if !ok {
				return ErrSubscriptionClosed
			}
			m.Handle(update)
		}
	}
}
