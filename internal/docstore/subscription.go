package docstore

import (
	"context"
	"errors"
	"reflect"
	"sync"
)

// ErrFeedClosed ends a subscription whose change feed went away.
var ErrFeedClosed = errors.New("change feed closed")

// Subscription is a live query. Updates yields the latest result; a reader
// that falls behind skips intermediate results and sees only the newest one.
// The channel is closed after Close or when the subscription fails, in which
// case Err reports why.
type Subscription[T any] struct {
	updates   chan T
	done      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
	finOnce   sync.Once

	mu  sync.Mutex
	err error
}

func newSubscription[T any](parent context.Context) (*Subscription[T], context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &Subscription[T]{
		updates: make(chan T, 1),
		done:    make(chan struct{}),
		cancel:  cancel,
	}, ctx
}

func (s *Subscription[T]) Updates() <-chan T {
	return s.updates
}

func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the subscription. No value is delivered once Close returns.
// Calling Close more than once is safe.
func (s *Subscription[T]) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		for range s.updates {
		}
	})
}

// offer hands v to the reader, replacing a value the reader has not taken yet.
// Only the producing goroutine calls offer.
func (s *Subscription[T]) offer(ctx context.Context, v T) {
	for ctx.Err() == nil {
		select {
		case s.updates <- v:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}

func (s *Subscription[T]) finish(ctx context.Context, err error) {
	s.finOnce.Do(func() {
		if err != nil && ctx.Err() == nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
		close(s.updates)
		close(s.done)
	})
}

type snapshotFunc func(ctx context.Context) ([]Document, error)

// watch runs snapshot once, then again for every signal on changes, and
// delivers results that differ from the previous delivery. changes must
// already be listening before watch is called so no write is missed.
func watch(parent context.Context, snapshot snapshotFunc, changes <-chan Change, stop func()) *Subscription[[]Document] {
	sub, ctx := newSubscription[[]Document](parent)

	go func() {
		defer stop()

		var last []Document
		delivered := false
		deliver := func() error {
			docs, err := snapshot(ctx)
			if err != nil {
				return err
			}
			if delivered && reflect.DeepEqual(docs, last) {
				return nil
			}
			last, delivered = docs, true
			sub.offer(ctx, docs)
			return nil
		}

		if err := deliver(); err != nil {
			sub.finish(ctx, err)
			return
		}
		for {
			select {
			case <-ctx.Done():
				sub.finish(ctx, nil)
				return
			case _, ok := <-changes:
				if !ok {
					sub.finish(ctx, ErrFeedClosed)
					return
				}
				if err := deliver(); err != nil {
					sub.finish(ctx, err)
					return
				}
			}
		}
	}()

	return sub
}

// Map derives a subscription whose values are fn applied to src's values.
// Closing the result closes src. An fn error ends the derived subscription.
func Map[T, U any](src *Subscription[T], fn func(T) (U, error)) *Subscription[U] {
	dst, ctx := newSubscription[U](context.Background())

	go func() {
		defer src.Close()
		for {
			select {
			case <-ctx.Done():
				dst.finish(ctx, nil)
				return
			case v, ok := <-src.Updates():
				if !ok {
					dst.finish(ctx, src.Err())
					return
				}
				u, err := fn(v)
				if err != nil {
					dst.finish(ctx, err)
					return
				}
				dst.offer(ctx, u)
			}
		}
	}()

	return dst
}
