package docstore

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Change announces a committed write. Listeners treat it as a signal to
// re-run their queries; it carries no document data.
type Change struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// Feed fans out change notifications to live subscriptions.
type Feed interface {
	Publish(ctx context.Context, change Change) error
	// Listen returns a channel of changes for collection and a func that
	// stops listening and closes the channel. The listener is registered
	// before Listen returns.
	Listen(ctx context.Context, collection string) (<-chan Change, func(), error)
}

// publishChange announces a write that is already applied. A lost
// notification only delays subscribers until the next change, so failures
// are logged rather than returned.
func publishChange(ctx context.Context, feed Feed, log zerolog.Logger, collection, id string) {
	err := feed.Publish(context.WithoutCancel(ctx), Change{Collection: collection, ID: id})
	if err != nil {
		log.Warn().Err(err).Str("collection", collection).Str("id", id).Msg("publish change failed")
	}
}

// MemoryFeed is an in-process Feed.
type MemoryFeed struct {
	mu        sync.RWMutex
	listeners map[string]map[*feedListener]struct{}
}

type feedListener struct {
	ch chan Change
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{listeners: map[string]map[*feedListener]struct{}{}}
}

func (f *MemoryFeed) Publish(_ context.Context, change Change) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for l := range f.listeners[change.Collection] {
		signal(l.ch, change)
	}
	return nil
}

func (f *MemoryFeed) Listen(_ context.Context, collection string) (<-chan Change, func(), error) {
	l := &feedListener{ch: make(chan Change, 1)}

	f.mu.Lock()
	if f.listeners[collection] == nil {
		f.listeners[collection] = map[*feedListener]struct{}{}
	}
	f.listeners[collection][l] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.listeners[collection], l)
			if len(f.listeners[collection]) == 0 {
				delete(f.listeners, collection)
			}
			f.mu.Unlock()
			close(l.ch)
		})
	}
	return l.ch, stop, nil
}

// signal never blocks. A pending signal already covers any later change.
func signal(ch chan Change, change Change) {
	select {
	case ch <- change:
	default:
	}
}
