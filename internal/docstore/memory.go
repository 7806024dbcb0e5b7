package docstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"morningpulse/api/internal/util"
)

// ErrOffline is the cause reported by a MemoryStore switched offline.
var ErrOffline = errors.New("memory store offline")

// MemoryStore keeps documents in process memory. It backs local development
// and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]memoryRecord
	seq         int64
	offline     bool

	feed Feed
	now  func() time.Time
	log  zerolog.Logger
}

type memoryRecord struct {
	fields Fields
	seq    int64
}

type MemoryOption func(*MemoryStore)

// WithClock replaces the clock used to resolve ServerTimestamp.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func WithFeed(feed Feed) MemoryOption {
	return func(s *MemoryStore) { s.feed = feed }
}

func WithLogger(logger zerolog.Logger) MemoryOption {
	return func(s *MemoryStore) { s.log = logger.With().Str("component", "memory_store").Logger() }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		collections: map[string]map[string]memoryRecord{},
		feed:        NewMemoryFeed(),
		now:         time.Now,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetOffline makes every operation fail with ErrUnavailable until switched
// back.
func (s *MemoryStore) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, unavailable("get document", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return Document{}, unavailable("get document", ErrOffline)
	}
	rec, ok := s.collections[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, Fields: cloneFields(rec.fields)}, nil
}

func (s *MemoryStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, unavailable("query documents", err)
	}

	s.mu.RLock()
	if s.offline {
		s.mu.RUnlock()
		return nil, unavailable("query documents", ErrOffline)
	}
	type ordered struct {
		doc Document
		seq int64
	}
	all := make([]ordered, 0, len(s.collections[collection]))
	for id, rec := range s.collections[collection] {
		all = append(all, ordered{doc: Document{ID: id, Fields: cloneFields(rec.fields)}, seq: rec.seq})
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	docs := make([]Document, len(all))
	for i, item := range all {
		docs[i] = item.doc
	}
	return applyQuery(docs, q), nil
}

func (s *MemoryStore) Insert(ctx context.Context, collection string, fields Fields) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", unavailable("insert document", err)
	}
	id := util.NewID("")

	s.mu.Lock()
	if s.offline {
		s.mu.Unlock()
		return "", unavailable("insert document", ErrOffline)
	}
	if s.collections[collection] == nil {
		s.collections[collection] = map[string]memoryRecord{}
	}
	s.seq++
	s.collections[collection][id] = memoryRecord{fields: prepareFields(fields, s.now().UTC()), seq: s.seq}
	s.mu.Unlock()

	s.publish(ctx, collection, id)
	return id, nil
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return unavailable("update document", err)
	}

	s.mu.Lock()
	if s.offline {
		s.mu.Unlock()
		return unavailable("update document", ErrOffline)
	}
	rec, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	merged := cloneFields(rec.fields)
	for key, value := range prepareFields(fields, s.now().UTC()) {
		merged[key] = value
	}
	rec.fields = merged
	s.collections[collection][id] = rec
	s.mu.Unlock()

	s.publish(ctx, collection, id)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("delete document", err)
	}

	s.mu.Lock()
	if s.offline {
		s.mu.Unlock()
		return unavailable("delete document", ErrOffline)
	}
	_, existed := s.collections[collection][id]
	delete(s.collections[collection], id)
	s.mu.Unlock()

	if existed {
		s.publish(ctx, collection, id)
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, collection string, q Query) (*Subscription[[]Document], error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	changes, stop, err := s.feed.Listen(ctx, collection)
	if err != nil {
		return nil, err
	}
	return watch(ctx, func(ctx context.Context) ([]Document, error) {
		return s.Query(ctx, collection, q)
	}, changes, stop), nil
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return unavailable("ping", ErrOffline)
	}
	return nil
}

func (s *MemoryStore) publish(ctx context.Context, collection, id string) {
	publishChange(ctx, s.feed, s.log, collection, id)
}
