package docstore

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case change, ok := <-ch:
		require.True(t, ok, "feed channel closed")
		return change
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
	return Change{}
}

func TestMemoryFeedRoutesByCollection(t *testing.T) {
	feed := NewMemoryFeed()
	ctx := context.Background()

	comments, stopComments, err := feed.Listen(ctx, "comments")
	require.NoError(t, err)
	defer stopComments()
	reactions, stopReactions, err := feed.Listen(ctx, "reactions")
	require.NoError(t, err)
	defer stopReactions()

	require.NoError(t, feed.Publish(ctx, Change{Collection: "comments", ID: "c1"}))
	assert.Equal(t, "c1", receive(t, comments).ID)

	select {
	case change := <-reactions:
		t.Fatalf("unexpected change %v", change)
	default:
	}
}

func TestMemoryFeedStopClosesChannel(t *testing.T) {
	feed := NewMemoryFeed()
	ch, stop, err := feed.Listen(context.Background(), "comments")
	require.NoError(t, err)

	stop()
	stop()
	_, ok := <-ch
	assert.False(t, ok)
	require.NoError(t, feed.Publish(context.Background(), Change{Collection: "comments"}))
}

func newRedisFeed(t *testing.T) *RedisFeed {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisFeed(client, zerolog.Nop())
}

func TestRedisFeedPublishAndListen(t *testing.T) {
	feed := newRedisFeed(t)
	ctx := context.Background()

	ch, stop, err := feed.Listen(ctx, "comments")
	require.NoError(t, err)
	defer stop()

	require.NoError(t, feed.Publish(ctx, Change{Collection: "comments", ID: "c9"}))
	change := receive(t, ch)
	assert.Equal(t, Change{Collection: "comments", ID: "c9"}, change)
}

func TestRedisFeedDrivesSubscriptions(t *testing.T) {
	feed := newRedisFeed(t)
	store := NewMemoryStore(WithFeed(feed))
	ctx := context.Background()

	sub, err := store.Subscribe(ctx, "reactions", Query{Filters: []Filter{Where("opinionId", OpEqual, "o1")}})
	require.NoError(t, err)
	defer sub.Close()
	assert.Empty(t, next(t, sub))

	_, err = store.Insert(ctx, "reactions", Fields{"opinionId": "o1", "type": "like"})
	require.NoError(t, err)
	assert.Len(t, next(t, sub), 1)
}

func TestRedisFeedStopClosesChannel(t *testing.T) {
	feed := newRedisFeed(t)
	ch, stop, err := feed.Listen(context.Background(), "comments")
	require.NoError(t, err)

	stop()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}

type failingFeed struct {
	*MemoryFeed
}

func (failingFeed) Publish(context.Context, Change) error {
	return errors.New("feed down")
}

func TestStoreLogsFailedPublish(t *testing.T) {
	var buf bytes.Buffer
	store := NewMemoryStore(
		WithFeed(failingFeed{MemoryFeed: NewMemoryFeed()}),
		WithLogger(zerolog.New(&buf)),
	)

	id, err := store.Insert(context.Background(), "comments", Fields{"articleId": "a1"})
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "comments", id)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"error":"feed down"`)
	assert.Contains(t, buf.String(), `"collection":"comments"`)
	assert.Contains(t, buf.String(), `"id":"`+id+`"`)
	assert.Contains(t, buf.String(), "publish change failed")
}
