package docstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestCompileMongoQuery(t *testing.T) {
	filter, opts, err := compileMongoQuery(Query{
		Filters: []Filter{
			Where("articleId", OpEqual, "a1"),
			Where("status", OpNotEqual, "deleted"),
		},
		OrderBy: []Order{{Field: "createdAt", Direction: Desc}},
		Limit:   5,
	})
	require.NoError(t, err)

	assert.Equal(t, bson.M{"$and": []bson.M{
		{"articleId": bson.M{"$eq": "a1"}},
		{"status": bson.M{"$ne": "deleted", "$exists": true}},
	}}, filter)
	assert.Equal(t, bson.D{{Key: "createdAt", Value: -1}, {Key: "_seq", Value: 1}, {Key: "_id", Value: 1}}, opts.Sort)
	require.NotNil(t, opts.Limit)
	assert.Equal(t, int64(5), *opts.Limit)
}

func TestCompileMongoQueryEmpty(t *testing.T) {
	filter, opts, err := compileMongoQuery(Query{})
	require.NoError(t, err)
	assert.Equal(t, bson.M{}, filter)
	assert.Nil(t, opts.Limit)
}

func TestBSONDocumentConvertsDriverTypes(t *testing.T) {
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	doc := bsonDocument(bson.M{
		"_id":       "c1",
		"_seq":      int64(7),
		"createdAt": primitive.NewDateTimeFromTime(at),
		"mentions":  primitive.A{"bob"},
		"selection": bson.D{{Key: "startOffset", Value: int32(3)}},
	})

	assert.Equal(t, "c1", doc.ID)
	assert.NotContains(t, doc.Fields, "_id")
	assert.NotContains(t, doc.Fields, "_seq")
	assert.Equal(t, at, doc.Fields["createdAt"])
	assert.Equal(t, []any{"bob"}, doc.Fields["mentions"])
	assert.Equal(t, map[string]any{"startOffset": int64(3)}, doc.Fields["selection"])
}

func TestMongoStoreIntegration(t *testing.T) {
	uri := os.Getenv("PULSE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("PULSE_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := OpenMongo(ctx, uri)
	require.NoError(t, err)
	defer client.Disconnect(context.Background())

	db := client.Database("pulse_test_" + time.Now().Format("20060102150405"))
	defer db.Drop(context.Background())
	store := NewMongoStore(db, nil, zerolog.Nop())

	id, err := store.Insert(ctx, "comments", Fields{"articleId": "a1", "status": "active", "createdAt": ServerTimestamp})
	require.NoError(t, err)
	_, err = store.Insert(ctx, "comments", Fields{"articleId": "a1", "status": "deleted", "createdAt": ServerTimestamp})
	require.NoError(t, err)

	docs, err := store.Query(ctx, "comments", Query{
		Filters: []Filter{Where("articleId", OpEqual, "a1"), Where("status", OpNotEqual, "deleted")},
		OrderBy: []Order{{Field: "createdAt"}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0].ID)

	require.NoError(t, store.Update(ctx, "comments", id, Fields{"status": "resolved"}))
	doc, err := store.Get(ctx, "comments", id)
	require.NoError(t, err)
	assert.Equal(t, "resolved", doc.Fields["status"])

	require.NoError(t, store.Delete(ctx, "comments", id))
	_, err = store.Get(ctx, "comments", id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMongoStoreOrdersEqualTimestampsByInsertion(t *testing.T) {
	uri := os.Getenv("PULSE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("PULSE_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := OpenMongo(ctx, uri)
	require.NoError(t, err)
	defer client.Disconnect(context.Background())

	db := client.Database("pulse_order_" + time.Now().Format("20060102150405"))
	defer db.Drop(context.Background())
	store := NewMongoStore(db, nil, zerolog.Nop())
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return at }

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := store.Insert(ctx, "comments", Fields{"articleId": "a1", "createdAt": ServerTimestamp})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	docs, err := store.Query(ctx, "comments", Query{
		Filters: []Filter{Where("articleId", OpEqual, "a1")},
		OrderBy: []Order{{Field: "createdAt"}},
	})
	require.NoError(t, err)
	got := make([]string, 0, len(docs))
	for _, doc := range docs {
		got = append(got, doc.ID)
		assert.NotContains(t, doc.Fields, "_seq")
	}
	assert.Equal(t, ids, got)
}
