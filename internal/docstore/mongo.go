package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"morningpulse/api/internal/util"
)

func OpenMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

const (
	// seqField holds a per-collection insertion counter. Mongo dates keep
	// millisecond precision, so it breaks ties between equal timestamps.
	seqField           = "_seq"
	countersCollection = "_counters"
)

// MongoStore maps each collection to a MongoDB collection of the same name.
// Document ids are stored in _id.
type MongoStore struct {
	db   *mongo.Database
	feed Feed
	now  func() time.Time
	log  zerolog.Logger
}

func NewMongoStore(db *mongo.Database, feed Feed, logger zerolog.Logger) *MongoStore {
	if feed == nil {
		feed = NewMemoryFeed()
	}
	return &MongoStore{
		db:   db,
		feed: feed,
		now:  time.Now,
		log:  logger.With().Str("component", "mongo_store").Logger(),
	}
}

func (s *MongoStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, unavailable("get document", err)
	}
	return bsonDocument(raw), nil
}

func (s *MongoStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	filter, opts, err := compileMongoQuery(q)
	if err != nil {
		return nil, err
	}

	cursor, err := s.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, unavailable("query documents", err)
	}
	defer cursor.Close(ctx)

	var results []bson.M
	if err := cursor.All(ctx, &results); err != nil {
		return nil, unavailable("query documents", err)
	}

	docs := make([]Document, 0, len(results))
	for _, raw := range results {
		docs = append(docs, bsonDocument(raw))
	}
	return docs, nil
}

func (s *MongoStore) Insert(ctx context.Context, collection string, fields Fields) (string, error) {
	seq, err := s.nextSeq(ctx, collection)
	if err != nil {
		return "", err
	}

	id := util.NewID("")
	doc := bson.M{"_id": id, seqField: seq}
	for key, value := range prepareFields(fields, s.now().UTC()) {
		doc[key] = value
	}

	if _, err := s.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return "", unavailable("insert document", err)
	}

	s.publish(ctx, collection, id)
	return id, nil
}

func (s *MongoStore) nextSeq(ctx context.Context, collection string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection(countersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": collection},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, unavailable("next sequence", err)
	}
	return counter.Seq, nil
}

func (s *MongoStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	set := bson.M{}
	for key, value := range prepareFields(fields, s.now().UTC()) {
		set[key] = value
	}

	result, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return unavailable("update document", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}

	s.publish(ctx, collection, id)
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, collection, id string) error {
	result, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return unavailable("delete document", err)
	}
	if result.DeletedCount > 0 {
		s.publish(ctx, collection, id)
	}
	return nil
}

func (s *MongoStore) Subscribe(ctx context.Context, collection string, q Query) (*Subscription[[]Document], error) {
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

func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, nil); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *MongoStore) publish(ctx context.Context, collection, id string) {
	publishChange(ctx, s.feed, s.log, collection, id)
}

var mongoOps = map[Op]string{
	OpEqual:        "$eq",
	OpNotEqual:     "$ne",
	OpLess:         "$lt",
	OpLessEqual:    "$lte",
	OpGreater:      "$gt",
	OpGreaterEqual: "$gte",
}

func compileMongoQuery(q Query) (bson.M, *options.FindOptions, error) {
	if err := q.validate(); err != nil {
		return nil, nil, err
	}

	conditions := make([]bson.M, 0, len(q.Filters))
	for _, f := range q.Filters {
		cond := bson.M{mongoOps[f.Op]: normalizeValue(f.Value)}
		// $ne alone would also match documents that lack the field.
		if f.Op == OpNotEqual {
			cond["$exists"] = true
		}
		conditions = append(conditions, bson.M{f.Field: cond})
	}

	filter := bson.M{}
	if len(conditions) > 0 {
		filter["$and"] = conditions
	}

	sort := bson.D{}
	for _, o := range q.OrderBy {
		dir := 1
		if o.Direction == Desc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: o.Field, Value: dir})
	}
	sort = append(sort, bson.E{Key: seqField, Value: 1}, bson.E{Key: "_id", Value: 1})

	opts := options.Find().SetSort(sort)
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return filter, opts, nil
}

func bsonDocument(raw bson.M) Document {
	id, _ := raw["_id"].(string)
	fields := make(Fields, len(raw))
	for key, value := range raw {
		if key == "_id" || key == seqField {
			continue
		}
		fields[key] = fromBSON(value)
	}
	return Document{ID: id, Fields: fields}
}

// fromBSON converts driver types back to the plain values every backend
// returns.
func fromBSON(value any) any {
	switch v := value.(type) {
	case primitive.DateTime:
		return v.Time().UTC()
	case primitive.A:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = fromBSON(item)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = fromBSON(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(v))
		for _, e := range v {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case int32:
		return int64(v)
	case primitive.ObjectID:
		return v.Hex()
	default:
		return v
	}
}
