package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"morningpulse/api/internal/util"
)

// timeLayout is fixed width so that stored timestamps order correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// PostgresStore keeps every collection in the JSONB documents table.
type PostgresStore struct {
	pool *pgxpool.Pool
	feed Feed
	now  func() time.Time
	log  zerolog.Logger
}

func NewPostgresStore(pool *pgxpool.Pool, feed Feed, logger zerolog.Logger) *PostgresStore {
	if feed == nil {
		feed = NewMemoryFeed()
	}
	return &PostgresStore{
		pool: pool,
		feed: feed,
		now:  time.Now,
		log:  logger.With().Str("component", "postgres_store").Logger(),
	}
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM documents WHERE collection = $1 AND id = $2`, collection, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, unavailable("get document", err)
	}
	fields, err := decodeJSONFields(raw)
	if err != nil {
		return Document{}, fmt.Errorf("decode document %s: %w", id, err)
	}
	return Document{ID: id, Fields: fields}, nil
}

func (s *PostgresStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	sql, args, err := compileQuery(collection, q)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, unavailable("query documents", err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, unavailable("scan document", err)
		}
		fields, err := decodeJSONFields(raw)
		if err != nil {
			return nil, fmt.Errorf("decode document %s: %w", id, err)
		}
		docs = append(docs, Document{ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query documents", err)
	}
	return docs, nil
}

func (s *PostgresStore) Insert(ctx context.Context, collection string, fields Fields) (string, error) {
	raw, err := encodeJSONFields(prepareFields(fields, s.now().UTC()))
	if err != nil {
		return "", err
	}

	id := util.NewID("")
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3::jsonb)
	`, collection, id, string(raw)); err != nil {
		return "", unavailable("insert document", err)
	}

	s.publish(ctx, collection, id)
	return id, nil
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	raw, err := encodeJSONFields(prepareFields(fields, s.now().UTC()))
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET data = data || $3::jsonb, updated_at = NOW()
		WHERE collection = $1 AND id = $2
	`, collection, id, string(raw))
	if err != nil {
		return unavailable("update document", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.publish(ctx, collection, id)
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return unavailable("delete document", err)
	}
	if tag.RowsAffected() > 0 {
		s.publish(ctx, collection, id)
	}
	return nil
}

func (s *PostgresStore) Subscribe(ctx context.Context, collection string, q Query) (*Subscription[[]Document], error) {
	if _, _, err := compileQuery(collection, q); err != nil {
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *PostgresStore) publish(ctx context.Context, collection, id string) {
	publishChange(ctx, s.feed, s.log, collection, id)
}

var sqlOps = map[Op]string{
	OpEqual:        "=",
	OpNotEqual:     "<>",
	OpLess:         "<",
	OpLessEqual:    "<=",
	OpGreater:      ">",
	OpGreaterEqual: ">=",
}

// compileQuery renders q as SQL over the documents table. Field paths are
// validated before they are spliced into the statement; values are always
// bound parameters.
func compileQuery(collection string, q Query) (string, []any, error) {
	if err := q.validate(); err != nil {
		return "", nil, err
	}

	args := []any{collection}
	var b strings.Builder
	b.WriteString(`SELECT id, data FROM documents WHERE collection = $1`)

	for _, f := range q.Filters {
		text := textExpr(f.Field)
		value := encodeValue(normalizeValue(f.Value))
		if value == nil {
			switch f.Op {
			case OpEqual:
				fmt.Fprintf(&b, ` AND %s IS NULL`, text)
			case OpNotEqual:
				fmt.Fprintf(&b, ` AND %s IS NOT NULL`, text)
			default:
				return "", nil, fmt.Errorf("%w: %s compared with null", ErrInvalidQuery, f.Op)
			}
			continue
		}

		op := sqlOps[f.Op]
		switch v := value.(type) {
		case string:
			args = append(args, v)
			fmt.Fprintf(&b, ` AND %s %s $%d`, text, op, len(args))
		case int64, float64:
			args = append(args, v)
			fmt.Fprintf(&b, ` AND (%s)::numeric %s $%d`, text, op, len(args))
		case bool:
			args = append(args, v)
			fmt.Fprintf(&b, ` AND (%s)::boolean %s $%d`, text, op, len(args))
		default:
			if f.Op != OpEqual && f.Op != OpNotEqual {
				return "", nil, fmt.Errorf("%w: %s on composite value", ErrInvalidQuery, f.Op)
			}
			raw, err := json.Marshal(v)
			if err != nil {
				return "", nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
			}
			args = append(args, string(raw))
			fmt.Fprintf(&b, ` AND %s %s $%d::jsonb`, jsonExpr(f.Field), op, len(args))
		}
	}

	b.WriteString(` ORDER BY `)
	for _, o := range q.OrderBy {
		if o.Direction == Desc {
			fmt.Fprintf(&b, `%s DESC NULLS LAST, `, textExpr(o.Field))
		} else {
			fmt.Fprintf(&b, `%s ASC NULLS FIRST, `, textExpr(o.Field))
		}
	}
	b.WriteString(`seq ASC`)

	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	}
	return b.String(), args, nil
}

func textExpr(path string) string {
	if !strings.Contains(path, ".") {
		return fmt.Sprintf(`data ->> '%s'`, path)
	}
	return fmt.Sprintf(`data #>> '{%s}'`, strings.ReplaceAll(path, ".", ","))
}

func jsonExpr(path string) string {
	return fmt.Sprintf(`data #> '{%s}'`, strings.ReplaceAll(path, ".", ","))
}

// encodeValue turns normalized values into their JSON storage form.
func encodeValue(value any) any {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(timeLayout)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = encodeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = encodeValue(item)
		}
		return out
	default:
		return v
	}
}

// timestampFields are the top-level keys read back as time.Time. Every
// other string stays as stored, even when it looks like a timestamp.
var timestampFields = map[string]bool{
	"createdAt": true,
	"updatedAt": true,
}

func decodeTimestamp(value any) any {
	v, ok := value.(string)
	if !ok {
		return value
	}
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return v
	}
	return t
}

func encodeJSONFields(fields Fields) ([]byte, error) {
	encoded := make(map[string]any, len(fields))
	for key, value := range fields {
		encoded[key] = encodeValue(value)
	}
	raw, err := json.Marshal(encoded)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return raw, nil
}

func decodeJSONFields(raw []byte) (Fields, error) {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	fields := make(Fields, len(decoded))
	for key, value := range decoded {
		if timestampFields[key] {
			fields[key] = decodeTimestamp(value)
			continue
		}
		fields[key] = value
	}
	return fields, nil
}
