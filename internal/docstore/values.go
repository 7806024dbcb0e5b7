package docstore

import (
	"cmp"
	"encoding/json"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"
)

var pathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

func validPath(path string) bool {
	return pathPattern.MatchString(path)
}

// prepareFields copies fields into plain maps, slices and scalars and
// resolves ServerTimestamp placeholders to now.
func prepareFields(fields Fields, now time.Time) Fields {
	out := make(Fields, len(fields))
	for key, value := range fields {
		if value == ServerTimestamp {
			out[key] = now
			continue
		}
		out[key] = normalizeValue(value)
	}
	return out
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string, bool, int64, float64:
		return v
	case time.Time:
		return v.UTC()
	case Fields:
		return normalizeMap(v)
	case map[string]any:
		return normalizeMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeValue(item)
		}
		return out
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return normalizeValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalizeValue(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			out := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				out[iter.Key().String()] = normalizeValue(iter.Value().Interface())
			}
			return out
		}
	}

	// Structs and anything else go through their JSON form.
	raw, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	return normalizeValue(decoded)
}

func normalizeMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = normalizeValue(value)
	}
	return out
}

func cloneFields(fields Fields) Fields {
	out := make(Fields, len(fields))
	for key, value := range fields {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func lookup(fields Fields, path string) (any, bool) {
	var current any = map[string]any(fields)
	for _, part := range strings.Split(path, ".") {
		var m map[string]any
		switch v := current.(type) {
		case map[string]any:
			m = v
		case Fields:
			m = v
		default:
			return nil, false
		}
		next, ok := m[part]
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// compareValues orders two values of the same kind. Numbers of any width
// compare with each other.
func compareValues(a, b any) (int, bool) {
	switch av := a.(type) {
	case nil:
		if b == nil {
			return 0, true
		}
		return 0, false
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}
	}

	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return cmp.Compare(af, bf), true
	}
	return 0, false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case float32:
		return float64(v), true
	}
	return 0, false
}

func matchesFilter(fields Fields, filter Filter) bool {
	actual, ok := lookup(fields, filter.Field)
	if !ok {
		return false
	}
	expected := normalizeValue(filter.Value)

	result, comparable := compareValues(actual, expected)
	if !comparable {
		switch filter.Op {
		case OpEqual:
			return reflect.DeepEqual(actual, expected)
		case OpNotEqual:
			return !reflect.DeepEqual(actual, expected)
		default:
			return false
		}
	}

	switch filter.Op {
	case OpEqual:
		return result == 0
	case OpNotEqual:
		return result != 0
	case OpLess:
		return result < 0
	case OpLessEqual:
		return result <= 0
	case OpGreater:
		return result > 0
	case OpGreaterEqual:
		return result >= 0
	}
	return false
}

func matches(fields Fields, filters []Filter) bool {
	for _, filter := range filters {
		if !matchesFilter(fields, filter) {
			return false
		}
	}
	return true
}

// sortDocuments orders in place. Missing or incomparable values sort first.
func sortDocuments(docs []Document, orders []Order) {
	if len(orders) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, order := range orders {
			a, aok := lookup(docs[i].Fields, order.Field)
			b, bok := lookup(docs[j].Fields, order.Field)
			var result int
			switch {
			case !aok && !bok:
				result = 0
			case !aok:
				result = -1
			case !bok:
				result = 1
			default:
				result, _ = compareValues(a, b)
			}
			if order.Direction == Desc {
				result = -result
			}
			if result != 0 {
				return result < 0
			}
		}
		return false
	})
}

// applyQuery filters, orders and limits docs, which must already be in
// insertion order.
func applyQuery(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if matches(doc.Fields, q.Filters) {
			out = append(out, doc)
		}
	}
	sortDocuments(out, q.OrderBy)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
