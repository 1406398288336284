package postgres

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// Mapper converts rows to documents
type Mapper struct {
	config *Config
}

func NewMapper(config *Config) *Mapper {
	return &Mapper{config: config}
}

// Map converts one row. It also returns the raw primary key value, which is
// the keyset cursor for the next batch.
func (m *Mapper) Map(fields []pgconn.FieldDescription, values []any) (map[string]any, any, error) {
	if len(fields) != len(values) {
		return nil, nil, fmt.Errorf("row has %d values for %d columns", len(values), len(fields))
	}

	doc := make(map[string]any, len(fields))
	var key any
	found := false
	for i, fd := range fields {
		if fd.Name == m.config.PrimaryKey {
			key = values[i]
			found = true
		}
		if len(m.config.Columns) > 0 && !slices.Contains(m.config.Columns, fd.Name) && fd.Name != m.config.PrimaryKey {
			continue
		}
		doc[m.config.FieldName(fd.Name)] = convertValue(values[i])
	}

	if !found || key == nil {
		return nil, nil, fmt.Errorf("row without primary key %s", m.config.PrimaryKey)
	}
	return doc, key, nil
}

// convertValue turns pgx values into values bleve can index. Integers stay
// integers so they format as document ids; times are formatted as RFC 3339 so
// datetime mappings parse them.
func convertValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(val).String()
	case pgtype.UUID:
		if !val.Valid {
			return nil
		}
		return uuid.UUID(val.Bytes).String()
	case pgtype.Date:
		if !val.Valid {
			return nil
		}
		return val.Time.Format(time.DateOnly)
	case pgtype.Interval:
		if !val.Valid {
			return nil
		}
		return val.Microseconds
	case []byte:
		return string(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	case string, int64, float64, bool, map[string]any:
		return val
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = convertValue(item)
		}
		return out
	default:
		return fmt.Sprintf("%v", val)
	}
}
