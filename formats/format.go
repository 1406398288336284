// Package formats reads and writes documents in the wire formats the API and
// CLI accept.
package formats

import (
	"errors"
	"io"
)

// Supported formats
const (
	JSONEachRow = "jsoneachrow"
	Msgpack     = "msgpack"
)

// ErrUnsupportedFormat is returned when the requested format is not supported
var ErrUnsupportedFormat = errors.New("unsupported format")

// DocumentParser decodes a request body into documents
type DocumentParser interface {
	Parse(data []byte) ([]map[string]any, error)
}

// RecordEncoder writes fetched records to an output stream
type RecordEncoder interface {
	Encode(w io.Writer, records []map[string]any) error
	ContentType() string
}

// GetParser returns the parser for format
func GetParser(format string) (DocumentParser, error) {
	switch format {
	case JSONEachRow:
		return &JSONEachRowParser{}, nil
	case Msgpack:
		return &MsgpackParser{}, nil
	default:
		return nil, ErrUnsupportedFormat
	}
}

// GetEncoder returns the encoder for format
func GetEncoder(format string) (RecordEncoder, error) {
	switch format {
	case JSONEachRow:
		return &JSONEachRowEncoder{}, nil
	case Msgpack:
		return &MsgpackEncoder{}, nil
	default:
		return nil, ErrUnsupportedFormat
	}
}
