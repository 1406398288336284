package formats

import (
	"fmt"
	"io"
	"reflect"

	"github.com/hashicorp/go-msgpack/codec"
)

// msgpackHandle decodes raw strings as Go strings and nested maps with string keys
var msgpackHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{RawToString: true}
	h.MapType = reflect.TypeOf(map[string]any(nil))
	return h
}()

// MsgpackParser reads a MessagePack array of maps
type MsgpackParser struct{}

func (p *MsgpackParser) Parse(data []byte) ([]map[string]any, error) {
	var documents []map[string]any

	decoder := codec.NewDecoderBytes(data, msgpackHandle)
	if err := decoder.Decode(&documents); err != nil {
		return nil, fmt.Errorf("invalid MessagePack data: %w", err)
	}

	return documents, nil
}

// MsgpackEncoder writes records as a single MessagePack array of maps, the
// shape MsgpackParser reads
type MsgpackEncoder struct{}

func (e *MsgpackEncoder) ContentType() string {
	return "application/msgpack"
}

func (e *MsgpackEncoder) Encode(w io.Writer, records []map[string]any) error {
	if records == nil {
		records = []map[string]any{}
	}
	if err := codec.NewEncoder(w, msgpackHandle).Encode(records); err != nil {
		return fmt.Errorf("failed to encode MessagePack data: %w", err)
	}
	return nil
}
