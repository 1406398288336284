package formats

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
)

// maxLineSize bounds a single JSON line
const maxLineSize = 16 * 1024 * 1024

// JSONEachRowParser reads one JSON object per line. Blank lines are skipped.
type JSONEachRowParser struct{}

func (p *JSONEachRowParser) Parse(data []byte) ([]map[string]any, error) {
	var documents []map[string]any

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var doc map[string]any
		if err := sonic.Unmarshal(line, &doc); err != nil {
			return nil, fmt.Errorf("invalid JSON on line %d: %w", lineNum, err)
		}
		if doc == nil {
			return nil, fmt.Errorf("line %d is not a JSON object", lineNum)
		}

		documents = append(documents, doc)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading input: %w", err)
	}

	return documents, nil
}

// JSONEachRowEncoder writes one JSON object per line
type JSONEachRowEncoder struct{}

func (e *JSONEachRowEncoder) ContentType() string {
	return "application/x-ndjson"
}

func (e *JSONEachRowEncoder) Encode(w io.Writer, records []map[string]any) error {
	bw := bufio.NewWriter(w)
	for i, record := range records {
		line, err := sonic.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to encode record %d: %w", i, err)
		}
		bw.Write(line)
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}
