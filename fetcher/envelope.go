package fetcher

import "time"

// PageStat describes one executed page
type PageStat struct {
	Size        int           `json:"size"`
	SearchAfter Cursor        `json:"searchAfter,omitempty"`
	Hits        int           `json:"hits"`
	Took        time.Duration `json:"took"`
}

// Envelope is the result of a bulk fetch
type Envelope struct {
	// Total is the hit count reported by the last page
	Total        uint64               `json:"total"`
	Aggregations map[string]AggResult `json:"aggregations,omitempty"`
	// Took sums the engine time of every page
	Took         time.Duration `json:"took"`
	FieldColumns []FieldColumn `json:"fieldColumns,omitempty"`
	// Hits holds every page's hits in arrival order
	Hits      []Hit      `json:"hits"`
	PageStats []PageStat `json:"pageStats"`
}

// Pages returns the number of requests the fetch issued
func (e *Envelope) Pages() int {
	return len(e.PageStats)
}

var wholeDocumentColumn = FieldColumn{Label: SourceField, Field: Field{Name: SourceField}}

// DisplayColumns returns the enabled columns in display order. Without
// configured columns a single whole-document column is shown.
func (e *Envelope) DisplayColumns() []FieldColumn {
	columns := make([]FieldColumn, 0, len(e.FieldColumns))
	for _, column := range e.FieldColumns {
		if column.IsEnabled() {
			columns = append(columns, column)
		}
	}
	if len(columns) == 0 {
		columns = append(columns, wholeDocumentColumn)
	}
	return columns
}

// Columns returns the display column titles
func (e *Envelope) Columns() []string {
	columns := e.DisplayColumns()
	titles := make([]string, len(columns))
	for i, column := range columns {
		titles[i] = column.Title()
	}
	return titles
}

// Rows returns one row per hit, cells ordered like Columns. Missing values are nil.
func (e *Envelope) Rows() [][]any {
	columns := e.DisplayColumns()
	rows := make([][]any, len(e.Hits))
	for i, hit := range e.Hits {
		row := make([]any, len(columns))
		for j, column := range columns {
			row[j], _ = hit.Value(column.Field.Name)
		}
		rows[i] = row
	}
	return rows
}

// Records returns the rows as maps keyed by column title
func (e *Envelope) Records() []map[string]any {
	titles := e.Columns()
	rows := e.Rows()
	records := make([]map[string]any, len(rows))
	for i, row := range rows {
		record := make(map[string]any, len(titles))
		for j, title := range titles {
			record[title] = row[j]
		}
		records[i] = record
	}
	return records
}
