package models

// IndexConfig represents the configuration for an index
type IndexConfig struct {
	ID         string `json:"id"`
	PrimaryKey string `json:"primaryKey"`
	// TimeField is the default field time ranges apply to
	TimeField string `json:"timeField,omitempty"`
	// KeywordFields are indexed verbatim so they sort and aggregate as whole values
	KeywordFields     []string `json:"keywordFields,omitempty"`
	ExcludeAttributes []string `json:"excludeAttributes,omitempty"`
}

// SearchRequest represents a single page search request
type SearchRequest struct {
	Query                string   `json:"q"`
	Offset               int      `json:"offset"`
	Limit                int      `json:"limit"`
	Page                 int      `json:"page"`
	Sort                 []string `json:"sort,omitempty"`
	AttributesToRetrieve []string `json:"attributesToRetrieve"`
	AttributesToExclude  []string `json:"attributesToExclude"`
}

// SearchResponse represents a single page search response
type SearchResponse struct {
	Hits       []map[string]any `json:"hits"`
	TotalHits  uint64           `json:"totalHits"`
	TotalPages int              `json:"totalPages"`
}
