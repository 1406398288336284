package handlers

import (
	"math"
	"strings"

	"docgrid/models"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/gofiber/fiber/v2"
)

// Search handles POST /indexes/:id/searches, a single offset-paged search.
// Bulk fetches past one page go through FetchTable.
func Search(c *fiber.Ctx) error {
	var params struct {
		Q                    string   `query:"q"`
		Offset               int      `query:"offset"`
		Limit                int      `query:"limit"`
		Page                 int      `query:"page"`
		Sort                 []string `query:"sort[]"`
		AttributesToRetrieve []string `query:"attributesToRetrieve[]"`
		AttributesToExclude  []string `query:"attributesToExclude[]"`
	}
	params.Limit = 20
	params.Page = 1

	if err := c.QueryParser(&params); err != nil {
		return BadRequestWithDetails(c, ErrorCodeInvalidParameter, "invalid query parameters", err.Error())
	}

	// Body values override query values
	if len(c.Body()) > 0 {
		var body models.SearchRequest
		if err := c.BodyParser(&body); err != nil {
			return BadRequestWithDetails(c, ErrorCodeInvalidRequestBody, "invalid request body", err.Error())
		}
		if body.Query != "" {
			params.Q = body.Query
		}
		if body.Limit > 0 {
			params.Limit = body.Limit
		}
		if body.Offset > 0 {
			params.Offset = body.Offset
		}
		if body.Page > 0 {
			params.Page = body.Page
		}
		if len(body.Sort) > 0 {
			params.Sort = body.Sort
		}
		if len(body.AttributesToRetrieve) > 0 {
			params.AttributesToRetrieve = body.AttributesToRetrieve
		}
		if len(body.AttributesToExclude) > 0 {
			params.AttributesToExclude = body.AttributesToExclude
		}
	}

	if len(params.AttributesToRetrieve) > 0 && len(params.AttributesToExclude) > 0 {
		return BadRequest(c, ErrorCodeConflictingParameters, "cannot use both attributesToRetrieve and attributesToExclude at the same time")
	}
	if params.Limit <= 0 {
		return BadRequest(c, ErrorCodeInvalidParameter, "limit must be positive")
	}

	offset := params.Offset
	if params.Page > 1 {
		offset = (params.Page - 1) * params.Limit
	}

	index, _, err := GetContext(c).Store.GetIndex(c.Params("id"))
	if err != nil {
		return StoreError(c, ErrorCodeSearchFailed, err)
	}

	var searchQuery query.Query
	if params.Q == "" {
		searchQuery = bleve.NewMatchAllQuery()
	} else {
		searchQuery = bleve.NewQueryStringQuery(params.Q)
	}

	searchRequest := bleve.NewSearchRequestOptions(searchQuery, params.Limit, offset, false)
	if len(params.AttributesToRetrieve) > 0 {
		searchRequest.Fields = params.AttributesToRetrieve
	} else {
		searchRequest.Fields = []string{"*"}
	}

	var sortOrder []string
	for _, field := range params.Sort {
		if field = strings.TrimSpace(field); field != "" {
			sortOrder = append(sortOrder, field)
		}
	}
	if len(sortOrder) == 0 {
		sortOrder = []string{"-_score"}
	}
	searchRequest.SortBy(sortOrder)

	searchResult, err := index.SearchInContext(c.UserContext(), searchRequest)
	if err != nil {
		return BadRequestWithDetails(c, ErrorCodeSearchFailed, "search failed", err.Error())
	}

	hits := make([]map[string]any, 0, len(searchResult.Hits))
	for _, hit := range searchResult.Hits {
		doc := make(map[string]any, len(hit.Fields)+1)
		for name, value := range hit.Fields {
			doc[name] = value
		}
		if _, ok := doc["id"]; !ok {
			doc["id"] = hit.ID
		}
		for _, attr := range params.AttributesToExclude {
			delete(doc, attr)
		}
		hits = append(hits, doc)
	}

	return c.JSON(models.SearchResponse{
		Hits:       hits,
		TotalHits:  searchResult.Total,
		TotalPages: int(math.Ceil(float64(searchResult.Total) / float64(params.Limit))),
	})
}
