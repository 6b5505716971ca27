package models

// SearchHit is a single ranked match with resolved catalog metadata.
type SearchHit struct {
	Item  *CatalogItem `json:"item"`
	Score float64      `json:"score"`
	Rank  int          `json:"rank"`
}

// SearchResponse is the response for a similarity search request.
// Results are ordered by descending score; ties are broken by ascending item id.
type SearchResponse struct {
	Results         []*SearchHit `json:"results"`
	Total           int          `json:"total"`
	K               int          `json:"k"`
	Threshold       float64      `json:"threshold"`
	SnapshotVersion string       `json:"snapshot_version"`
	QueryTime       int64        `json:"query_time_ms"`
}

// ItemSearchResponse is the response for a keyword search over item names and categories.
type ItemSearchResponse struct {
	Items []*CatalogItem `json:"items"`
	Total int            `json:"total"`
	Query string         `json:"query"`
	// Suggestions contains "Did you mean?" spellings when the query matched nothing.
	Suggestions []string `json:"suggestions,omitempty"`
}
