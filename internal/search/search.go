// Package search provides full-text search over the reference library,
// backed by Meilisearch with a PostgreSQL FTS fallback.
package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultAct     ResultType = "act"
	ResultSection ResultType = "section"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      int64      `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	ActID   int64      `json:"actId"`
}

// Query describes a search request.
type Query struct {
	Text        string
	FilterType  ResultType // empty = all types
	FilterActID int64      // 0 = all acts
	Limit       int
	Offset      int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ActRecord is the data we index for an act.
type ActRecord struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Category     string `json:"category"`
	Jurisdiction string `json:"jurisdiction"`
}

// SectionRecord is the data we index for a section.
type SectionRecord struct {
	ID                    int64  `json:"id"`
	ActID                 int64  `json:"actId"`
	ActTitle              string `json:"actTitle"`
	SectionNumber         string `json:"sectionNumber"`
	LegalText             string `json:"legalText"`
	SimplifiedExplanation string `json:"simplifiedExplanation"`
}
