package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Snippet      string `json:"snippet"`
	WorkbasketID string `json:"workbasketId"`
	State        string `json:"state"`
	Owner        string `json:"owner,omitempty"`
}

// Query describes a search request. AllowedWorkbaskets narrows hits to
// the caller's authorized baskets; empty means no hits at all.
type Query struct {
	Text               string
	AllowedWorkbaskets []string
	Limit              int
	Offset             int
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

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Note         string `json:"note"`
	WorkbasketID string `json:"workbasketId"`
	State        string `json:"state"`
	Owner        string `json:"owner"`
}
