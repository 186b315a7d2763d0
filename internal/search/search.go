package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id" db:"id"`
	Title   string `json:"title" db:"title"`
	Type    string `json:"type" db:"type"`
	Snippet string `json:"snippet" db:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Type   string // empty = all content types
	Limit  int
	Offset int
}

// Response is the envelope returned by the search facade.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// ContentRecord is the data we index for a content item.
type ContentRecord struct {
	ID      string `json:"id" db:"id"`
	Title   string `json:"title" db:"title"`
	Type    string `json:"type" db:"type"`
	OwnerID string `json:"ownerId" db:"owner_id"`
	Visible bool   `json:"visible" db:"visible"`
}
