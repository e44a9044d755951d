package domain

import "time"

// Chunk is an indexed segment of a guidance document. Chunks are immutable
// once ingested; the only delete path is a full index reset.
type Chunk struct {
	ID        string
	Text      string
	Embedding []float32
	Source    string
	Title     string
	Category  string
	URL       string
	CreatedAt time.Time
}

// RetrievedResult is a read-only projection of a Chunk plus the similarity
// score of the query that retrieved it. Score is bounded to [0, 1].
type RetrievedResult struct {
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
	Source   string  `json:"source"`
	Category string  `json:"category"`
	URL      string  `json:"url,omitempty"`
	Title    string  `json:"title,omitempty"`
}
