package retrieval

import "context"

// Passage is a retrieved snippet of course material. Distance is the
// similarity distance of the passage to the query; lower is more
// similar.
type Passage struct {
	Text     string
	Source   string
	Distance float64
}

// Index is the similarity-search store over chunked course documents.
// Implementations return an empty slice, not an error, when nothing is
// indexed for the subject; an error means the store itself was
// unreachable.
type Index interface {
	Search(ctx context.Context, queryText, subject string, topK int) ([]Passage, error)
}
