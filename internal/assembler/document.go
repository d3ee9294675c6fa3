package assembler

import "time"

// Kind tags the content source a document was projected from.
type Kind string

const (
	KindContainer Kind = "container"
	KindTask      Kind = "task"
	KindMessage   Kind = "message"
	KindFile      Kind = "file"
)

// Document is an ephemeral, request-scoped context snippet. Never persisted;
// constructed fresh per request from the live content sources.
type Document struct {
	Source     string    `json:"source"`
	Text       string    `json:"text"`
	Kind       Kind      `json:"type"`
	BaseWeight float64   `json:"-"`
	Score      float64   `json:"relevance"`
	CreatedAt  time.Time `json:"-"`
}

// EstimatedTokens is a cheap length-based token estimate (≈4 chars/token)
// used for budget truncation, not billing.
func (d *Document) EstimatedTokens() int {
	return (len(d.Source) + len(d.Text) + 3) / 4
}
