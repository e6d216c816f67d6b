package models

import "time"

// Document is a single embedded news item as stored in Elasticsearch.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Embedding []float64 `json:"embedding"`
}

// Embeddings returns the embedding rows of docs in batch order.
func Embeddings(docs []Document) [][]float64 {
	out := make([][]float64, len(docs))
	for i := range docs {
		out[i] = docs[i].Embedding
	}
	return out
}

// Window keeps the documents whose timestamp falls after now minus days.
func Window(docs []Document, now time.Time, days int) []Document {
	cutoff := now.AddDate(0, 0, -days)
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if d.Timestamp.After(cutoff) {
			out = append(out, d)
		}
	}
	return out
}
