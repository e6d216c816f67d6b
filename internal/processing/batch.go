package processing

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/DeafMist/topic-radar/internal/models"
)

const maxLineBytes = 16 << 20

// ErrMissingEmbedding is returned for documents that carry no embedding.
var ErrMissingEmbedding = errors.New("missing embedding")

// RawDocument is a document as produced by upstream exporters: every field
// but the embedding is optional and timestamps are free-form strings.
type RawDocument struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Timestamp string    `json:"timestamp"`
	Embedding []float64 `json:"embedding"`
}

// Normalize fills the derived fields of raw. A missing title is taken from
// the text and a missing id is derived from title, text and timestamp.
func Normalize(raw RawDocument) (models.Document, error) {
	if len(raw.Embedding) == 0 {
		return models.Document{}, ErrMissingEmbedding
	}

	title := strings.TrimSpace(raw.Title)
	text := strings.TrimSpace(raw.Text)
	if title == "" {
		title = TitleFromText(text, 10)
	}

	ts := ParseTimestamp(raw.Timestamp)
	if ts.IsZero() && strings.TrimSpace(raw.Timestamp) != "" {
		return models.Document{}, fmt.Errorf("unrecognised timestamp %q", raw.Timestamp)
	}

	id := strings.TrimSpace(raw.ID)
	if id == "" {
		id = BuildDocumentID(title, CleanText(text), ts)
	}

	return models.Document{
		ID:        id,
		Title:     title,
		Text:      text,
		Source:    strings.TrimSpace(raw.Source),
		Timestamp: ts,
		Embedding: raw.Embedding,
	}, nil
}

// ReadJSONL reads one JSON document per line. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]models.Document, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	var docs []models.Document
	line := 0
	for sc.Scan() {
		line++
		data := strings.TrimSpace(sc.Text())
		if data == "" {
			continue
		}

		var raw RawDocument
		if err := json.Unmarshal([]byte(data), &raw); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		doc, err := Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		docs = append(docs, doc)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	return docs, nil
}
