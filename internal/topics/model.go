package topics

import "time"

// Topic is a group of documents that clustered together consistently across
// repetitions.
type Topic struct {
	ID        string    `json:"id"`
	Members   []string  `json:"members"`
	Size      int       `json:"size"`
	Stability float64   `json:"stability"`
	Keywords  []string  `json:"keywords,omitempty"`
	Centroid  []float64 `json:"centroid,omitempty"`
}

// Metrics summarises one pipeline invocation.
type Metrics struct {
	Documents        int           `json:"documents"`
	Topics           int           `json:"topics"`
	Unassigned       int           `json:"unassigned"`
	Runs             int           `json:"runs"`
	SuccessfulRuns   int           `json:"successful_runs"`
	FailedRuns       int           `json:"failed_runs"`
	Elapsed          time.Duration `json:"elapsed"`
	// Silhouette is the mean silhouette coefficient of the topics over the
	// original embeddings, unassigned documents excluded.
	Silhouette       float64       `json:"silhouette_score"`
	RunErrors        []string      `json:"run_errors,omitempty"`
	DeadlineExceeded bool          `json:"deadline_exceeded,omitempty"`
}

// TopicScore is the closest topic of a document and its cosine similarity
// to the topic centroid.
type TopicScore struct {
	TopicID string  `json:"topic_id"`
	Score   float64 `json:"score"`
}

// TopicModel is the consolidated result for a batch. Every document of the
// batch is a key of Assignments; unassigned documents map to nil. Nearest
// holds the closest topic of every document, unassigned ones included, and
// is empty when no topic was found.
type TopicModel struct {
	RunID       string                `json:"run_id"`
	CreatedAt   time.Time             `json:"created_at"`
	Params      Params                `json:"params"`
	Topics      []Topic               `json:"topics"`
	Assignments map[string]*string    `json:"assignments"`
	Nearest     map[string]TopicScore `json:"nearest"`
	Unassigned  []string              `json:"unassigned"`
	Metrics     Metrics               `json:"metrics"`
}

// TopicOf returns the topic id of a document, if it has one.
func (m *TopicModel) TopicOf(docID string) (string, bool) {
	id, ok := m.Assignments[docID]
	if !ok || id == nil {
		return "", false
	}
	return *id, true
}

// Topic looks a topic up by id.
func (m *TopicModel) Topic(id string) (Topic, bool) {
	for _, t := range m.Topics {
		if t.ID == id {
			return t, true
		}
	}
	return Topic{}, false
}

// Outlier reports whether a document of the batch was left unassigned.
func (m *TopicModel) Outlier(docID string) bool {
	id, ok := m.Assignments[docID]
	return ok && id == nil
}

// TopicSummary is a topic without its member list.
type TopicSummary struct {
	ID        string   `json:"id"`
	Size      int      `json:"size"`
	Stability float64  `json:"stability"`
	Keywords  []string `json:"keywords,omitempty"`
}

// Summary is the compact form of a TopicModel that is published and served.
type Summary struct {
	RunID     string         `json:"run_id"`
	CreatedAt time.Time      `json:"created_at"`
	Days      int            `json:"days"`
	Topics    []TopicSummary `json:"topics"`
	Metrics   Metrics        `json:"metrics"`
}

// Summary drops members, assignments and centroids.
func (m *TopicModel) Summary() Summary {
	s := Summary{
		RunID:     m.RunID,
		CreatedAt: m.CreatedAt,
		Days:      m.Params.Days,
		Topics:    make([]TopicSummary, 0, len(m.Topics)),
		Metrics:   m.Metrics,
	}
	for _, t := range m.Topics {
		s.Topics = append(s.Topics, TopicSummary{ID: t.ID, Size: t.Size, Stability: t.Stability, Keywords: t.Keywords})
	}
	return s
}
