package topics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/DeafMist/topic-radar/internal/cluster"
	"github.com/DeafMist/topic-radar/internal/reduce"
)

// ConfigurationError reports an invalid or unrecognized parameter. It is the
// only error ModelTopics returns for well-formed batches.
type ConfigurationError struct {
	Key    string
	Value  any
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("configuration: %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("configuration: %s=%v: %s", e.Key, e.Value, e.Reason)
}

// Params is the full set of recognized topic modelling options.
type Params struct {
	Days            int           `json:"days" yaml:"days"`
	Reps            int           `json:"reps" yaml:"reps"`
	TopicMergeDelta float64       `json:"topic_merge_delta" yaml:"topic_merge_delta"`
	Seed            uint64        `json:"seed" yaml:"seed"`
	Workers         int           `json:"workers,omitempty" yaml:"workers"`
	Timeout         time.Duration `json:"timeout,omitempty" yaml:"timeout"`

	Reduce  reduce.Params  `json:"umap" yaml:"umap"`
	Cluster cluster.Params `json:"hdbscan" yaml:"hdbscan"`
}

// DefaultParams returns the defaults: 31 repetitions, near-unanimous merging
// and the reducer/clusterer defaults.
func DefaultParams() Params {
	return Params{
		Days:            1,
		Reps:            31,
		TopicMergeDelta: 0.001,
		Seed:            42,
		Reduce:          reduce.DefaultParams(),
		Cluster:         cluster.DefaultParams(),
	}
}

var recognizedKeys = map[string][]string{
	"":        {"days", "reps", "topic_merge_delta", "seed", "workers", "timeout", "umap", "hdbscan"},
	"umap":    {"n_neighbors", "min_dist", "n_components", "metric", "epochs", "spread", "init"},
	"hdbscan": {"min_cluster_size", "min_samples", "cluster_selection_epsilon", "alpha"},
}

// CheckKeys rejects keys outside the recognized parameter set. Nested
// sections are addressed as "umap.n_neighbors".
func CheckKeys(raw map[string]any) error {
	return checkSection("", raw)
}

func checkSection(section string, raw map[string]any) error {
	allowed := recognizedKeys[section]
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := k
		if section != "" {
			path = section + "." + k
		}
		if !contains(allowed, k) {
			return &ConfigurationError{Key: path, Reason: "unrecognized key"}
		}
		if _, nested := recognizedKeys[k]; nested && section == "" {
			sub, ok := raw[k].(map[string]any)
			if !ok {
				if raw[k] == nil {
					continue
				}
				return &ConfigurationError{Key: path, Value: raw[k], Reason: "must be a mapping"}
			}
			if err := checkSection(k, sub); err != nil {
				return err
			}
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Validate checks every option and returns a *ConfigurationError for the first
// offending one.
func (p Params) Validate() error {
	switch {
	case p.Days < 1:
		return &ConfigurationError{Key: "days", Value: p.Days, Reason: "must be at least 1"}
	case p.Reps < 1:
		return &ConfigurationError{Key: "reps", Value: p.Reps, Reason: "must be at least 1"}
	case p.TopicMergeDelta < 0 || p.TopicMergeDelta >= 1:
		return &ConfigurationError{Key: "topic_merge_delta", Value: p.TopicMergeDelta, Reason: "must be in [0, 1)"}
	case p.Workers < 0:
		return &ConfigurationError{Key: "workers", Value: p.Workers, Reason: "cannot be negative"}
	case p.Timeout < 0:
		return &ConfigurationError{Key: "timeout", Value: p.Timeout, Reason: "cannot be negative"}
	}

	if err := p.Reduce.Validate(); err != nil {
		var perr *reduce.ParameterError
		if errors.As(err, &perr) {
			return &ConfigurationError{Key: "umap." + perr.Param, Value: perr.Value, Reason: perr.Reason}
		}
		return &ConfigurationError{Key: "umap", Reason: err.Error()}
	}

	c := p.Cluster
	switch {
	case c.MinClusterSize < 2:
		return &ConfigurationError{Key: "hdbscan.min_cluster_size", Value: c.MinClusterSize, Reason: "must be at least 2"}
	case c.MinSamples < 0:
		return &ConfigurationError{Key: "hdbscan.min_samples", Value: c.MinSamples, Reason: "cannot be negative"}
	case c.SelectionEpsilon < 0:
		return &ConfigurationError{Key: "hdbscan.cluster_selection_epsilon", Value: c.SelectionEpsilon, Reason: "cannot be negative"}
	case c.Alpha <= 0:
		return &ConfigurationError{Key: "hdbscan.alpha", Value: c.Alpha, Reason: "must be positive"}
	}
	return nil
}

// String renders the parameters compactly for logs.
func (p Params) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "days=%d reps=%d delta=%g seed=%d", p.Days, p.Reps, p.TopicMergeDelta, p.Seed)
	fmt.Fprintf(&b, " umap(k=%d min_dist=%g dim=%d metric=%s)", p.Reduce.NNeighbors, p.Reduce.MinDist, p.Reduce.NComponents, p.Reduce.Metric)
	fmt.Fprintf(&b, " hdbscan(min_size=%d min_samples=%d eps=%g alpha=%g)", p.Cluster.MinClusterSize, p.Cluster.MinSamples, p.Cluster.SelectionEpsilon, p.Cluster.Alpha)
	return b.String()
}
