package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/topic-radar/internal/config"
	"github.com/DeafMist/topic-radar/internal/topics"
)

const smallParams = `
model_topics:
  days: 1
  reps: 3
  workers: 2
  umap:
    n_neighbors: 5
    epochs: 50
  hdbscan:
    min_cluster_size: 5
`

// writeBatch writes two groups of 20 fresh documents plus three documents
// from a week earlier.
func writeBatch(t *testing.T, dir string) string {
	t.Helper()
	rng := rand.New(rand.NewPCG(3, 4))
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var lines []string
	add := func(id, title string, group int, ts time.Time) {
		emb := make([]float64, 8)
		emb[group] = 10
		for d := range emb {
			emb[d] += rng.NormFloat64() * 0.3
		}
		data, err := json.Marshal(map[string]any{
			"id":        id,
			"title":     title,
			"text":      title + " coverage continues",
			"timestamp": ts.Format(time.RFC3339),
			"embedding": emb,
		})
		require.NoError(t, err)
		lines = append(lines, string(data))
	}
	for g, title := range []string{"flood", "election"} {
		for i := range 20 {
			add(fmt.Sprintf("%s-%d", title, i), title, g, now.Add(-time.Duration(i)*time.Minute))
		}
	}
	for i := range 3 {
		add(fmt.Sprintf("stale-%d", i), "flood", 0, now.AddDate(0, 0, -7))
	}

	path := filepath.Join(dir, "batch.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearOverrides(t *testing.T) {
	t.Helper()
	for _, key := range []string{"days", "reps", "workers", "topic_merge_delta", "seed", "timeout"} {
		t.Setenv(config.EnvKey(key), "")
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestModelCommandWritesModelAndMetrics(t *testing.T) {
	clearOverrides(t)
	dir := t.TempDir()
	batch := writeBatch(t, dir)
	params := writeFile(t, dir, "params.yaml", smallParams)
	output := filepath.Join(dir, "model.json")
	metrics := filepath.Join(dir, "metrics.json")

	stdout, err := execute(t, "model", "--input", batch, "--params", params, "--output", output, "--metrics", metrics)
	require.NoError(t, err)
	require.Empty(t, stdout)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var model topics.TopicModel
	require.NoError(t, json.Unmarshal(data, &model))

	// The week-old documents fall outside the one-day window.
	require.Len(t, model.Assignments, 40)
	require.NotContains(t, model.Assignments, "stale-0")
	require.NotEmpty(t, model.Topics)
	require.Equal(t, 3, model.Params.Reps)

	data, err = os.ReadFile(metrics)
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, json.Unmarshal(data, &report))
	require.EqualValues(t, len(model.Topics), report["total_topics"])
	require.Equal(t, model.RunID, report["run_id"])
	require.EqualValues(t, 40, report["documents"])
	require.EqualValues(t, 3, report["successful_runs"])
	require.Contains(t, report, "silhouette_score")
	require.Greater(t, report["silhouette_score"], 0.5)
}

func TestModelCommandAllToStdout(t *testing.T) {
	clearOverrides(t)
	dir := t.TempDir()
	batch := writeBatch(t, dir)
	params := writeFile(t, dir, "params.yaml", smallParams)

	stdout, err := execute(t, "model", "--input", batch, "--params", params, "--all", "--workers", "1")
	require.NoError(t, err)

	var model topics.TopicModel
	require.NoError(t, json.Unmarshal([]byte(stdout), &model))
	require.Len(t, model.Assignments, 43)
	require.Contains(t, model.Assignments, "stale-2")
	require.Equal(t, 1, model.Params.Workers)
}

func TestModelCommandErrors(t *testing.T) {
	clearOverrides(t)
	dir := t.TempDir()
	batch := writeBatch(t, dir)
	missing := filepath.Join(dir, "missing.jsonl")
	bad := writeFile(t, dir, "bad.yaml", "model_topics:\n  reps: 0\n")
	broken := writeFile(t, dir, "broken.jsonl", `{"id":"a"}`)

	tests := []struct {
		name      string
		args      []string
		wantMsg   string
		wantParam string
	}{
		{name: "no input", args: []string{"model"}, wantMsg: "--input is required"},
		{name: "missing batch", args: []string{"model", "--input", missing}, wantMsg: "open batch"},
		{name: "invalid params", args: []string{"model", "--input", batch, "--params", bad}, wantParam: "reps"},
		// Parameters are checked before the batch is opened.
		{name: "invalid params and missing batch", args: []string{"model", "--input", missing, "--params", bad}, wantParam: "reps"},
		{name: "malformed batch", args: []string{"model", "--input", broken}, wantMsg: "line 1"},
		{name: "unwritable output", args: []string{"model", "--input", batch, "--output", filepath.Join(dir, "nope", "model.json")}, wantMsg: "write model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			if tt.wantParam != "" {
				var cfgErr *topics.ConfigurationError
				require.ErrorAs(t, err, &cfgErr)
				require.Equal(t, tt.wantParam, cfgErr.Key)
				return
			}
			require.ErrorContains(t, err, tt.wantMsg)
		})
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteJSON(t *testing.T) {
	dir := t.TempDir()
	value := map[string]int{"topics": 2}

	tests := []struct {
		name     string
		fallback io.Writer
		path     string
		wantErr  string
	}{
		{name: "file", path: filepath.Join(dir, "out.json")},
		{name: "fallback", fallback: &bytes.Buffer{}},
		{name: "fallback error", fallback: failingWriter{}, wantErr: "disk full"},
		{name: "missing directory", path: filepath.Join(dir, "missing", "out.json"), wantErr: "no such file"},
		{name: "path is a directory", path: dir, wantErr: "is a directory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := writeJSON(tt.fallback, tt.path, value)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			var data []byte
			if tt.path != "" {
				data, err = os.ReadFile(tt.path)
				require.NoError(t, err)
			} else {
				data = tt.fallback.(*bytes.Buffer).Bytes()
			}
			require.JSONEq(t, `{"topics":2}`, string(data))
		})
	}
}

func TestValidateCommand(t *testing.T) {
	clearOverrides(t)
	dir := t.TempDir()

	stdout, err := execute(t, "validate", "--params", writeFile(t, dir, "params.yaml", smallParams))
	require.NoError(t, err)
	require.Contains(t, stdout, "days=1 reps=3")
	require.Contains(t, stdout, "umap(k=5")
	require.Contains(t, stdout, "hdbscan(min_size=5")

	_, err = execute(t, "validate", "--params", writeFile(t, dir, "typo.yaml", "model_topics:\n  repz: 3\n"))
	var cfgErr *topics.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "repz", cfgErr.Key)
}

func TestIngestCommand(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	t.Cleanup(srv.Close)

	t.Setenv("ELASTICSEARCH_ADDR", srv.URL)
	t.Setenv("ELASTICSEARCH_INDEX", "news")

	dir := t.TempDir()
	stdout, err := execute(t, "ingest", "--input", writeBatch(t, dir))
	require.NoError(t, err)
	require.Equal(t, "indexed 43 documents\n", stdout)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, paths, 43)
	require.Equal(t, "PUT /news/_doc/flood-0", paths[0])
}
