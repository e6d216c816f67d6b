package topics

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/DeafMist/topic-radar/internal/cluster"
	"github.com/DeafMist/topic-radar/internal/models"
)

// silhouetteSample bounds the number of documents scored by the silhouette
// metric, which is quadratic in the batch size.
const silhouetteSample = 2000

// Silhouette returns the mean silhouette coefficient of labels over x using
// euclidean distance. Rows labelled cluster.Noise are left out. Fewer than two
// clusters, or as many clusters as rows, give 0.
func Silhouette(x [][]float64, labels []int) float64 {
	var rows []int
	sizes := make(map[int]int)
	for i, l := range labels {
		if l == cluster.Noise {
			continue
		}
		rows = append(rows, i)
		sizes[l]++
	}
	if len(sizes) < 2 || len(sizes) >= len(rows) {
		return 0
	}

	total := 0.0
	sums := make(map[int]float64, len(sizes))
	for _, i := range rows {
		clear(sums)
		for _, j := range rows {
			if i != j {
				sums[labels[j]] += floats.Distance(x[i], x[j], 2)
			}
		}

		own := labels[i]
		if sizes[own] == 1 {
			continue
		}
		a := sums[own] / float64(sizes[own]-1)
		b := -1.0
		for l, size := range sizes {
			if l == own {
				continue
			}
			if mean := sums[l] / float64(size); b < 0 || mean < b {
				b = mean
			}
		}
		if m := max(a, b); m > 0 {
			total += (b - a) / m
		}
	}
	return total / float64(len(rows))
}

// topicSilhouette scores the consolidated topics on the original embeddings.
// Large batches are scored on a sample drawn with seed.
func topicSilhouette(batch []models.Document, groups []Group, seed uint64) float64 {
	labels := make([]int, len(batch))
	for i := range labels {
		labels[i] = cluster.Noise
	}
	for l, g := range groups {
		for _, i := range g.Members {
			labels[i] = l
		}
	}

	x := models.Embeddings(batch)
	if len(x) > silhouetteSample {
		rng := rand.New(rand.NewPCG(seed, seed))
		picked := rng.Perm(len(x))[:silhouetteSample]
		sx := make([][]float64, len(picked))
		sl := make([]int, len(picked))
		for k, i := range picked {
			sx[k], sl[k] = x[i], labels[i]
		}
		x, labels = sx, sl
	}
	return Silhouette(x, labels)
}

// nearestTopics scores every document of the batch against each topic
// centroid by cosine similarity and keeps the closest topic. Unassigned
// documents are scored too.
func nearestTopics(batch []models.Document, found []Topic) map[string]TopicScore {
	out := make(map[string]TopicScore, len(batch))
	if len(found) == 0 {
		return out
	}

	norms := make([]float64, len(found))
	for t := range found {
		norms[t] = floats.Norm(found[t].Centroid, 2)
	}
	for _, d := range batch {
		dn := floats.Norm(d.Embedding, 2)
		best := TopicScore{Score: -2}
		for t, topic := range found {
			score := 0.0
			if dn > 0 && norms[t] > 0 {
				score = floats.Dot(d.Embedding, topic.Centroid) / (dn * norms[t])
			}
			if score > best.Score {
				best = TopicScore{TopicID: topic.ID, Score: score}
			}
		}
		out[d.ID] = best
	}
	return out
}
