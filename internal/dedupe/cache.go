package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/DeafMist/topic-radar/internal/models"
	"github.com/DeafMist/topic-radar/internal/topics"
)

// Cache remembers recently modelled batches, mapping a batch fingerprint to
// the run id of the topic model built from it.
type Cache struct {
	lru *expirable.LRU[string, string]
}

// NewCache creates a cache with the provided capacity and ttl.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{lru: expirable.NewLRU[string, string](capacity, nil, ttl)}
}

// Lookup returns the run id recorded for a fingerprint inside the ttl window.
func (c *Cache) Lookup(fingerprint string) (string, bool) {
	return c.lru.Get(fingerprint)
}

// MarkSeen records that a fingerprint was modelled by runID.
func (c *Cache) MarkSeen(fingerprint, runID string) {
	c.lru.Add(fingerprint, runID)
}

// Fingerprint identifies a batch by its document ids and the options it is
// modelled with. Modelling is deterministic, so equal fingerprints give equal
// topics. Document order does not matter.
func Fingerprint(docs []models.Document, p topics.Params) string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	params, _ := json.Marshal(p)
	h.Write(params)
	return hex.EncodeToString(h.Sum(nil))
}
