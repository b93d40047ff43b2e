// Package evidence owns the run-wide evidence index: appending newly
// accepted ProcessedEvidence, exposing IndexEntry summaries to ANALYZE
// steps in sibling and cousin goals, and deduplicating repeat URLs across
// the whole run.
package evidence

import (
	"sync"

	"github.com/basegraphhq/dossier/common/id"
	"github.com/basegraphhq/dossier/internal/model"
	"github.com/basegraphhq/dossier/internal/source"
)

// Index is the run-scoped, concurrency-safe store of every accepted
// ProcessedEvidence and its lightweight IndexEntry summary. It never
// evicts within a run; the run's own budget caps (max_goals, max_time,
// max_cost_usd) already bound how much evidence one run can accumulate.
type Index struct {
	mu       sync.RWMutex
	byID     map[int64]model.ProcessedEvidence
	entries  []model.IndexEntry
	seenURLs map[string]int64 // url_hash -> evidence_id, for seen-before checks across the whole run
}

// NewIndex constructs an empty Index. It ensures the process-wide snowflake
// node is initialized (node ID 0; a single dossier process never needs
// more than one node) so Append can mint ids even if main never called
// id.Init itself, e.g. in tests.
func NewIndex() *Index {
	_ = id.Init(0)
	return &Index{
		byID:     make(map[int64]model.ProcessedEvidence),
		seenURLs: make(map[string]int64),
	}
}

// SeenURL reports whether url has already been admitted into this run's
// evidence, returning the existing evidence ID when so. Callers use this
// on each raw result a source returned, before filtering and extracting
// it, so a repeat URL becomes a reference to the existing evidence.
func (idx *Index) SeenURL(url string) (int64, bool) {
	if url == "" {
		return 0, false
	}
	hash := source.URLHash(source.NormalizeURL(url))
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	id, ok := idx.seenURLs[hash]
	return id, ok
}

// Append admits a new piece of processed evidence into the run index,
// assigns it an evidence_id, and records its IndexEntry summary and URL
// hash for future SeenURL checks. Returns the assigned ID.
func (idx *Index) Append(ev model.ProcessedEvidence, summaryForSelection string, keywords []string) int64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	ev.EvidenceID = id.New()
	idx.byID[ev.EvidenceID] = ev

	// A result with no URL (e.g. a local archive document) gets no hash:
	// hashing the empty string would collapse every URL-less result onto
	// one dedup key.
	var hash string
	if ev.Raw.URL != "" {
		hash = source.URLHash(source.NormalizeURL(ev.Raw.URL))
	}
	idx.entries = append(idx.entries, model.IndexEntry{
		EvidenceID:          ev.EvidenceID,
		GoalID:              ev.GoalID,
		SummaryForSelection: summaryForSelection,
		URLHash:             hash,
		Keywords:            keywords,
	})
	if hash != "" {
		idx.seenURLs[hash] = ev.EvidenceID
	}
	return ev.EvidenceID
}

// Get returns the full ProcessedEvidence for an ID, used when ANALYZE
// selects specific entries to synthesize over.
func (idx *Index) Get(id int64) (model.ProcessedEvidence, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ev, ok := idx.byID[id]
	return ev, ok
}

// GetMany returns the full ProcessedEvidence for each requested ID,
// silently skipping IDs that are not present (a selection referencing a
// stale ID is a caller bug, not a crash).
func (idx *Index) GetMany(ids []int64) []model.ProcessedEvidence {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]model.ProcessedEvidence, 0, len(ids))
	for _, id := range ids {
		if ev, ok := idx.byID[id]; ok {
			out = append(out, ev)
		}
	}
	return out
}

// Entries returns a snapshot of every IndexEntry accumulated so far, for
// ANALYZE's candidate-selection prompt.
func (idx *Index) Entries() []model.IndexEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]model.IndexEntry, len(idx.entries))
	copy(out, idx.entries)
	return out
}

// Len reports how many entries have been accepted so far.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// All returns every accepted ProcessedEvidence, used by the report writer
// to materialize evidence.json at the end of a run.
func (idx *Index) All() []model.ProcessedEvidence {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]model.ProcessedEvidence, 0, len(idx.byID))
	for _, ev := range idx.byID {
		out = append(out, ev)
	}
	return out
}
