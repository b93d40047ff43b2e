package evidence

import (
	"testing"

	"github.com/basegraphhq/dossier/internal/model"
)

func appendStub(idx *Index, goalID, url string) int64 {
	return idx.Append(model.ProcessedEvidence{
		GoalID:     goalID,
		Raw:        model.RawResult{SourceID: "websearch", URL: url},
		LLMSummary: "summary for " + url,
	}, "summary for "+url, []string{"acme"})
}

func TestAppendAssignsUniqueIDs(t *testing.T) {
	idx := NewIndex()
	ids := map[int64]bool{}
	for i := 0; i < 50; i++ {
		id := appendStub(idx, "0", "")
		if ids[id] {
			t.Fatalf("duplicate evidence id %d", id)
		}
		ids[id] = true
	}
	if idx.Len() != 50 {
		t.Fatalf("Len = %d, want 50", idx.Len())
	}
}

func TestSeenURLDeduplicatesAcrossGoals(t *testing.T) {
	idx := NewIndex()
	id := appendStub(idx, "0.0", "https://example.com/contract")

	got, seen := idx.SeenURL("https://example.com/contract")
	if !seen || got != id {
		t.Fatalf("SeenURL = (%d, %v), want (%d, true)", got, seen, id)
	}

	// Normalization variants hit the same entry.
	got, seen = idx.SeenURL("HTTPS://EXAMPLE.COM/contract?utm_source=feed")
	if !seen || got != id {
		t.Fatalf("normalized variant not recognized: (%d, %v)", got, seen)
	}
}

func TestEmptyURLsNeverDedupeEachOther(t *testing.T) {
	idx := NewIndex()
	appendStub(idx, "0", "")
	appendStub(idx, "0", "")

	if _, seen := idx.SeenURL(""); seen {
		t.Fatal("empty URL must never register as seen")
	}
	if idx.Len() != 2 {
		t.Fatalf("both URL-less results must be kept, Len = %d", idx.Len())
	}
}

func TestGetManySkipsUnknownIDs(t *testing.T) {
	idx := NewIndex()
	id := appendStub(idx, "0", "https://example.com/a")

	got := idx.GetMany([]int64{id, 999999})
	if len(got) != 1 || got[0].EvidenceID != id {
		t.Fatalf("GetMany = %+v, want just the known id", got)
	}
}
