package learner

import (
	"path/filepath"
	"testing"

	"vcycle/internal/embedding"
	"vcycle/internal/store"
	"vcycle/internal/types"
)

func newTestLearner(t *testing.T) *Learner {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "learner.db"), store.Options{})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	emb := embedding.NewHashEmbedder(256)
	return New(s, emb, Config{SimilarityThreshold: 0.85})
}

func feedback(runID, correction, context string, outcome types.FeedbackOutcome) types.FeedbackRecord {
	return types.FeedbackRecord{
		RunID:          runID,
		CorrectionText: correction,
		Context:        context,
		Outcome:        outcome,
	}
}

func TestIngestCreatesPattern(t *testing.T) {
	l := newTestLearner(t)

	got, err := l.Ingest(t.Context(), feedback("r1",
		"Always cite the source document for credit decisions",
		"credit analysis", types.OutcomeCorrected))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d patterns, want 1", len(got))
	}
	p := got[0]
	if p.FailureCount != 1 || p.SuccessCount != 0 {
		t.Errorf("corrected feedback counts = %d/%d, want failure 1", p.SuccessCount, p.FailureCount)
	}
	if len(p.SourceIDs) != 1 || p.SourceIDs[0] != "r1" {
		t.Errorf("source ids = %v", p.SourceIDs)
	}
}

func TestIdenticalFeedbackReinforces(t *testing.T) {
	l := newTestLearner(t)
	rec := feedback("r1", "Always cite the source document", "credit", types.OutcomeAccepted)

	first, err := l.Ingest(t.Context(), rec)
	if err != nil {
		t.Fatal(err)
	}

	rec.RunID = "r2"
	second, err := l.Ingest(t.Context(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if second[0].ID != first[0].ID {
		t.Fatal("identical correction created a second pattern instead of reinforcing")
	}
	if second[0].SuccessCount != 2 {
		t.Errorf("success count = %d, want 2", second[0].SuccessCount)
	}
}

func TestNearDuplicateReinforcesViaEmbedding(t *testing.T) {
	l := newTestLearner(t)

	first, err := l.Ingest(t.Context(), feedback("r1",
		"always cite the source document for credit decisions and include the date",
		"credit analysis", types.OutcomeAccepted))
	if err != nil {
		t.Fatal(err)
	}

	// Different signature, nearly identical wording: should match the
	// existing pattern through the embedding path.
	second, err := l.Ingest(t.Context(), feedback("r2",
		"always cite the source document for credit decisions and include the dates",
		"credit analysis", types.OutcomeRejected))
	if err != nil {
		t.Fatal(err)
	}
	if second[0].ID != first[0].ID {
		t.Fatal("near-duplicate correction created a new pattern instead of reinforcing")
	}
	if second[0].FailureCount != 1 {
		t.Errorf("failure count = %d, want 1", second[0].FailureCount)
	}
}

func TestSimilarWordingInOtherContextStaysSeparate(t *testing.T) {
	l := newTestLearner(t)

	first, err := l.Ingest(t.Context(), feedback("r1",
		"always cite the source document for credit decisions and include the date",
		"credit analysis", types.OutcomeAccepted))
	if err != nil {
		t.Fatal(err)
	}

	// Same wording, different context: the embedding match is scoped to
	// the context, so this must become its own pattern.
	second, err := l.Ingest(t.Context(), feedback("r2",
		"always cite the source document for credit decisions and include the dates",
		"identity checks", types.OutcomeAccepted))
	if err != nil {
		t.Fatal(err)
	}
	if second[0].ID == first[0].ID {
		t.Fatal("correction from another context reinforced a foreign pattern")
	}
	if second[0].Context != "identity checks" {
		t.Errorf("new pattern context = %q, want the feedback's context", second[0].Context)
	}
}

func TestDistinctFeedbackCreatesDistinctPatterns(t *testing.T) {
	l := newTestLearner(t)
	ctx := t.Context()

	a, err := l.Ingest(ctx, feedback("r1", "Always cite the source document", "credit", types.OutcomeCorrected))
	if err != nil {
		t.Fatal(err)
	}
	b, err := l.Ingest(ctx, feedback("r2", "Never guess customer identity from partial names", "identity", types.OutcomeCorrected))
	if err != nil {
		t.Fatal(err)
	}
	if a[0].ID == b[0].ID {
		t.Error("unrelated corrections collapsed into one pattern")
	}
}

func TestIngestEmptyCorrectionIsNoop(t *testing.T) {
	l := newTestLearner(t)
	got, err := l.Ingest(t.Context(), feedback("r1", "   ", "ctx", types.OutcomeAccepted))
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("empty correction produced patterns: %v", got)
	}
}

func TestSearchRankedBySimilarity(t *testing.T) {
	l := newTestLearner(t)
	ctx := t.Context()

	texts := []string{
		"Always cite the source document for credit decisions",
		"Never guess customer identity from partial names",
		"Round currency amounts to two decimal places",
	}
	for i, text := range texts {
		if _, err := l.Ingest(ctx, feedback("r"+string(rune('1'+i)), text, "ctx", types.OutcomeAccepted)); err != nil {
			t.Fatal(err)
		}
	}

	query, err := l.Embed(ctx, "cite source documents in credit decisions")
	if err != nil {
		t.Fatal(err)
	}
	results, err := l.Search(query, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("no search results")
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Fatalf("results not sorted by descending similarity at %d", i)
		}
	}
	if results[0].Pattern.Description != texts[0] {
		t.Errorf("top result = %q, want the citation pattern", results[0].Pattern.Description)
	}
}

func TestSignatureNormalization(t *testing.T) {
	a := Signature("Always CITE the source!", "Credit")
	b := Signature("always cite   the source", "credit")
	if a != b {
		t.Error("signature should ignore case, punctuation and whitespace runs")
	}
	if Signature("always cite the source", "credit") == Signature("always cite the source", "identity") {
		t.Error("signature must include the context")
	}
}
