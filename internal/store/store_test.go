package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"vcycle/internal/embedding"
	"vcycle/internal/experiment"
	"vcycle/internal/types"
)

// The engine persists through the store directly.
var _ experiment.Sink = (*Store)(nil)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndReadMetrics(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)
	key := types.PairKey{ModelID: "m1", SpectrumID: "edge_cases"}

	metrics := []types.QualityMetric{
		{ModelID: "m1", SpectrumID: "edge_cases", Score: 0.95, SampleCount: 100, Timestamp: now.Add(-2 * time.Hour)},
		{ModelID: "m1", SpectrumID: "edge_cases", Score: 0.90, SampleCount: 110, Timestamp: now.Add(-time.Hour)},
		{ModelID: "m1", SpectrumID: "edge_cases", Score: 0.86, SampleCount: 120, Timestamp: now},
		{ModelID: "m2", SpectrumID: "identity", Score: 0.92, SampleCount: 80, Timestamp: now},
	}
	if err := s.AppendMetrics(metrics); err != nil {
		t.Fatalf("AppendMetrics: %v", err)
	}

	got, err := s.MetricsBetween(key, now.Add(-3*time.Hour), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("MetricsBetween: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d metrics, want 3", len(got))
	}
	// Oldest first.
	if got[0].Score != 0.95 || got[2].Score != 0.86 {
		t.Errorf("ordering wrong: %+v", got)
	}

	latest, err := s.LatestMetrics()
	if err != nil {
		t.Fatalf("LatestMetrics: %v", err)
	}
	if latest[key].Score != 0.86 {
		t.Errorf("latest for %s = %v, want 0.86", key, latest[key].Score)
	}

	pairs, err := s.Pairs()
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 2 {
		t.Errorf("Pairs() = %d, want 2", len(pairs))
	}
}

func TestAppendMetricRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendMetric(types.QualityMetric{ModelID: "m1", SpectrumID: "s", Score: 1.5})
	if err == nil {
		t.Fatal("out-of-range score should be rejected")
	}
}

func TestSeriesCapsAndOrders(t *testing.T) {
	s := newTestStore(t)
	key := types.PairKey{ModelID: "m1", SpectrumID: "credit"}
	base := time.Now().Add(-24 * time.Hour)

	for i := 0; i < 10; i++ {
		m := types.QualityMetric{
			ModelID: "m1", SpectrumID: "credit",
			Score: 0.5 + float64(i)*0.01, SampleCount: 50,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}
		if err := s.AppendMetric(m); err != nil {
			t.Fatal(err)
		}
	}

	series, err := s.Series(key, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 4 {
		t.Fatalf("len = %d, want 4", len(series))
	}
	// Most recent 4, oldest first.
	if series[0].Score >= series[3].Score {
		t.Errorf("series not ascending in time: %+v", series)
	}
	if series[3].Score != 0.59 {
		t.Errorf("last point = %v, want 0.59", series[3].Score)
	}
}

func TestPatternLifecycle(t *testing.T) {
	s := newTestStore(t)
	emb := embedding.NewHashEmbedder(64)

	mk := func(desc string) types.Pattern {
		vec, _ := emb.Embed(t.Context(), desc)
		return types.Pattern{
			ID:          uuid.NewString(),
			Signature:   desc,
			Description: desc,
			Embedding:   vec,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}
	}

	p1 := mk("timeout during credit report retrieval")
	p2 := mk("wrong person matched on partial name")
	p3 := mk("credit report request timed out again")

	for _, p := range []types.Pattern{p1, p2, p3} {
		if err := s.SavePattern(p); err != nil {
			t.Fatalf("SavePattern: %v", err)
		}
	}

	if n, _ := s.PatternCount(); n != 3 {
		t.Fatalf("PatternCount = %d, want 3", n)
	}

	found, err := s.FindPatternBySignature(p2.Signature)
	if err != nil {
		t.Fatal(err)
	}
	if found == nil || found.ID != p2.ID {
		t.Fatalf("FindPatternBySignature returned %+v", found)
	}

	if err := s.ReinforcePattern(p1.ID, false, "fb-1"); err != nil {
		t.Fatalf("ReinforcePattern: %v", err)
	}
	got, _ := s.FindPatternBySignature(p1.Signature)
	if got.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", got.FailureCount)
	}
	if diff := cmp.Diff([]string{"fb-1"}, got.SourceIDs); diff != "" {
		t.Errorf("SourceIDs mismatch (-want +got):\n%s", diff)
	}

	// Search: the timeout query should rank the two timeout patterns first.
	query, _ := emb.Embed(t.Context(), "request timeout while fetching credit report")
	results, err := s.SearchPatterns(query, 2, "")
	if err != nil {
		t.Fatalf("SearchPatterns: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.Pattern.ID == p2.ID {
			t.Errorf("unrelated pattern ranked in top 2")
		}
	}
	// Descending similarity.
	if results[0].Similarity < results[1].Similarity {
		t.Errorf("results not sorted by similarity: %v < %v",
			results[0].Similarity, results[1].Similarity)
	}
}

func TestSearchPatternsScopedByContext(t *testing.T) {
	s := newTestStore(t)
	emb := embedding.NewHashEmbedder(64)

	mk := func(desc, ctx string) types.Pattern {
		vec, _ := emb.Embed(t.Context(), desc)
		return types.Pattern{
			ID: uuid.NewString(), Signature: desc + "|" + ctx, Description: desc,
			Context: ctx, Embedding: vec, CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}
	}
	for _, p := range []types.Pattern{
		mk("timeout during retrieval", "edge_cases"),
		mk("timeout during retrieval again", "identity"),
	} {
		if err := s.SavePattern(p); err != nil {
			t.Fatal(err)
		}
	}

	query, _ := emb.Embed(t.Context(), "retrieval timeout")
	scoped, err := s.SearchPatterns(query, 5, "edge_cases")
	if err != nil {
		t.Fatal(err)
	}
	if len(scoped) != 1 {
		t.Fatalf("scoped search returned %d patterns, want 1", len(scoped))
	}
	if scoped[0].Pattern.Context != "edge_cases" {
		t.Errorf("scoped search leaked context %q", scoped[0].Pattern.Context)
	}

	all, err := s.SearchPatterns(query, 5, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("unscoped search returned %d patterns, want 2", len(all))
	}

	got, err := s.FindPatternBySignature(scoped[0].Pattern.Signature)
	if err != nil {
		t.Fatal(err)
	}
	if got.Context != "edge_cases" {
		t.Errorf("context did not round-trip: %q", got.Context)
	}
}

func TestSearchPatternsDeterministic(t *testing.T) {
	s := newTestStore(t)
	emb := embedding.NewHashEmbedder(64)

	for _, desc := range []string{"alpha issue", "beta issue", "gamma issue"} {
		vec, _ := emb.Embed(t.Context(), desc)
		if err := s.SavePattern(types.Pattern{
			ID: uuid.NewString(), Signature: desc, Description: desc,
			Embedding: vec, CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}); err != nil {
			t.Fatal(err)
		}
	}

	query, _ := emb.Embed(t.Context(), "issue report")
	first, err := s.SearchPatterns(query, 3, "")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := s.SearchPatterns(query, 3, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(again) != len(first) {
			t.Fatalf("result count changed between runs")
		}
		for j := range first {
			if first[j].Pattern.ID != again[j].Pattern.ID {
				t.Fatalf("search not deterministic at rank %d", j)
			}
		}
	}
}

func TestCycleAuditTrail(t *testing.T) {
	s := newTestStore(t)

	c := types.OptimizationCycle{
		ID:            uuid.NewString(),
		StartedAt:     time.Now(),
		Phase:         types.PhaseCollecting,
		TriggerReason: "scheduled tick",
	}
	if err := s.InsertCycle(c); err != nil {
		t.Fatalf("InsertCycle: %v", err)
	}

	open, err := s.OpenCycle()
	if err != nil {
		t.Fatal(err)
	}
	if open == nil || open.ID != c.ID {
		t.Fatalf("OpenCycle = %+v, want id %s", open, c.ID)
	}

	c.Phase = types.PhaseAnalyzing
	if err := s.UpdateCycle(c, "2 pairs analyzed"); err != nil {
		t.Fatal(err)
	}
	c.Phase = types.PhaseAborted
	c.Decision = types.DecisionAborted
	c.AbortReason = "no findings"
	c.FinishedAt = time.Now()
	if err := s.UpdateCycle(c, "healthy, nothing to do"); err != nil {
		t.Fatal(err)
	}

	if open, _ := s.OpenCycle(); open != nil {
		t.Errorf("terminal cycle still reported open: %+v", open)
	}

	events, err := s.CycleEvents(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d audit events, want 3", len(events))
	}
	if events[0].Phase != string(types.PhaseCollecting) ||
		events[2].Phase != string(types.PhaseAborted) {
		t.Errorf("audit trail out of order: %+v", events)
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Aborted != 1 || stats.Total != 1 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestOpenCycleSupersedesStaleRows(t *testing.T) {
	s := newTestStore(t)

	older := types.OptimizationCycle{ID: "c-old", StartedAt: time.Now().Add(-time.Hour),
		Phase: types.PhaseExperimenting, TriggerReason: "tick"}
	newer := types.OptimizationCycle{ID: "c-new", StartedAt: time.Now(),
		Phase: types.PhaseCollecting, TriggerReason: "manual"}
	if err := s.InsertCycle(older); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertCycle(newer); err != nil {
		t.Fatal(err)
	}

	open, err := s.OpenCycle()
	if err != nil {
		t.Fatal(err)
	}
	if open.ID != "c-new" {
		t.Errorf("newest should win, got %s", open.ID)
	}

	// The stale row was aborted, so a second call sees one open cycle.
	again, err := s.OpenCycle()
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != "c-new" {
		t.Errorf("OpenCycle = %s, want c-new", again.ID)
	}
	recent, _ := s.RecentCycles(10)
	var aborted int
	for _, c := range recent {
		if c.Phase == types.PhaseAborted {
			aborted++
		}
	}
	if aborted != 1 {
		t.Errorf("stale cycle not aborted, recent=%+v", recent)
	}
}

func TestSnapshotRollbackTarget(t *testing.T) {
	s := newTestStore(t)

	v1, err := s.SaveSnapshot(`{"prompt":"v1"}`, true)
	if err != nil {
		t.Fatal(err)
	}
	v2, err := s.SaveSnapshot(`{"prompt":"v2"}`, false)
	if err != nil {
		t.Fatal(err)
	}
	if v2 <= v1 {
		t.Fatalf("versions not monotonic: %d then %d", v1, v2)
	}

	good, err := s.LastGoodSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if good == nil || good.Version != v1 {
		t.Fatalf("LastGoodSnapshot = %+v, want v%d", good, v1)
	}

	if err := s.MarkSnapshotGood(v2); err != nil {
		t.Fatal(err)
	}
	good, _ = s.LastGoodSnapshot()
	if good.Version != v2 {
		t.Errorf("after MarkSnapshotGood, LastGood = v%d, want v%d", good.Version, v2)
	}

	cur, _ := s.CurrentSnapshot()
	if cur.Version != v2 {
		t.Errorf("CurrentSnapshot = v%d, want v%d", cur.Version, v2)
	}

	if missing, err := s.GetSnapshot(999); err != nil || missing != nil {
		t.Errorf("GetSnapshot(999) = %+v, %v; want nil, nil", missing, err)
	}
}

func TestStrategyEffectiveness(t *testing.T) {
	s := newTestStore(t)

	st := types.Strategy{
		ID: "prompt-tighten", Description: "tighten extraction prompt",
		ContextSig: "timeout credit", Effectiveness: 0.5,
	}
	if err := s.SaveStrategy(st); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateEffectiveness("prompt-tighten", 0.65); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListStrategies()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Effectiveness != 0.65 {
		t.Errorf("ListStrategies = %+v", all)
	}

	if err := s.UpdateEffectiveness("ghost", 0.1); err == nil {
		t.Error("updating unknown strategy should error")
	}
}

func TestExperimentRoundTrip(t *testing.T) {
	s := newTestStore(t)

	e := types.Experiment{
		ID: uuid.NewString(), VariantA: "prompt-v1", VariantB: "prompt-v2",
		Status: types.ExperimentRunning, SamplesA: 10, SamplesB: 12,
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.SaveExperiment(e); err != nil {
		t.Fatal(err)
	}

	running, err := s.RunningExperiments()
	if err != nil {
		t.Fatal(err)
	}
	if len(running) != 1 || running[0].ID != e.ID {
		t.Fatalf("RunningExperiments = %+v", running)
	}

	e.Status = types.ExperimentSignificant
	e.PValue = 0.01
	if err := s.SaveExperiment(e); err != nil {
		t.Fatal(err)
	}
	running, _ = s.RunningExperiments()
	if len(running) != 0 {
		t.Errorf("terminal experiment still listed as running")
	}

	got, err := s.GetExperiment(e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PValue != 0.01 || got.Status != types.ExperimentSignificant {
		t.Errorf("GetExperiment = %+v", got)
	}
}

func TestVectorEncodeParseRoundTrip(t *testing.T) {
	cases := [][]float32{
		nil,
		{},
		{1},
		{0.5, -0.25, 3.75e-3},
	}
	for _, vec := range cases {
		parsed, err := parseVector(encodeVector(vec))
		if err != nil {
			t.Fatalf("parseVector(%v): %v", vec, err)
		}
		if len(parsed) != len(vec) {
			t.Fatalf("len mismatch: %v vs %v", parsed, vec)
		}
		for i := range vec {
			if parsed[i] != vec[i] {
				t.Errorf("round trip changed %v -> %v", vec, parsed)
			}
		}
	}

	if _, err := parseVector("not json"); err == nil {
		t.Error("garbage should fail to parse")
	}
}
