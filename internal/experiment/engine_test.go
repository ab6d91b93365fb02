package experiment

import (
	"math/rand"
	"testing"
	"time"

	"vcycle/internal/types"
)

type memSink struct {
	saves []types.Experiment
}

func (m *memSink) SaveExperiment(exp types.Experiment) error {
	m.saves = append(m.saves, exp)
	return nil
}

func fill(exp *types.Experiment, e *Engine, succA, nA, succB, nB int) {
	for i := 0; i < nA; i++ {
		e.Record(exp, false, i < succA)
	}
	for i := 0; i < nB; i++ {
		e.Record(exp, true, i < succB)
	}
}

func TestClearWinnerConcludesSignificant(t *testing.T) {
	sink := &memSink{}
	e := New(sink, Config{MinSamplesPerArm: 50, SignificanceLevel: 0.05, EffectSizeFloor: 0.02})

	exp, err := e.Start("prompt-v1", "prompt-v2", []string{"m1"})
	if err != nil {
		t.Fatal(err)
	}
	if exp.Status != types.ExperimentRunning {
		t.Fatalf("fresh experiment status = %s", exp.Status)
	}

	// B converts 90/100 vs A 60/100: decisive.
	fill(exp, e, 60, 100, 90, 100)
	status, err := e.Evaluate(exp)
	if err != nil {
		t.Fatal(err)
	}
	if status != types.ExperimentSignificant {
		t.Fatalf("status = %s, want significant (p=%v effect=%v)", status, exp.PValue, exp.EffectSize)
	}
	if exp.PValue >= 0.05 {
		t.Errorf("p-value = %v, want < 0.05", exp.PValue)
	}
	if exp.EffectSize < 0.25 {
		t.Errorf("effect = %v, want ~0.30", exp.EffectSize)
	}
	if Verdict(exp) != types.VerdictDeploy {
		t.Errorf("verdict = %s, want deploy", Verdict(exp))
	}
	if len(sink.saves) != 2 {
		t.Errorf("sink saw %d saves, want start + conclusion", len(sink.saves))
	}
}

func TestNoDifferenceConcludesInconclusive(t *testing.T) {
	e := New(&memSink{}, Config{})
	exp, _ := e.Start("a", "b", nil)

	fill(exp, e, 70, 100, 71, 100)
	status, err := e.Evaluate(exp)
	if err != nil {
		t.Fatal(err)
	}
	if status != types.ExperimentInconclusive {
		t.Fatalf("status = %s, want inconclusive", status)
	}
	if Verdict(exp) != types.VerdictHold {
		t.Errorf("verdict = %s, want hold", Verdict(exp))
	}
}

func TestEffectFloorBlocksTrivialWins(t *testing.T) {
	// Huge arms make a 1-point difference statistically significant, but
	// the practical floor must still hold it back.
	e := New(&memSink{}, Config{MinSamplesPerArm: 50, SignificanceLevel: 0.05, EffectSizeFloor: 0.02})
	exp, _ := e.Start("a", "b", nil)

	exp.SamplesA, exp.SuccessesA = 50000, 35000 // 70.0%
	exp.SamplesB, exp.SuccessesB = 50000, 35500 // 71.0%
	status, err := e.Evaluate(exp)
	if err != nil {
		t.Fatal(err)
	}
	if exp.PValue >= 0.05 {
		t.Fatalf("setup broken: p=%v should be significant on its own", exp.PValue)
	}
	if status != types.ExperimentInconclusive {
		t.Errorf("status = %s, want inconclusive under the effect floor", status)
	}
}

func TestUnderSampledStaysRunningThenExpires(t *testing.T) {
	e := New(&memSink{}, Config{MaxDuration: time.Hour})
	exp, _ := e.Start("a", "b", nil)

	fill(exp, e, 10, 20, 18, 20)
	status, err := e.Evaluate(exp)
	if err != nil {
		t.Fatal(err)
	}
	if status != types.ExperimentRunning {
		t.Fatalf("under-sampled trial concluded early as %s", status)
	}

	exp.StartedAt = exp.StartedAt.Add(-2 * time.Hour)
	status, err = e.Evaluate(exp)
	if err != nil {
		t.Fatal(err)
	}
	if status != types.ExperimentExpired {
		t.Fatalf("status = %s, want expired past max duration", status)
	}
	if Verdict(exp) != types.VerdictReject {
		t.Errorf("verdict = %s, want reject", Verdict(exp))
	}
}

func TestRecordAfterConclusionRejected(t *testing.T) {
	e := New(&memSink{}, Config{})
	exp, _ := e.Start("a", "b", nil)
	fill(exp, e, 60, 100, 90, 100)
	if _, err := e.Evaluate(exp); err != nil {
		t.Fatal(err)
	}
	if err := e.Record(exp, true, true); err == nil {
		t.Error("recording into a concluded experiment must fail")
	}
	samples := exp.SamplesB
	e.Record(exp, true, true)
	if exp.SamplesB != samples {
		t.Error("concluded experiment was mutated")
	}
}

func TestInferiorVariantNeverDeploys(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		e := New(&memSink{}, Config{MinSamplesPerArm: 50})
		exp, _ := e.Start("a", "b", nil)

		nA := 50 + rng.Intn(200)
		nB := 50 + rng.Intn(200)
		succA := rng.Intn(nA + 1)
		succB := rng.Intn(nB + 1)
		exp.SamplesA, exp.SuccessesA = nA, succA
		exp.SamplesB, exp.SuccessesB = nB, succB

		if _, err := e.Evaluate(exp); err != nil {
			t.Fatal(err)
		}
		rateA := float64(succA) / float64(nA)
		rateB := float64(succB) / float64(nB)
		if Verdict(exp) == types.VerdictDeploy && rateB <= rateA {
			t.Fatalf("deployed an inferior variant: A %d/%d vs B %d/%d (status %s, p=%v)",
				succA, nA, succB, nB, exp.Status, exp.PValue)
		}
	}
}

func TestPValueDegenerateArms(t *testing.T) {
	if p := twoProportionPValue(100, 100, 100, 100); p != 1.0 {
		t.Errorf("all-success arms: p = %v, want 1.0", p)
	}
	if p := twoProportionPValue(0, 100, 0, 100); p != 1.0 {
		t.Errorf("all-failure arms: p = %v, want 1.0", p)
	}
	if p := twoProportionPValue(0, 0, 5, 10); p != 1.0 {
		t.Errorf("empty arm: p = %v, want 1.0", p)
	}
	// Symmetric in arm order.
	p1 := twoProportionPValue(60, 100, 90, 100)
	p2 := twoProportionPValue(90, 100, 60, 100)
	if p1 != p2 {
		t.Errorf("p-value not symmetric: %v vs %v", p1, p2)
	}
}
