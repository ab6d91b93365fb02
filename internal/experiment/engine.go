// Package experiment runs paired variant trials and decides deployments.
// An experiment concludes significant only when both arms have enough
// samples, the two-proportion z-test clears the significance level, and the
// absolute effect size clears a practical floor. The deploy verdict is a
// pure function of the terminal state.
package experiment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"vcycle/internal/logging"
	"vcycle/internal/types"
)

// Sink persists experiment state transitions.
type Sink interface {
	SaveExperiment(exp types.Experiment) error
}

// Config bounds experiment conclusions.
type Config struct {
	MinSamplesPerArm  int           // default 50
	SignificanceLevel float64       // default 0.05
	EffectSizeFloor   float64       // default 0.02, absolute success-rate difference
	MaxDuration       time.Duration // default 24h, running past it expires the trial
}

// Engine drives the experiment state machine.
type Engine struct {
	sink Sink
	cfg  Config
	now  func() time.Time
}

// New creates an Engine. Zero config fields get the standard defaults.
func New(sink Sink, cfg Config) *Engine {
	if cfg.MinSamplesPerArm <= 0 {
		cfg.MinSamplesPerArm = 50
	}
	if cfg.SignificanceLevel <= 0 {
		cfg.SignificanceLevel = 0.05
	}
	if cfg.EffectSizeFloor <= 0 {
		cfg.EffectSizeFloor = 0.02
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 24 * time.Hour
	}
	return &Engine{sink: sink, cfg: cfg, now: time.Now}
}

// Start opens a running experiment comparing variantA (control) against
// variantB (candidate) on the given models.
func (e *Engine) Start(variantA, variantB string, targetModels []string) (*types.Experiment, error) {
	exp := &types.Experiment{
		ID:           uuid.NewString(),
		VariantA:     variantA,
		VariantB:     variantB,
		TargetModels: targetModels,
		Status:       types.ExperimentRunning,
		StartedAt:    e.now(),
	}
	if err := e.sink.SaveExperiment(*exp); err != nil {
		return nil, fmt.Errorf("failed to save experiment: %w", err)
	}
	logging.Experiment("Started experiment %s: %q vs %q on %d models",
		exp.ID, variantA, variantB, len(targetModels))
	return exp, nil
}

// Record adds one observed outcome to an arm. No-op on concluded trials.
func (e *Engine) Record(exp *types.Experiment, variantB, success bool) error {
	if exp.Status.Terminal() {
		return fmt.Errorf("experiment %s already concluded as %s", exp.ID, exp.Status)
	}
	if variantB {
		exp.SamplesB++
		if success {
			exp.SuccessesB++
		}
	} else {
		exp.SamplesA++
		if success {
			exp.SuccessesA++
		}
	}
	return nil
}

// Evaluate advances a running experiment if a terminal condition is met and
// persists any transition. It returns the (possibly unchanged) status.
//
// Significance needs MinSamplesPerArm in both arms, p below the
// significance level, and an absolute effect at or above the floor. Enough
// samples without significance is inconclusive. Running past MaxDuration
// without concluding expires the trial.
func (e *Engine) Evaluate(exp *types.Experiment) (types.ExperimentStatus, error) {
	if exp.Status.Terminal() {
		return exp.Status, nil
	}

	rateA := rate(exp.SuccessesA, exp.SamplesA)
	rateB := rate(exp.SuccessesB, exp.SamplesB)
	exp.EffectSize = rateB - rateA

	enough := exp.SamplesA >= e.cfg.MinSamplesPerArm && exp.SamplesB >= e.cfg.MinSamplesPerArm
	if enough {
		exp.PValue = twoProportionPValue(exp.SuccessesA, exp.SamplesA, exp.SuccessesB, exp.SamplesB)
		significant := exp.PValue < e.cfg.SignificanceLevel && abs(exp.EffectSize) >= e.cfg.EffectSizeFloor
		if significant {
			return e.conclude(exp, types.ExperimentSignificant)
		}
		return e.conclude(exp, types.ExperimentInconclusive)
	}

	if e.now().Sub(exp.StartedAt) > e.cfg.MaxDuration {
		return e.conclude(exp, types.ExperimentExpired)
	}

	return types.ExperimentRunning, nil
}

func (e *Engine) conclude(exp *types.Experiment, status types.ExperimentStatus) (types.ExperimentStatus, error) {
	exp.Status = status
	exp.ConcludedAt = e.now()
	if err := e.sink.SaveExperiment(*exp); err != nil {
		return status, fmt.Errorf("failed to save experiment conclusion: %w", err)
	}
	logging.Experiment("Experiment %s concluded %s: effect=%.4f p=%.4f (A %d/%d, B %d/%d)",
		exp.ID, status, exp.EffectSize, exp.PValue,
		exp.SuccessesA, exp.SamplesA, exp.SuccessesB, exp.SamplesB)
	return status, nil
}

// Verdict maps a terminal experiment to a deploy decision. Pure: it reads
// only the experiment value. Significant with the candidate ahead deploys;
// significant with the control ahead, or an inconclusive trial, holds;
// an expired trial rejects. A still-running experiment holds.
func Verdict(exp *types.Experiment) types.Verdict {
	switch exp.Status {
	case types.ExperimentSignificant:
		if exp.EffectSize > 0 {
			return types.VerdictDeploy
		}
		return types.VerdictHold
	case types.ExperimentExpired:
		return types.VerdictReject
	default:
		return types.VerdictHold
	}
}

func rate(successes, samples int) float64 {
	if samples == 0 {
		return 0
	}
	return float64(successes) / float64(samples)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
