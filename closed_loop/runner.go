package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/theckman/yacspin"

	tuning "autopilot-gain-tuner/closed_loop/gain_tuning"
	"autopilot-gain-tuner/utils"
)

// Run modes.
const (
	ModeSearch = "search"
	ModeVerify = "verify"
)

// DefaultVerifyGains is the gain set checked by verify mode when no -gains
// override is given.
var DefaultVerifyGains = tuning.GainVector{2.153, 0.096, 0.133, -0.981, -0.0001}

type RunnerConfig struct {
	Mode    string
	Gains   *tuning.GainVector // verify mode only
	Tuning  TuningConfig
	Spinner bool
	Out     io.Writer // report destination, stdout when nil
}

// publisher is satisfied by *GainPublisher.
type publisher interface {
	Publish(ctx context.Context, g tuning.GainVector) error
	Close()
}

type Runner struct {
	cfg  RunnerConfig
	log  *utils.Logger
	eval *tuning.Evaluator
	pub  publisher // nil unless can.enabled
}

func NewRunner(ctx context.Context, cfg RunnerConfig, log *utils.Logger) (*Runner, error) {
	if cfg.Mode != ModeSearch && cfg.Mode != ModeVerify {
		return nil, fmt.Errorf("%w: unknown mode %q (want %s or %s)", tuning.ErrConfiguration, cfg.Mode, ModeSearch, ModeVerify)
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, err
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}

	r := &Runner{
		cfg:  cfg,
		log:  log,
		eval: tuning.NewEvaluator(tuning.WithHorizon(cfg.Tuning.Horizon.DurationS, cfg.Tuning.Horizon.Samples)),
	}

	if cfg.Tuning.CAN.Enabled {
		pub, err := NewGainPublisher(ctx, cfg.Tuning.CAN, log)
		if err != nil {
			return nil, err
		}
		r.pub = pub
		log.Info("Gain publishing enabled: iface=%s frames=%s,%s ack=%q",
			cfg.Tuning.CAN.Interface, cfg.Tuning.CAN.FrameX, cfg.Tuning.CAN.FrameY, cfg.Tuning.CAN.AckFrame)
	}
	return r, nil
}

func (r *Runner) Close() {
	if r.pub != nil {
		r.pub.Close()
	}
}

func (r *Runner) Run(ctx context.Context) error {
	for _, d := range tuning.Discrepancies() {
		r.log.Warn("%s %s: passes below %g but is scored against %g",
			d.Loop, d.Metric, d.PassBound, d.ScoreBound)
	}

	report := RunReport{Mode: r.cfg.Mode, Seed: r.cfg.Tuning.Seed}
	var gains tuning.GainVector

	switch r.cfg.Mode {
	case ModeSearch:
		st, err := r.search(ctx)
		if err != nil {
			return err
		}
		report.Search = &st
		gains = st.BestGains
	case ModeVerify:
		gains = DefaultVerifyGains
		if r.cfg.Gains != nil {
			gains = *r.cfg.Gains
		}
		r.log.Info("Verifying gains %s", gains)
	}

	// Re-run the winner keeping its responses for the report and plot.
	full := tuning.NewEvaluator(
		tuning.WithHorizon(r.cfg.Tuning.Horizon.DurationS, r.cfg.Tuning.Horizon.Samples),
		tuning.WithResponses(true),
	)
	ev, err := full.Evaluate(gains)
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", gains, err)
	}
	report.Eval = ev
	if ev.Err != nil {
		r.log.Error("Gains %s could not be evaluated: %v", gains, ev.Err)
	}

	var replay tuning.StepResponse
	if ev.Err == nil {
		res, resp, err := r.replay(gains)
		if err != nil {
			r.log.Warn("Sampled PID replay failed: %v", err)
		} else {
			report.Replay = &res
			replay = resp
		}
	}

	if err := WriteReport(r.cfg.Out, report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if path := r.cfg.Tuning.Report.PlotPath; path != "" && ev.Err == nil {
		if err := SaveStepPlot(path, ev, replay); err != nil {
			r.log.Error("Plot failed: %v", err)
		} else {
			r.log.Info("Step response plot written to %s", path)
		}
	}

	if r.pub != nil {
		if !ev.Passed {
			r.log.Warn("Publishing gains that do not meet every specification")
		}
		if err := r.pub.Publish(ctx, gains); err != nil {
			r.log.Critical("Publish failed: %v", err)
			return err
		}
	}
	return nil
}

func (r *Runner) search(ctx context.Context) (tuning.SearchState, error) {
	tc := r.cfg.Tuning
	r.log.Info("Starting search: seed=%d budgets=%d/%d workers=%d horizon=%gs/%d",
		tc.Seed, tc.Budgets.Global, tc.Budgets.Local, tc.Workers, tc.Horizon.DurationS, tc.Horizon.Samples)

	spin := r.startSpinner()
	start := time.Now()

	observer := func(e tuning.Event) {
		switch e.Kind {
		case tuning.EventPhase:
			r.log.Info("Phase %s: budget=%d best=%.4g", e.Phase, e.Budget, e.BestScore)
		case tuning.EventProgress:
			r.log.Debug("%s %d/%d: best score %.4g at %s", e.Phase, e.Iteration, e.Budget, e.BestScore, e.BestGains)
			if spin != nil {
				spin.Message(fmt.Sprintf("%s %d/%d best %.4g", e.Phase, e.Iteration, e.Budget, e.BestScore))
			}
		case tuning.EventFeasible:
			r.log.Info("Feasible gains at %s sample %d: %s", e.Phase, e.Iteration, e.BestGains)
		case tuning.EventDone:
			r.log.Info("Search done after %d evaluations in %v: best score %.4g",
				e.Iteration, time.Since(start).Round(time.Millisecond), e.BestScore)
		}
	}

	st, err := tuning.Search(ctx, tc.Seed, tc.SearchBounds(), tc.SearchBudgets(),
		tuning.WithEvaluator(r.eval),
		tuning.WithObserver(observer),
		tuning.WithWorkers(tc.Workers),
	)
	if spin != nil {
		if err == nil && st.FoundFeasible {
			spin.StopMessage("feasible gains found")
			_ = spin.Stop()
		} else {
			spin.StopFailMessage("no feasible gains")
			_ = spin.StopFail()
		}
	}
	if err != nil {
		r.log.Warn("Search interrupted after %d evaluations: %v", st.IterationsUsed, err)
		return st, err
	}
	return st, nil
}

// startSpinner returns nil when the spinner is disabled or cannot start.
func (r *Runner) startSpinner() *yacspin.Spinner {
	if !r.cfg.Spinner {
		return nil
	}
	spin, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		Writer:            os.Stderr,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " searching ",
		StopCharacter:     "✓",
		StopFailCharacter: "✗",
	})
	if err != nil {
		r.log.Debug("Spinner disabled: %v", err)
		return nil
	}
	if err := spin.Start(); err != nil {
		r.log.Debug("Spinner disabled: %v", err)
		return nil
	}
	return spin
}

// replay runs the position gains through the sampled PID and checks the result.
func (r *Runner) replay(g tuning.GainVector) (ReplayResult, tuning.StepResponse, error) {
	rc := r.cfg.Tuning.Replay
	rp, err := tuning.ReplayPositionLoop(g, tuning.ReplayOptions{
		RateHz:        rc.RateHz,
		Duration:      r.cfg.Tuning.Horizon.DurationS,
		Command:       tuning.PositionCommand,
		OutputLimit:   rc.OutputLimit,
		IntegralLimit: rc.IntegralLimit,
	})
	if err != nil {
		return ReplayResult{}, tuning.StepResponse{}, err
	}
	m := tuning.ExtractMetrics(rp.Response, tuning.PositionCommand)
	res := ReplayResult{
		RateHz:      rc.RateHz,
		OutputLimit: rc.OutputLimit,
		Metrics:     m,
		Check:       tuning.PositionLoopSpec.Check(m),
		Saturated:   rp.SaturatedSamples,
		PeakOutput:  rp.PeakOutput,
		Final:       rp.Final,
	}
	r.log.Debug("Replay at %g Hz: rise=%.3fs settling=%.3fs overshoot=%.2f%% peak output=%.3f",
		rc.RateHz, m.RiseTime, m.SettlingTime, m.OvershootPercent, rp.PeakOutput)
	if rp.SaturatedSamples > 0 {
		r.log.Warn("Sampled PID saturated on %d of %d samples at limit %g",
			rp.SaturatedSamples, rp.Response.Len(), rc.OutputLimit)
	}
	return res, rp.Response, nil
}
