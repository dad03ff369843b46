package main

import (
	"fmt"
	"io"
	"math"
	"strings"

	tuning "autopilot-gain-tuner/closed_loop/gain_tuning"
)

// ReplayResult is the sampled-controller check of the position loop.
type ReplayResult struct {
	RateHz      float64
	OutputLimit float64 // zero when unclamped
	Metrics     tuning.PerformanceMetrics
	Check       tuning.LoopCheck

	Saturated  int
	PeakOutput float64
	Final      tuning.PIDDiagnostics
}

// RunReport is everything the text report prints.
type RunReport struct {
	Mode   string
	Seed   int64
	Search *tuning.SearchState // nil in verify mode
	Eval   tuning.Evaluation
	Replay *ReplayResult
}

const rule = "============================================================"

// WriteReport renders r in the verification sheet layout.
func WriteReport(w io.Writer, r RunReport) error {
	var b strings.Builder

	fmt.Fprintln(&b, rule)
	if r.Search != nil {
		fmt.Fprintln(&b, "GAIN SEARCH COMPLETE")
	} else {
		fmt.Fprintln(&b, "PERFORMANCE VERIFICATION")
	}
	fmt.Fprintln(&b, rule)

	if s := r.Search; s != nil {
		fmt.Fprintf(&b, "Seed %d: %d evaluations (global %d, local %d)\n", r.Seed, s.IterationsUsed, s.GlobalUsed, s.LocalUsed)
		if s.FoundFeasible {
			fmt.Fprintf(&b, "Feasible gains found in %s phase at sample %d\n", s.FeasiblePhase, s.FeasibleAt)
		} else {
			fmt.Fprintf(&b, "No feasible gains found. Best score: %.3f\n", s.BestScore)
		}
		fmt.Fprintln(&b)
	}

	g := r.Eval.Gains
	fmt.Fprintln(&b, "GAINS:")
	fmt.Fprintf(&b, "  X-Position: Kp = %.3f, Ki = %.3f, Kd = %.3f\n", g[tuning.KpX], g[tuning.KiX], g[tuning.KdX])
	fmt.Fprintf(&b, "  Y-Inner:    Kp = %.3f, Ki = 0.000, Kd = 0.000\n", g[tuning.KpPhi])
	fmt.Fprintf(&b, "  Y-Outer:    Kp = %.4f, Ki = 0.000, Kd = 0.000\n\n", g[tuning.KpY])

	if err := r.Eval.Err; err != nil {
		fmt.Fprintf(&b, "Gains could not be evaluated: %v\n", err)
		fmt.Fprintln(&b, rule)
		_, werr := io.WriteString(w, b.String())
		return werr
	}

	writeLoop(&b, "X-POSITION", tuning.PositionLoopSpec, tuning.PositionCommand, r.Eval.MetricsX, r.Eval.CheckX)
	writeLoop(&b, "Y-POSITION", tuning.CascadeLoopSpec, tuning.CascadeCommand, r.Eval.MetricsY, r.Eval.CheckY)

	if rp := r.Replay; rp != nil {
		fmt.Fprintf(&b, "X-POSITION, SAMPLED PID AT %g Hz:\n", rp.RateHz)
		fmt.Fprintf(&b, "  Rise Time:      %.3f s  (continuous %+.3f s)  %s\n",
			rp.Metrics.RiseTime, rp.Metrics.RiseTime-r.Eval.MetricsX.RiseTime, mark(rp.Check.RiseTime))
		fmt.Fprintf(&b, "  Settling Time:  %.3f s  (continuous %+.3f s)  %s\n",
			rp.Metrics.SettlingTime, rp.Metrics.SettlingTime-r.Eval.MetricsX.SettlingTime, mark(rp.Check.SettlingTime))
		fmt.Fprintf(&b, "  Overshoot:      %.2f%%  %s\n", rp.Metrics.OvershootPercent, mark(rp.Check.Overshoot))
		fmt.Fprintf(&b, "  SS Error:       %.3f ft  %s\n", rp.Metrics.SteadyStateError, mark(rp.Check.SteadyStateError))
		if rp.OutputLimit > 0 {
			fmt.Fprintf(&b, "  Actuator:       peak %.3f, limit %g, saturated %d samples\n", rp.PeakOutput, rp.OutputLimit, rp.Saturated)
		} else {
			fmt.Fprintf(&b, "  Actuator:       peak %.3f, unlimited\n", rp.PeakOutput)
		}
		fmt.Fprintf(&b, "  Final Integral: %.4f\n\n", rp.Final.Integral)
	}

	fmt.Fprintln(&b, rule)
	if r.Eval.Passed {
		fmt.Fprintln(&b, "OVERALL: ALL SPECIFICATIONS MET ✓")
	} else {
		fmt.Fprintln(&b, "OVERALL: SOME SPECIFICATIONS FAILED ✗")
		for _, rec := range Recommendations(r.Eval) {
			fmt.Fprintf(&b, "  %s\n", rec)
		}
	}
	fmt.Fprintln(&b, rule)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeLoop(b *strings.Builder, title string, spec tuning.LoopSpec, command float64, m tuning.PerformanceMetrics, c tuning.LoopCheck) {
	fmt.Fprintf(b, "%s PERFORMANCE (command %g ft):\n", title, command)
	fmt.Fprintf(b, "  Rise Time:      %.3f s   [Spec: %s]  %s\n", m.RiseTime, describeRange(spec.RiseTime, "s"), mark(c.RiseTime))
	fmt.Fprintf(b, "  Settling Time:  %.3f s   [Spec: %s]  %s\n", m.SettlingTime, describeRange(spec.SettlingTime, "s"), mark(c.SettlingTime))
	fmt.Fprintf(b, "  Overshoot:      %.2f%%   [Spec: %s]  %s\n", m.OvershootPercent, describeRange(spec.Overshoot, "%"), mark(c.Overshoot))
	fmt.Fprintf(b, "  Peak:           %.3f ft\n", m.PeakValue)
	fmt.Fprintf(b, "  Steady State:   %.3f ft\n", m.SteadyStateValue)
	fmt.Fprintf(b, "  SS Error:       %.6f ft  [Spec: %s]  %s\n", m.SteadyStateError, describeRange(spec.SteadyStateError, "ft"), mark(c.SteadyStateError))
	fmt.Fprintf(b, "  %s: %s\n\n", title, verdict(c.Passed()))
}

// describeRange prints "0.8 - 1.1 s" or "< 20 %".
func describeRange(r tuning.SpecRange, unit string) string {
	if math.IsInf(r.Min, -1) {
		return fmt.Sprintf("< %g %s", r.Max, unit)
	}
	return fmt.Sprintf("%g - %g %s", r.Min, r.Max, unit)
}

// Recommendations names each loop that failed and the metrics it missed.
func Recommendations(ev tuning.Evaluation) []string {
	var out []string
	for _, l := range []struct {
		name  string
		check tuning.LoopCheck
	}{
		{"X-Position", ev.CheckX},
		{"Y-Position", ev.CheckY},
	} {
		if l.check.Passed() {
			continue
		}
		out = append(out, fmt.Sprintf("%s needs adjustment (%s)", l.name, strings.Join(failedMetrics(l.check), ", ")))
	}
	return out
}

func failedMetrics(c tuning.LoopCheck) []string {
	var out []string
	if !c.RiseTime {
		out = append(out, "rise time")
	}
	if !c.SettlingTime {
		out = append(out, "settling time")
	}
	if !c.Overshoot {
		out = append(out, "overshoot")
	}
	if !c.SteadyStateError {
		out = append(out, "steady-state error")
	}
	return out
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}

func verdict(ok bool) string {
	if ok {
		return "PASS ✓"
	}
	return "FAIL ✗"
}
