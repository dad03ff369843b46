package tuning

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/multierr"
)

// Reference search settings.
const (
	DefaultSeed          = 123
	DefaultGlobalBudget  = 500
	DefaultLocalBudget   = 200
	DefaultProgressEvery = 100

	// Local perturbations are uniform in ±half of this fraction of the box width.
	perturbFraction = 0.1
)

// Bounds is the per-dimension search box.
type Bounds struct {
	Lower GainVector
	Upper GainVector
}

// DefaultBounds returns the reference search box.
func DefaultBounds() Bounds {
	return Bounds{
		Lower: GainVector{1.0, 0.0, 0.1, -1.0, -0.0002},
		Upper: GainVector{2.5, 0.1, 0.25, -0.5, -0.00005},
	}
}

// Width returns upper-lower in dimension i.
func (b Bounds) Width(i int) float64 { return b.Upper[i] - b.Lower[i] }

// Contains reports whether every component of g lies inside the box.
func (b Bounds) Contains(g GainVector) bool {
	for i, v := range g {
		if v < b.Lower[i] || v > b.Upper[i] {
			return false
		}
	}
	return true
}

// Clip projects g onto the box.
func (b Bounds) Clip(g GainVector) GainVector {
	for i := range g {
		g[i] = clampFloat(g[i], b.Lower[i], b.Upper[i])
	}
	return g
}

// Validate reports every dimension with lower > upper or a non-finite bound.
func (b Bounds) Validate() error {
	var err error
	for i := range b.Lower {
		lo, hi := b.Lower[i], b.Upper[i]
		switch {
		case math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0):
			err = multierr.Append(err, fmt.Errorf("%s: bounds [%v, %v] must be finite", GainNames[i], lo, hi))
		case lo > hi:
			err = multierr.Append(err, fmt.Errorf("%s: lower %g > upper %g", GainNames[i], lo, hi))
		}
	}
	return err
}

// Budgets caps the iterations of each search phase.
type Budgets struct {
	Global int
	Local  int
}

// DefaultBudgets returns the reference 500/200 budgets.
func DefaultBudgets() Budgets {
	return Budgets{Global: DefaultGlobalBudget, Local: DefaultLocalBudget}
}

// Validate rejects non-positive budgets.
func (b Budgets) Validate() error {
	var err error
	if b.Global <= 0 {
		err = multierr.Append(err, fmt.Errorf("global budget must be positive, got %d", b.Global))
	}
	if b.Local <= 0 {
		err = multierr.Append(err, fmt.Errorf("local budget must be positive, got %d", b.Local))
	}
	return err
}

// ValidateConfig checks bounds and budgets together and wraps every
// problem in ErrConfiguration.
func ValidateConfig(bounds Bounds, budgets Budgets) error {
	err := multierr.Combine(bounds.Validate(), budgets.Validate())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}

// Source supplies uniform draws in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// NewSource returns the seeded pseudorandom source used by Search.
func NewSource(seed int64) Source {
	return rand.New(rand.NewSource(seed))
}

// Phase is the search state machine position.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseGlobal
	PhaseLocal
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseGlobal:
		return "global"
	case PhaseLocal:
		return "local"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// SearchState is the engine's bookkeeping. It is finalized when Run returns.
type SearchState struct {
	BestGains      GainVector
	BestScore      float64
	FoundFeasible  bool
	IterationsUsed int

	Phase         Phase
	GlobalUsed    int
	LocalUsed     int
	FeasiblePhase Phase // phase of the feasible draw, when FoundFeasible
	FeasibleAt    int   // 1-based draw index within FeasiblePhase

	// Best is the evaluation at BestGains; MetricsX/MetricsY mirror it.
	Best     Evaluation
	MetricsX PerformanceMetrics
	MetricsY PerformanceMetrics
}

// EventKind classifies observer notifications.
type EventKind int

const (
	EventProgress EventKind = iota
	EventPhase
	EventFeasible
	EventDone
)

// Event is delivered to an Observer as the search advances.
type Event struct {
	Kind      EventKind
	Phase     Phase
	Iteration int // 1-based within Phase
	Budget    int
	BestScore float64
	BestGains GainVector
}

// Observer receives search events synchronously on the search goroutine.
type Observer func(Event)

// Engine runs global random sampling followed by local refinement.
type Engine struct {
	eval          *Evaluator
	src           Source
	bounds        Bounds
	budgets       Budgets
	initial       GainVector
	observer      Observer
	workers       int
	progressEvery int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEvaluator sets the evaluator used as objective.
func WithEvaluator(ev *Evaluator) EngineOption {
	return func(e *Engine) { e.eval = ev }
}

// WithObserver registers a progress callback.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithWorkers evaluates global draws in parallel chunks. Draws are still
// taken sequentially and consumed in order, so results match workers=1.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) { e.workers = n }
}

// WithProgressEvery sets the global-phase progress interval; 0 disables it.
func WithProgressEvery(n int) EngineOption {
	return func(e *Engine) { e.progressEvery = n }
}

// WithInitialGains sets BestGains before the first draw.
func WithInitialGains(g GainVector) EngineOption {
	return func(e *Engine) { e.initial = g }
}

// DefaultInitialGains is the starting guess reported if nothing improves on it.
var DefaultInitialGains = GainVector{1.5, 0.0, 0.15, -0.982, -0.0001}

// NewEngine validates the configuration before any iteration runs.
func NewEngine(src Source, bounds Bounds, budgets Budgets, opts ...EngineOption) (*Engine, error) {
	if err := ValidateConfig(bounds, budgets); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: random source is required", ErrConfiguration)
	}
	e := &Engine{
		src:           src,
		bounds:        bounds,
		budgets:       budgets,
		initial:       DefaultInitialGains,
		workers:       1,
		progressEvery: DefaultProgressEvery,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.eval == nil {
		e.eval = NewEvaluator()
	}
	if e.workers < 1 {
		e.workers = 1
	}
	return e, nil
}

// Search runs the full two-phase search from a seeded source.
func Search(ctx context.Context, seed int64, bounds Bounds, budgets Budgets, opts ...EngineOption) (SearchState, error) {
	e, err := NewEngine(NewSource(seed), bounds, budgets, opts...)
	if err != nil {
		return SearchState{}, err
	}
	return e.Run(ctx)
}

// Draw samples a gain vector uniformly inside the box, one source draw per
// dimension in component order.
func (e *Engine) Draw() GainVector {
	var g GainVector
	for i := range g {
		g[i] = e.bounds.Lower[i] + e.src.Float64()*e.bounds.Width(i)
	}
	return g
}

// Perturb adds uniform noise of ±5% of each box width to best and clips
// the result back into the box.
func (e *Engine) Perturb(best GainVector) GainVector {
	var g GainVector
	for i := range g {
		g[i] = best[i] + (e.src.Float64()-0.5)*perturbFraction*e.bounds.Width(i)
	}
	return e.bounds.Clip(g)
}

// Run executes the search. Budgets are the only stopping rule besides the
// first feasible draw; a cancelled ctx returns the state reached so far
// together with ctx.Err().
func (e *Engine) Run(ctx context.Context) (SearchState, error) {
	st := SearchState{
		BestGains: e.initial,
		BestScore: math.Inf(1),
		Phase:     PhaseInit,
	}

	st.Phase = PhaseGlobal
	e.notify(Event{Kind: EventPhase, Phase: PhaseGlobal, Budget: e.budgets.Global, BestScore: st.BestScore})
	if err := e.runGlobal(ctx, &st); err != nil {
		return st, err
	}

	if !st.FoundFeasible {
		st.Phase = PhaseLocal
		e.notify(Event{Kind: EventPhase, Phase: PhaseLocal, Budget: e.budgets.Local,
			BestScore: st.BestScore, BestGains: st.BestGains})
		if err := e.runLocal(ctx, &st); err != nil {
			return st, err
		}
	}

	st.Phase = PhaseDone
	st.MetricsX, st.MetricsY = st.Best.MetricsX, st.Best.MetricsY
	e.notify(Event{Kind: EventDone, Phase: PhaseDone, Iteration: st.IterationsUsed,
		BestScore: st.BestScore, BestGains: st.BestGains})
	return st, nil
}

func (e *Engine) runGlobal(ctx context.Context, st *SearchState) error {
	if e.workers > 1 {
		return e.runGlobalParallel(ctx, st)
	}
	for i := 1; i <= e.budgets.Global; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := e.eval.Evaluate(e.Draw())
		if err != nil {
			return err
		}
		if e.consume(st, ev, i) {
			return nil
		}
	}
	return nil
}

// runGlobalParallel draws a chunk of vectors in sequence, evaluates them
// concurrently and consumes the results in draw order.
func (e *Engine) runGlobalParallel(ctx context.Context, st *SearchState) error {
	for start := 0; start < e.budgets.Global; start += e.workers {
		n := e.workers
		if rest := e.budgets.Global - start; rest < n {
			n = rest
		}
		draws := make([]GainVector, n)
		for j := range draws {
			draws[j] = e.Draw()
		}
		evals, err := e.eval.EvaluateBatch(ctx, draws, e.workers)
		if err != nil {
			return err
		}
		for j, ev := range evals {
			if e.consume(st, ev, start+j+1) {
				return nil
			}
		}
	}
	return nil
}

func (e *Engine) runLocal(ctx context.Context, st *SearchState) error {
	for i := 1; i <= e.budgets.Local; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := e.eval.Evaluate(e.Perturb(st.BestGains))
		if err != nil {
			return err
		}
		if e.consume(st, ev, i) {
			return nil
		}
	}
	return nil
}

// consume folds one evaluation into st and reports whether the search is over.
// A passing draw always becomes the best, even when another draw scored equal.
func (e *Engine) consume(st *SearchState, ev Evaluation, iter int) bool {
	st.IterationsUsed++
	if st.Phase == PhaseGlobal {
		st.GlobalUsed++
	} else {
		st.LocalUsed++
	}

	if ev.Passed || ev.Score < st.BestScore {
		st.BestScore = ev.Score
		st.BestGains = ev.Gains
		st.Best = ev
	}
	if ev.Passed {
		st.FoundFeasible = true
		st.FeasiblePhase = st.Phase
		st.FeasibleAt = iter
		e.notify(Event{Kind: EventFeasible, Phase: st.Phase, Iteration: iter,
			BestScore: st.BestScore, BestGains: st.BestGains})
		return true
	}

	if st.Phase == PhaseGlobal && e.progressEvery > 0 && iter%e.progressEvery == 0 {
		e.notify(Event{Kind: EventProgress, Phase: st.Phase, Iteration: iter, Budget: e.budgets.Global,
			BestScore: st.BestScore, BestGains: st.BestGains})
	}
	return false
}

func (e *Engine) notify(ev Event) {
	if e.observer != nil {
		e.observer(ev)
	}
}
