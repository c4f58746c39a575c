package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/rxvault/internal/dispense"
	"github.com/roach88/rxvault/internal/engine"
	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/pharmacy"
	"github.com/roach88/rxvault/internal/store"
	"github.com/roach88/rxvault/internal/testutil"
)

// DefaultToday is the reference date of a scenario that names none.
const DefaultToday = "2025-07-25"

// Harness runs one scenario against a fresh in-memory store.
type Harness struct {
	store   *store.Store
	service *pharmacy.Service
	seq     *engine.Clock
	logger  *slog.Logger
}

// Run executes a scenario and returns its trace and verdict.
//
// Each run gets its own ":memory:" database, a fixed id generator and a
// wall clock pinned to the scenario's date, so two runs of the same
// scenario produce identical traces. An error is returned only when the
// harness itself cannot run; scenario failures are reported in Result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		result.AddError(err.Error())
		return result, nil
	}

	for i, step := range scenario.Flow {
		h.executeStep(ctx, i, step, result)
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, &AssertionContext{Store: h.store, Ctx: ctx}) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	today := scenario.Today
	if today == "" {
		today = DefaultToday
	}
	day, err := model.ParseDate(today)
	if err != nil {
		return nil, fmt.Errorf("today: %w", err)
	}
	rule, err := dispense.ParseQuantityRule(scenario.QuantityRule)
	if err != nil {
		return nil, fmt.Errorf("quantity_rule: %w", err)
	}

	start := time.Date(day.Year, day.Month, day.Day, 9, 0, 0, 0, time.UTC)
	clock := testutil.NewDeterministicClock(start, time.Second)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(":memory:", store.WithClock(clock.Now), store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	svc := pharmacy.New(st,
		pharmacy.WithIDGenerator(model.NewFixedGenerator()),
		pharmacy.WithClock(clock.Current),
		pharmacy.WithQuantityRule(rule),
		pharmacy.WithLogger(logger),
	)
	return &Harness{store: st, service: svc, seq: engine.NewClock(), logger: logger}, nil
}

// executeSetup runs setup steps untraced. Any failure aborts the run.
func (h *Harness) executeSetup(ctx context.Context, steps []ActionStep) error {
	for i, step := range steps {
		fn := actions[step.Action]
		if _, err := fn(ctx, h.service, normalizeMap(step.Args)); err != nil {
			return fmt.Errorf("setup[%d] %s: %w", i, step.Action, err)
		}
	}
	return nil
}

// executeStep invokes one flow step, records the invocation and its
// completion, and checks the expect clause.
func (h *Harness) executeStep(ctx context.Context, index int, step FlowStep, result *Result) {
	args := normalizeMap(step.Args)
	result.addInvocation(step.Invoke, args, h.seq.Next())

	fn := actions[step.Invoke]
	out, err := fn(ctx, h.service, args)
	outcome := outcomeCase(err)
	if outcome == CaseError {
		h.logger.Debug("flow step failed", "step", index, "action", step.Invoke, "error", err)
	}
	result.addCompletion(step.Invoke, outcome, out, h.seq.Next())

	if step.Expect == nil {
		if err != nil {
			result.AddError(fmt.Sprintf("flow[%d] %s: unexpected error: %v", index, step.Invoke, err))
		}
		return
	}
	if outcome != step.Expect.Case {
		msg := fmt.Sprintf("flow[%d] %s: expected case %s, got %s", index, step.Invoke, step.Expect.Case, outcome)
		if err != nil {
			msg += fmt.Sprintf(" (%v)", err)
		}
		result.AddError(msg)
		return
	}
	if want := normalizeMap(step.Expect.Result); !matchArgs(out, want) {
		result.AddError(fmt.Sprintf("flow[%d] %s: expected result %v, got %v", index, step.Invoke, want, out))
	}
}
