package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/rxvault/internal/model"
)

// TraceSnapshot is the golden-file form of a scenario run.
type TraceSnapshot struct {
	ScenarioName string
	Pass         bool
	Trace        []TraceEvent
}

// canonical converts the snapshot to the plain values MarshalCanonical
// accepts. Empty args and results are left out.
func (s *TraceSnapshot) canonical() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		m := map[string]any{
			"type":   event.Type,
			"action": event.Action,
			"seq":    event.Seq,
		}
		if len(event.Args) > 0 {
			m["args"] = event.Args
		}
		if event.Case != "" {
			m["case"] = event.Case
		}
		if len(event.Result) > 0 {
			m["result"] = event.Result
		}
		trace[i] = m
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"pass":          s.Pass,
		"trace":         trace,
	}
}

// MarshalSnapshot renders a result as canonical JSON.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: name, Pass: result.Pass, Trace: result.Trace}
	return model.MarshalCanonical(snapshot.canonical())
}

// RunWithGolden runs the scenario and compares its trace with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()
	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()
	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
