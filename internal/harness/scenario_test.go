package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "Bind a tag"
setup:
  - action: add_prescription
    args:
      id: rx-1
      medication: Amoxicillin
flow:
  - invoke: bind_tag
    args:
      tag_id: TAG-1
      prescription_id: rx-1
assertions:
  - type: trace_contains
    action: bind_tag
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "minimal", scenario.Name)
	assert.Equal(t, "Bind a tag", scenario.Description)
	require.Len(t, scenario.Setup, 1)
	assert.Equal(t, "add_prescription", scenario.Setup[0].Action)
	require.Len(t, scenario.Flow, 1)
	assert.Equal(t, "bind_tag", scenario.Flow[0].Invoke)
	assert.Equal(t, "TAG-1", scenario.Flow[0].Args["tag_id"])
	assert.Nil(t, scenario.Flow[0].Expect)
	require.Len(t, scenario.Assertions, 1)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_InvalidYAML(t *testing.T) {
	_, err := ParseScenario([]byte("name: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_UnknownKeyRejected(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "flow_token: abc\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow_token")
}

func TestParseScenario_ExpectClause(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: expect
description: "Dispense an unknown tag"
flow:
  - invoke: dispense
    args:
      tag_id: TAG-X
      pharmacist_id: emp-1
    expect:
      case: ALREADY_DISPENSED_OR_UNKNOWN_TAG
assertions:
  - type: trace_count
    action: dispense
    count: 1
`))
	require.NoError(t, err)
	require.NotNil(t, scenario.Flow[0].Expect)
	assert.Equal(t, "ALREADY_DISPENSED_OR_UNKNOWN_TAG", scenario.Flow[0].Expect.Case)
	assert.Equal(t, 1, scenario.Assertions[0].Count)
}

func TestParseScenario_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "missing name",
			yaml: `
description: d
flow: [{invoke: read_tag, args: {tag_id: T}}]
assertions: [{type: trace_contains, action: read_tag}]
`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			yaml: `
name: n
flow: [{invoke: read_tag, args: {tag_id: T}}]
assertions: [{type: trace_contains, action: read_tag}]
`,
			wantErr: "description is required",
		},
		{
			name: "empty flow",
			yaml: `
name: n
description: d
flow: []
assertions: [{type: trace_contains, action: read_tag}]
`,
			wantErr: "flow list is required",
		},
		{
			name: "empty assertions",
			yaml: `
name: n
description: d
flow: [{invoke: read_tag, args: {tag_id: T}}]
assertions: []
`,
			wantErr: "assertions list is required",
		},
		{
			name: "unknown flow action",
			yaml: `
name: n
description: d
flow: [{invoke: launch_rocket}]
assertions: [{type: trace_contains, action: launch_rocket}]
`,
			wantErr: `unknown action "launch_rocket"`,
		},
		{
			name: "unknown setup action",
			yaml: `
name: n
description: d
setup: [{action: teleport}]
flow: [{invoke: read_tag, args: {tag_id: T}}]
assertions: [{type: trace_contains, action: read_tag}]
`,
			wantErr: `setup[0]: unknown action "teleport"`,
		},
		{
			name: "expect without case",
			yaml: `
name: n
description: d
flow: [{invoke: read_tag, args: {tag_id: T}, expect: {result: {found: false}}}]
assertions: [{type: trace_contains, action: read_tag}]
`,
			wantErr: "case is required",
		},
		{
			name: "bad today",
			yaml: `
name: n
description: d
today: "25/07/2025"
flow: [{invoke: read_tag, args: {tag_id: T}}]
assertions: [{type: trace_contains, action: read_tag}]
`,
			wantErr: "today",
		},
		{
			name: "bad quantity rule",
			yaml: `
name: n
description: d
quantity_rule: per_pill
flow: [{invoke: read_tag, args: {tag_id: T}}]
assertions: [{type: trace_contains, action: read_tag}]
`,
			wantErr: "quantity_rule",
		},
		{
			name: "unknown assertion type",
			yaml: `
name: n
description: d
flow: [{invoke: read_tag, args: {tag_id: T}}]
assertions: [{type: eventually}]
`,
			wantErr: `unknown assertion type "eventually"`,
		},
		{
			name: "trace_order without actions",
			yaml: `
name: n
description: d
flow: [{invoke: read_tag, args: {tag_id: T}}]
assertions: [{type: trace_order}]
`,
			wantErr: "actions list is required",
		},
		{
			name: "negative trace_count",
			yaml: `
name: n
description: d
flow: [{invoke: read_tag, args: {tag_id: T}}]
assertions: [{type: trace_count, action: read_tag, count: -1}]
`,
			wantErr: "count must be non-negative",
		},
		{
			name: "final_state unknown table",
			yaml: `
name: n
description: d
flow: [{invoke: read_tag, args: {tag_id: T}}]
assertions: [{type: final_state, table: outbox, expect: {seq: 1}}]
`,
			wantErr: "final_state",
		},
		{
			name: "final_state without expect",
			yaml: `
name: n
description: d
flow: [{invoke: read_tag, args: {tag_id: T}}]
assertions: [{type: final_state, table: medicines}]
`,
			wantErr: "expect is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestScenarioFiles_AllParse(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			_, err := LoadScenario(path)
			assert.NoError(t, err)
		})
	}
}
