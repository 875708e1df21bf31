package scenario_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"clonetest/contracts/adapter"
	"clonetest/scenario"
)

const upgradeYAML = `
name: upgrade via yaml
steps:
  - upload: {code: adapter-v2, save: v2}
  - rebind: {contract: juno1dexadapter, code: $v2, msg: {}}
  - query: {contract: juno1dexadapter, msg: {config: {}}, path: provider, save: pool}
  - execute:
      sender: juno1alice
      contract: juno1dexadapter
      msg: {execute_action: {action: {swap: {}}}}
      funds: [{denom: ujuno, amount: "100"}]
assert:
  - balance: {address: juno1treasury, denom: ujuno, amount: "1"}
  - balance: {address: juno1alice, denom: ujuno, amount: "9900"}
  - query: {contract: juno1dexadapter, msg: {config: {}}, path: usage_fee.recipient, equals: juno1treasury}
  - event: {type: wasm, key: action, value: swap, contract: $pool}
---
name: unauthorized migrate
steps:
  - upload: {code: adapter-v2, save: v2}
  - migrate: {sender: juno1alice, contract: juno1dexadapter, code: $v2, msg: {}, expect_error: unauthorized}
assert:
  - query: {contract: juno1dexadapter, msg: {config: {}}, path: version, equals: "1"}
`

func TestLoadAndRunYAML(t *testing.T) {
	loader := scenario.Loader{Codes: map[string][]byte{"adapter-v2": adapter.CodeV2}}
	scenarios, err := loader.Decode(strings.NewReader(upgradeYAML))
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	require.Len(t, scenarios[0].Steps, 4)
	require.Len(t, scenarios[0].Assertions, 4)

	exec, ok := scenarios[0].Steps[3].(scenario.Execute)
	require.True(t, ok)
	require.Equal(t, "100ujuno", exec.Funds.String())
	require.JSONEq(t, `{"execute_action":{"action":{"swap":{}}}}`, string(exec.Msg))

	f := newFixture(t)
	for _, r := range f.runner.RunAll(context.Background(), f.snap, scenarios) {
		require.True(t, r.Passed(), "%s: %s", r.Scenario, r.Error)
	}
}

func TestLoadFileResolvesCodePaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "adapter.wasm"), adapter.CodeV2, 0o600))
	def := "name: from file\nsteps:\n  - upload: {file: adapter.wasm, save: v2}\n"
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(def), 0o600))

	scenarios, err := scenario.Loader{}.LoadFile(path)
	require.NoError(t, err)
	upload, ok := scenarios[0].Steps[0].(scenario.Upload)
	require.True(t, ok)
	require.Equal(t, adapter.CodeV2, upload.Code)
}

func TestLoaderRejectsMalformedSteps(t *testing.T) {
	loader := scenario.Loader{Codes: map[string][]byte{"adapter-v2": adapter.CodeV2}}
	cases := map[string]string{
		"two kinds":     "name: x\nsteps:\n  - upload: {code: adapter-v2}\n    send: {from: a, to: b}\n",
		"no kind":       "name: x\nsteps:\n  - {}\n",
		"unknown code":  "name: x\nsteps:\n  - upload: {code: missing}\n",
		"unknown field": "name: x\nsteps:\n  - upload: {code: adapter-v2, bogus: 1}\n",
		"no name":       "steps:\n  - upload: {code: adapter-v2}\n",
		"empty":         "",
	}
	for name, def := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loader.Decode(strings.NewReader(def))
			require.Error(t, err)
		})
	}
}
