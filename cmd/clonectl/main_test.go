package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"clonetest/config"
	"clonetest/contracts/adapter/adaptertest"
	"clonetest/remote/remotetest"
)

const upgradeScenario = `name: upgrade and swap
steps:
  - upload: {code: adapter-v2, save: v2}
  - rebind: {contract: juno1dexadapter, code: $v2, msg: {}}
  - execute:
      sender: juno1alice
      contract: juno1dexadapter
      msg: {execute_action: {action: {swap: {}}}}
      funds: [{denom: ujuno, amount: "100"}]
assert:
  - balance: {address: juno1treasury, denom: ujuno, amount: "1"}
  - query: {contract: juno1dexadapter, msg: {config: {}}, path: version, equals: "2"}
`

type harness struct {
	dir    string
	config string
	chain  *remotetest.Chain
	out    *bytes.Buffer
}

func newHarness(t *testing.T, backend string) *harness {
	t.Helper()
	chain, err := adaptertest.NewChain()
	require.NoError(t, err)
	dir := t.TempDir()
	contents := fmt.Sprintf(`ChainID = %q
ForkHeight = %d

[cache]
Backend = %q
Path = %q

[reports]
DSN = %q
`, adaptertest.ChainID, adaptertest.ForkHeight, backend, filepath.Join(dir, "cache"), filepath.Join(dir, "reports.db"))
	path := filepath.Join(dir, "clonetest.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return &harness{dir: dir, config: path, chain: chain, out: &bytes.Buffer{}}
}

func (h *harness) exec(args ...string) error {
	h.out.Reset()
	c := cli{stdout: h.out, logOut: io.Discard, chain: h.chain}
	return c.exec(context.Background(), append([]string{args[0], "-config", h.config}, args[1:]...))
}

func TestCaptureAndPrefetch(t *testing.T) {
	h := newHarness(t, "leveldb")
	require.NoError(t, h.exec("capture", "-prefetch", adaptertest.DEX+","+adaptertest.Pool))

	var view snapshotJSON
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &view))
	require.Equal(t, uint64(adaptertest.ForkHeight), view.Height)
	require.Equal(t, remotetest.BlockHash(adaptertest.ChainID, adaptertest.ForkHeight), view.BlockHash)
	require.Equal(t, 2, view.Entries["contract"])
	require.Equal(t, 2, view.Entries["code"])

	// The persisted cache serves the second capture without remote state queries.
	before := h.chain.StateCalls()
	require.NoError(t, h.exec("inspect", "-contract", adaptertest.DEX))
	require.Equal(t, before, h.chain.StateCalls())

	require.NoError(t, h.exec("invalidate", "-height", "50"))
	require.Contains(t, h.out.String(), "invalidated juno-1@50")
	require.NoError(t, h.exec("inspect", "-contract", adaptertest.DEX))
	require.Greater(t, h.chain.StateCalls(), before)
}

func TestInspect(t *testing.T) {
	h := newHarness(t, "memory")

	require.NoError(t, h.exec("inspect", "-contract", adaptertest.DEX))
	var contract contractJSON
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &contract))
	require.Equal(t, adaptertest.CodeAdapterV1, contract.CodeID)

	require.NoError(t, h.exec("inspect", "-balance", adaptertest.User, "-denom", "ujuno"))
	require.Contains(t, h.out.String(), `"amount": "10000"`)

	require.NoError(t, h.exec("inspect", "-contract", adaptertest.DEX, "-query", `{"config":{}}`))
	require.Contains(t, h.out.String(), adaptertest.Pool)

	require.NoError(t, h.exec("inspect", "-contract", adaptertest.DEX, "-key", fmt.Sprintf("%x", "contract_info")))
	require.Contains(t, h.out.String(), `"found": true`)

	require.Error(t, h.exec("inspect", "-contract", "juno1missing"))
	require.Error(t, h.exec("inspect"))
}

func TestRunRecordsHistory(t *testing.T) {
	h := newHarness(t, "memory")
	file := filepath.Join(h.dir, "upgrade.yaml")
	require.NoError(t, os.WriteFile(file, []byte(upgradeScenario), 0o600))

	require.NoError(t, h.exec("run", file))
	require.True(t, strings.HasPrefix(h.out.String(), "PASS upgrade and swap"), h.out.String())
	require.NoError(t, h.exec("run", file))
	require.NotContains(t, h.out.String(), "DIVERGED")

	cfg, err := config.Load(h.config)
	require.NoError(t, err)
	a, err := newApp(context.Background(), cfg, h.chain, io.Discard)
	require.NoError(t, err)
	defer a.close()

	srv := httptest.NewServer(newRouter(a))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/scenarios/upgrade%20and%20swap/runs?height=50")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runs []struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		StateRoot string `json:"state_root"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	require.Len(t, runs, 2)
	require.Equal(t, "passed", runs[0].Status)
	require.Equal(t, runs[0].StateRoot, runs[1].StateRoot)

	run, err := http.Get(srv.URL + "/runs/" + runs[0].ID)
	require.NoError(t, err)
	defer run.Body.Close()
	require.Equal(t, http.StatusOK, run.StatusCode)
}

func TestRunReportsFailures(t *testing.T) {
	h := newHarness(t, "memory")
	file := filepath.Join(h.dir, "broken.yaml")
	broken := strings.Replace(upgradeScenario, `amount: "1"}`, `amount: "2"}`, 1)
	require.NoError(t, os.WriteFile(file, []byte(broken), 0o600))

	err := h.exec("run", "-record=false", file)
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 of 1 scenarios failed")
	require.Contains(t, h.out.String(), "FAIL upgrade and swap")
}

func TestRouter(t *testing.T) {
	h := newHarness(t, "memory")
	cfg, err := config.Load(h.config)
	require.NoError(t, err)
	a, err := newApp(context.Background(), cfg, h.chain, io.Discard)
	require.NoError(t, err)
	defer a.close()
	srv := httptest.NewServer(newRouter(a))
	defer srv.Close()

	cases := []struct {
		path   string
		status int
		body   string
	}{
		{"/healthz", http.StatusOK, "ok"},
		{"/metrics", http.StatusOK, "clonetest_http_requests_total"},
		{"/snapshots/50/", http.StatusOK, remotetest.BlockHash(adaptertest.ChainID, adaptertest.ForkHeight)},
		{"/snapshots/50/contracts/" + adaptertest.Pool, http.StatusOK, `"code_id":2`},
		{"/snapshots/50/contracts/juno1missing", http.StatusNotFound, "unknown contract"},
		{"/snapshots/50/balances/" + adaptertest.Pool + "/ujuno", http.StatusOK, `"amount":"1000000"`},
		{"/snapshots/60/balances/" + adaptertest.Pool + "/ujuno", http.StatusOK, `"amount":"1500000"`},
		{"/snapshots/abc/", http.StatusBadRequest, "invalid height"},
		{"/snapshots/500/", http.StatusBadGateway, ""},
		{"/runs/not-a-uuid", http.StatusBadRequest, ""},
		{"/scenarios/x/runs", http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tc.path)
			require.NoError(t, err)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode, string(body))
			require.Contains(t, string(body), tc.body)
		})
	}
}

func TestConcurrentHistoryRequestsShareOneStore(t *testing.T) {
	h := newHarness(t, "memory")
	cfg, err := config.Load(h.config)
	require.NoError(t, err)
	a, err := newApp(context.Background(), cfg, h.chain, io.Discard)
	require.NoError(t, err)
	defer a.close()
	srv := httptest.NewServer(newRouter(a))
	defer srv.Close()

	a.mu.Lock()
	before := len(a.closers)
	a.mu.Unlock()

	const requests = 16
	var wg sync.WaitGroup
	statuses := make([]int, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := "/runs/" + uuid.NewString()
			if i%2 == 1 {
				path = "/scenarios/upgrade/runs?height=50"
			}
			resp, err := http.Get(srv.URL + path)
			if err != nil {
				return
			}
			defer resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for i, status := range statuses {
		want := http.StatusNotFound
		if i%2 == 1 {
			want = http.StatusOK
		}
		require.Equal(t, want, status, "request %d", i)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotNil(t, a.history)
	require.Len(t, a.closers, before+1)
}

func TestUsage(t *testing.T) {
	var out bytes.Buffer
	err := cli{stdout: &out}.exec(context.Background(), []string{"bogus"})
	require.Error(t, err)
	require.Contains(t, out.String(), "Usage: clonectl")
}
