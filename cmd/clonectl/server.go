package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	coreerrors "clonetest/core/errors"
	"clonetest/reports"
	"clonetest/shim"
	"clonetest/snapshot"
)

type snapshotJSON struct {
	ChainID    string         `json:"chain_id"`
	Height     uint64         `json:"height"`
	BlockHash  string         `json:"block_hash"`
	BlockTime  time.Time      `json:"block_time"`
	LastCodeID uint64         `json:"last_code_id"`
	Entries    map[string]int `json:"entries"`
	Root       string         `json:"root,omitempty"`
}

func snapshotView(snap *snapshot.Snapshot) snapshotJSON {
	m := snap.Manifest()
	view := snapshotJSON{
		ChainID:    m.ChainID,
		Height:     m.Height,
		BlockHash:  m.BlockHash,
		BlockTime:  m.Time(),
		LastCodeID: m.LastCodeID,
		Entries:    make(map[string]int),
	}
	for kind, n := range snap.Stats() {
		view.Entries[kind.String()] = n
	}
	if root, err := snap.Root(); err == nil {
		view.Root = root.Hex()
	}
	return view
}

type contractJSON struct {
	Address string `json:"address"`
	CodeID  uint64 `json:"code_id"`
	Creator string `json:"creator"`
	Admin   string `json:"admin,omitempty"`
	Label   string `json:"label,omitempty"`
}

func contractView(ctx context.Context, sh *shim.Shim, address string) (contractJSON, error) {
	info, found, err := sh.ContractInfo(ctx, address)
	if err != nil {
		return contractJSON{}, err
	}
	if !found {
		return contractJSON{}, fmt.Errorf("%w: %s", coreerrors.ErrUnknownContract, address)
	}
	return contractJSON{Address: address, CodeID: info.CodeID, Creator: info.Creator, Admin: info.Admin, Label: info.Label}, nil
}

func (c cli) runServe(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the clonetest config file")
	listen := fs.String("listen", "", "Listen address; defaults to the config")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := c.open(ctx, *configPath)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.close()) }()

	addr := a.cfg.Server.ListenAddress
	if *listen != "" {
		addr = *listen
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(a),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("clonectl listening", slog.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// newRouter exposes metrics, snapshot inspection and run history.
func newRouter(a *app) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(observe(a.logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/snapshots/{height}", func(sr chi.Router) {
		sr.Get("/", a.handleSnapshot)
		sr.Get("/contracts/{address}", a.handleContract)
		sr.Get("/balances/{address}/{denom}", a.handleBalance)
	})
	r.Get("/runs/{id}", a.handleRun)
	r.Get("/scenarios/{name}/runs", a.handleHistory)

	return otelhttp.NewHandler(r, serviceName)
}

func (a *app) snapshotParam(w http.ResponseWriter, r *http.Request) (*snapshot.Snapshot, bool) {
	height, err := strconv.ParseUint(chi.URLParam(r, "height"), 10, 64)
	if err != nil || height == 0 {
		http.Error(w, "invalid height", http.StatusBadRequest)
		return nil, false
	}
	snap, err := a.store.Capture(r.Context(), a.cfg.ChainID, height)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return snap, true
}

func (a *app) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.snapshotParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snapshotView(snap))
}

func (a *app) handleContract(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.snapshotParam(w, r)
	if !ok {
		return
	}
	view, err := contractView(r.Context(), shim.New(a.store, snap, a.logger), chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *app) handleBalance(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.snapshotParam(w, r)
	if !ok {
		return
	}
	address, denom := chi.URLParam(r, "address"), chi.URLParam(r, "denom")
	amount, err := shim.New(a.store, snap, a.logger).Balance(r.Context(), address, denom)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": address, "denom": denom, "amount": amount.String()})
}

func (a *app) handleRun(w http.ResponseWriter, r *http.Request) {
	history, err := a.openHistory()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return
	}
	run, err := history.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(run.Report))
}

func (a *app) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := a.openHistory()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	height, err := strconv.ParseUint(r.URL.Query().Get("height"), 10, 64)
	if err != nil {
		http.Error(w, "height query parameter required", http.StatusBadRequest)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}
	runs, err := history.History(r.Context(), chi.URLParam(r, "name"), snapshot.Key{ChainID: a.cfg.ChainID, Height: height}, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	type runJSON struct {
		ID          uuid.UUID `json:"id"`
		Status      string    `json:"status"`
		Error       string    `json:"error,omitempty"`
		StateRoot   string    `json:"state_root"`
		EventDigest string    `json:"event_digest"`
		StartedAt   time.Time `json:"started_at"`
		DurationMS  int64     `json:"duration_ms"`
	}
	out := make([]runJSON, 0, len(runs))
	for _, run := range runs {
		out = append(out, runJSON{
			ID: run.ID, Status: run.Status, Error: run.Error, StateRoot: run.StateRoot,
			EventDigest: run.EventDigest, StartedAt: run.StartedAt, DurationMS: run.DurationMS,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, coreerrors.ErrUnknownContract), errors.Is(err, reports.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, coreerrors.ErrRemoteUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, coreerrors.ErrSnapshotCorruption):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("encode response", slog.String("error", fmt.Sprint(err)))
	}
}
