// Package redeploy uploads contract code to a fork and rebinds existing
// contract addresses to it, keeping their storage and balances.
package redeploy

import (
	"context"
	"fmt"
	"log/slog"

	coreerrors "clonetest/core/errors"
	"clonetest/core/state"
	"clonetest/core/types"
	"clonetest/snapshot"
	"clonetest/vm"
)

const codeSequence = "redeploy/code"

// Binding records one change of the code bound to a contract address.
type Binding struct {
	Address  string `json:"address"`
	From     uint64 `json:"from"`
	To       uint64 `json:"to"`
	Migrated bool   `json:"migrated"`
}

// Result is the outcome of a rebind.
type Result struct {
	Binding Binding
	Events  types.Events
}

// Manager prepares contracts for a scenario. It keeps no scenario state: all
// changes land in the overlay passed to each call, so one manager serves every
// scenario of a snapshot.
type Manager struct {
	env        *vm.Env
	lastCodeID uint64
	logger     *slog.Logger
}

// NewManager returns a manager for the snapshot described by manifest.
func NewManager(env *vm.Env, manifest snapshot.Manifest, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{env: env, lastCodeID: manifest.LastCodeID, logger: logger}
}

// Env returns the execution environment the manager deploys into.
func (m *Manager) Env() *vm.Env { return m.env }

// Upload stores code and returns its code id. Ids continue after the last code
// id stored on the live chain at the snapshot height.
func (m *Manager) Upload(ctx context.Context, overlay *state.Overlay, code []byte) (uint64, error) {
	if len(code) == 0 {
		return 0, fmt.Errorf("redeploy: code must not be empty")
	}
	next := overlay.Sequence(codeSequence)
	if next < m.lastCodeID {
		next = m.lastCodeID
	}
	next++
	if _, exists, err := overlay.Code(ctx, next); err != nil {
		return 0, err
	} else if exists {
		return 0, coreerrors.Corruption("code id %d already exists above the snapshot's last code id %d", next, m.lastCodeID)
	}
	overlay.SetCode(next, code)
	overlay.SetSequence(codeSequence, next)
	if _, ok := m.env.Registry().Lookup(code); !ok {
		m.logger.Warn("uploaded code has no registered program",
			slog.Uint64("code_id", next),
			slog.String("checksum", vm.ChecksumOf(code).String()))
	}
	return next, nil
}

// Instantiate deploys a fresh contract running codeID.
func (m *Manager) Instantiate(ctx context.Context, overlay *state.Overlay, sender string, codeID uint64, msg []byte, funds types.Coins, label, admin string) (string, *vm.Result, error) {
	return m.env.Instantiate(ctx, overlay, sender, codeID, msg, funds, label, admin)
}

// Rebind points address at newCodeID without an admin check. When migrateMsg
// is not nil the new code's migrate entry point runs on the existing storage.
// Any failure leaves binding and storage exactly as they were and is returned
// as a *MigrationError.
func (m *Manager) Rebind(ctx context.Context, overlay *state.Overlay, address string, newCodeID uint64, migrateMsg []byte) (*Result, error) {
	before, found, err := overlay.ContractInfo(ctx, address)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &coreerrors.MigrationError{Address: address, To: newCodeID,
			Err: fmt.Errorf("%w: %s", coreerrors.ErrUnknownContract, address)}
	}
	sender := before.Admin
	if sender == "" {
		sender = before.Creator
	}
	res, err := m.env.Rebind(ctx, overlay, sender, address, newCodeID, migrateMsg)
	if err != nil {
		return nil, m.rollback(ctx, overlay, address, before.CodeID, newCodeID, err)
	}
	b := Binding{Address: address, From: before.CodeID, To: newCodeID, Migrated: migrateMsg != nil}
	m.logger.Info("contract rebound",
		slog.String("address", address),
		slog.Uint64("from_code_id", b.From),
		slog.Uint64("to_code_id", b.To),
		slog.Bool("migrated", b.Migrated))
	return &Result{Binding: b, Events: res.Events}, nil
}

// Migrate performs the admin-gated migration a chain transaction would: only
// the contract admin may rebind address.
func (m *Manager) Migrate(ctx context.Context, overlay *state.Overlay, sender, address string, newCodeID uint64, msg []byte) (*Result, error) {
	before, found, err := overlay.ContractInfo(ctx, address)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &coreerrors.MigrationError{Address: address, To: newCodeID,
			Err: fmt.Errorf("%w: %s", coreerrors.ErrUnknownContract, address)}
	}
	res, err := m.env.Migrate(ctx, overlay, sender, address, newCodeID, msg)
	if err != nil {
		return nil, m.rollback(ctx, overlay, address, before.CodeID, newCodeID, err)
	}
	return &Result{
		Binding: Binding{Address: address, From: before.CodeID, To: newCodeID, Migrated: msg != nil},
		Events:  res.Events,
	}, nil
}

// rollback confirms the environment restored the binding and wraps cause.
func (m *Manager) rollback(ctx context.Context, overlay *state.Overlay, address string, from, to uint64, cause error) error {
	after, _, err := overlay.ContractInfo(ctx, address)
	if err != nil {
		return err
	}
	if after.CodeID != from {
		return coreerrors.Corruption("binding of %s is %d after a failed migration from %d", address, after.CodeID, from)
	}
	m.logger.Warn("migration rolled back",
		slog.String("address", address),
		slog.Uint64("code_id", from),
		slog.Uint64("target_code_id", to),
		slog.Any("error", cause))
	return &coreerrors.MigrationError{Address: address, From: from, To: to, Err: cause}
}
