package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	// ErrRemoteUnavailable reports that the live network could not serve state at
	// the pinned height after the retry budget was spent.
	ErrRemoteUnavailable = stderrors.New("fork: remote unavailable")
	// ErrSnapshotCorruption reports an internal consistency violation of a
	// captured snapshot. It always indicates a harness bug.
	ErrSnapshotCorruption = stderrors.New("fork: snapshot corruption")

	ErrContractReverted  = stderrors.New("exec: contract reverted")
	ErrInsufficientFunds = stderrors.New("exec: insufficient funds")
	ErrUnauthorized      = stderrors.New("exec: unauthorized")
	ErrUnknownContract   = stderrors.New("exec: unknown contract")
	ErrUnknownCode       = stderrors.New("exec: unknown code")

	ErrMigration = stderrors.New("redeploy: migration failed")
)

// IsFatal reports whether err must abort the running scenario. Contract level
// outcomes are recoverable and may be asserted on.
func IsFatal(err error) bool {
	return stderrors.Is(err, ErrRemoteUnavailable) || stderrors.Is(err, ErrSnapshotCorruption)
}

// RemoteUnavailable wraps cause with ErrRemoteUnavailable.
func RemoteUnavailable(op string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrRemoteUnavailable, op)
	}
	return fmt.Errorf("%w: %s: %w", ErrRemoteUnavailable, op, cause)
}

// Corruption formats an ErrSnapshotCorruption error.
func Corruption(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSnapshotCorruption, fmt.Sprintf(format, args...))
}

// ContractRevertedError carries the contract address and the revert reason.
type ContractRevertedError struct {
	Contract string
	Reason   string
}

func (e *ContractRevertedError) Error() string {
	if e.Contract == "" {
		return fmt.Sprintf("contract reverted: %s", e.Reason)
	}
	return fmt.Sprintf("contract %s reverted: %s", e.Contract, e.Reason)
}

func (e *ContractRevertedError) Is(target error) bool { return target == ErrContractReverted }

// Reverted builds a ContractRevertedError.
func Reverted(contract string, reason string) error {
	return &ContractRevertedError{Contract: contract, Reason: reason}
}

// MigrationError describes a failed rebind. The binding has already been
// restored to From when the error is returned.
type MigrationError struct {
	Address string
	From    uint64
	To      uint64
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migrate %s from code %d to %d: %v", e.Address, e.From, e.To, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

func (e *MigrationError) Is(target error) bool { return target == ErrMigration }
