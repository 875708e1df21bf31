package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestIsFatal(t *testing.T) {
	cases := []struct {
		err   error
		fatal bool
	}{
		{RemoteUnavailable("wasm_raw", stderrors.New("timeout")), true},
		{fmt.Errorf("step 2: %w", Corruption("entry %s", "k")), true},
		{Reverted("juno1pool", "slippage"), false},
		{ErrInsufficientFunds, false},
		{&MigrationError{Address: "juno1dex", From: 1, To: 9, Err: ErrUnauthorized}, false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsFatal(tc.err); got != tc.fatal {
			t.Fatalf("IsFatal(%v) = %v, want %v", tc.err, got, tc.fatal)
		}
	}
}

func TestRemoteUnavailableKeepsCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := RemoteUnavailable("status", cause)
	if !stderrors.Is(err, ErrRemoteUnavailable) || !stderrors.Is(err, cause) {
		t.Fatalf("unexpected chain: %v", err)
	}
	if err := RemoteUnavailable("status", nil); !stderrors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMigrationErrorMatchesCause(t *testing.T) {
	err := fmt.Errorf("rebind: %w", &MigrationError{Address: "juno1dex", From: 1, To: 9, Err: Reverted("juno1dex", "bad state")})
	if !stderrors.Is(err, ErrMigration) {
		t.Fatalf("expected ErrMigration")
	}
	if !stderrors.Is(err, ErrContractReverted) {
		t.Fatalf("expected ErrContractReverted")
	}
	var mig *MigrationError
	if !stderrors.As(err, &mig) || mig.From != 1 || mig.To != 9 {
		t.Fatalf("unexpected migration error: %#v", mig)
	}
	var rev *ContractRevertedError
	if !stderrors.As(err, &rev) || rev.Reason != "bad state" {
		t.Fatalf("unexpected revert: %#v", rev)
	}
}
