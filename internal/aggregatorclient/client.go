// Package aggregatorclient wraps the external state-transition network's
// signing+predicate SDK as an opaque collaborator, per SPEC_FULL.md §1 and
// §4.6: commitment submission, inclusion-proof waiting, token finalization,
// and trust-base verification are all the SDK's concern, not this
// package's. What this package does own is the deterministic receive
// address derivation, which mixes the server's secret into a
// domain-separated hash using go-ethereum's crypto primitives.
package aggregatorclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// TransferCommitment and SourceToken are opaque payloads accepted from the
// complete-payment request; their shape is defined by the external SDK, not
// this repo.
type TransferCommitment struct {
	Raw json.RawMessage
}

// Token is the finalized, trust-base-verified result of a completed
// transfer, carrying whatever coin amounts the SDK reports.
type Token struct {
	CoinAmount string // decimal integer, up to 78 digits; summed from the SDK's coin list
	Raw        []byte // the token JSON, stored verbatim for reconciliation
}

// SubmissionOutcome is the result of submitting a commitment and waiting
// for acceptance and inclusion-proof convergence.
type SubmissionOutcome struct {
	Accepted bool
	Included bool
}

// Client is the opaque interface to the external aggregator's
// signing+predicate SDK. A concrete implementation is provided at wiring
// time by the operator's deployment; this repo only depends on the
// interface so it can be faked in tests.
type Client interface {
	// DeriveReceiveAddress computes a deterministic, unguessable-without-
	// serverSecret receive address for a payment session.
	DeriveReceiveAddress(serverSecret, receiverNonce, tokenID, tokenType []byte) (string, error)

	// SubmitCommitment submits a transfer commitment and blocks until the
	// aggregator reports SUCCESS (acceptWait) or inclusion-proof
	// convergence (proofWait), whichever the caller is waiting on.
	SubmitCommitment(ctx context.Context, commitment TransferCommitment, acceptWait, proofWait time.Duration) (SubmissionOutcome, error)

	// FinalizeReceive finalizes the transfer to a receiver predicate
	// derived from receiverNonce and verifies the resulting token against
	// the trust base, returning the verified token or an error.
	FinalizeReceive(ctx context.Context, sourceToken []byte, receiverNonce []byte) (Token, error)
}

// DeriveReceiveAddress hashes the server secret together with the
// session's nonce and token descriptors using Keccak256 (go-ethereum's
// crypto package), so the address is deterministic given those inputs and
// unrecoverable without serverSecret.
func DeriveReceiveAddress(serverSecret, receiverNonce, tokenID, tokenType []byte) (string, error) {
	if len(serverSecret) == 0 {
		return "", fmt.Errorf("aggregatorclient: empty server secret")
	}
	if len(receiverNonce) != 32 {
		return "", fmt.Errorf("aggregatorclient: receiver nonce must be 32 bytes, got %d", len(receiverNonce))
	}

	buf := make([]byte, 0, len(serverSecret)+len(receiverNonce)+len(tokenID)+len(tokenType)+4)
	buf = append(buf, []byte("unicity-subscription-proxy-receive-address-v1")...)
	buf = append(buf, serverSecret...)
	buf = append(buf, receiverNonce...)
	buf = append(buf, tokenID...)
	buf = append(buf, tokenType...)

	hash := crypto.Keccak256(buf)
	return "0x" + fmt.Sprintf("%x", hash), nil
}
