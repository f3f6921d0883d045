package aggregatorclient

import (
	"context"
	"fmt"
	"time"
)

// FakeClient is a deterministic stand-in for the real aggregator SDK,
// wired by default in cmd/aggregator-proxy until a real SDK binding is
// configured. It always accepts and includes commitments, and finalizes
// to a token carrying whatever coin amount the test or operator primed it
// with via the CoinAmount field.
type FakeClient struct {
	ServerSecret []byte
	CoinAmount   string
}

// NewFakeClient constructs a FakeClient using serverSecret for address
// derivation.
func NewFakeClient(serverSecret []byte) *FakeClient {
	return &FakeClient{ServerSecret: serverSecret, CoinAmount: "0"}
}

func (c *FakeClient) DeriveReceiveAddress(serverSecret, receiverNonce, tokenID, tokenType []byte) (string, error) {
	return DeriveReceiveAddress(serverSecret, receiverNonce, tokenID, tokenType)
}

func (c *FakeClient) SubmitCommitment(ctx context.Context, commitment TransferCommitment, acceptWait, proofWait time.Duration) (SubmissionOutcome, error) {
	select {
	case <-ctx.Done():
		return SubmissionOutcome{}, fmt.Errorf("aggregatorclient: %w", ctx.Err())
	default:
	}
	return SubmissionOutcome{Accepted: true, Included: true}, nil
}

func (c *FakeClient) FinalizeReceive(ctx context.Context, sourceToken []byte, receiverNonce []byte) (Token, error) {
	return Token{CoinAmount: c.CoinAmount, Raw: sourceToken}, nil
}

var _ Client = (*FakeClient)(nil)
