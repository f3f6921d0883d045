package aggregatorclient

import "testing"

func TestDeriveReceiveAddressDeterministic(t *testing.T) {
	secret := []byte("server-secret")
	nonce := make([]byte, 32)
	tokenID := []byte("token-id")
	tokenType := []byte("token-type")

	a1, err := DeriveReceiveAddress(secret, nonce, tokenID, tokenType)
	if err != nil {
		t.Fatalf("DeriveReceiveAddress failed: %v", err)
	}
	a2, err := DeriveReceiveAddress(secret, nonce, tokenID, tokenType)
	if err != nil {
		t.Fatalf("DeriveReceiveAddress failed: %v", err)
	}
	if a1 != a2 {
		t.Fatalf("expected deterministic address, got %q and %q", a1, a2)
	}
}

func TestDeriveReceiveAddressDiffersOnSecret(t *testing.T) {
	nonce := make([]byte, 32)
	a1, _ := DeriveReceiveAddress([]byte("secret-one"), nonce, nil, nil)
	a2, _ := DeriveReceiveAddress([]byte("secret-two"), nonce, nil, nil)
	if a1 == a2 {
		t.Fatalf("expected different secrets to yield different addresses")
	}
}

func TestDeriveReceiveAddressRejectsBadNonceLength(t *testing.T) {
	_, err := DeriveReceiveAddress([]byte("secret"), []byte("too-short"), nil, nil)
	if err == nil {
		t.Fatalf("expected an error for a non-32-byte nonce")
	}
}

func TestDeriveReceiveAddressRejectsEmptySecret(t *testing.T) {
	_, err := DeriveReceiveAddress(nil, make([]byte, 32), nil, nil)
	if err == nil {
		t.Fatalf("expected an error for an empty server secret")
	}
}
