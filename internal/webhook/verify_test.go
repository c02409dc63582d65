package webhook

import (
	"testing"

	pkgerrors "StatusBridge/pkg/errors"
)

func TestVerifyChallenge(t *testing.T) {
	const token = "verify-me"

	echo, err := VerifyChallenge("subscribe", token, "challenge-123", token)
	if err != nil {
		t.Fatalf("valid handshake rejected: %v", err)
	}
	if echo != "challenge-123" {
		t.Errorf("expected literal challenge echo, got %q", echo)
	}

	cases := []struct {
		name  string
		mode  string
		token string
	}{
		{"wrong mode", "unsubscribe", token},
		{"wrong token", "subscribe", "guess"},
		{"empty token", "subscribe", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := VerifyChallenge(tc.mode, tc.token, "challenge-123", token); err != pkgerrors.ChallengeRejected {
				t.Errorf("expected ChallengeRejected, got %v", err)
			}
		})
	}
}

func TestVerifyChallengeEmptyConfiguredToken(t *testing.T) {
	// 未配置 token 时握手必须失败，而不是空串等于空串放行
	if _, err := VerifyChallenge("subscribe", "", "challenge-123", ""); err == nil {
		t.Error("handshake must fail when no verify token is configured")
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account","entry":[]}`)
	const secret = "app-secret"

	header := ComputeSignature(body, secret)

	valid, err := VerifySignature(body, header, secret)
	if err != nil {
		t.Fatalf("VerifySignature returned error: %v", err)
	}
	if !valid {
		t.Error("correctly signed body rejected")
	}
}

func TestVerifySignatureRejects(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	const secret = "app-secret"

	cases := []struct {
		name   string
		body   []byte
		header string
		secret string
	}{
		{"wrong secret", body, ComputeSignature(body, "other-secret"), secret},
		{"tampered body", []byte(`{"object":"tampered"}`), ComputeSignature(body, secret), secret},
		{"missing prefix", body, "deadbeef", secret},
		{"empty header", body, "", secret},
		{"garbage hex", body, "sha256=zzzz", secret},
		{"no secret configured", body, ComputeSignature(body, secret), ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			valid, err := VerifySignature(tc.body, tc.header, tc.secret)
			if err != nil {
				t.Fatalf("VerifySignature returned error: %v", err)
			}
			if valid {
				t.Error("expected signature rejection")
			}
		})
	}
}
