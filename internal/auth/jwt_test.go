package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("ESP32-001", "device", "classtrack", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("empty tokens issued")
	}

	claims, err := Parse(pair.AccessToken, "secret", "classtrack")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.DeviceID != "ESP32-001" || claims.Role != "device" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestParseRejects(t *testing.T) {
	pair, err := Issue("ESP32-001", "device", "classtrack", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := Parse(pair.AccessToken, "wrong-key", "classtrack"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong key: got %v, want ErrInvalidToken", err)
	}
	if _, err := Parse(pair.AccessToken, "secret", "other-issuer"); !errors.Is(err, ErrIssuerMismatch) {
		t.Errorf("issuer mismatch: got %v, want ErrIssuerMismatch", err)
	}

	expired, err := Issue("ESP32-001", "device", "classtrack", "secret", -time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse(expired.AccessToken, "secret", "classtrack"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired: got %v, want ErrInvalidToken", err)
	}
}
