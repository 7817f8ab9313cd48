package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fleettrace/hub/internal/roles"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestVerifyAcceptsValidToken(t *testing.T) {
	verifier := NewVerifier(testSecret)
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub":   "veh1",
		"role":  "driver",
		"perms": []string{"telemetry:read"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	identity, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.UserID != "veh1" || identity.Role != roles.Driver {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if len(identity.Permissions) != 1 || identity.Permissions[0] != "telemetry:read" {
		t.Fatalf("permissions = %v", identity.Permissions)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	verifier := NewVerifier(testSecret)

	//1.- Wrong secret.
	forged := signToken(t, "other-secret", jwt.MapClaims{"sub": "veh1", "role": "driver"})
	if _, err := verifier.Verify(forged); err == nil {
		t.Fatal("forged token accepted")
	}
	//2.- Expired beyond leeway.
	expired := signToken(t, testSecret, jwt.MapClaims{
		"sub":  "veh1",
		"role": "driver",
		"exp":  time.Now().Add(-time.Hour).Unix(),
	})
	if _, err := verifier.Verify(expired); err == nil {
		t.Fatal("expired token accepted")
	}
	//3.- Missing subject.
	anonymous := signToken(t, testSecret, jwt.MapClaims{"role": "driver"})
	if _, err := verifier.Verify(anonymous); err == nil {
		t.Fatal("subjectless token accepted")
	}
	//4.- Empty token.
	if _, err := verifier.Verify(""); !errors.Is(err, ErrNoToken) {
		t.Fatalf("empty token error = %v, want ErrNoToken", err)
	}
}

func TestVerifyFoldsUnknownRoles(t *testing.T) {
	verifier := NewVerifier(testSecret)
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "u1", "role": "superuser"})
	identity, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.Role != roles.Unclassified {
		t.Fatalf("role = %s, want unclassified", identity.Role)
	}
}

func TestInsecureVerifierDecodesWithoutSignature(t *testing.T) {
	verifier := NewVerifier("")
	if !verifier.Insecure() {
		t.Fatal("expected insecure mode with empty secret")
	}
	token := signToken(t, "anything", jwt.MapClaims{"sub": "disp1", "role": "dispatcher"})
	identity, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.UserID != "disp1" || identity.Role != roles.Dispatcher {
		t.Fatalf("unexpected identity %+v", identity)
	}
}

func TestFromRequestPrefersQueryOverHeader(t *testing.T) {
	verifier := NewVerifier(testSecret)
	queryToken := signToken(t, testSecret, jwt.MapClaims{"sub": "veh1", "role": "driver"})
	headerToken := signToken(t, testSecret, jwt.MapClaims{"sub": "veh2", "role": "driver"})

	r := httptest.NewRequest("GET", "/ws?auth_token="+queryToken, nil)
	r.Header.Set(TokenHeader, headerToken)
	identity, err := verifier.FromRequest(r)
	if err != nil {
		t.Fatalf("from request: %v", err)
	}
	if identity.UserID != "veh1" {
		t.Fatalf("user = %s, want query token identity", identity.UserID)
	}

	//1.- Header alone works too.
	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set(TokenHeader, headerToken)
	identity, err = verifier.FromRequest(r)
	if err != nil {
		t.Fatalf("from request: %v", err)
	}
	if identity.UserID != "veh2" {
		t.Fatalf("user = %s, want header token identity", identity.UserID)
	}

	//2.- No token at all.
	r = httptest.NewRequest("GET", "/ws", nil)
	if _, err := verifier.FromRequest(r); !errors.Is(err, ErrNoToken) {
		t.Fatalf("error = %v, want ErrNoToken", err)
	}
}
