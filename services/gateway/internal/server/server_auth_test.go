package server

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"

	"messageai/internal/usertoken"
	"messageai/pkg/domain"
	"messageai/services/gateway/internal/authclient"
)

func TestAuthenticatedRouteRequiresValidTokenAndAuthoritativeUser(t *testing.T) {
	verifier, signer := newJWKSVerifier(t)
	validToken := mustSignUserToken(t, signer, "user-1")
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate invalid key: %v", err)
	}
	invalidToken := mustSignUserToken(t, otherKey, "user-1")

	var meCalls int32
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/me" {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(&meCalls, 1)
		authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
		if authHeader != "Bearer "+validToken {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		_ = json.NewEncoder(w).Encode(domain.User{
			ID:          "user-1",
			Email:       "u@example.com",
			DisplayName: "U",
			Role:        domain.RoleUser,
		})
	}))
	defer authSrv.Close()
	redis := miniredis.RunT(t)

	gw, err := New(Config{
		Auth:          authclient.NewClient(authSrv.URL),
		TokenVerifier: verifier,
		RedisAddr:     redis.Addr(),
	})
	if err != nil {
		t.Fatalf("new gateway server: %v", err)
	}
	gwSrv := httptest.NewServer(gw.Router())
	defer gwSrv.Close()

	// 1) Missing token.
	resp, err := http.Get(gwSrv.URL + "/api/users/me")
	if err != nil {
		t.Fatalf("request missing token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token expected 401, got %d", resp.StatusCode)
	}

	// 2) Invalid signature token should be blocked before auth/me.
	req, _ := http.NewRequest(http.MethodGet, gwSrv.URL+"/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+invalidToken)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request invalid token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("invalid token expected 401, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&meCalls); got != 0 {
		t.Fatalf("auth/me should not be called for invalid signature token, got %d calls", got)
	}

	// 3) Valid token passes; the middleware makes one authoritative call and
	// the handler a second one to serve the profile.
	req, _ = http.NewRequest(http.MethodGet, gwSrv.URL+"/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+validToken)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request valid token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid token expected 200, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&meCalls); got == 0 {
		t.Fatal("expected auth/me to be consulted for GET /api/users/me")
	}
}

func TestProxiedRouteVerifiesTokenBeforeForwarding(t *testing.T) {
	verifier, signer := newJWKSVerifier(t)
	token := mustSignUserToken(t, signer, "user-1")

	var upstreamCalls int32
	conversationSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&upstreamCalls, 1)
		if r.URL.Path != "/chats" {
			t.Errorf("upstream path = %q, want /chats", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []any{}, "count": 0})
	}))
	defer conversationSrv.Close()
	redis := miniredis.RunT(t)

	gw, err := New(Config{
		Auth:            authclient.NewClient("http://unused"),
		ConversationURL: conversationSrv.URL,
		TokenVerifier:   verifier,
		RedisAddr:       redis.Addr(),
	})
	if err != nil {
		t.Fatalf("new gateway server: %v", err)
	}
	gwSrv := httptest.NewServer(gw.Router())
	defer gwSrv.Close()

	// no token: rejected before the upstream sees anything
	resp, err := http.Get(gwSrv.URL + "/api/chats")
	if err != nil {
		t.Fatalf("request without token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&upstreamCalls); got != 0 {
		t.Fatalf("upstream must not be reached without a token, got %d calls", got)
	}

	req, _ := http.NewRequest(http.MethodGet, gwSrv.URL+"/api/chats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&upstreamCalls); got != 1 {
		t.Fatalf("expected one upstream call, got %d", got)
	}
}

func newJWKSVerifier(t *testing.T) (*usertoken.Verifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{
				{
					"kty": "RSA",
					"kid": "kid-1",
					"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
				},
			},
		})
	}))
	t.Cleanup(jwksServer.Close)

	verifier, err := usertoken.NewVerifier(usertoken.Config{JWKSURL: jwksServer.URL})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return verifier, key
}

func mustSignUserToken(t *testing.T, key *rsa.PrivateKey, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "messageai-auth",
		Audience:  jwt.ClaimStrings{"messageai-api"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Second)),
	})
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
