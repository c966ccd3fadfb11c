package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"messageai/pkg/domain"
	"messageai/services/gateway/internal/authclient"
)

func newCookieFixture(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	seen := &[]string{}
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := domain.User{ID: "u-1", Email: "u@example.com", DisplayName: "U", Role: domain.RoleUser}
		switch r.URL.Path {
		case "/auth/login":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"token": "at-1", "refreshToken": "rt-1", "user": user,
			})
		case "/auth/refresh":
			var req struct {
				RefreshToken string `json:"refreshToken"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			*seen = append(*seen, req.RefreshToken)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"token": "at-2", "refreshToken": "rt-2", "user": user,
			})
		case "/auth/logout":
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(authSrv.Close)
	return authSrv, seen
}

func refreshCookieFrom(t *testing.T, resp *http.Response, name string) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLoginSetsRefreshCookieAndRefreshReadsIt(t *testing.T) {
	authSrv, seen := newCookieFixture(t)
	redis := miniredis.RunT(t)

	gw, err := New(Config{
		Auth:      authclient.NewClient(authSrv.URL),
		RedisAddr: redis.Addr(),
	})
	if err != nil {
		t.Fatalf("new gateway server: %v", err)
	}
	gwSrv := httptest.NewServer(gw.Router())
	defer gwSrv.Close()

	body := []byte(`{"email":"u@example.com","password":"pass"}`)
	resp, err := http.Post(gwSrv.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	resp.Body.Close()
	cookie := refreshCookieFrom(t, resp, "messageai_refresh")
	if cookie == nil {
		t.Fatal("login response missing refresh cookie")
	}
	if cookie.Value != "rt-1" {
		t.Fatalf("cookie value = %q, want rt-1", cookie.Value)
	}
	if !cookie.HttpOnly {
		t.Fatal("refresh cookie must be HttpOnly")
	}
	if cookie.Path != "/api/auth" {
		t.Fatalf("cookie path = %q, want /api/auth", cookie.Path)
	}

	// refresh with an empty body falls back to the cookie
	req, _ := http.NewRequest(http.MethodPost, gwSrv.URL+"/api/auth/refresh", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200", resp.StatusCode)
	}
	if len(*seen) != 1 || (*seen)[0] != "rt-1" {
		t.Fatalf("upstream saw refresh tokens %v, want [rt-1]", *seen)
	}
	rotated := refreshCookieFrom(t, resp, "messageai_refresh")
	if rotated == nil || rotated.Value != "rt-2" {
		t.Fatalf("refresh must rotate the cookie, got %+v", rotated)
	}

	// no body and no cookie is a 400
	resp, err = http.Post(gwSrv.URL+"/api/auth/refresh", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("refresh without cookie: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("refresh without token status = %d, want 400", resp.StatusCode)
	}
}

func TestLogoutClearsRefreshCookie(t *testing.T) {
	authSrv, _ := newCookieFixture(t)
	redis := miniredis.RunT(t)

	gw, err := New(Config{
		Auth:      authclient.NewClient(authSrv.URL),
		RedisAddr: redis.Addr(),
	})
	if err != nil {
		t.Fatalf("new gateway server: %v", err)
	}
	gwSrv := httptest.NewServer(gw.Router())
	defer gwSrv.Close()

	req, _ := http.NewRequest(http.MethodPost, gwSrv.URL+"/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer at-1")
	req.AddCookie(&http.Cookie{Name: "messageai_refresh", Value: "rt-1"})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d, want 204", resp.StatusCode)
	}
	cleared := refreshCookieFrom(t, resp, "messageai_refresh")
	if cleared == nil {
		t.Fatal("logout must clear the refresh cookie")
	}
	if cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Fatalf("cookie not expired: value=%q maxAge=%d", cleared.Value, cleared.MaxAge)
	}
}
