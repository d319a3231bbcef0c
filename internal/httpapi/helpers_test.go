package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ragefit/pos/internal/domain"
	"ragefit/pos/internal/events"
	"ragefit/pos/internal/inventory"
	"ragefit/pos/internal/service"
	"ragefit/pos/internal/store"
	"ragefit/pos/internal/store/memory"
)

// newTestAPI builds a full API over a seeded in-memory store so handler
// tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	bus := events.NewBus(zerolog.Nop())
	repo := store.Notifying(memory.NewSeeded(), bus)
	engine := service.New(repo, inventory.NewLedger(repo.Inventory()), service.Options{
		Branding: domain.Branding{BusinessName: "RageFit Gym"},
		Logger:   zerolog.Nop(),
	})
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", repo.Users(), zerolog.Nop())

	api := New(engine, auth, Options{AllowedOrigin: "*", Bus: bus, Logger: zerolog.Nop()})
	t.Cleanup(func() { _ = api.Close() })
	return api
}

// fetchCSRFToken calls the CSRF token endpoint and returns the token string.
func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response failed: %v", err)
	}
	if strings.TrimSpace(payload["csrf_token"]) == "" {
		t.Fatalf("expected non-empty csrf_token in response")
	}
	return payload["csrf_token"]
}

func login(t *testing.T, api *API, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d (body: %s)", username, res.Code, res.Body.String())
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}

// client issues authenticated requests with a CSRF token.
type client struct {
	t     *testing.T
	api   *API
	token string
	csrf  string
}

func newClient(t *testing.T, api *API, username, password string) *client {
	t.Helper()
	return &client{t: t, api: api, token: login(t, api, username, password), csrf: fetchCSRFToken(t, api)}
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-CSRF-Token", c.csrf)
	res := httptest.NewRecorder()
	c.api.Handler().ServeHTTP(res, req)
	return res
}

func (c *client) expect(method, path string, body any, status int, out any) {
	c.t.Helper()
	res := c.do(method, path, body)
	if res.Code != status {
		c.t.Fatalf("%s %s: expected %d, got %d (body: %s)", method, path, status, res.Code, res.Body.String())
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			c.t.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
}
