// Package testutil provides shared test doubles: a mock Twitch Helix server.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/trackid/twitchapi"
)

// MockTwitchServer mocks the Helix endpoints and the app token endpoint.
type MockTwitchServer struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	hits     map[string]int
}

// NewMockTwitchServer starts a server that answers 404 until handlers are registered.
// A token handler is installed by default.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{handlers: map[string]http.HandlerFunc{}, hits: map[string]int{}}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.hits[r.URL.Path]++
		handler, ok := m.handlers[r.URL.Path]
		m.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(m.Close)
	m.MockOAuthTokenResponse("mock-app-token", 3600)
	return m
}

// Handle registers h for path.
func (m *MockTwitchServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = h
}

// Hits returns how many requests reached path.
func (m *MockTwitchServer) Hits(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[path]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUserResponse answers /helix/users with a single user.
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handle("/helix/users", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"data": []map[string]string{{"id": userID, "login": login}}})
	})
}

// SetLive makes /helix/streams report login live since startedAt, or offline when live is false.
func (m *MockTwitchServer) SetLive(login string, live bool, startedAt time.Time) {
	m.Handle("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		data := []map[string]any{}
		if live && r.URL.Query().Get("user_login") == login {
			data = append(data, map[string]any{
				"id":         "1",
				"user_login": login,
				"title":      "live set",
				"started_at": startedAt.UTC().Format(time.RFC3339),
			})
		}
		writeJSON(w, map[string]any{"data": data})
	})
}

// MockOAuthTokenResponse answers the client-credentials token endpoint.
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handle("/oauth2/token", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"access_token": accessToken, "expires_in": expiresIn, "token_type": "bearer"})
	})
}

// HelixClient returns a client whose requests, token requests included, go to the mock.
func (m *MockTwitchServer) HelixClient() *twitchapi.HelixClient {
	hc := &http.Client{Transport: &rewriteTransport{host: m.Listener.Addr().String()}}
	return &twitchapi.HelixClient{
		AppTokenSource: &twitchapi.TokenSource{ClientID: "test-client", ClientSecret: "test-secret", HTTPClient: hc},
		ClientID:       "test-client",
		HTTPClient:     hc,
		Backoff:        time.Millisecond,
	}
}

type rewriteTransport struct {
	host string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = "http"
	r.URL.Host = t.host
	return http.DefaultTransport.RoundTrip(r)
}
