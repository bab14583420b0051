package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestAllowlist(t *testing.T) {
	a := NewAllowlist([]string{"Alice", " bob ", ""})
	assert.True(t, a.Allowed("alice"))
	assert.True(t, a.Allowed("ALICE"))
	assert.True(t, a.Allowed("bob"))
	assert.False(t, a.Allowed("carol"))
	assert.False(t, a.Allowed(""))

	assert.False(t, NewAllowlist(nil).Allowed("alice"))
}

func TestGitHubProvider_AuthCodeURL(t *testing.T) {
	p := NewGitHubProvider("client-id", "secret", "https://admin.example.com/api/auth/callback")

	u, err := url.Parse(p.AuthCodeURL("state-123"))
	require.NoError(t, err)
	assert.Equal(t, "github.com", u.Host)
	assert.Equal(t, "state-123", u.Query().Get("state"))
	assert.Equal(t, "client-id", u.Query().Get("client_id"))
}

func TestGitHubProvider_Exchange(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"gho_test","token_type":"bearer"}`)
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer gho_test", r.Header.Get("Authorization"))
		io.WriteString(w, `{"id": 1234, "login": "Alice", "name": "Alice A", "email": "alice@example.com"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewGitHubProvider("id", "secret", "http://localhost/cb")
	p.oauth.Endpoint = oauth2.Endpoint{
		AuthURL:  srv.URL + "/login/oauth/authorize",
		TokenURL: srv.URL + "/login/oauth/access_token",
	}
	p.userURL = srv.URL + "/user"

	id, err := p.Exchange(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "1234", id.UserID)
	assert.Equal(t, "alice", id.Username)
	assert.Equal(t, "alice@example.com", id.Email)
}
