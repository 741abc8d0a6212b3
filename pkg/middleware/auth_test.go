package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildforge/buildforge/pkg/composables"
)

func loginFromRequest(t *testing.T, auth *TokenAuthenticator, header string) (string, bool) {
	t.Helper()
	var login string
	var found bool
	handler := auth.ProvideUser()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := composables.UseUser(r.Context())
		if err == nil {
			login = actor.Login
			found = true
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return login, found
}

func TestProvideUser(t *testing.T) {
	auth := NewTokenAuthenticator(map[string]string{"secret": "alice"})

	login, found := loginFromRequest(t, auth, "Bearer secret")
	assert.True(t, found)
	assert.Equal(t, "alice", login)

	_, found = loginFromRequest(t, auth, "Bearer wrong")
	assert.False(t, found, "unknown tokens stay anonymous")

	_, found = loginFromRequest(t, auth, "")
	assert.False(t, found, "missing header stays anonymous")

	_, found = loginFromRequest(t, auth, "Basic secret")
	assert.False(t, found, "only bearer tokens are honored")
}

func TestLoadTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens")
	content := "# comment\n\nsecret alice\nmalformed-line\nother bob\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	auth, err := LoadTokens(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"secret": "alice", "other": "bob"}, auth.tokens)
}

func TestLoadTokensMissingFile(t *testing.T) {
	auth, err := LoadTokens(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, auth.tokens)
}
