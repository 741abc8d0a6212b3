package middleware

import (
	"bufio"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"

	"github.com/buildforge/buildforge/pkg/composables"
)

// TokenAuthenticator resolves bearer tokens to user logins. Session
// management lives outside this service; this is the minimal identity
// layer the command surface needs to reject anonymous mutation.
type TokenAuthenticator struct {
	tokens map[string]string
}

// LoadTokens reads "token login" pairs, one per line, '#' comments allowed.
func LoadTokens(path string) (*TokenAuthenticator, error) {
	tokens := make(map[string]string)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &TokenAuthenticator{tokens: tokens}, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		tokens[fields[0]] = fields[1]
	}
	return &TokenAuthenticator{tokens: tokens}, scanner.Err()
}

func NewTokenAuthenticator(tokens map[string]string) *TokenAuthenticator {
	return &TokenAuthenticator{tokens: tokens}
}

// ProvideUser attaches the authenticated actor to the context when a valid
// token is presented. Requests without credentials pass through anonymous;
// controllers decide which operations require identity.
func (a *TokenAuthenticator) ProvideUser() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if token, ok := strings.CutPrefix(header, "Bearer "); ok {
				if login, found := a.tokens[token]; found {
					ctx := composables.WithUser(r.Context(), composables.Actor{Login: login})
					r = r.WithContext(ctx)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
