// Package auth carries the authenticated caller through a request.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Context identifies the caller of an admin or outgoing request
type Context struct {
	UserID  int64
	IsAdmin bool
}

type contextKey struct{}

// WithContext returns a copy of ctx carrying ac
func WithContext(ctx context.Context, ac Context) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

// FromContext returns the caller stored in ctx, if any
func FromContext(ctx context.Context) (Context, bool) {
	ac, ok := ctx.Value(contextKey{}).(Context)
	return ac, ok
}

// TokenResolver maps a bearer token to a caller
type TokenResolver interface {
	Resolve(token string) (Context, bool)
}

type staticEntry struct {
	token string
	ctx   Context
}

// StaticTokens resolves a fixed set of tokens
type StaticTokens struct {
	entries []staticEntry
}

// ParseStaticTokens reads a comma separated list of "token:userID[:admin]"
func ParseStaticTokens(list string) (*StaticTokens, error) {
	st := &StaticTokens{}
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		parts := strings.Split(item, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
			return nil, fmt.Errorf("invalid auth token entry %q", item)
		}

		userID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || userID <= 0 {
			return nil, fmt.Errorf("invalid user id in auth token entry %q", item)
		}

		ac := Context{UserID: userID}
		if len(parts) == 3 {
			if parts[2] != "admin" {
				return nil, fmt.Errorf("invalid role in auth token entry %q", item)
			}
			ac.IsAdmin = true
		}

		st.entries = append(st.entries, staticEntry{token: parts[0], ctx: ac})
	}
	return st, nil
}

// Resolve compares against every entry in constant time
func (s *StaticTokens) Resolve(token string) (Context, bool) {
	var (
		found Context
		ok    bool
	)
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare([]byte(e.token), []byte(token)) == 1 {
			found, ok = e.ctx, true
		}
	}
	return found, ok
}

// Len returns the number of configured tokens
func (s *StaticTokens) Len() int {
	return len(s.entries)
}

// Middleware attaches the caller named by an "Authorization: Bearer" header.
// Unknown or missing tokens leave the request anonymous.
func Middleware(resolver TokenResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			if ac, found := resolver.Resolve(token); found {
				r = r.WithContext(WithContext(r.Context(), ac))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireUser rejects anonymous requests with 401
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="ldninbox"`)
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Authentication required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}
