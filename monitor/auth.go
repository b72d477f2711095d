// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package monitor

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

type contextKey struct{}

// subjectKey holds the authenticated subject of a request. The value is
// always a string.
var subjectKey contextKey

// Subject returns the authenticated subject of r, if any.
func Subject(r *http.Request) string {
	if s, ok := r.Context().Value(subjectKey).(string); ok {
		return s
	}
	return ""
}

// keySource holds the JWKS used to verify tokens. Keys come from a local
// file or a URL; the URL is refetched when a token names an unknown key.
type keySource struct {
	file string
	url  string

	mu          sync.RWMutex
	keys        jwk.Set
	lastRefresh time.Time
}

func (ks *keySource) enabled() bool {
	return ks.file != "" || ks.url != ""
}

func (ks *keySource) refresh() error {
	var (
		set jwk.Set
		err error
	)
	if ks.file != "" {
		set, err = jwk.ReadFile(ks.file)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		set, err = jwk.Fetch(ctx, ks.url)
	}
	if err != nil {
		return fmt.Errorf("failed to load JWKS: %w", err)
	}
	ks.mu.Lock()
	ks.keys = set
	ks.lastRefresh = time.Now()
	ks.mu.Unlock()
	return nil
}

func (ks *keySource) find(kid string) (any, error) {
	ks.mu.RLock()
	set := ks.keys
	ks.mu.RUnlock()
	if set == nil {
		return nil, fmt.Errorf("JWKS not initialized")
	}
	key, ok := set.LookupKeyID(kid)
	if !ok {
		return nil, fmt.Errorf("key %s not found in JWKS", kid)
	}
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("failed to materialize key: %w", err)
	}
	return raw, nil
}

func (ks *keySource) keyFunc(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA, *jwt.SigningMethodEd25519:
	default:
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("token missing 'kid' header")
	}
	key, err := ks.find(kid)
	if err == nil {
		return key, nil
	}
	ks.mu.RLock()
	stale := time.Since(ks.lastRefresh) > time.Minute
	ks.mu.RUnlock()
	if ks.url == "" || !stale {
		return nil, err
	}
	if err := ks.refresh(); err != nil {
		log.Printf("Error refreshing JWKS: %v", err)
		return nil, err
	}
	return ks.find(kid)
}

func bearerToken(r *http.Request, cookieName string) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if q := r.URL.Query().Get("access_token"); q != "" {
		return q
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}

// requireAuth rejects requests without a valid token. It is a pass-through
// when no key source is configured.
func (m *Monitor) requireAuth(next http.Handler) http.Handler {
	if !m.keys.enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r, m.opts.CookieName)
		if tokenString == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		token, err := jwt.Parse(tokenString, m.keys.keyFunc, jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			if m.opts.Debug {
				log.Printf("JWT validation failed: %v", err)
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		sub, _ := token.Claims.GetSubject()
		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if email, ok := claims["email"].(string); ok && email != "" {
				sub = strings.ToLower(strings.TrimSpace(email))
			}
		}
		ctx := context.WithValue(r.Context(), subjectKey, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
