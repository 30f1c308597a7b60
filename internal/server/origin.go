package server

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// originPolicy is the browser-origin allow-list of the WebSocket handshake.
// It is consulted before the bearer token is read, so a page on a foreign
// origin learns nothing about whether a credential it holds is valid.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

// newOriginPolicy builds a policy from configured origins and returns it with
// the normalized list. "*" allows any well-formed origin; invalid entries are
// logged and skipped.
func newOriginPolicy(origins []string) (originPolicy, []string) {
	policy := originPolicy{allowed: make(map[string]struct{}, len(origins))}
	normalized := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		switch {
		case trimmed == "":
			continue
		case trimmed == "*":
			policy.allowAll = true
			continue
		}

		canonical, ok := canonicalOrigin(trimmed)
		if !ok {
			zap.L().Warn("ignoring invalid origin in configuration", zap.String("origin", origin))
			continue
		}
		if _, dup := policy.allowed[canonical]; dup {
			continue
		}
		policy.allowed[canonical] = struct{}{}
		normalized = append(normalized, canonical)
	}

	return policy, normalized
}

// canonicalOrigin lower-cases scheme and host, keeping an explicit port.
func canonicalOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// allows reports whether a handshake carrying the Origin header value may
// proceed, and a short reason when it may not.
func (p originPolicy) allows(header string) (bool, string) {
	if header == "" {
		return false, "missing origin"
	}
	canonical, ok := canonicalOrigin(header)
	if !ok {
		return false, "malformed origin"
	}
	if p.allowAll {
		return true, ""
	}
	if _, ok := p.allowed[canonical]; !ok {
		return false, "origin not allowed"
	}
	return true, ""
}

// checkOrigin is the upgrader's CheckOrigin and the first gate of the
// authenticated handshake. A request without an Origin header is rejected.
func checkOrigin(r *http.Request) bool {
	configMu.RLock()
	policy := activeOrigins
	configMu.RUnlock()

	origin := r.Header.Get("Origin")
	ok, reason := policy.allows(origin)
	if !ok {
		zap.L().Warn("blocked websocket handshake",
			zap.String("reason", reason),
			zap.String("origin", origin),
			zap.String("remote_addr", r.RemoteAddr),
		)
	}
	return ok
}
