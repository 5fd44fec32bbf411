// Package router selects the Location for a request URI by longest
// matching prefix, per spec section 4.3.
package router

import (
	"strings"

	"github.com/webserv/webserv/internal/config"
)

// Match selects the Location whose prefix is the longest normalized
// match for uri among srv's Locations. Returns nil, "" if none match.
// The second return value is the *original* (non-normalized) prefix, so
// callers can strip it when building filesystem paths.
func Match(srv *config.Server, uri string) (*config.Location, string) {
	var best *config.Location
	var bestPrefix string
	bestLen := -1

	normalizedURI := normalize(uri)

	for prefix, loc := range srv.Locations {
		normalizedPrefix := normalize(prefix)
		if !strings.HasPrefix(normalizedURI, normalizedPrefix) {
			continue
		}
		if len(normalizedPrefix) > bestLen {
			bestLen = len(normalizedPrefix)
			best = loc
			bestPrefix = prefix
		}
	}
	return best, bestPrefix
}

// normalize strips a trailing slash from p, except the root "/" itself,
// so that prefix matching treats "/foo" and "/foo/" identically (spec
// section 4.3).
func normalize(p string) string {
	if p == "/" {
		return p
	}
	return strings.TrimSuffix(p, "/")
}

// implementedMethods is the set of HTTP methods this project implements
// at all (spec section 4.3's "one of {GET, HEAD, POST, DELETE} but not
// in this project's implemented set -> 501").
var implementedMethods = map[string]bool{
	"GET":    true,
	"HEAD":   true,
	"POST":   true,
	"DELETE": true,
}

// MethodOutcome classifies whether method is allowed on loc.
type MethodOutcome int

const (
	MethodAllowed MethodOutcome = iota
	MethodNotAllowed                 // loc restricts methods and method isn't one of them -> 405
	MethodNotImplemented             // method isn't implemented by this project at all -> 501
)

// CheckMethod implements spec section 4.3's method check. The 405 check
// runs first: a Location that restricts its methods should reject a
// disallowed one with 405 (and an Allow: header) even when that method
// isn't implemented by this project at all, rather than masking it behind
// a 501.
func CheckMethod(loc *config.Location, method string) MethodOutcome {
	if loc != nil && !loc.AllowsMethod(method) {
		return MethodNotAllowed
	}
	if !implementedMethods[method] {
		return MethodNotImplemented
	}
	return MethodAllowed
}
