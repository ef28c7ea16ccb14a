// Package origin implements the browser Origin policy shared by the HTTP
// endpoints and the signaling WebSocket upgrade.
package origin

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates a browser Origin header and returns it as
// scheme://host[:port] with the scheme and host lowercased and default ports
// removed. The opaque origin "null" is returned unchanged.
func Normalize(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	switch s {
	case "":
		return "", false
	case "null":
		return "null", true
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" || u.Opaque != "" {
		return "", false
	}
	if u.User != nil || u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		return "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	host, ok := canonicalHost(u.Host, scheme)
	if !ok {
		return "", false
	}
	return scheme + "://" + host, true
}

// canonicalHost lowercases an authority, brackets IPv6 literals and drops the
// port when it is the scheme's default.
func canonicalHost(authority, scheme string) (string, bool) {
	authority = strings.ToLower(strings.TrimSpace(authority))
	if authority == "" {
		return "", false
	}

	hostname, port := authority, ""
	if h, p, err := net.SplitHostPort(authority); err == nil {
		hostname, port = h, p
		if port == "" {
			return "", false
		}
	} else if strings.HasPrefix(authority, "[") && strings.HasSuffix(authority, "]") {
		hostname = authority[1 : len(authority)-1]
	} else if strings.Contains(authority, ":") {
		// Unbracketed IPv6 literal or an empty port.
		return "", false
	}
	if hostname == "" {
		return "", false
	}

	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		} else {
			port = strconv.FormatUint(n, 10)
		}
	}

	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port == "" {
		return hostname, true
	}
	return hostname + ":" + port, true
}

// Policy decides which browser origins may reach the server.
//
// With no configured origins only same-host requests are allowed: the
// Origin's host[:port] must equal the request Host. The scheme is not compared
// so a TLS-terminating reverse proxy in front of the server still works.
type Policy struct {
	any     bool
	allowed map[string]struct{}
}

// NewPolicy builds a Policy from a list of origins. "*" allows every origin;
// every other entry must already be a normalized origin.
func NewPolicy(allowedOrigins []string) (*Policy, error) {
	p := &Policy{allowed: make(map[string]struct{}, len(allowedOrigins))}
	for _, o := range allowedOrigins {
		if o == "*" {
			p.any = true
			continue
		}
		n, ok := Normalize(o)
		if !ok || n == "null" {
			return nil, fmt.Errorf("invalid origin %q", o)
		}
		if n != o {
			return nil, fmt.Errorf("origin %q must be normalized as %q", o, n)
		}
		p.allowed[n] = struct{}{}
	}
	return p, nil
}

// Allowed reports whether a request carrying originHeader for requestHost is
// permitted. It returns the normalized origin for use in CORS headers.
func (p *Policy) Allowed(originHeader, requestHost string) (string, bool) {
	normalized, ok := Normalize(originHeader)
	if !ok {
		return "", false
	}
	if p != nil && (p.any || len(p.allowed) > 0) {
		if p.any {
			return normalized, true
		}
		_, ok := p.allowed[normalized]
		return normalized, ok
	}

	scheme, rest, found := strings.Cut(normalized, "://")
	if !found {
		// "null" cannot match a host-based request.
		return normalized, false
	}
	reqHost, ok := canonicalHost(requestHost, scheme)
	if !ok {
		return normalized, false
	}
	return normalized, rest == reqHost
}

// CheckRequest applies the policy to r. Requests without an Origin header come
// from non-browser clients and are allowed.
func (p *Policy) CheckRequest(r *http.Request) bool {
	h := r.Header.Get("Origin")
	if strings.TrimSpace(h) == "" {
		return true
	}
	_, ok := p.Allowed(h, r.Host)
	return ok
}
