package proxyserver

import (
	"bytes"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// hopByHopHeaders are never copied between client and upstream, per RFC
// 7230 §6.1. credentialHeaders are additionally stripped on the outbound
// leg so the shard never learns the caller's credentials (spec.md §4.5
// step 5).
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

var credentialHeaders = map[string]bool{
	"X-Api-Key":     true,
	"Authorization": true,
}

// buildOutbound constructs the request to forward to targetBaseURL,
// preserving method/path/query/body and rewriting Host, while stripping
// hop-by-hop and credential headers.
func buildOutbound(r *http.Request, body []byte, targetBaseURL string) (*http.Request, error) {
	base, err := url.Parse(targetBaseURL)
	if err != nil {
		return nil, err
	}
	target := *base
	target.Path = singleJoiningSlash(base.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	for name, values := range r.Header {
		canonical := http.CanonicalHeaderKey(name)
		if hopByHopHeaders[canonical] || credentialHeaders[canonical] {
			continue
		}
		for _, v := range values {
			out.Header.Add(name, v)
		}
	}
	out.Host = base.Host
	return out, nil
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

// copyResponseHeaders copies upstream response headers to w, skipping
// hop-by-hop headers, per spec.md §4.5 step 5.
func copyResponseHeaders(w http.ResponseWriter, resp *http.Response) {
	for name, values := range resp.Header {
		if hopByHopHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
}

func shardIDHeader(id int32) string {
	return strconv.FormatInt(int64(id), 10)
}
