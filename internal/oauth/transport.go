package oauth

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
)

// scopeTransport adds scope to refresh_token grants. oauth2's refresh path
// posts only grant_type and refresh_token and has no hook for extra form
// values.
type scopeTransport struct {
	base  http.RoundTripper
	scope string
}

func (t *scopeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	if req.Method != http.MethodPost || req.Body == nil {
		return base.RoundTrip(req)
	}

	body, err := io.ReadAll(req.Body)
	req.Body.Close()

	if err != nil {
		return nil, err
	}

	form, err := url.ParseQuery(string(body))
	if err == nil && form.Get("grant_type") == "refresh_token" && !form.Has("scope") {
		form.Set("scope", t.scope)
		body = []byte(form.Encode())
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	return base.RoundTrip(out)
}

// withRefreshScope returns a copy of c whose refresh grants carry scope.
func withRefreshScope(c *http.Client, scope string) *http.Client {
	out := *c
	out.Transport = &scopeTransport{base: c.Transport, scope: scope}

	return &out
}
