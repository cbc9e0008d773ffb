// Package oauth implements the SingleKey ID token lifecycle used by the
// POINTTAPI cloud: the login URL, authorization-code exchange with PKCE,
// refresh-token grants and the freshness check that gates them.
//
// The client is the vendor's public mobile app registration, so the PKCE
// verifier, state and nonce are fixed constants. That keeps the login URL
// byte-identical across runs.
package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// Vendor identity constants.
const (
	TokenURL     = "https://singlekey-id.com/auth/connect/token"
	LoginURL     = "https://singlekey-id.com/auth/en-us/login"
	ClientID     = "762162C0-FA2D-4540-AE66-6489F189FADC"
	RedirectURI  = "com.bosch.tt.dashtt.pointt://app/login"
	CodeVerifier = "abcdefghijklmnopqrstuvwxyz0123456789abcdefghijklm"

	authState = "_yUmSV3AjUTXfn6DSZQZ-g"
	authNonce = "5iiIvx5_9goDrYwxxUEorQ"
	styleID   = "tt_bsch"

	authorizeCallbackPath = "/auth/connect/authorize/callback?"
)

// Scopes requested at login and on code exchange.
var Scopes = []string{
	"openid",
	"email",
	"profile",
	"offline_access",
	"pointt.gateway.claiming",
	"pointt.gateway.removal",
	"pointt.gateway.list",
	"pointt.gateway.users",
	"pointt.gateway.resource.dashapp",
	"pointt.castt.flow.token-exchange",
	"bacon",
}

// CodeChallenge returns the PKCE S256 challenge for verifier.
func CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// BuildAuthURL returns the SingleKey ID login page URL. The authorize
// request is nested inside the ReturnUrl parameter, so its query string is
// encoded once on its own and then a second time as a whole.
func BuildAuthURL() string {
	params := []struct{ key, value string }{
		{"redirect_uri", escape(RedirectURI, "")},
		{"client_id", ClientID},
		{"response_type", "code"},
		{"prompt", "login"},
		{"state", authState},
		{"nonce", authNonce},
		{"scope", escape(strings.Join(Scopes, " "), "/")},
		{"code_challenge", CodeChallenge(CodeVerifier)},
		{"code_challenge_method", "S256"},
		{"style_id", styleID},
		{"suppressed_prompt", "login"},
	}

	pairs := make([]string, 0, len(params))
	for _, p := range params {
		pairs = append(pairs, p.key+"="+p.value)
	}

	inner := strings.Join(pairs, "&")

	return LoginURL + "?ReturnUrl=" + escape(authorizeCallbackPath, "") + escape(inner, "/")
}

// escape percent-encodes every byte outside the RFC 3986 unreserved set and
// the extra safe characters. net/url offers no variant that encodes '&' and
// '=' while leaving '/' alone, which the nested ReturnUrl needs.
func escape(s, safe string) string {
	var b strings.Builder
	b.Grow(len(s) * 3)

	for i := range len(s) {
		c := s[i]
		if isUnreserved(c) || strings.IndexByte(safe, c) >= 0 {
			b.WriteByte(c)
			continue
		}

		fmt.Fprintf(&b, "%%%02X", c)
	}

	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	default:
		return false
	}
}

// ExtractCode pulls the authorization code out of the URL the browser was
// redirected to after login. Users paste it by hand, so surrounding
// whitespace is ignored. Reports false when no code is present.
func ExtractCode(callbackURL string) (string, bool) {
	raw := strings.TrimSpace(callbackURL)
	if !strings.Contains(raw, "code=") {
		return "", false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}

	code := u.Query().Get("code")
	if code == "" {
		return "", false
	}

	return code, true
}

// BuildCallbackURL is the inverse of ExtractCode: the redirect URI the
// authorization server would send the browser to for code.
func BuildCallbackURL(code string) string {
	q := url.Values{}
	q.Set("code", code)
	q.Set("state", authState)

	return RedirectURI + "?" + q.Encode()
}
