package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultRefreshMargin is how long before expiry a token is already
// treated as stale.
const DefaultRefreshMargin = 300 * time.Second

// defaultExpiresIn applies when the token endpoint omits expires_in.
const defaultExpiresIn = 3600 * time.Second

// Token is the persisted credential triple. ExpiresAt is an RFC 3339
// timestamp kept as text so a corrupted value can be detected and treated
// as expired instead of failing to load.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
}

// TokenStore is the persisted configuration entry that owns the token.
type TokenStore interface {
	Token() Token
	SaveToken(tok Token) error
}

// TokenLocker is implemented by stores shared between processes. The
// returned func releases the lock.
type TokenLocker interface {
	LockToken(ctx context.Context) (func(), error)
}

// IsExpired reports whether expiresAt is within margin of now. Missing or
// malformed timestamps count as expired.
func IsExpired(expiresAt string, margin time.Duration) bool {
	return isExpiredAt(expiresAt, margin, time.Now())
}

func isExpiredAt(expiresAt string, margin time.Duration, now time.Time) bool {
	exp, ok := parseExpiry(expiresAt)
	if !ok {
		return true
	}

	return !now.Before(exp.Add(-margin))
}

// parseExpiry accepts RFC 3339 and zone-less ISO timestamps (read as UTC).
func parseExpiry(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}

	if t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC); err == nil {
		return t, true
	}

	return time.Time{}, false
}

// Manager talks to the SingleKey ID token endpoint.
type Manager struct {
	cfg           *oauth2.Config
	httpClient    *http.Client
	refreshClient *http.Client // httpClient plus the scope on refresh grants
	margin        time.Duration
	logger        *slog.Logger

	// nowFunc is the clock. Tests pin it.
	nowFunc func() time.Time
}

// NewManager returns a Manager for tokenURL. An empty tokenURL selects the
// production endpoint; a negative margin selects DefaultRefreshMargin.
func NewManager(tokenURL string, httpClient *http.Client, margin time.Duration, logger *slog.Logger) *Manager {
	if tokenURL == "" {
		tokenURL = TokenURL
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if margin < 0 {
		margin = DefaultRefreshMargin
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg: &oauth2.Config{
			ClientID:    ClientID,
			RedirectURL: RedirectURI,
			Scopes:      Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  LoginURL,
				TokenURL: tokenURL,
				// Public client: client_id goes in the form body, never Basic auth.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient:    httpClient,
		refreshClient: withRefreshScope(httpClient, strings.Join(Scopes, " ")),
		margin:        margin,
		logger:        logger,
		nowFunc:       time.Now,
	}
}

// Margin returns the freshness margin used by EnsureValid.
func (m *Manager) Margin() time.Duration {
	return m.margin
}

// Exchange trades an authorization code for a token pair. The request
// carries the PKCE code_verifier.
func (m *Manager) Exchange(ctx context.Context, code string) (Token, error) {
	m.logger.Info("exchanging authorization code for tokens")

	tok, err := m.cfg.Exchange(m.clientContext(ctx), code,
		oauth2.VerifierOption(CodeVerifier),
		oauth2.SetAuthURLParam("scope", strings.Join(Scopes, " ")),
	)
	if err != nil {
		return Token{}, m.classify("exchange", err, msgExchangeFailed, ErrExchangeRejected, msgExchangeIncomplete)
	}

	if tok.AccessToken == "" || tok.RefreshToken == "" {
		m.logger.Warn("token response missing access_token or refresh_token")

		return Token{}, &AuthError{Op: "exchange", Message: msgExchangeIncomplete, Kind: ErrIncompleteResponse}
	}

	out := m.toToken(tok)
	m.logger.Info("token exchange successful", slog.String("expires_at", out.ExpiresAt))

	return out, nil
}

// Refresh obtains a new access token from refreshToken. The request carries
// the scope list like the exchange does, but never a code_verifier. When the server does not rotate the refresh
// token, the supplied one is kept.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	m.logger.Debug("refreshing access token")

	// A token with no access token makes the source go straight to the
	// refresh grant.
	rctx := context.WithValue(ctx, oauth2.HTTPClient, m.refreshClient)
	src := m.cfg.TokenSource(rctx, &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		return Token{}, m.classify("refresh", err, msgRefreshFailed, ErrRefreshRejected, msgRefreshInvalid)
	}

	out := m.toToken(tok)
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}

	m.logger.Info("access token refreshed", slog.String("expires_at", out.ExpiresAt))

	return out, nil
}

// EnsureValid returns an access token that is good for at least the
// refresh margin. The fast path makes no network call. Otherwise the token
// is refreshed and written back to store before it is returned.
func (m *Manager) EnsureValid(ctx context.Context, store TokenStore) (string, error) {
	cur := store.Token()
	if cur.RefreshToken == "" {
		return "", &AuthError{Op: "ensure_valid", Message: msgNoRefreshToken, Kind: ErrMissingRefreshToken}
	}

	if cur.AccessToken != "" && !isExpiredAt(cur.ExpiresAt, m.margin, m.nowFunc()) {
		return cur.AccessToken, nil
	}

	m.logger.Info("access token stale, refreshing", slog.String("expires_at", cur.ExpiresAt))

	next, err := m.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		return "", err
	}

	if err := store.SaveToken(next); err != nil {
		return "", fmt.Errorf("oauth: persisting refreshed token: %w", err)
	}

	return next.AccessToken, nil
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

func (m *Manager) toToken(tok *oauth2.Token) Token {
	return Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    m.nowFunc().Add(expiresIn(tok)).UTC().Format(time.RFC3339),
	}
}

// expiresIn reads the raw expires_in field so the expiry is computed
// against the manager's clock.
func expiresIn(tok *oauth2.Token) time.Duration {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case int64:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}

	return defaultExpiresIn
}

// classify turns an oauth2 error into the package taxonomy:
//   - endpoint rejected the grant: AuthError with the rejection message;
//     400/401 on refresh means the refresh token itself is dead
//   - transport failure: plain wrapped error, not an auth failure
//   - anything else (unparsable or incomplete body): AuthError, incomplete
func (m *Manager) classify(op string, err error, rejectedMsg string, rejectedKind error, incompleteMsg string) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}

		m.logger.Warn("token endpoint rejected request",
			slog.String("op", op),
			slog.Int("status", status),
			slog.String("error_code", rErr.ErrorCode),
		)

		if op == "refresh" && (status == http.StatusBadRequest || status == http.StatusUnauthorized) {
			return &AuthError{Op: op, StatusCode: status, Message: msgRefreshRevoked, Kind: ErrReauthRequired, Cause: err}
		}

		return &AuthError{Op: op, StatusCode: status, Message: rejectedMsg, Kind: rejectedKind, Cause: err}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("oauth: %s request: %w", op, err)
	}

	m.logger.Warn("token endpoint returned an unusable response", slog.String("op", op))

	return &AuthError{Op: op, Message: incompleteMsg, Kind: ErrIncompleteResponse, Cause: err}
}
