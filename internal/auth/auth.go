// Package auth manages the venue access token lifecycle.
//
// The venue issues day-scoped access tokens. On startup the manager walks a
// ladder: load the stored token and probe it; if the probe fails, refresh
// with the stored refresh token; if that fails too, surface
// ErrInteractiveLogin so the operator can run the login command. Tokens are
// persisted to disk with an atomic write so a crash never leaves a torn
// token file.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"intradesk/pkg/types"
)

// ErrInteractiveLogin means neither the stored token nor the refresh token
// is usable; an operator must complete the interactive login flow.
var ErrInteractiveLogin = errors.New("auth: interactive login required")

// Token is the persisted credential set.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is past (or within a minute of)
// its expiry.
func (t Token) Expired(now time.Time) bool {
	if t.AccessToken == "" {
		return true
	}
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt.Add(-time.Minute))
}

// Config holds the auth endpoints and storage location.
type Config struct {
	BaseURL   string // venue auth API base
	ClientID  string
	SecretKey string
	TokenPath string // where the token JSON lives on disk
}

// defaultProbeTTL is how long a successful profile probe vouches for the
// token before AccessToken re-validates against the venue.
const defaultProbeTTL = 10 * time.Minute

// Manager owns the current token and serializes refreshes: concurrent
// callers hitting an expired token trigger exactly one refresh.
type Manager struct {
	cfg      Config
	http     *resty.Client
	logger   *slog.Logger
	now      func() time.Time
	probeTTL time.Duration

	mu        sync.Mutex
	token     Token
	lastProbe time.Time
}

// NewManager creates a manager; it does not touch the network.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &Manager{
		cfg:      cfg,
		http:     httpClient,
		logger:   logger.With("component", "auth"),
		now:      time.Now,
		probeTTL: defaultProbeTTL,
	}
}

// AccessToken returns a usable access token, refreshing if needed. It is
// the method every authenticated API call goes through. Local expiry alone
// does not vouch for the token: once the last successful probe ages past
// the TTL the venue is asked again, and a failed probe falls through to a
// refresh.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token.AccessToken == "" {
		if err := m.loadLocked(); err != nil {
			return "", ErrInteractiveLogin
		}
	}
	if !m.token.Expired(m.now()) {
		if m.now().Sub(m.lastProbe) < m.probeTTL {
			return m.token.AccessToken, nil
		}
		if err := m.probeLocked(ctx); err == nil {
			m.lastProbe = m.now()
			return m.token.AccessToken, nil
		}
	}
	if err := m.refreshLocked(ctx); err != nil {
		return "", err
	}
	return m.token.AccessToken, nil
}

// Bootstrap walks the startup ladder: stored token, probe, refresh. It
// returns ErrInteractiveLogin when the operator must log in by hand.
func (m *Manager) Bootstrap(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(); err != nil {
		m.logger.Warn("no stored token", "error", err)
		return ErrInteractiveLogin
	}
	if !m.token.Expired(m.now()) && m.probeLocked(ctx) == nil {
		m.lastProbe = m.now()
		m.logger.Info("stored token valid")
		return nil
	}
	if err := m.refreshLocked(ctx); err != nil {
		m.logger.Warn("token refresh failed", "error", err)
		return ErrInteractiveLogin
	}
	m.logger.Info("token refreshed")
	return nil
}

// Invalidate drops the in-memory access token after an upstream 401 so the
// next AccessToken call refreshes.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token.ExpiresAt = m.now().Add(-time.Hour)
}

// CompleteLogin exchanges an interactive auth code for tokens and persists
// them. It backs the operator login command.
func (m *Manager) CompleteLogin(ctx context.Context, authCode string) error {
	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		Code         string `json:"code"`
		Message      string `json:"message"`
	}
	resp, err := m.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"grant_type": "authorization_code",
			"client_id":  m.cfg.ClientID,
			"secret_key": m.cfg.SecretKey,
			"auth_code":  authCode,
		}).
		SetResult(&result).
		Post("/token")
	if err != nil {
		return fmt.Errorf("exchange auth code: %w", err)
	}
	if resp.StatusCode() != http.StatusOK || result.AccessToken == "" {
		return &types.UpstreamError{Status: resp.StatusCode(), Code: result.Code, Message: result.Message}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = Token{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		IssuedAt:     m.now(),
		ExpiresAt:    m.now().Add(time.Duration(result.ExpiresIn) * time.Second),
	}
	m.lastProbe = m.now()
	return m.saveLocked()
}

// probeLocked makes a cheap authenticated call to confirm the token works.
func (m *Manager) probeLocked(ctx context.Context) error {
	resp, err := m.http.R().
		SetContext(ctx).
		SetHeader("Authorization", m.cfg.ClientID+":"+m.token.AccessToken).
		Get("/profile")
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return types.ErrAuthExpired
	}
	if resp.StatusCode() != http.StatusOK {
		return &types.UpstreamError{Status: resp.StatusCode(), Message: resp.String()}
	}
	return nil
}

func (m *Manager) refreshLocked(ctx context.Context) error {
	if m.token.RefreshToken == "" {
		return ErrInteractiveLogin
	}
	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		Code        string `json:"code"`
		Message     string `json:"message"`
	}
	resp, err := m.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"grant_type":    "refresh_token",
			"client_id":     m.cfg.ClientID,
			"secret_key":    m.cfg.SecretKey,
			"refresh_token": m.token.RefreshToken,
		}).
		SetResult(&result).
		Post("/token")
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	if resp.StatusCode() != http.StatusOK || result.AccessToken == "" {
		return ErrInteractiveLogin
	}

	m.token.AccessToken = result.AccessToken
	m.token.IssuedAt = m.now()
	m.token.ExpiresAt = m.now().Add(time.Duration(result.ExpiresIn) * time.Second)
	// the exchange itself just proved the credentials
	m.lastProbe = m.now()
	return m.saveLocked()
}

func (m *Manager) loadLocked() error {
	data, err := os.ReadFile(m.cfg.TokenPath)
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return fmt.Errorf("parse token file: %w", err)
	}
	m.token = tok
	return nil
}

// saveLocked writes the token atomically: temp file then rename, so a crash
// mid-write never corrupts the stored credential.
func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.cfg.TokenPath), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	data, err := json.MarshalIndent(m.token, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	tmp := m.cfg.TokenPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token temp: %w", err)
	}
	if err := os.Rename(tmp, m.cfg.TokenPath); err != nil {
		return fmt.Errorf("rename token file: %w", err)
	}
	return nil
}
