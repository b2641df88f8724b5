package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
)

func TestTokenExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		tok  Token
		want bool
	}{
		{"empty token", Token{}, true},
		{"live token", Token{AccessToken: "a", ExpiresAt: now.Add(2 * time.Hour)}, false},
		{"past expiry", Token{AccessToken: "a", ExpiresAt: now.Add(-time.Hour)}, true},
		{"inside safety minute", Token{AccessToken: "a", ExpiresAt: now.Add(30 * time.Second)}, true},
		{"no expiry recorded", Token{AccessToken: "a"}, false},
	}
	for _, tt := range tests {
		if got := tt.tok.Expired(now); got != tt.want {
			t.Errorf("%s: Expired = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestTokenPersistRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tokens", "venue.json")

	m := &Manager{cfg: Config{TokenPath: path}, now: time.Now}
	m.token = Token{
		AccessToken:  "acc-123",
		RefreshToken: "ref-456",
		IssuedAt:     time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC),
		ExpiresAt:    time.Date(2025, 6, 2, 23, 0, 0, 0, time.UTC),
	}
	if err := m.saveLocked(); err != nil {
		t.Fatalf("save: %v", err)
	}

	// no temp file left behind
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file survived the atomic rename")
	}

	loaded := &Manager{cfg: Config{TokenPath: path}, now: time.Now}
	if err := loaded.loadLocked(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.token != m.token {
		t.Errorf("round trip mismatch: %+v vs %+v", loaded.token, m.token)
	}

	// file must be valid standalone JSON with restrictive mode
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("token file mode = %v, want 0600", info.Mode().Perm())
	}
	data, _ := os.ReadFile(path)
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		t.Errorf("stored token not valid JSON: %v", err)
	}
}

func TestAccessTokenReprobesWhenStale(t *testing.T) {
	t.Parallel()

	probes := 0
	rejectProbe := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/profile":
			probes++
			if rejectProbe {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusOK)
		case "/token":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"acc-2","expires_in":3600}`))
		}
	}))
	defer srv.Close()

	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	m := &Manager{
		cfg:      Config{ClientID: "cid", TokenPath: filepath.Join(t.TempDir(), "venue.json")},
		http:     resty.New().SetBaseURL(srv.URL),
		now:      func() time.Time { return now },
		probeTTL: 10 * time.Minute,
	}
	m.token = Token{AccessToken: "acc-1", RefreshToken: "ref", ExpiresAt: now.Add(8 * time.Hour)}
	m.lastProbe = now.Add(-time.Minute)

	// a recent probe vouches for the token without a venue round trip
	tok, err := m.AccessToken(context.Background())
	if err != nil || tok != "acc-1" {
		t.Fatalf("AccessToken = %q, %v", tok, err)
	}
	if probes != 0 {
		t.Errorf("fresh probe window still hit the venue %d times", probes)
	}

	// past the TTL: one probe re-validates and restamps
	now = now.Add(11 * time.Minute)
	if _, err := m.AccessToken(context.Background()); err != nil {
		t.Fatal(err)
	}
	if probes != 1 {
		t.Fatalf("stale window probed %d times, want 1", probes)
	}
	if _, err := m.AccessToken(context.Background()); err != nil {
		t.Fatal(err)
	}
	if probes != 1 {
		t.Errorf("restamped probe repeated: %d", probes)
	}

	// a rejected probe falls through to the refresh ladder, not a stale pass
	rejectProbe = true
	now = now.Add(11 * time.Minute)
	tok, err = m.AccessToken(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok != "acc-2" {
		t.Errorf("rejected probe kept stale token %q", tok)
	}
}

func TestInvalidateForcesRefresh(t *testing.T) {
	t.Parallel()

	m := &Manager{cfg: Config{}, now: time.Now}
	m.token = Token{AccessToken: "a", ExpiresAt: time.Now().Add(5 * time.Hour)}
	if m.token.Expired(time.Now()) {
		t.Fatal("precondition: token should be live")
	}
	m.Invalidate()
	if !m.token.Expired(time.Now()) {
		t.Error("Invalidate left the token live")
	}
}
