package client

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestSaveAndLoadToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	want := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	if err := SaveToken(path, want); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode: got %v, want 0600", info.Mode().Perm())
	}

	got, err := LoadToken(path)
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if got.RefreshToken != want.RefreshToken || !got.Expiry.Equal(want.Expiry) {
		t.Errorf("token: got %+v, want %+v", got, want)
	}
}

func TestCached(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(dir, "client_secret.json")
	data := `{"installed":{"client_id":"id","client_secret":"s","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`
	if err := os.WriteFile(secret, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := Cached(secret, filepath.Join(dir, "token.json"))
	if !errors.Is(err, ErrNoToken) {
		t.Errorf("got %v, want ErrNoToken", err)
	}

	if err := SaveToken(filepath.Join(dir, "token.json"), &oauth2.Token{AccessToken: "a"}); err != nil {
		t.Fatal(err)
	}
	c, err := Cached(secret, filepath.Join(dir, "token.json"))
	if err != nil || c == nil {
		t.Errorf("Cached: got %v, %v", c, err)
	}

	if _, err := Cached(filepath.Join(dir, "missing.json"), ""); err == nil {
		t.Error("expected error for missing client secret")
	}
}

func TestCallbackHandler(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode string
		wantErr  bool
		status   int
	}{
		{"ok", "?state=s1&code=abc", "abc", false, http.StatusOK},
		{"bad state", "?state=other&code=abc", "", true, http.StatusBadRequest},
		{"provider error", "?state=s1&error=access_denied", "", true, http.StatusBadRequest},
		{"no code", "?state=s1", "", true, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			codes := make(chan string, 1)
			errs := make(chan error, 1)
			rec := httptest.NewRecorder()
			callbackHandler("s1", codes, errs)(rec, httptest.NewRequest(http.MethodGet, callbackPath+tc.query, nil))

			if rec.Code != tc.status {
				t.Errorf("status: got %d, want %d", rec.Code, tc.status)
			}
			select {
			case code := <-codes:
				if code != tc.wantCode {
					t.Errorf("code: got %q, want %q", code, tc.wantCode)
				}
			case err := <-errs:
				if !tc.wantErr {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}
