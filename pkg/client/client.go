// Package client provides OAuth2 client setup for the Gmail reader.
package client

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	callbackPort  = 8085
	callbackPath  = "/callback"
	serverTimeout = 5 * time.Minute
)

// ErrNoToken is returned by Cached when no token has been saved yet.
var ErrNoToken = errors.New("no oauth token, run 'tab setup'")

// New returns an authorized client, running the browser consent flow and
// saving the token to tokenFile when none exists yet.
func New(secretFile, tokenFile string, scope ...string) (*http.Client, error) {
	config, err := loadConfig(secretFile, scope...)
	if err != nil {
		return nil, err
	}

	tok, err := LoadToken(tokenFile)
	if err != nil {
		slog.Info("no existing token found, initiating OAuth flow")
		tok, err = getTokenFromWeb(config)
		if err != nil {
			return nil, err
		}
		if err := SaveToken(tokenFile, tok); err != nil {
			slog.Error("failed to save token", "error", err)
		}
	}
	return config.Client(context.Background(), tok), nil
}

// Cached returns an authorized client from a saved token without prompting.
func Cached(secretFile, tokenFile string, scope ...string) (*http.Client, error) {
	config, err := loadConfig(secretFile, scope...)
	if err != nil {
		return nil, err
	}
	tok, err := LoadToken(tokenFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("reading token: %w", err)
	}
	return config.Client(context.Background(), tok), nil
}

func loadConfig(secretFile string, scope ...string) (*oauth2.Config, error) {
	b, err := os.ReadFile(secretFile)
	if err != nil {
		return nil, fmt.Errorf("reading client secret file: %w", err)
	}
	config, err := google.ConfigFromJSON(b, scope...)
	if err != nil {
		return nil, fmt.Errorf("parsing client secret: %w", err)
	}
	return config, nil
}

func getTokenFromWeb(config *oauth2.Config) (*oauth2.Token, error) {
	ctx := context.Background()

	config.RedirectURL = fmt.Sprintf("http://localhost:%d%s", callbackPort, callbackPath)

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("generating state token: %w", err)
	}

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	server, err := startCallbackServer(ctx, state, codeChan, errChan)
	if err != nil {
		return nil, fmt.Errorf("starting callback server: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Warn("error shutting down callback server", "error", err)
		}
	}()

	authURL := config.AuthCodeURL(state, oauth2.AccessTypeOffline)

	fmt.Printf("\nOpening browser for Google authentication...\n")
	fmt.Printf("If the browser doesn't open automatically, visit this URL:\n%s\n\n", authURL)

	if err := openBrowser(authURL); err != nil {
		slog.Warn("failed to open browser automatically", "error", err)
	}

	select {
	case code := <-codeChan:
		tok, err := config.Exchange(context.Background(), code)
		if err != nil {
			return nil, fmt.Errorf("exchanging authorization code for token: %w", err)
		}
		fmt.Println("Authentication successful!")
		return tok, nil
	case err := <-errChan:
		return nil, fmt.Errorf("oauth callback error: %w", err)
	case <-time.After(serverTimeout):
		return nil, fmt.Errorf("oauth flow timed out after %v", serverTimeout)
	}
}

// callbackHandler checks the state and forwards the authorization code.
func callbackHandler(expectedState string, codeChan chan<- string, errChan chan<- error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != expectedState {
			errChan <- errors.New("invalid state parameter")
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}
		if errMsg := q.Get("error"); errMsg != "" {
			errChan <- fmt.Errorf("%s: %s", errMsg, q.Get("error_description"))
			http.Error(w, fmt.Sprintf("Authentication failed: %s", errMsg), http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			errChan <- errors.New("no authorization code received")
			http.Error(w, "No authorization code received", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>tab connected</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 20vh;">
<h1>✓ Gmail connected</h1>
<p>You can close this window and return to the terminal.</p>
</body>
</html>`)
		codeChan <- code
	}
}

func startCallbackServer(ctx context.Context, expectedState string, codeChan chan<- string, errChan chan<- error) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, callbackHandler(expectedState, codeChan, errChan))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", callbackPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", server.Addr)
	if err != nil {
		return nil, fmt.Errorf("port %d unavailable: %w", callbackPort, err)
	}

	go func() {
		slog.Debug("starting OAuth callback server", "port", callbackPort)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("callback server error", "error", err)
			errChan <- err
		}
	}()

	return server, nil
}

func openBrowser(url string) error {
	ctx := context.Background()
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "linux":
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// LoadToken reads a saved token.
func LoadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}
	return tok, nil
}

// SaveToken writes a token with owner-only permissions.
func SaveToken(path string, token *oauth2.Token) error {
	slog.Info("saving credential file", "path", path)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating token file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	return nil
}
