// Package auth produces HTTP clients authorized for the Google Calendar API.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

// TokenStore is an interface for saving and loading OAuth tokens.
type TokenStore interface {
	SaveToken(token *oauth2.Token) error
	LoadToken() (*oauth2.Token, error)
}

const (
	// authTimeout bounds how long the interactive flow waits for the browser.
	authTimeout = 5 * time.Minute

	preferredCallbackAddr = "127.0.0.1:8080"
)

// NewHTTPClient returns an HTTP client authorized for the Calendar API using
// the credentials file at credentialsPath. Service account keys are used
// directly; installed-app client secrets go through GetAuthenticatedClient
// with the given token store.
func NewHTTPClient(ctx context.Context, credentialsPath string, tokenStore TokenStore) (*http.Client, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var kind struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &kind); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}

	if kind.Type == "service_account" {
		jwtConfig, err := google.JWTConfigFromJSON(data, calendar.CalendarScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse service account key: %w", err)
		}
		return jwtConfig.Client(ctx), nil
	}

	oauthConfig, err := google.ConfigFromJSON(data, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client credentials (expected 'installed' or 'web' section): %w", err)
	}
	return GetAuthenticatedClient(ctx, oauthConfig, tokenStore)
}

// GetAuthenticatedClient returns an authenticated HTTP client using OAuth 2.0.
// If the store holds no token, the user is guided through the browser flow.
// Refreshed tokens are written back to the store.
func GetAuthenticatedClient(ctx context.Context, oauthConfig *oauth2.Config, tokenStore TokenStore) (*http.Client, error) {
	token, err := tokenStore.LoadToken()
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	if token == nil {
		token, err = authorize(ctx, oauthConfig)
		if err != nil {
			return nil, err
		}
		if err := tokenStore.SaveToken(token); err != nil {
			return nil, fmt.Errorf("failed to save token: %w", err)
		}
		fmt.Println("Authorization successful!")
	}

	source := &savingTokenSource{
		base:  oauth2.ReuseTokenSource(token, oauthConfig.TokenSource(ctx, token)),
		store: tokenStore,
		last:  token,
	}
	return oauth2.NewClient(ctx, source), nil
}

// savingTokenSource persists every token whose access token differs from
// the last one it saw.
type savingTokenSource struct {
	base  oauth2.TokenSource
	store TokenStore

	mu   sync.Mutex
	last *oauth2.Token
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last != nil && s.last.AccessToken == token.AccessToken {
		return token, nil
	}
	if err := s.store.SaveToken(token); err != nil {
		return nil, fmt.Errorf("failed to save refreshed token: %w", err)
	}
	s.last = token
	return token, nil
}

// authorize runs the installed-app flow against a loopback redirect.
func authorize(ctx context.Context, oauthConfig *oauth2.Config) (*oauth2.Token, error) {
	listener, err := net.Listen("tcp", preferredCallbackAddr)
	if err != nil {
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("failed to start local server: %w", err)
		}
	}
	redirectURL := "http://" + listener.Addr().String()

	state := uuid.NewString()
	cfg := *oauthConfig
	cfg.RedirectURL = redirectURL

	fmt.Printf("Listening for the authorization callback on %s\n", redirectURL)
	if listener.Addr().String() != preferredCallbackAddr {
		fmt.Printf("Note: %s was unavailable. Add %s to the authorized redirect URIs in Google Cloud Console.\n", preferredCallbackAddr, redirectURL)
	}
	fmt.Println("\nPlease visit the following URL to authorize the application:")
	fmt.Println(cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce))
	fmt.Println("\nWaiting for authorization...")

	waitCtx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()
	code, err := awaitCode(waitCtx, listener, state)
	if err != nil {
		return nil, err
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return token, nil
}

type callbackResult struct {
	code string
	err  error
}

// awaitCode serves the OAuth redirect on listener until a callback carrying
// the expected state arrives or ctx ends. Callbacks with another state are
// rejected and waiting continues.
func awaitCode(ctx context.Context, listener net.Listener, state string) (string, error) {
	results := make(chan callbackResult, 1)
	server := &http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query := r.URL.Query()
			if query.Get("state") != state {
				http.Error(w, "state mismatch", http.StatusBadRequest)
				return
			}

			var res callbackResult
			switch {
			case query.Get("code") != "":
				res.code = query.Get("code")
				fmt.Fprint(w, "<html><body><h1>Authorization successful!</h1><p>You can close this window.</p></body></html>")
			case query.Get("error") != "":
				res.err = fmt.Errorf("authorization error: %s", query.Get("error"))
				fmt.Fprint(w, "<html><body><h1>Authorization failed</h1></body></html>")
			default:
				res.err = errors.New("no authorization code received")
				fmt.Fprint(w, "<html><body><h1>No authorization code received</h1></body></html>")
			}
			select {
			case results <- res:
			default:
			}
		}),
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case results <- callbackResult{err: fmt.Errorf("server error: %w", err)}:
			default:
			}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	select {
	case res := <-results:
		if res.err != nil {
			return "", fmt.Errorf("failed to receive authorization code: %w", res.err)
		}
		return res.code, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("authorization timeout: no response received within %v", authTimeout)
		}
		return "", ctx.Err()
	}
}
