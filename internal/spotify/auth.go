package spotify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	log "log/slog"
	"net/http"
	"net/url"
	"os"

	spot "github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

// Credentials configures the OAuth client. TokenCache is where the obtained
// token is persisted between runs.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	TokenCache   string
}

// NewClient authenticates against the Web API, reusing a cached token when
// one exists and otherwise running the one-shot browser authorization flow.
// All outbound traffic goes through httpClient.
func NewClient(ctx context.Context, creds Credentials, httpClient *http.Client) (*spot.Client, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("spotify client id/secret not configured")
	}

	auth := spotifyauth.New(
		spotifyauth.WithClientID(creds.ClientID),
		spotifyauth.WithClientSecret(creds.ClientSecret),
		spotifyauth.WithRedirectURL(creds.RedirectURI),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserModifyPlaybackState,
			spotifyauth.ScopeUserReadPlaybackState,
			spotifyauth.ScopeUserReadCurrentlyPlaying,
		),
	)

	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}

	token, err := loadToken(creds.TokenCache)
	if err != nil {
		token, err = authorize(ctx, auth, creds.RedirectURI)
		if err != nil {
			return nil, err
		}
		if err := saveToken(creds.TokenCache, token); err != nil {
			log.Warn("Failed to cache spotify token", "err", err)
		}
	}

	return spot.New(auth.Client(ctx, token), spot.WithRetry(true)), nil
}

// authorize runs the authorization-code flow: serve the redirect URI locally,
// point the user at the consent URL, wait for the callback.
func authorize(ctx context.Context, auth *spotifyauth.Authenticator, redirectURI string) (*oauth2.Token, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("parse redirect uri: %w", err)
	}

	state, err := randomState()
	if err != nil {
		return nil, err
	}

	tokenCh := make(chan *oauth2.Token, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(u.Path, func(w http.ResponseWriter, r *http.Request) {
		tok, err := auth.Token(r.Context(), state, r)
		if err != nil {
			http.Error(w, "authorization failed", http.StatusForbidden)
			errCh <- err
			return
		}
		fmt.Fprintln(w, "Authorized. You can close this tab.")
		tokenCh <- tok
	})

	srv := &http.Server{Addr: u.Host, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	defer srv.Close()

	log.Info("Authorize Maestro in your browser", "url", auth.AuthURL(state))

	select {
	case tok := <-tokenCh:
		return tok, nil
	case err := <-errCh:
		return nil, fmt.Errorf("spotify authorization: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func loadToken(path string) (*oauth2.Token, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func randomState() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
