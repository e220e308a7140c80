// internal/app/features/authgoogle/handler.go
package authgoogle

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dalemusser/vecinal/internal/app/store/oauthstate"
	userstore "github.com/dalemusser/vecinal/internal/app/store/users"
	"github.com/dalemusser/vecinal/internal/app/system/auth"
	"github.com/dalemusser/vecinal/internal/app/system/jsonresp"
	"github.com/dalemusser/vecinal/internal/app/system/timeouts"
	"github.com/dalemusser/vecinal/internal/domain/models"
	"github.com/gorilla/securecookie"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	stateTTL           = 10 * time.Minute
	defaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// StateStore keeps pending sign-ins between redirect and callback.
type StateStore interface {
	Save(ctx context.Context, state, verifier, returnURL string, expiresAt time.Time) error
	Consume(ctx context.Context, state string) (oauthstate.State, bool, error)
}

// UserStore finds or creates the user owning a Google account.
type UserStore interface {
	UpsertByGoogle(ctx context.Context, p userstore.GoogleProfile) (models.User, error)
}

// Handler handles Google OAuth authentication.
type Handler struct {
	States    StateStore
	Users     UserStore
	Completer *auth.Completer
	Log       *zap.Logger

	// OAuth configuration
	OAuth       *oauth2.Config
	UserInfoURL string
}

// NewHandler creates a new Google OAuth handler. baseURL is the public
// origin the callback is served on, e.g. "https://vecinal.app".
func NewHandler(
	states StateStore,
	users UserStore,
	completer *auth.Completer,
	clientID, clientSecret, baseURL string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		States:    states,
		Users:     users,
		Completer: completer,
		Log:       logger,
		OAuth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  strings.TrimRight(baseURL, "/") + "/auth/google/callback",
			Scopes: []string{
				"openid",
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		UserInfoURL: defaultUserInfoURL,
	}
}

func (h *Handler) IsConfigured() bool {
	return h.OAuth != nil && h.OAuth.ClientID != "" && h.OAuth.ClientSecret != ""
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET /auth/google                                                             |
| Redirects to Google's consent screen with a one-time state and a PKCE       |
| challenge.                                                                   |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	if !h.IsConfigured() {
		h.Log.Warn("Google OAuth not configured")
		jsonresp.Error(w, http.StatusServiceUnavailable, "google_not_configured", "Google sign-in is not available.")
		return
	}

	state, err := generateState()
	if err != nil {
		h.Log.Error("failed to generate OAuth state", zap.Error(err))
		jsonresp.Error(w, http.StatusInternalServerError, "internal", "Could not start Google sign-in.")
		return
	}
	verifier := oauth2.GenerateVerifier()
	returnURL := safeReturn(r.URL.Query().Get("return"))

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if err := h.States.Save(ctx, state, verifier, returnURL, time.Now().Add(stateTTL)); err != nil {
		h.Log.Error("failed to save OAuth state", zap.Error(err))
		jsonresp.Error(w, http.StatusInternalServerError, "internal", "Could not start Google sign-in.")
		return
	}

	url := h.OAuth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	h.Log.Debug("initiating Google OAuth flow", zap.String("return_url", returnURL))
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET /auth/google/callback                                                    |
| Consumes the state, exchanges the code with the PKCE verifier, fetches the  |
| Google profile and signs the matching user in.                              |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		h.Log.Warn("Google OAuth error",
			zap.String("error", errParam),
			zap.String("description", q.Get("error_description")))
		jsonresp.Error(w, http.StatusUnauthorized, "google_denied", "Google sign-in was cancelled or denied.")
		return
	}

	state := q.Get("state")
	if state == "" {
		jsonresp.Error(w, http.StatusBadRequest, "invalid_state", "The sign-in link is invalid or has expired.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	st, valid, err := h.States.Consume(ctx, state)
	if err != nil {
		h.Log.Error("failed to validate OAuth state", zap.Error(err))
		jsonresp.Error(w, http.StatusInternalServerError, "internal", "Could not complete Google sign-in.")
		return
	}
	if !valid {
		h.Log.Warn("invalid or expired OAuth state")
		jsonresp.Error(w, http.StatusBadRequest, "invalid_state", "The sign-in link is invalid or has expired.")
		return
	}

	code := q.Get("code")
	if code == "" {
		jsonresp.Error(w, http.StatusBadRequest, "invalid_code", "Google did not return an authorization code.")
		return
	}

	token, err := h.OAuth.Exchange(ctx, code, oauth2.VerifierOption(st.Verifier))
	if err != nil {
		h.Log.Error("failed to exchange OAuth code", zap.Error(err))
		jsonresp.Error(w, http.StatusBadGateway, "token_exchange", "Could not complete Google sign-in.")
		return
	}

	info, err := h.fetchUserInfo(ctx, token)
	if err != nil {
		h.Log.Error("failed to fetch Google user info", zap.Error(err))
		jsonresp.Error(w, http.StatusBadGateway, "user_info", "Could not read your Google profile.")
		return
	}

	u, err := h.Users.UpsertByGoogle(ctx, userstore.GoogleProfile{
		Subject:  info.ID,
		Email:    info.Email,
		Name:     info.Name,
		PhotoURL: info.Picture,
	})
	switch {
	case errors.Is(err, userstore.ErrIdentityTaken):
		jsonresp.Error(w, http.StatusConflict, "identity_taken", "This Google account is linked to another user.")
		return
	case err != nil:
		h.Log.Error("user upsert by google failed", zap.Error(err))
		jsonresp.Error(w, http.StatusInternalServerError, "internal", "Could not sign you in.")
		return
	}
	if u.Blocked {
		jsonresp.Error(w, http.StatusForbidden, "blocked", "This account is blocked.")
		return
	}

	res, err := h.Completer.Complete(w, r, u)
	if err != nil {
		h.Log.Error("sign-in completion failed", zap.Error(err))
		jsonresp.Error(w, http.StatusInternalServerError, "internal", "Could not sign you in.")
		return
	}
	h.Log.Info("user signed in", zap.String("user_id", u.ID.Hex()), zap.String("method", "google"))

	if st.ReturnURL != "" {
		http.Redirect(w, r, st.ReturnURL, http.StatusSeeOther)
		return
	}
	jsonresp.OK(w, res)
}

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (h *Handler) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*googleUserInfo, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	if info.ID == "" {
		return nil, errors.New("user info has no id")
	}
	return &info, nil
}

func generateState() (string, error) {
	b := securecookie.GenerateRandomKey(32)
	if b == nil {
		return "", errors.New("random source failed")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// safeReturn keeps only same-origin paths.
func safeReturn(s string) string {
	if !strings.HasPrefix(s, "/") || strings.HasPrefix(s, "//") || strings.Contains(s, "\\") {
		return ""
	}
	return s
}
