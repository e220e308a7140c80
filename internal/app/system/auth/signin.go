package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dalemusser/vecinal/internal/domain/models"
)

// SignInResult is the body returned by every sign-in method.
type SignInResult struct {
	Token           string      `json:"token"`
	ExpiresAt       time.Time   `json:"expires_at"`
	User            models.User `json:"user"`
	ProfileComplete bool        `json:"profile_complete"`
}

// Completer finishes a sign-in once an identity has been verified: it sets
// the session cookie, issues an access token and announces the change.
type Completer struct {
	Tokens   *Tokens
	Sessions *SessionManager
	Events   *Events
}

// Complete signs u in on w. Events may be nil.
func (c *Completer) Complete(w http.ResponseWriter, r *http.Request, u models.User) (SignInResult, error) {
	uid := u.ID.Hex()
	if err := c.Sessions.SignIn(w, r, uid); err != nil {
		return SignInResult{}, fmt.Errorf("save session: %w", err)
	}
	token, exp, err := c.Tokens.Issue(uid)
	if err != nil {
		return SignInResult{}, err
	}
	if c.Events != nil {
		c.Events.SignedIn(uid)
	}
	return SignInResult{Token: token, ExpiresAt: exp, User: u, ProfileComplete: u.ProfileComplete()}, nil
}
