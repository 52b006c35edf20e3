package thingsboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nerrad567/tbdash/internal/credstore"
	"github.com/nerrad567/tbdash/internal/infrastructure/logging"
)

// AuthorityCustomerUser is the authority requested for self-signup.
const AuthorityCustomerUser = "CUSTOMER_USER"

// AuthResponse is returned by Login. UserID comes from the response body
// when present, otherwise from the access token's userId claim.
type AuthResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId,omitempty"`
}

// SignupRequest is the self-registration payload.
type SignupRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Password  string `json:"password"`
}

// Validate checks the fields the backend would otherwise reject.
func (r SignupRequest) Validate() error {
	switch {
	case !strings.Contains(r.Email, "@"):
		return &ValidationError{Field: "email", Message: "must be an email address"}
	case r.Password == "":
		return &ValidationError{Field: "password", Message: "is required"}
	}
	return nil
}

// User is a backend user profile.
type User struct {
	ID             EntityID       `json:"id"`
	Email          string         `json:"email"`
	FirstName      string         `json:"firstName"`
	LastName       string         `json:"lastName"`
	Authority      string         `json:"authority"`
	CreatedTime    int64          `json:"createdTime"`
	AdditionalInfo map[string]any `json:"additionalInfo,omitempty"`
}

// Restore loads a persisted session into the client. It reports whether a
// complete pair was found; a missing or partial pair is not an error.
func (c *Client) Restore(ctx context.Context) (bool, error) {
	pair, err := c.store.Load(ctx)
	if errors.Is(err, credstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading credentials: %w", err)
	}
	c.session.Set(pair)
	c.logger.Debug("session restored", "token", logging.Redact(pair.Access))
	return true, nil
}

// Login exchanges a username and password for a token pair and persists it.
// Any rejection by the backend is an *AuthError "Login failed: <detail>".
func (c *Client) Login(ctx context.Context, username, password string) (*AuthResponse, error) {
	const op = "login"

	if username == "" || password == "" {
		return nil, &ValidationError{Field: "credentials", Message: "username and password are required"}
	}

	var resp AuthResponse
	err := c.Do(ctx, &Request{
		Method:    http.MethodPost,
		Path:      "/auth/login",
		Body:      map[string]string{"username": username, "password": password},
		Op:        op,
		NoRefresh: true,
	}, &resp)
	if err != nil {
		var authErr *AuthError
		var reqErr *RequestError
		switch {
		case errors.As(err, &authErr):
			return nil, &AuthError{Op: op, Message: "Login failed: " + authErr.Message}
		case errors.As(err, &reqErr):
			return nil, &AuthError{Op: op, Message: "Login failed: " + reqErr.Message}
		}
		return nil, err
	}

	pair := credstore.Pair{Access: resp.Token, Refresh: resp.RefreshToken}
	if !pair.Complete() {
		return nil, &AuthError{Op: op, Message: "Login failed: incomplete token pair"}
	}
	c.setPair(ctx, pair)

	// Stock ThingsBoard carries the user id only inside the access token.
	if resp.UserID == "" {
		if claims, err := ParseClaims(resp.Token); err == nil {
			resp.UserID = claims.UserID
		}
	}
	c.logger.Info("logged in", "user", username, "user_id", resp.UserID)
	return &resp, nil
}

// Signup registers a customer user. It does not log in.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (*User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body := struct {
		SignupRequest
		Authority string `json:"authority"`
	}{req, AuthorityCustomerUser}

	var user User
	if err := c.Do(ctx, &Request{
		Method:    http.MethodPost,
		Path:      "/auth/signup",
		Body:      body,
		Op:        "signup",
		NoRefresh: true,
	}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout drops the session locally. The backend is not contacted.
func (c *Client) Logout(ctx context.Context) {
	c.endSession(ctx, "logout")
}

// CurrentUser fetches the profile of the logged-in user.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   "/user/profile",
		Op:     "currentUser",
	}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// IsAuthenticated reports whether an access token is held. It does not
// check expiry; the backend decides.
func (c *Client) IsAuthenticated() bool {
	return c.session.Access() != ""
}

// Token returns the current access token, or "".
func (c *Client) Token() string {
	return c.session.Access()
}

// Claims decodes the current access token.
func (c *Client) Claims() (*Claims, error) {
	tok := c.session.Access()
	if tok == "" {
		return nil, &AuthError{Op: "claims", Message: "not logged in"}
	}
	return ParseClaims(tok)
}

// BrokerURL returns the configured MQTT broker URL.
func (c *Client) BrokerURL() string {
	return c.opts.BrokerURL
}
