// Package api wraps the vendor's resource endpoints. Each service owns one
// resource family and speaks through a shared rest.Client; none of them retry
// or cache, they translate between Go values and the wire payloads.
package api

import (
	"context"

	"github.com/striglia/auraframes/internal/models"
	"github.com/striglia/auraframes/internal/rest"
)

// AccountService handles login and everything else scoped to the account
// itself rather than a frame or asset.
type AccountService struct {
	client *rest.Client
}

func NewAccountService(client *rest.Client) *AccountService {
	return &AccountService{client: client}
}

type loginRequest struct {
	User   loginCredentials `json:"user"`
	Locale string           `json:"locale"`
}

type loginCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Result struct {
		CurrentUser models.User `json:"current_user"`
	} `json:"result"`
}

// Login exchanges credentials for the account record, which carries the API
// token used on every subsequent request. Credentials are validated locally
// first so an obviously empty form never leaves the process.
func (s *AccountService) Login(ctx context.Context, email, password string) (models.User, error) {
	fields := map[string][]string{}
	if email == "" {
		fields["email"] = []string{"is required"}
	}
	if password == "" {
		fields["password"] = []string{"is required"}
	}
	if len(fields) > 0 {
		return models.User{}, &rest.ValidationError{Message: "missing credentials", Fields: fields}
	}

	payload := loginRequest{
		User:   loginCredentials{Email: email, Password: password},
		Locale: "en-US",
	}
	var resp loginResponse
	if err := s.client.Post(ctx, "login.json", payload, &resp); err != nil {
		return models.User{}, err
	}
	user := resp.Result.CurrentUser
	if user.ID == "" || user.AuthToken == "" {
		return models.User{}, &rest.AuthError{Message: "login response missing user id or token"}
	}
	return user, nil
}
