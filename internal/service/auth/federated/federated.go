// Package federated verifies identity assertions (Google ID tokens) issued to trusted client ids.
package federated

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"
)

var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// Checks signature and expiration of the ID token
// Audience check is skipped if audience is empty
// *idtoken.Validator satisfies it
type PayloadValidator interface {
	Validate(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error)
}

// Identity asserted by the provider
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
}

type Verifier struct {
	audiences []string
	validator PayloadValidator
}

func New(audiences []string, validator PayloadValidator) *Verifier {
	return &Verifier{
		audiences: slices.Clone(audiences),
		validator: validator,
	}
}

// Create verifier that fetches Google public keys over the network
func NewGoogle(ctx context.Context, audiences []string) (*Verifier, error) {
	validator, err := idtoken.NewValidator(ctx, option.WithHTTPClient(&http.Client{Timeout: 10 * time.Second}))
	if err != nil {
		return nil, fmt.Errorf("error while creating google id token validator. Err: %w", err)
	}

	return New(audiences, validator), nil
}

// Federated login is possible only with at least one trusted audience
func (v *Verifier) Configured() bool {
	return len(v.audiences) > 0 && v.validator != nil
}

// Verify assertion and return identity it carries
// Every failure (bad signature, expired, foreign audience or issuer, missing email) results in ok=false
func (v *Verifier) Verify(ctx context.Context, assertion string) (Identity, bool) {
	if !v.Configured() || assertion == "" {
		return Identity{}, false
	}

	payload, err := v.validator.Validate(ctx, assertion, "")
	if err != nil || payload == nil {
		return Identity{}, false
	}

	if !slices.Contains(v.audiences, payload.Audience) || !slices.Contains(googleIssuers, payload.Issuer) {
		return Identity{}, false
	}

	email, _ := payload.Claims["email"].(string)
	if email == "" {
		return Identity{}, false
	}

	return Identity{
		Subject:       payload.Subject,
		Email:         email,
		EmailVerified: emailVerified(payload.Claims["email_verified"]),
	}, true
}

// Google sends the flag either as boolean or as "true" string
func emailVerified(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}
