package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/hanko-field/fulfillment/internal/platform/config"
)

const signInProviderAnonymous = "anonymous"

// FirebaseVerifier verifies staff ID tokens through the Admin SDK.
type FirebaseVerifier struct {
	client  *firebaseauth.Client
	timeout time.Duration
}

// NewFirebaseVerifier initialises the Admin SDK for the configured project.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}
	return &FirebaseVerifier{client: client, timeout: defaultVerifyTimeout}, nil
}

// VerifyIDToken verifies the token with a bounded context.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return v.client.VerifyIDToken(ctx, idToken)
}

// errAnonymousStaff rejects Firebase anonymous sessions, which can never belong to staff.
var errAnonymousStaff = errors.New("auth: anonymous firebase sessions cannot act as staff")

// identityFromToken maps a verified ID token onto the staff identity recorded as the actor of
// every ledger mutation. Emails are compared case-insensitively downstream, so they are lowered here.
func identityFromToken(token *firebaseauth.Token, roleClaim string) (*Identity, error) {
	if token == nil || strings.TrimSpace(token.UID) == "" {
		return nil, errors.New("auth: firebase token carries no uid")
	}
	if token.Firebase.SignInProvider == signInProviderAnonymous {
		return nil, errAnonymousStaff
	}
	return &Identity{
		UID:      strings.TrimSpace(token.UID),
		Email:    strings.ToLower(claimString(token.Claims, "email")),
		Roles:    rolesFromClaim(token.Claims[roleClaim]),
		Provider: token.Firebase.SignInProvider,
		token:    token,
	}, nil
}
