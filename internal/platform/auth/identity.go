package auth

import (
	"context"
	"slices"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/requestctx"
)

// Staff roles carried in the Firebase "role" custom claim.
const (
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Identity is a staff member authenticated by a Firebase ID token.
type Identity struct {
	UID      string
	Email    string
	Roles    []string
	Provider string

	token *firebaseauth.Token
}

// Token exposes the decoded Firebase ID token.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the identity carries role, ignoring case.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	return role != "" && slices.ContainsFunc(i.Roles, func(r string) bool { return normaliseRole(r) == role })
}

// HasAnyRole reports whether the identity carries any of roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, i.HasRole)
}

// Actor converts the identity into the actor recorded by mutations.
func (i *Identity) Actor() domain.Actor {
	return domain.Actor{ID: i.UID, Email: i.Email, Kind: domain.ActorStaff}
}

// ServiceIdentity is a workload authenticated by a Google-signed OIDC token.
type ServiceIdentity struct {
	Subject  string
	Email    string
	Issuer   string
	Audience string
	Claims   map[string]any
}

// Actor converts the service identity into an actor. The email is preferred as the ID because
// it names the service account, while the subject is an opaque number.
func (s *ServiceIdentity) Actor() domain.Actor {
	id := s.Email
	if id == "" {
		id = s.Subject
	}
	return domain.Actor{ID: id, Email: s.Email, Kind: domain.ActorService}
}

type (
	identityKey        struct{}
	serviceIdentityKey struct{}
)

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}

func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	return context.WithValue(ctx, serviceIdentityKey{}, identity)
}

func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// ActorFromContext returns the authenticated actor, staff first.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	if identity, ok := IdentityFromContext(ctx); ok {
		return identity.Actor(), true
	}
	if service, ok := ServiceIdentityFromContext(ctx); ok {
		return service.Actor(), true
	}
	return domain.Actor{}, false
}

// annotate tags the request logger with the authenticated actor.
func annotate(ctx context.Context, actor domain.Actor) context.Context {
	return requestctx.WithLogger(ctx, requestctx.Logger(ctx).With(
		zap.String("actor_id", actor.ID),
		zap.String("actor_kind", string(actor.Kind)),
	))
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
