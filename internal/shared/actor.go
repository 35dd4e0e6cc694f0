package shared

import "context"

// Role enumerates the actor roles supplied by the identity collaborator.
type Role string

const (
	// RoleSiteEngineer raises material requests and views progress.
	RoleSiteEngineer Role = "SITE_ENGINEER"
	// RolePurchaseOfficer drives comparisons, purchase orders and deliveries.
	RolePurchaseOfficer Role = "PURCHASE_OFFICER"
	// RoleManager approves or rejects cost comparisons.
	RoleManager Role = "MANAGER"
)

// IsValid reports whether the role is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleSiteEngineer, RolePurchaseOfficer, RoleManager:
		return true
	default:
		return false
	}
}

// Actor identifies the user performing an operation. The identity
// collaborator authenticates the user; services still re-validate the role
// before every mutation.
type Actor struct {
	ID   int64
	Role Role
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
