package identity

import (
	"context"
	"strings"
)

// IdentityResolver maps an external identity to a user, creating the
// user on first sight.
type IdentityResolver struct {
	ledger   *EmailLedger
	registry *UserRegistry
	logger   Logger
}

func NewIdentityResolver(ledger *EmailLedger, registry *UserRegistry, logger Logger) *IdentityResolver {
	return &IdentityResolver{
		ledger:   ledger,
		registry: registry,
		logger:   ResolveLogger("resolver", nil, logger),
	}
}

// FindOrCreate returns the user owning the verified primary email of the
// identity. Only verified records are trusted so an unverified sign up
// cannot capture a later external login. A lost creation race is resolved
// by reading the winner's record.
func (r *IdentityResolver) FindOrCreate(ctx context.Context, ext ExternalIdentity) (*ResolvedIdentity, error) {
	email := NormalizeEmail(ext.Email)
	if email == "" {
		return nil, validationError("external identity has no email", nil)
	}

	if rec, err := r.findVerifiedPrimary(ctx, email); err == nil {
		return &ResolvedIdentity{ID: rec.UserID.String(), Email: rec.Email}, nil
	} else if !IsNotFound(err) {
		return nil, err
	}

	name := strings.TrimSpace(ext.Name)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}

	source := ext.Provider
	if source == "" {
		source = "external"
	}

	id, err := r.registry.Create(ctx, CreateUserInput{
		Name:     name,
		Email:    email,
		Password: RandomPassword(),
		Avatar:   ext.Avatar,
		Bio:      ext.Bio,
		Company:  ext.Company,
		Role:     ext.Role,
		Verified: true,
		Source:   source,
	})
	if err == nil {
		return &ResolvedIdentity{ID: id, Email: email, IsNewUser: true}, nil
	}

	if !HasTextCode(err, TextCodeEmailTaken) {
		return nil, err
	}

	rec, findErr := r.findVerifiedPrimary(ctx, email)
	if findErr != nil {
		r.logger.Warn("email taken by an unverified account", "provider", source)
		return nil, err
	}
	return &ResolvedIdentity{ID: rec.UserID.String(), Email: rec.Email}, nil
}

func (r *IdentityResolver) findVerifiedPrimary(ctx context.Context, email string) (*UserEmail, error) {
	yes := true
	return r.ledger.Find(ctx, EmailCriteria{Email: email, Primary: &yes, Verified: &yes})
}
