// Package invites stores server invites and implements the invite checks
// of invited registration.
package invites

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-identity"
)

type ServerInvite struct {
	bun.BaseModel `bun:"table:server_invites,alias:inv"`
	ID            string     `bun:"id,pk" json:"id"`
	Target        string     `bun:"target,notnull" json:"target"`
	InviterID     string     `bun:"inviter_id,nullzero" json:"inviter_id,omitempty"`
	Token         string     `bun:"token,notnull" json:"-"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

func (i *ServerInvite) toInvite() *identity.Invite {
	out := &identity.Invite{
		ID:        i.ID,
		Target:    i.Target,
		InviterID: i.InviterID,
		Token:     i.Token,
	}
	if i.CreatedAt != nil {
		out.CreatedAt = *i.CreatedAt
	}
	return out
}

// Store is a bun backed identity.InviteStore.
type Store struct {
	db     *bun.DB
	logger identity.Logger
}

var _ identity.TxInviteStore = (*Store)(nil)

func NewStore(db *bun.DB, logger identity.Logger) *Store {
	return &Store{db: db, logger: identity.ResolveLogger("invites", nil, logger)}
}

// Create invites email to the server. The returned invite carries the
// token to hand to the invitee.
func (s *Store) Create(ctx context.Context, email, inviterID string) (*identity.Invite, error) {
	email = identity.NormalizeEmail(email)
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid invite target").
			WithTextCode(identity.TextCodeValidationFailed).
			WithCode(goerrors.CodeBadRequest)
	}

	token, err := newToken()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate invite token")
	}

	record := &ServerInvite{
		ID:        uuid.NewString(),
		Target:    email,
		InviterID: inviterID,
		Token:     token,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create invite")
	}

	s.logger.Info("invite created", "invite_id", record.ID, "inviter_id", inviterID)
	return record.toInvite(), nil
}

// Validate returns the invite matching token when it targets email.
func (s *Store) Validate(ctx context.Context, email, token string) (*identity.Invite, error) {
	email = identity.NormalizeEmail(email)
	if email == "" || token == "" {
		return nil, identity.ErrInvalidInvite.Clone()
	}

	record := &ServerInvite{}
	err := s.db.NewSelect().Model(record).Where("token = ?", token).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrInvalidInvite.Clone()
	}
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load invite")
	}

	target := identity.NormalizeEmail(record.Target)
	if subtle.ConstantTimeCompare([]byte(target), []byte(email)) != 1 {
		return nil, identity.ErrInvalidInvite.Clone().WithMetadata(map[string]any{
			"reason": "target_mismatch",
		})
	}
	return record.toInvite(), nil
}

// Finalize consumes every invite targeting email once the invitee has an
// account.
func (s *Store) Finalize(ctx context.Context, email, userID string) error {
	res, err := s.db.NewDelete().
		Model((*ServerInvite)(nil)).
		Where("lower(target) = ?", identity.NormalizeEmail(email)).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to finalize invites")
	}
	n, _ := res.RowsAffected()
	s.logger.Info("invites finalized", "user_id", userID, "count", n)
	return nil
}

// DeleteAllForUser removes invites sent by the user or addressed to any
// of their emails.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	return s.DeleteAllForUserTx(ctx, s.db, userID)
}

// DeleteAllForUserTx runs before the user's emails are removed so invites
// targeting them are found.
func (s *Store) DeleteAllForUserTx(ctx context.Context, tx bun.IDB, userID string) error {
	emails := tx.NewSelect().
		Table("user_emails").
		ColumnExpr("lower(email)").
		Where("user_id = ?", userID)

	_, err := tx.NewDelete().
		Model((*ServerInvite)(nil)).
		WhereOr("inviter_id = ?", userID).
		WhereOr("lower(target) IN (?)", emails).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete invites")
	}
	return nil
}

// List returns the pending invites, oldest first.
func (s *Store) List(ctx context.Context) ([]*identity.Invite, error) {
	var records []*ServerInvite
	if err := s.db.NewSelect().Model(&records).OrderExpr("created_at ASC, id ASC").Scan(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list invites")
	}
	out := make([]*identity.Invite, len(records))
	for i, r := range records {
		out[i] = r.toInvite()
	}
	return out, nil
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
