package identity

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-identity/metrics"
)

// CreateEmailInput describes a new email record.
type CreateEmailInput struct {
	UserID   string
	Email    string
	Primary  bool
	Verified bool
}

// EmailLedger owns the set of email addresses per user and the primary
// designation.
type EmailLedger struct {
	repo   RepositoryManager
	logger Logger
}

type LedgerOption func(*EmailLedger)

func WithLedgerLogger(logger Logger) LedgerOption {
	return func(l *EmailLedger) {
		l.logger = logger
	}
}

func NewEmailLedger(repo RepositoryManager, opts ...LedgerOption) *EmailLedger {
	l := &EmailLedger{repo: repo}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.logger = ResolveLogger("ledger", nil, l.logger)
	return l
}

// Find returns the first record matching every set criterion.
func (l *EmailLedger) Find(ctx context.Context, c EmailCriteria) (*UserEmail, error) {
	rec, err := l.repo.Emails().FindTx(ctx, l.repo.DB(), c)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, ErrNotFound.Clone()
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find email")
	}
	return rec, nil
}

func (l *EmailLedger) ListForUser(ctx context.Context, userID string) ([]*UserEmail, error) {
	records, err := l.repo.Emails().ListForUserTx(ctx, l.repo.DB(), userID, false)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list emails")
	}
	return records, nil
}

// Create adds an email to a user.
func (l *EmailLedger) Create(ctx context.Context, input CreateEmailInput) (*UserEmail, error) {
	var out *UserEmail
	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		rec, err := l.createTx(ctx, tx, input)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, asRichError(err, "failed to create email")
	}
	return out, nil
}

func (l *EmailLedger) createTx(ctx context.Context, tx bun.IDB, input CreateEmailInput) (*UserEmail, error) {
	email := NormalizeEmail(input.Email)
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return nil, validationError("invalid email", map[string]any{"email": err.Error()})
	}
	if strings.TrimSpace(input.UserID) == "" {
		return nil, validationError("user id is required", nil)
	}

	emails := l.repo.Emails()

	if _, err := emails.FindTx(ctx, tx, EmailCriteria{Email: email}); err == nil {
		return nil, ErrEmailTaken.Clone()
	} else if !isRecordNotFound(err) {
		return nil, err
	}

	if input.Primary {
		primary := true
		_, err := emails.FindTx(ctx, tx, EmailCriteria{UserID: input.UserID, Primary: &primary})
		if err == nil {
			return nil, ErrPrimaryEmailExists.Clone()
		} else if !isRecordNotFound(err) {
			return nil, err
		}
	}

	userID, err := parseUserID(input.UserID)
	if err != nil {
		return nil, err
	}

	rec := &UserEmail{
		UserID:   userID,
		Email:    email,
		Primary:  input.Primary,
		Verified: input.Verified,
	}
	if err := emails.InsertTx(ctx, tx, rec); err != nil {
		return nil, translateEmailConflict(err)
	}
	return rec, nil
}

// SetPrimary makes the record the user's primary email, demoting the
// current one in the same transaction.
func (l *EmailLedger) SetPrimary(ctx context.Context, id, userID string) (bool, error) {
	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		records, err := l.repo.Emails().ListForUserTx(ctx, tx, userID, true)
		if err != nil {
			return err
		}

		target := findEmail(records, id)
		if target == nil {
			return withMeta(ErrNotFound, map[string]any{"email_id": id})
		}
		if target.Primary {
			return nil
		}

		for _, rec := range records {
			if rec.Primary {
				if err := l.repo.Emails().SetPrimaryFlagTx(ctx, tx, rec.ID, false); err != nil {
					return err
				}
			}
		}
		return l.repo.Emails().SetPrimaryFlagTx(ctx, tx, target.ID, true)
	})
	if err != nil {
		return false, asRichError(err, "failed to set primary email")
	}
	return true, nil
}

// Delete removes a non primary email. The user's rows are locked so two
// concurrent deletes cannot leave the user without an email.
func (l *EmailLedger) Delete(ctx context.Context, id, userID string) (bool, error) {
	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		records, err := l.repo.Emails().ListForUserTx(ctx, tx, userID, true)
		if err != nil {
			return err
		}

		target := findEmail(records, id)
		if target == nil {
			return withMeta(ErrNotFound, map[string]any{"email_id": id})
		}
		if len(records) == 1 {
			metrics.ObserveInvariantRejection(TextCodeLastEmail)
			return ErrLastEmail.Clone()
		}
		if target.Primary {
			metrics.ObserveInvariantRejection(TextCodePrimaryEmailDelete)
			return ErrPrimaryEmailDelete.Clone()
		}
		return l.repo.Emails().DeleteTx(ctx, tx, target.ID)
	})
	if err != nil {
		return false, asRichError(err, "failed to delete email")
	}
	return true, nil
}

// MarkVerified flags every record matching email as verified. It is
// idempotent and reports whether a record exists.
func (l *EmailLedger) MarkVerified(ctx context.Context, email string) (bool, error) {
	var ok bool
	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		ok, err = l.repo.Emails().MarkVerifiedTx(ctx, tx, email)
		return err
	})
	if err != nil {
		return false, asRichError(err, "failed to verify email")
	}
	return ok, nil
}

func findEmail(records []*UserEmail, id string) *UserEmail {
	for _, rec := range records {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

// translateEmailConflict maps a unique violation on user_emails to the
// matching conflict error. The primary index is on user_id alone.
func translateEmailConflict(err error) error {
	constraint, ok := uniqueViolation(err)
	if !ok {
		return err
	}
	if strings.Contains(constraint, "primary_idx") || strings.Contains(constraint, "user_emails.user_id") {
		return ErrPrimaryEmailExists.Clone()
	}
	return ErrEmailTaken.Clone()
}

// asRichError keeps rich errors as they are and wraps anything else as internal.
func asRichError(err error, message string) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message)
}
