package identity

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// profileColumns never include password_digest.
const profileColumns = `usr.id, usr.name, usr.bio, usr.company, usr.avatar, usr.created_at, usr.updated_at,
	ue.email AS email, ue.is_verified AS verified, acl.role AS role`

// searchColumns leave out email and role so search never tells whose an
// address is.
const searchColumns = `usr.id, usr.name, usr.bio, usr.company, usr.avatar, usr.created_at, usr.updated_at,
	ue.is_verified AS verified`

// Users is the users table repository. Every method takes the bun.IDB to
// run against: the *bun.DB outside a transaction, the bun.Tx inside one.
type Users interface {
	CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	GetCredentialsTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	UpdateProfileTx(ctx context.Context, tx bun.IDB, record *User) error
	SetPasswordDigestTx(ctx context.Context, tx bun.IDB, id uuid.UUID, digest string) error
	DeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error)
	SearchTx(ctx context.Context, tx bun.IDB, q SearchQuery, after *SearchCursor) ([]*User, error)
	ListTx(ctx context.Context, tx bun.IDB, q ListQuery) ([]*User, error)
	CountTx(ctx context.Context, tx bun.IDB, query string) (int, error)
}

type users struct {
	repository.Repository[*User]
}

var _ Users = (*users)(nil)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
	})

	return &users{Repository: repo}
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	prepareUserDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record)
}

func (a *users) selectProfile(tx bun.IDB, dest any) *bun.SelectQuery {
	return tx.NewSelect().
		Model(dest).
		ColumnExpr(profileColumns).
		Join("LEFT JOIN user_emails AS ue ON ue.user_id = usr.id AND ue.is_primary = ?", true).
		Join("LEFT JOIN server_acl AS acl ON acl.user_id = usr.id")
}

func (a *users) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	record := &User{}
	err := a.selectProfile(tx, record).
		Where("usr.id = ?", id.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (a *users) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	record := &User{}
	err := a.selectProfile(tx, record).
		Where("lower(ue.email) = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// GetCredentialsTx is the only read path returning the password digest.
func (a *users) GetCredentialsTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		ColumnExpr("usr.id, usr.password_digest, ue.email AS email, ue.is_verified AS verified").
		Join("JOIN user_emails AS ue ON ue.user_id = usr.id AND ue.is_primary = ?", true).
		Where("lower(ue.email) = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (a *users) UpdateProfileTx(ctx context.Context, tx bun.IDB, record *User) error {
	now := time.Now().UTC()
	record.UpdatedAt = &now

	res, err := tx.NewUpdate().
		Model(record).
		Column("name", "bio", "company", "avatar", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectAffected(res, record.ID.String())
}

func (a *users) SetPasswordDigestTx(ctx context.Context, tx bun.IDB, id uuid.UUID, digest string) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("password_digest = ?", digest).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectAffected(res, id.String())
}

func (a *users) DeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error) {
	res, err := tx.NewDelete().
		Model((*User)(nil)).
		Where("id = ?", id.String()).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (a *users) SearchTx(ctx context.Context, tx bun.IDB, q SearchQuery, after *SearchCursor) ([]*User, error) {
	records := []*User{}
	query := tx.NewSelect().
		Model(&records).
		ColumnExpr(searchColumns).
		Join("LEFT JOIN user_emails AS ue ON ue.user_id = usr.id AND ue.is_primary = ?", true).
		Join("LEFT JOIN server_acl AS acl ON acl.user_id = usr.id")

	term := strings.TrimSpace(q.Query)
	// Any of the user's addresses matches, not only the primary one.
	anyEmail := tx.NewSelect().
		TableExpr("user_emails AS se").
		ColumnExpr("1").
		Where("se.user_id = usr.id").
		Where("lower(se.email) = ?", NormalizeEmail(term))

	if q.EmailOnly {
		query = query.Where("EXISTS (?)", anyEmail)
	} else {
		query = query.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.
				Where("EXISTS (?)", anyEmail).
				WhereOr("lower(usr.name) LIKE ? ESCAPE '\\'", likePattern(term))
		})
	}

	if !q.IncludeArchived {
		query = query.Where("(acl.role IS NULL OR acl.role <> ?)", RoleArchivedUser)
	}

	if after != nil {
		if after.ID == uuid.Nil {
			query = query.Where("usr.created_at < ?", after.CreatedAt)
		} else {
			query = query.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
				return sq.
					Where("usr.created_at < ?", after.CreatedAt).
					WhereGroup(" OR ", func(eq *bun.SelectQuery) *bun.SelectQuery {
						return eq.
							Where("usr.created_at = ?", after.CreatedAt).
							Where("usr.id < ?", after.ID.String())
					})
			})
		}
	}

	err := query.
		OrderExpr("usr.created_at DESC, usr.id DESC").
		Limit(q.Limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (a *users) ListTx(ctx context.Context, tx bun.IDB, q ListQuery) ([]*User, error) {
	records := []*User{}
	query := applyListFilter(a.selectProfile(tx, &records), q.Query)

	err := query.
		OrderExpr("usr.created_at ASC, usr.id ASC").
		Limit(q.Limit).
		Offset(q.Offset).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (a *users) CountTx(ctx context.Context, tx bun.IDB, query string) (int, error) {
	q := tx.NewSelect().
		Model((*User)(nil)).
		Join("LEFT JOIN user_emails AS ue ON ue.user_id = usr.id AND ue.is_primary = ?", true)
	return applyListFilter(q, query).Count(ctx)
}

func applyListFilter(q *bun.SelectQuery, term string) *bun.SelectQuery {
	term = strings.TrimSpace(term)
	if term == "" {
		return q
	}
	pattern := likePattern(term)
	return q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
		return sq.
			Where("lower(usr.name) LIKE ? ESCAPE '\\'", pattern).
			WhereOr("lower(ue.email) LIKE ? ESCAPE '\\'", pattern)
	})
}

// likePattern builds a case-insensitive substring pattern with LIKE
// wildcards in the term escaped.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(term)) + "%"
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.ID == uuid.Nil {
		record.ID = newUserID()
	}

	now := time.Now().UTC()
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	if record.UpdatedAt == nil {
		record.UpdatedAt = &now
	}
}

// newUserID returns a time ordered id. Version 7 UUIDs generated by one
// process are strictly increasing, which the search cursor relies on.
func newUserID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
