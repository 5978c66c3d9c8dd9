package identity

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"

	"github.com/goliatone/go-repository-bun"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	DB() *bun.DB
	Users() Users
	Emails() Emails
	ACL() ACLs
}

type mngr struct {
	db     *bun.DB
	users  Users
	emails Emails
	acl    ACLs
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:     db,
		users:  NewUsersRepository(db),
		emails: NewEmailsRepository(db),
		acl:    NewACLRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("database should be initialized")
	}

	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.emails == nil {
		return errors.New("repository emails should be initialized")
	}

	if m.acl == nil {
		return errors.New("repository acl should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) DB() *bun.DB {
	return m.db
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Emails() Emails {
	return m.emails
}

func (m mngr) ACL() ACLs {
	return m.acl
}

// forUpdate locks the selected rows on dialects that support row locks.
// SQLite serializes writers so the clause is skipped there.
func forUpdate(db bun.IDB, q *bun.SelectQuery) *bun.SelectQuery {
	if db.Dialect().Name() == dialect.PG {
		return q.For("UPDATE")
	}
	return q
}

const uniqueViolationCode = "23505"

// uniqueViolation reports whether err is a unique constraint violation and
// returns the violated constraint as reported by the driver.
func uniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != uniqueViolationCode {
			return "", false
		}
		return pgErr.ConstraintName, true
	}

	msg := err.Error()
	const sqliteMarker = "UNIQUE constraint failed: "
	if idx := strings.Index(msg, sqliteMarker); idx >= 0 {
		return strings.TrimSpace(msg[idx+len(sqliteMarker):]), true
	}

	return "", false
}

func isRecordNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}

func expectAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return withMeta(ErrNotFound, map[string]any{"id": id})
	}
	return nil
}
