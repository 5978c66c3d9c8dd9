package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Logger is the logging contract used across the module. Args are
// key/value pairs appended to the message.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LoggerProvider hands out named loggers.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// ResolveLogger picks the explicit logger first, then the provider, then
// the default stdout logger.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) Logger {
	if logger != nil {
		return logger
	}
	if provider != nil {
		if l := provider.GetLogger(name); l != nil {
			return l
		}
	}
	return defLogger{name: name}
}

// ProjectStore is the project collaborator consulted when a user is deleted.
type ProjectStore interface {
	SolelyOwnedProjectIDs(ctx context.Context, userID string) ([]string, error)
	CountProjectsSolelyOwnedBy(ctx context.Context, userID string) (int, error)
	DeleteProject(ctx context.Context, projectID string) error
}

// Invite is a pending server invite.
type Invite struct {
	ID        string
	Target    string
	InviterID string
	Token     string
	CreatedAt time.Time
}

// InviteStore is the invite collaborator.
type InviteStore interface {
	DeleteAllForUser(ctx context.Context, userID string) error
	Validate(ctx context.Context, email, token string) (*Invite, error)
	Finalize(ctx context.Context, email, userID string) error
}

// TxProjectStore is a ProjectStore sharing the user's database, so the
// project teardown joins the transaction deleting the user.
type TxProjectStore interface {
	ProjectStore
	SolelyOwnedProjectIDsTx(ctx context.Context, tx bun.IDB, userID string) ([]string, error)
	DeleteProjectTx(ctx context.Context, tx bun.IDB, projectID string) error
}

// TxInviteStore is an InviteStore that can join the deleting transaction.
type TxInviteStore interface {
	InviteStore
	DeleteAllForUserTx(ctx context.Context, tx bun.IDB, userID string) error
}

// RateLimiter throttles attempts per action and key.
type RateLimiter interface {
	Allow(ctx context.Context, action, key string) (bool, error)
}

// ServerConfig exposes the runtime server settings the core depends on.
type ServerConfig interface {
	GuestModeEnabled(ctx context.Context) bool
	InviteOnly(ctx context.Context) bool
	MaxPageSize() int
	MinPasswordLength() int
}

type noopRateLimiter struct{}

func (noopRateLimiter) Allow(context.Context, string, string) (bool, error) { return true, nil }

type noopProjects struct{}

func (noopProjects) SolelyOwnedProjectIDs(context.Context, string) ([]string, error) {
	return nil, nil
}

func (noopProjects) CountProjectsSolelyOwnedBy(context.Context, string) (int, error) {
	return 0, nil
}

func (noopProjects) DeleteProject(context.Context, string) error { return nil }

type noopInvites struct{}

func (noopInvites) DeleteAllForUser(context.Context, string) error { return nil }

func (noopInvites) Validate(context.Context, string, string) (*Invite, error) {
	return nil, ErrInvalidInvite.Clone()
}

func (noopInvites) Finalize(context.Context, string, string) error { return nil }

type defLogger struct {
	name string
}

func (d defLogger) Debug(msg string, args ...any) { d.print("DBG", msg, args...) }
func (d defLogger) Info(msg string, args ...any)  { d.print("INF", msg, args...) }
func (d defLogger) Warn(msg string, args ...any)  { d.print("WRN", msg, args...) }
func (d defLogger) Error(msg string, args ...any) { d.print("ERR", msg, args...) }

func (d defLogger) print(level, msg string, args ...any) {
	var b strings.Builder
	b.WriteString("[" + level + "] IDENTITY ")
	if d.name != "" {
		b.WriteString(d.name + ": ")
	}
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	fmt.Println(b.String())
}
