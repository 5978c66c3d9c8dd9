package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is an account. Email and Verified are read from the primary
// email row and are never written through this model.
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID  `bun:"id,pk,nullzero" json:"id"`
	Name           string     `bun:"name,notnull" json:"name"`
	Bio            string     `bun:"bio" json:"bio,omitempty"`
	Company        string     `bun:"company" json:"company,omitempty"`
	Avatar         string     `bun:"avatar" json:"avatar,omitempty"`
	PasswordDigest string     `bun:"password_digest,nullzero" json:"-"`
	Email          string     `bun:"email,scanonly" json:"email,omitempty"`
	Verified       bool       `bun:"verified,scanonly" json:"verified"`
	Role           ServerRole `bun:"role,scanonly" json:"role,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// UserEmail is one email address owned by a user.
type UserEmail struct {
	bun.BaseModel `bun:"table:user_emails,alias:ue"`
	ID            string     `bun:"id,pk" json:"id"`
	UserID        uuid.UUID  `bun:"user_id,notnull" json:"user_id"`
	Email         string     `bun:"email,notnull" json:"email"`
	Primary       bool       `bun:"is_primary,notnull" json:"primary"`
	Verified      bool       `bun:"is_verified,notnull" json:"verified"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// ServerACL holds the server wide role of a user.
type ServerACL struct {
	bun.BaseModel `bun:"table:server_acl,alias:acl"`
	UserID        uuid.UUID  `bun:"user_id,pk" json:"user_id"`
	Role          ServerRole `bun:"role,notnull" json:"role"`
}

// CreateUserInput carries the fields accepted when creating a user.
type CreateUserInput struct {
	Name     string
	Email    string
	Password string
	Bio      string
	Company  string
	Avatar   string
	Role     ServerRole
	Verified bool
	// Source labels where the account came from, "local" when empty.
	Source string
}

// UpdateUserInput carries profile changes. Nil fields are left untouched.
type UpdateUserInput struct {
	Name    *string
	Bio     *string
	Company *string
	Avatar  *string
}

// SearchQuery filters the user search.
type SearchQuery struct {
	Query           string
	Limit           int
	Cursor          string
	IncludeArchived bool
	EmailOnly       bool
}

// SearchCursor marks the last row of a search page. The id breaks ties
// between users created in the same instant and may be omitted.
type SearchCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// ParseSearchCursor accepts an RFC 3339 creation time, optionally followed
// by "|" and the user id.
func ParseSearchCursor(raw string) (*SearchCursor, error) {
	ts, id, hasID := strings.Cut(strings.TrimSpace(raw), "|")
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, err
	}
	cursor := &SearchCursor{CreatedAt: createdAt.UTC()}
	if hasID {
		if cursor.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
	}
	return cursor, nil
}

func (c SearchCursor) String() string {
	out := c.CreatedAt.UTC().Format(time.RFC3339Nano)
	if c.ID != uuid.Nil {
		out += "|" + c.ID.String()
	}
	return out
}

// UserPage is one page of search results.
type UserPage struct {
	Users  []*User `json:"users"`
	Cursor string  `json:"cursor,omitempty"`
}

// ListQuery filters the admin listing.
type ListQuery struct {
	Query  string
	Limit  int
	Offset int
}

// ExternalIdentity is the assertion an authentication strategy produces.
type ExternalIdentity struct {
	Provider string
	Subject  string
	Email    string
	Name     string
	Avatar   string
	Bio      string
	Company  string
	Role     ServerRole
}

// ResolvedIdentity is the canonical user an external identity maps to.
type ResolvedIdentity struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	IsNewUser bool   `json:"is_new_user"`
}
