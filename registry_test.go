package identity_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-identity"
)

type MockProjects struct {
	mock.Mock
}

func (m *MockProjects) SolelyOwnedProjectIDs(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *MockProjects) CountProjectsSolelyOwnedBy(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockProjects) DeleteProject(ctx context.Context, projectID string) error {
	return m.Called(ctx, projectID).Error(0)
}

type MockInvites struct {
	mock.Mock
}

func (m *MockInvites) DeleteAllForUser(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MockInvites) Validate(ctx context.Context, email, token string) (*identity.Invite, error) {
	args := m.Called(ctx, email, token)
	inv, _ := args.Get(0).(*identity.Invite)
	return inv, args.Error(1)
}

func (m *MockInvites) Finalize(ctx context.Context, email, userID string) error {
	return m.Called(ctx, email, userID).Error(0)
}

func TestCreateUserRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	id, err := env.svc.CreateUser(ctx, identity.CreateUserInput{
		Name:     "John Doe",
		Email:    "X@Y.com",
		Password: "longenough123",
	})
	require.NoError(t, err)

	user, err := env.svc.GetUserByEmail(ctx, "x@y.com")
	require.NoError(t, err)
	assert.Equal(t, id, user.ID.String())
	assert.Equal(t, "x@y.com", user.Email)
	assert.Equal(t, "John Doe", user.Name)
	assert.Empty(t, user.PasswordDigest)

	byID, err := env.svc.GetUserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "x@y.com", byID.Email)
	assert.Empty(t, byID.PasswordDigest)
	assert.Equal(t, identity.RoleAdmin, byID.Role)
}

func TestCreateUserAssignsRoles(t *testing.T) {
	tests := []struct {
		name      string
		guestMode bool
		requested identity.ServerRole
		want      identity.ServerRole
	}{
		{name: "default role", want: identity.RoleUser},
		{name: "guest while disabled", requested: identity.RoleGuest, want: identity.RoleUser},
		{name: "guest while enabled", guestMode: true, requested: identity.RoleGuest, want: identity.RoleGuest},
		{name: "unknown role", requested: identity.ServerRole("server:owner"), want: identity.RoleUser},
		{name: "explicit admin", requested: identity.RoleAdmin, want: identity.RoleAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(c *identity.Config) { c.GuestMode = tt.guestMode })
			ctx := context.Background()

			first := env.createUser(t, "First", "first@example.com")
			role, err := env.svc.GetUserRole(ctx, first)
			require.NoError(t, err)
			assert.Equal(t, identity.RoleAdmin, role)

			id, err := env.svc.CreateUser(ctx, identity.CreateUserInput{
				Name:  "Second",
				Email: "second@example.com",
				Role:  tt.requested,
			})
			require.NoError(t, err)

			role, err = env.svc.GetUserRole(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, role)
		})
	}
}

func TestCreateUserValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		input identity.CreateUserInput
	}{
		{name: "missing email", input: identity.CreateUserInput{Name: "No Email"}},
		{name: "invalid email", input: identity.CreateUserInput{Name: "Bad", Email: "not-an-email"}},
		{name: "blank name", input: identity.CreateUserInput{Name: "   ", Email: "blank@example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.CreateUser(ctx, tt.input)
			require.Error(t, err)
			assert.True(t, identity.IsValidation(err))
			assert.True(t, identity.HasTextCode(err, identity.TextCodeValidationFailed))
		})
	}

	count, err := env.svc.CountUsers(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCreateUserSkipValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	id, err := env.svc.CreateUser(context.Background(), identity.CreateUserInput{
		Email: "noname@example.com",
	}, identity.WithSkipValidation())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestCreateUserWeakPasswordPersistsNothing(t *testing.T) {
	tests := []struct {
		name     string
		password string
		textCode string
	}{
		{name: "too short", password: "short", textCode: identity.TextCodePasswordTooShort},
		{name: "longer than bcrypt accepts", password: strings.Repeat("a", 80), textCode: identity.TextCodePasswordTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			ctx := context.Background()

			_, err := env.svc.CreateUser(ctx, identity.CreateUserInput{
				Name:     "Weak",
				Email:    "weak@example.com",
				Password: tt.password,
			})
			require.Error(t, err)
			assert.True(t, identity.IsWeakCredential(err))
			assert.True(t, identity.IsValidation(err))
			assert.True(t, identity.HasTextCode(err, tt.textCode))

			_, err = env.svc.GetUserByEmail(ctx, "weak@example.com")
			assert.True(t, identity.IsNotFound(err))

			_, err = env.svc.Emails().Find(ctx, identity.EmailCriteria{Email: "weak@example.com"})
			assert.True(t, identity.IsNotFound(err))

			count, err := env.svc.CountUsers(ctx, "")
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestCreateUserEmailTakenIgnoresCase(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.createUser(t, "Lower", "a@b.com")

	_, err := env.svc.CreateUser(ctx, identity.CreateUserInput{Name: "Upper", Email: "A@B.com"})
	require.Error(t, err)
	assert.True(t, identity.IsConflict(err))
	assert.True(t, identity.HasTextCode(err, identity.TextCodeEmailTaken))

	count, err := env.svc.CountUsers(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCreateUserConcurrentSameEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.svc.CreateUser(ctx, identity.CreateUserInput{
				Name:  fmt.Sprintf("Racer %d", i),
				Email: "Race@Example.com",
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if identity.IsConflict(err) {
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)

	count, err := env.svc.CountUsers(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCreateUserEmitsEvent(t *testing.T) {
	env := newTestEnv(t, nil)

	var (
		mu     sync.Mutex
		events []identity.Event
	)
	env.bus.Subscribe(identity.EventUserCreated, identity.EventHandlerFunc(func(ctx context.Context, evt identity.Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, evt)
		return nil
	}))

	id := env.createUser(t, "Evented", "evented@example.com")
	env.waitEvents(t)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].UserID)
	assert.Equal(t, "evented@example.com", events[0].Payload["email"])
	assert.Equal(t, string(identity.RoleAdmin), events[0].Payload["role"])
}

func TestUpdateUser(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	id := env.createUser(t, "Before", "update@example.com")

	user, err := env.svc.UpdateUser(ctx, id, identity.UpdateUserInput{
		Name:    strPtr("After"),
		Company: strPtr("Acme"),
		Avatar:  strPtr("javascript:alert(1)"),
	})
	require.NoError(t, err)
	assert.Equal(t, "After", user.Name)
	assert.Equal(t, "Acme", user.Company)
	assert.Empty(t, user.Avatar)
	assert.Equal(t, "update@example.com", user.Email)

	_, err = env.svc.UpdateUser(ctx, id, identity.UpdateUserInput{Name: strPtr(" ")})
	assert.True(t, identity.IsValidation(err))

	_, err = env.svc.UpdateUser(ctx, "not-an-id", identity.UpdateUserInput{Name: strPtr("x")})
	assert.True(t, identity.IsNotFound(err))
}

func TestUpdateAndValidatePassword(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	id, err := env.svc.CreateUser(ctx, identity.CreateUserInput{
		Name:     "Pass",
		Email:    "pass@example.com",
		Password: "first-password",
	})
	require.NoError(t, err)

	gotID, ok, err := env.svc.ValidatePassword(ctx, "PASS@example.com", "first-password")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, gotID)

	err = env.svc.UpdateUserPassword(ctx, id, "tiny")
	assert.True(t, identity.IsWeakCredential(err))

	err = env.svc.UpdateUserPassword(ctx, id, strings.Repeat("b", identity.MaximumPasswordBytes+1))
	assert.True(t, identity.HasTextCode(err, identity.TextCodePasswordTooLong))

	_, ok, err = env.svc.ValidatePassword(ctx, "pass@example.com", "first-password")
	require.NoError(t, err)
	assert.True(t, ok, "weak password update must not change the digest")

	require.NoError(t, env.svc.UpdateUserPassword(ctx, id, "second-password"))

	_, ok, err = env.svc.ValidatePassword(ctx, "pass@example.com", "first-password")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = env.svc.ValidatePassword(ctx, "pass@example.com", "second-password")
	require.NoError(t, err)
	assert.True(t, ok)

	_, _, err = env.svc.ValidatePassword(ctx, "nobody@example.com", "whatever-password")
	assert.True(t, identity.IsNotFound(err))
}

func TestDeleteUser(t *testing.T) {
	projects := new(MockProjects)
	invites := new(MockInvites)
	env := newTestEnv(t, nil, identity.WithProjects(projects), identity.WithInvites(invites))
	ctx := context.Background()

	admin := env.createUser(t, "Admin", "admin@example.com")
	member := env.createUser(t, "Member", "member@example.com")

	projects.On("SolelyOwnedProjectIDs", mock.Anything, member).Return([]string{"p1", "p2"}, nil).Once()
	projects.On("DeleteProject", mock.Anything, "p1").Return(nil).Once()
	projects.On("DeleteProject", mock.Anything, "p2").Return(nil).Once()
	invites.On("DeleteAllForUser", mock.Anything, member).Return(nil).Once()

	deleted, err := env.svc.DeleteUser(ctx, member)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = env.svc.GetUserByID(ctx, member)
	assert.True(t, identity.IsNotFound(err))
	_, err = env.svc.Emails().Find(ctx, identity.EmailCriteria{Email: "member@example.com"})
	assert.True(t, identity.IsNotFound(err))
	_, err = env.svc.GetUserRole(ctx, member)
	assert.True(t, identity.IsNotFound(err))

	_, err = env.svc.DeleteUser(ctx, admin)
	require.Error(t, err)
	assert.True(t, identity.IsInvariantViolation(err))
	assert.True(t, identity.HasTextCode(err, identity.TextCodeLastAdmin))

	_, err = env.svc.GetUserByID(ctx, admin)
	assert.NoError(t, err)

	projects.AssertExpectations(t)
	invites.AssertExpectations(t)
}

func TestSearchUsersClampsLimit(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for i := 0; i < identity.DefaultMaxPageSize+5; i++ {
		env.createUser(t, fmt.Sprintf("Member %03d", i), fmt.Sprintf("member%03d@example.com", i))
	}

	page, err := env.svc.SearchUsers(ctx, identity.SearchQuery{Query: "member", Limit: 300})
	require.NoError(t, err)
	assert.Len(t, page.Users, identity.DefaultMaxPageSize)
	assert.NotEmpty(t, page.Cursor)

	page, err = env.svc.SearchUsers(ctx, identity.SearchQuery{Query: "member"})
	require.NoError(t, err)
	assert.Len(t, page.Users, identity.DefaultSearchLimit)
}

func TestSearchUsersPagination(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	const total = 23
	for i := 0; i < total; i++ {
		env.createUser(t, fmt.Sprintf("Paged %02d", i), fmt.Sprintf("paged%02d@example.com", i))
	}

	seen := map[string]bool{}
	var ordered []*identity.User
	cursor := ""
	for {
		page, err := env.svc.SearchUsers(ctx, identity.SearchQuery{Query: "paged", Limit: 5, Cursor: cursor})
		require.NoError(t, err)
		for _, u := range page.Users {
			require.False(t, seen[u.ID.String()], "duplicate row across pages")
			seen[u.ID.String()] = true
			ordered = append(ordered, u)
		}
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	require.Len(t, ordered, total)
	for i := 1; i < len(ordered); i++ {
		prev, cur := ordered[i-1], ordered[i]
		assert.True(t, prev.ID.String() > cur.ID.String(), "ids must strictly decrease")
		assert.False(t, cur.CreatedAt.After(*prev.CreatedAt), "created_at must not increase")
	}
	assert.Equal(t, "Paged 22", ordered[0].Name)
	assert.Equal(t, "Paged 00", ordered[total-1].Name)
}

func TestSearchUsersFilters(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.createUser(t, "Alice Admin", "alice@example.com")
	bob := env.createUser(t, "Bob Builder", "bob@example.com")
	env.createUser(t, "Carol", "carol@example.com")

	require.NoError(t, env.svc.ChangeUserRole(ctx, bob, identity.RoleArchivedUser))

	page, err := env.svc.SearchUsers(ctx, identity.SearchQuery{Query: "BUILDER"})
	require.NoError(t, err)
	assert.Empty(t, page.Users)

	page, err = env.svc.SearchUsers(ctx, identity.SearchQuery{Query: "builder", IncludeArchived: true})
	require.NoError(t, err)
	require.Len(t, page.Users, 1)
	assert.Equal(t, bob, page.Users[0].ID.String())
	assert.Empty(t, page.Cursor)

	page, err = env.svc.SearchUsers(ctx, identity.SearchQuery{Query: "CAROL@example.com", EmailOnly: true})
	require.NoError(t, err)
	require.Len(t, page.Users, 1)
	assert.Equal(t, "Carol", page.Users[0].Name)

	page, err = env.svc.SearchUsers(ctx, identity.SearchQuery{Query: "carol", EmailOnly: true})
	require.NoError(t, err)
	assert.Empty(t, page.Users)

	page, err = env.svc.SearchUsers(ctx, identity.SearchQuery{Query: "%"})
	require.NoError(t, err)
	assert.Empty(t, page.Users)

	_, err = env.svc.SearchUsers(ctx, identity.SearchQuery{Query: "a", Cursor: "garbage"})
	assert.True(t, identity.IsValidation(err))
}

func TestSearchUsersHidesEmailAndRole(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.createUser(t, "Admin", "admin@example.com")
	bob := env.createUser(t, "Bob", "bob.secret@example.com")

	page, err := env.svc.SearchUsers(ctx, identity.SearchQuery{Query: "bob"})
	require.NoError(t, err)
	require.Len(t, page.Users, 1)
	assert.Equal(t, bob, page.Users[0].ID.String())
	assert.Empty(t, page.Users[0].Email)
	assert.Empty(t, page.Users[0].Role)
	assert.Empty(t, page.Users[0].PasswordDigest)

	user, err := env.svc.GetUserByID(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, "bob.secret@example.com", user.Email)
}

func TestSearchUsersMatchesSecondaryEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.createUser(t, "Admin", "admin@example.com")
	carol := env.createUser(t, "Carol", "carol@example.com")
	_, err := env.svc.Emails().Create(ctx, identity.CreateEmailInput{UserID: carol, Email: "carol2@example.com"})
	require.NoError(t, err)

	for _, emailOnly := range []bool{true, false} {
		page, err := env.svc.SearchUsers(ctx, identity.SearchQuery{Query: "Carol2@example.com", EmailOnly: emailOnly})
		require.NoError(t, err)
		require.Len(t, page.Users, 1, "email only: %v", emailOnly)
		assert.Equal(t, carol, page.Users[0].ID.String())
		assert.Empty(t, page.Users[0].Email)
	}
}

func TestSearchUsersTimestampCursor(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		env.createUser(t, fmt.Sprintf("Stamp %d", i), fmt.Sprintf("stamp%d@example.com", i))
	}

	page, err := env.svc.SearchUsers(ctx, identity.SearchQuery{Query: "stamp", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Users, 2)

	cursor, err := identity.ParseSearchCursor(page.Cursor)
	require.NoError(t, err)
	assert.Equal(t, page.Users[1].ID, cursor.ID)
	assert.True(t, cursor.CreatedAt.Equal(*page.Users[1].CreatedAt))

	newest := page.Users[0].CreatedAt.UTC().Format(time.RFC3339Nano)
	page, err = env.svc.SearchUsers(ctx, identity.SearchQuery{Query: "stamp", Cursor: newest})
	require.NoError(t, err)
	require.Len(t, page.Users, 3)
	for _, u := range page.Users {
		assert.NotEqual(t, "Stamp 3", u.Name)
	}
}

func TestParseSearchCursor(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantID  bool
		wantErr bool
	}{
		{name: "timestamp", raw: "2024-05-01T10:00:00.123456Z"},
		{name: "timestamp and id", raw: "2024-05-01T10:00:00Z|0190f3a2-7c1e-7b4a-8000-000000000001", wantID: true},
		{name: "bare id", raw: "0190f3a2-7c1e-7b4a-8000-000000000001", wantErr: true},
		{name: "bad id", raw: "2024-05-01T10:00:00Z|nope", wantErr: true},
		{name: "garbage", raw: "garbage", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cursor, err := identity.ParseSearchCursor(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, cursor.ID != uuid.Nil)
			assert.Equal(t, tt.raw, cursor.String())
		})
	}
}

func TestGetUsersAndCount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.createUser(t, "Zed", "zed@example.com")
	env.createUser(t, "Amy", "amy@example.com")
	env.createUser(t, "Zoe", "zoe@other.org")

	users, err := env.svc.GetUsers(ctx, identity.ListQuery{})
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "Zed", users[0].Name)
	assert.Equal(t, "zed@example.com", users[0].Email)

	users, err = env.svc.GetUsers(ctx, identity.ListQuery{Query: "example.com", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Amy", users[0].Name)

	count, err := env.svc.CountUsers(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = env.svc.CountUsers(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
