package identity_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"

	"github.com/goliatone/go-identity"
)

type testEnv struct {
	db     *bun.DB
	config *identity.Config
	bus    *identity.AsyncEventBus
	svc    *identity.Service
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := identity.OpenDB(identity.DatabaseConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	require.NoError(t, err)
	require.NoError(t, identity.Migrate(context.Background(), db))

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func newTestEnv(t *testing.T, configure func(*identity.Config), opts ...identity.ServiceOption) *testEnv {
	t.Helper()

	cfg := identity.DefaultConfig()
	if configure != nil {
		configure(cfg)
	}

	db := newTestDB(t)
	bus := identity.NewAsyncEventBus(identity.WithEventBackoff(time.Millisecond))

	opts = append([]identity.ServiceOption{
		identity.WithHasher(&identity.BcryptHasher{MinLength: cfg.MinPasswordLength(), Cost: bcrypt.MinCost}),
		identity.WithEvents(bus),
	}, opts...)

	return &testEnv{
		db:     db,
		config: cfg,
		bus:    bus,
		svc:    identity.NewService(db, cfg, opts...),
	}
}

func (e *testEnv) createUser(t *testing.T, name, email string) string {
	t.Helper()
	id, err := e.svc.CreateUser(context.Background(), identity.CreateUserInput{
		Name:  name,
		Email: email,
	})
	require.NoError(t, err)
	return id
}

func (e *testEnv) waitEvents(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.bus.Wait(ctx))
}

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }
