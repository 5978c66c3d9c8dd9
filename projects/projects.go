// Package projects is the project collaborator consulted when a user is
// deleted. Ownership lives in project_acl; a project is solely owned by a
// user when they hold its only owner grant.
package projects

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-identity"
)

// Project roles.
const (
	RoleOwner       = "stream:owner"
	RoleContributor = "stream:contributor"
	RoleReviewer    = "stream:reviewer"
)

type Project struct {
	bun.BaseModel `bun:"table:projects,alias:prj"`
	ID            uuid.UUID  `bun:"id,pk,nullzero" json:"id"`
	Name          string     `bun:"name,notnull" json:"name"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

type Grant struct {
	bun.BaseModel `bun:"table:project_acl,alias:pacl"`
	ResourceID    string `bun:"resource_id,pk" json:"resource_id"`
	UserID        string `bun:"user_id,pk" json:"user_id"`
	Role          string `bun:"role,notnull" json:"role"`
}

var ErrProjectNotFound = goerrors.New("project not found", goerrors.CategoryNotFound).
	WithTextCode(identity.TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

// Store is a bun backed identity.ProjectStore.
type Store struct {
	db     *bun.DB
	repo   repository.Repository[*Project]
	logger identity.Logger
}

var _ identity.TxProjectStore = (*Store)(nil)

func NewStore(db *bun.DB, logger identity.Logger) *Store {
	repo := repository.NewRepository[*Project](db, repository.ModelHandlers[*Project]{
		NewRecord: func() *Project { return &Project{} },
		GetID: func(p *Project) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Project, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
	})

	return &Store{
		db:     db,
		repo:   repo,
		logger: identity.ResolveLogger("projects", nil, logger),
	}
}

// Create adds a project owned by ownerID.
func (s *Store) Create(ctx context.Context, name, ownerID string) (*Project, error) {
	name = strings.TrimSpace(name)
	if err := validation.Validate(name, validation.Required); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "project name is required").
			WithTextCode(identity.TextCodeValidationFailed).
			WithCode(goerrors.CodeBadRequest)
	}

	record := &Project{ID: uuid.New(), Name: name}
	var created *Project
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		created, err = s.repo.CreateTx(ctx, tx, record)
		if err != nil {
			return err
		}
		return grantTx(ctx, tx, created.ID.String(), ownerID, RoleOwner)
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create project")
	}
	return created, nil
}

// Grant sets the role of userID on the project.
func (s *Store) Grant(ctx context.Context, projectID, userID, role string) error {
	if err := grantTx(ctx, s.db, projectID, userID, role); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to grant project role")
	}
	return nil
}

func grantTx(ctx context.Context, tx bun.IDB, projectID, userID, role string) error {
	_, err := tx.NewRaw(
		`INSERT INTO project_acl (resource_id, user_id, role) VALUES (?, ?, ?)
		ON CONFLICT (resource_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		projectID, userID, role,
	).Exec(ctx)
	return err
}

// Get returns the project with id.
func (s *Store) Get(ctx context.Context, id string) (*Project, error) {
	record := &Project{}
	err := s.db.NewSelect().Model(record).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectNotFound.Clone().WithMetadata(map[string]any{"project_id": id})
	}
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to get project")
	}
	return record, nil
}

func soleOwnerQuery(db bun.IDB, userID string) *bun.SelectQuery {
	owners := db.NewSelect().
		Model((*Grant)(nil)).
		Column("resource_id").
		Where("role = ?", RoleOwner).
		Group("resource_id").
		Having("count(*) = 1")

	return db.NewSelect().
		Model((*Grant)(nil)).
		Where("user_id = ?", userID).
		Where("role = ?", RoleOwner).
		Where("resource_id IN (?)", owners)
}

// SolelyOwnedProjectIDs lists the projects where userID is the only owner.
func (s *Store) SolelyOwnedProjectIDs(ctx context.Context, userID string) ([]string, error) {
	return s.SolelyOwnedProjectIDsTx(ctx, s.db, userID)
}

func (s *Store) SolelyOwnedProjectIDsTx(ctx context.Context, tx bun.IDB, userID string) ([]string, error) {
	var ids []string
	err := soleOwnerQuery(tx, userID).
		Column("resource_id").
		OrderExpr("resource_id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list solely owned projects")
	}
	return ids, nil
}

func (s *Store) CountProjectsSolelyOwnedBy(ctx context.Context, userID string) (int, error) {
	n, err := soleOwnerQuery(s.db, userID).Count(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to count solely owned projects")
	}
	return n, nil
}

// DeleteProject removes the project and its grants. Missing projects are
// not an error.
func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return s.DeleteProjectTx(ctx, tx, projectID)
	})
}

// DeleteProjectTx is DeleteProject inside the caller's transaction.
func (s *Store) DeleteProjectTx(ctx context.Context, tx bun.IDB, projectID string) error {
	if _, err := tx.NewDelete().
		Model((*Grant)(nil)).
		Where("resource_id = ?", projectID).
		Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete project grants")
	}
	if _, err := tx.NewDelete().
		Model((*Project)(nil)).
		Where("id = ?", projectID).
		Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete project")
	}
	s.logger.Info("project deleted", "project_id", projectID)
	return nil
}
