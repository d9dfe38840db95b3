package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/noah-isme/stock-issuance-api/internal/models"
	"github.com/noah-isme/stock-issuance-api/internal/repository"
	"github.com/noah-isme/stock-issuance-api/pkg/database"
	appErrors "github.com/noah-isme/stock-issuance-api/pkg/errors"
)

// workflowStore is satisfied by *repository.Store.
type workflowStore interface {
	Session() repository.Session
	WithinTx(ctx context.Context, fn func(repository.Session) error) error
}

// Actor identifies the authenticated user performing a workflow operation.
type Actor struct {
	ID     string
	Role   models.UserRole
	WingID string
}

// ActorFromClaims builds an Actor from validated token claims.
func ActorFromClaims(claims *models.JWTClaims) Actor {
	if claims == nil {
		return Actor{}
	}
	return Actor{ID: claims.UserID, Role: claims.Role, WingID: claims.WingID}
}

// IsAdmin reports whether the actor holds the administrative role.
func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

// storeFailure maps a repository error into the public taxonomy. Domain errors
// pass through, connectivity failures become StoreUnavailable and everything
// else is reported as internal without the raw driver message.
func storeFailure(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	if database.IsUnavailable(err) {
		return appErrors.Wrap(err, appErrors.ErrStoreUnavailable, "")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal, message)
}

// inTx runs fn in one transaction. Failures to begin or commit are classified
// like any other store error.
func inTx(ctx context.Context, store workflowStore, fn func(repository.Session) error) error {
	return storeFailure(store.WithinTx(ctx, fn), "transaction failed")
}

// notFoundOr maps sql.ErrNoRows to NotFound and anything else through storeFailure.
func notFoundOr(err error, notFound, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return storeFailure(err, message)
}

func stringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
