package accounts

import (
	"context"

	"github.com/angelmondragon/credits-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
)

// Provision creates the account unless the username is already taken. An
// existing account is returned as is when it holds the requested role and is
// a CONFLICT otherwise; roles are never changed here.
func Provision(ctx context.Context, svc Service, input CreateInput) (*models.Account, bool, error) {
	existing, err := svc.GetByUsername(ctx, input.Username)
	switch {
	case err == nil:
		if input.Role != "" && existing.Role != input.Role {
			return nil, false, pkgerrors.Newf(pkgerrors.CodeConflict,
				"account %q exists with role %q", existing.Username, existing.Role)
		}
		return existing, false, nil
	case !pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		return nil, false, err
	}

	account, err := svc.Create(ctx, input)
	if err != nil {
		return nil, false, err
	}
	return account, true, nil
}
