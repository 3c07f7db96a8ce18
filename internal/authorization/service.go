package authorization

import (
	"context"
	"errors"

	apikeydomain "github.com/smallbiznis/milkrun/internal/apikey/domain"
	"github.com/smallbiznis/milkrun/internal/billingerror"
)

type Service interface {
	Authorize(ctx context.Context, keyID string, role apikeydomain.Role, object string, action string) error
}

var (
	ErrInvalidActor  = billingerror.New(billingerror.ErrInvalidRequest, "invalid_actor")
	ErrInvalidObject = billingerror.New(billingerror.ErrInvalidRequest, "invalid_object")
	ErrInvalidAction = billingerror.New(billingerror.ErrInvalidRequest, "invalid_action")
	ErrForbidden     = errors.New("forbidden")
)
