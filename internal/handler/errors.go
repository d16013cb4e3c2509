package handler

import (
	"errors"
	"net/http"

	"inkdown-collab/internal/service"
	"inkdown-collab/pkg/hash"
	"inkdown-collab/pkg/response"

	"go.uber.org/zap"
)

// writeServiceError maps service sentinels onto HTTP statuses. Anything
// unrecognised is logged and reported as fallback.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrNoteNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrCommentNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidToken):
		response.Unauthorized(w, err.Error())
	case errors.Is(err, service.ErrEmailTaken),
		errors.Is(err, service.ErrUsernameTaken):
		response.Conflict(w, err.Error())
	case errors.Is(err, service.ErrOwnerNotCollaborator),
		errors.Is(err, hash.ErrPasswordTooShort),
		errors.Is(err, hash.ErrPasswordTooLong):
		response.BadRequest(w, err.Error())
	default:
		logger.Error(fallback, zap.Error(err))
		response.InternalError(w, fallback)
	}
}
