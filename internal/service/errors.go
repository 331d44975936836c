package service

import (
	"errors"

	apperrors "pingme/internal/errors"
)

var errNoUploader = errors.New("file storage is not configured")

func notFoundUser(id string) error {
	return apperrors.NewNotFoundError("User", id)
}
