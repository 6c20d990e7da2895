package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("NOT_FOUND: record not found")
	ErrInvalidState = errors.New("INVALID_STATE: operation not allowed in this lifecycle stage")

	ErrCurrentNotFound  = fmt.Errorf("%w: current project not found", ErrNotFound)
	ErrHistoryNotFound  = fmt.Errorf("%w: history project not found", ErrNotFound)
	ErrProjectNotFound  = fmt.Errorf("%w: project not found", ErrNotFound)
	ErrReviewerNotFound = fmt.Errorf("%w: reviewer not found", ErrNotFound)

	ErrAlreadyArchived = fmt.Errorf("%w: project already archived", ErrInvalidState)

	ErrInvalidTarget      = errors.New("INVALID_TARGET: cannot reassign to the author or current reviewer")
	ErrNoEligibleReviewer = errors.New("NO_ELIGIBLE_REVIEWER: no reviewer currently assignable")
	ErrConflict           = errors.New("CONFLICT: concurrent modification, retry")
	ErrProjectExists      = errors.New("PROJECT_EXISTS: project id already exists")
	ErrInvalidInput       = errors.New("BAD_REQUEST: invalid input")
)
