package errorvalues

import "errors"

var (
	ErrRoutineNotFound = errors.New("routine doesn't exist")
	ErrOwnerNotFound   = errors.New("owner doesn't exist")
	ErrWrongOwner      = errors.New("routine belongs to another owner")
	ErrInvalidRoutine  = errors.New("routine fields failed validation")
	ErrEmptyPatch      = errors.New("patch contains no fields to update")
	ErrSessionClosed   = errors.New("sync session already stopped")
)
