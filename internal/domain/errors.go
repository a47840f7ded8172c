package domain

import "errors"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrCollaborator    = errors.New("collaborator failure")
	ErrPolicyDenied    = errors.New("policy denied")
	ErrInternal        = errors.New("internal error")
)
