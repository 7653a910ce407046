package domain

import "errors"

var (
	ErrDuplicateName = errors.New("duplicate name")
	ErrAgentNotFound = errors.New("agent not found")
)
