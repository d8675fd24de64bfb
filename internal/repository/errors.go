package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrDuplicateID indicates a job with the same identifier already exists.
var ErrDuplicateID = errors.New("repository: duplicate id")

// ErrTerminal indicates a mutation was attempted on a job that already finished.
var ErrTerminal = errors.New("repository: job is terminal")

// ErrInvalidTransition indicates a mutation requested a status change the state machine forbids.
var ErrInvalidTransition = errors.New("repository: invalid status transition")

// ErrLogRewrite indicates a mutation tried to drop or reorder existing log lines.
var ErrLogRewrite = errors.New("repository: logs are append-only")
