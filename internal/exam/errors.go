package exam

import "errors"

var (
	ErrProvaNotFound   = errors.New("prova not found")
	ErrMalformedExam   = errors.New("malformed exam")
	ErrNotInProgress   = errors.New("attempt not in progress")
	ErrUnknownQuestion = errors.New("unknown question")
	ErrInvalidAnswer   = errors.New("invalid answer letter")
	ErrAutosave        = errors.New("answer not saved")
	ErrFinishInFlight  = errors.New("finish in progress elsewhere")
	ErrKeyFrozen       = errors.New("answer key is frozen: attempts exist")
	ErrInvalidRecord   = errors.New("invalid record")
	ErrAttemptNotFound = errors.New("attempt not found")
)
