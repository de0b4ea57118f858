package workflow

import "errors"

var (
	ErrInvalidStage        = errors.New("invalid stage")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrInvalidActor        = errors.New("invalid actor")
	ErrInvalidItem         = errors.New("invalid item")
	ErrUnknownItem         = errors.New("unknown item")
	ErrStageConflict       = errors.New("item stage changed concurrently")
	ErrInvalidEngineConfig = errors.New("invalid workflow engine config")
)
