package handler

import "errors"

// Transition errors, surfaced synchronously to whoever issued the
// operation. State is never changed when one of these is returned.
var (
	ErrUnknownDefinition = errors.New("unknown definition")
	ErrUnknownPipeline   = errors.New("unknown pipeline")
	ErrUnknownItem       = errors.New("unknown queue item")
	ErrAlreadyRunning    = errors.New("already running")
	ErrNotRunning        = errors.New("not running")
	ErrNotResurrectable  = errors.New("item is not dead or failed")
	ErrPipelineFinished  = errors.New("pipeline already finished")
)
