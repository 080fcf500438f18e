package upload

import "errors"

var (
	ErrMissingFile = errors.New("recording file missing")
	ErrStatus      = errors.New("collector rejected upload")
)
