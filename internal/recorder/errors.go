package recorder

import "errors"

var (
	ErrBusy           = errors.New("recorder busy")
	ErrNothingToRetry = errors.New("no retained recording to upload")
	ErrNotRecording   = errors.New("no recording in progress")
)
