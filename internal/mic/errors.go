package mic

import "errors"

var (
	ErrTimeout = errors.New("timed out waiting for audio buffer")
	ErrClosed  = errors.New("microphone source closed")
)
