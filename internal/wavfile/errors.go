package wavfile

import "errors"

var (
	ErrShortWrite = errors.New("short write to recording file")
	ErrFinalized  = errors.New("recording file already finalized")
	ErrNotOpen    = errors.New("recording file not open")
	ErrTooLarge   = errors.New("recording exceeds the 4 GiB RIFF limit")
)
