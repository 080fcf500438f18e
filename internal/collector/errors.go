package collector

import "errors"

var (
	// ErrInvalidWAV means an upload is not a decodable PCM WAV file.
	ErrInvalidWAV = errors.New("invalid wav file")
	// ErrNotFound means no recording with that name is indexed.
	ErrNotFound = errors.New("recording not found")
)
