package strum

import "errors"

var (
	// ErrResourceNotFound is returned when no resolution candidate produced a
	// playable resource.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrResourceInvalid is returned when a resource exists but fails
	// validation: an error page served with a success status, or a payload too
	// small to be real audio.
	ErrResourceInvalid = errors.New("resource failed validation")

	// ErrDecodeFailed is returned when a fetched payload cannot be decoded
	// with the codec of the current candidate; resolution continues with the
	// next candidate.
	ErrDecodeFailed = errors.New("resource decode failed")

	// ErrEngineNotReady is returned for operations on an engine that has been
	// closed or was never initialized.
	ErrEngineNotReady = errors.New("engine not ready")

	// ErrEmptySong is returned when playback is requested for a song with no
	// clips on any track.
	ErrEmptySong = errors.New("song has no content")

	// ErrTrackNotFound and ErrClipNotFound are returned by the document
	// mutators when the given ID does not exist in the current song.
	ErrTrackNotFound = errors.New("track not found")
	ErrClipNotFound  = errors.New("clip not found")
)
