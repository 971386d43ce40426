//go:build !cgo

package main

import "errors"

type nullMIDIInput struct{}

// with no cgo, rtmidi is unavailable, so MIDI input is disabled
func newMIDIInput() midiInput {
	return nullMIDIInput{}
}

func (nullMIDIInput) Listen(string, func(int, int)) error {
	return errors.New("MIDI input requires a cgo build")
}

func (nullMIDIInput) Close() {}
