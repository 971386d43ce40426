//go:build cgo

package main

import (
	"errors"
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

type rtmidiInput struct {
	driver *rtmididrv.Driver
	in     drivers.In
	stop   func()
}

func newMIDIInput() midiInput {
	m := &rtmidiInput{}
	// there's not much we can do if this fails, so just use m.driver = nil to
	// indicate no driver available
	m.driver, _ = rtmididrv.New()
	return m
}

func (m *rtmidiInput) Listen(namePrefix string, onNote func(note, velocity int)) error {
	if m.driver == nil {
		return errors.New("no MIDI driver available")
	}
	ins, err := m.driver.Ins()
	if err != nil {
		return fmt.Errorf("listing MIDI inputs failed: %w", err)
	}
	var in drivers.In
	for _, candidate := range ins {
		if namePrefix == "" || strings.HasPrefix(candidate.String(), namePrefix) {
			in = candidate
			break
		}
	}
	if in == nil {
		return fmt.Errorf("no MIDI input matching %q", namePrefix)
	}
	if err := in.Open(); err != nil {
		return fmt.Errorf("opening MIDI input failed: %w", err)
	}
	m.in = in
	stop, err := midi.ListenTo(in, func(msg midi.Message, timestampms int32) {
		var channel, key, velocity uint8
		if msg.GetNoteOn(&channel, &key, &velocity) {
			onNote(int(key), int(velocity))
		}
	})
	if err != nil {
		in.Close()
		m.in = nil
		return fmt.Errorf("listening to MIDI input failed: %w", err)
	}
	m.stop = stop
	return nil
}

func (m *rtmidiInput) Close() {
	if m.stop != nil {
		m.stop()
	}
	if m.in != nil && m.in.IsOpen() {
		m.in.Close()
	}
	if m.driver != nil {
		m.driver.Close()
	}
}
