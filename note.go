package strum

import (
	"fmt"
	"math"
	"strings"
)

type (
	// Chord is a parsed chord label: a root pitch class (0 = C ... 11 = B) and
	// a quality. Labels are the root name optionally followed by "m" for
	// minor, e.g. "C", "F#", "Ebm". Flat spellings are accepted and normalized
	// to sharps for pitch math, but Label keeps the spelling it was parsed
	// from so resource paths match the document.
	Chord struct {
		Root  int
		Minor bool
		name  string
	}

	// Key is the tonal center of a song, written like a chord label ("C",
	// "Am"). It drives the default note generator when clips carry no notes.
	Key struct {
		Root  int
		Minor bool
	}
)

var pitchClassNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

var noteIndex = map[string]int{
	"C": 0, "C#": 1, "Db": 1, "D": 2, "D#": 3, "Eb": 3, "E": 4, "Fb": 4,
	"F": 5, "F#": 6, "Gb": 6, "G": 7, "G#": 8, "Ab": 8, "A": 9, "A#": 10,
	"Bb": 10, "B": 11, "Cb": 11,
}

// EnharmonicFlats are the flat chord spellings that commonly appear in
// documents alongside the sharp canon. The sample preloader warms these up in
// addition to the twelve sharp-spelled roots.
var EnharmonicFlats = [5]string{"Db", "Eb", "Gb", "Ab", "Bb"}

var (
	majorTriad = [3]int{0, 4, 7}
	minorTriad = [3]int{0, 3, 7}

	majorScale = [7]int{0, 2, 4, 5, 7, 9, 11}
	minorScale = [7]int{0, 2, 3, 5, 7, 8, 10}
)

// DefaultChordOctave is the octave chords are voiced at when a chord label has
// to be turned into concrete pitches, counted so that octave 4 starts at
// middle C (MIDI 60).
const DefaultChordOctave = 3

// ParseChord parses a chord label such as "C", "F#m" or "Ebm". The empty
// string and anything that is not a root name plus optional "m" is an error.
func ParseChord(label string) (Chord, error) {
	name := strings.TrimSpace(label)
	minor := false
	root := name
	if strings.HasSuffix(root, "m") && root != "m" {
		minor = true
		root = root[:len(root)-1]
	}
	pc, ok := noteIndex[root]
	if !ok {
		return Chord{}, fmt.Errorf("invalid chord label %q", label)
	}
	return Chord{Root: pc, Minor: minor, name: root}, nil
}

// Label returns the chord label, preserving the spelling the chord was parsed
// from when there was one.
func (c Chord) Label() string {
	name := c.name
	if name == "" {
		name = pitchClassNames[((c.Root%12)+12)%12]
	}
	if c.Minor {
		return name + "m"
	}
	return name
}

// Parallel returns the parallel chord: same root, opposite quality. It is the
// nearest musical alternative when a resource for the chord itself cannot be
// resolved.
func (c Chord) Parallel() Chord {
	return Chord{Root: c.Root, Minor: !c.Minor, name: c.name}
}

// Semitones returns the chord tones as semitone offsets from the root.
func (c Chord) Semitones() []int {
	if c.Minor {
		return minorTriad[:]
	}
	return majorTriad[:]
}

// MIDI returns the chord tones as MIDI note numbers voiced at the given
// octave.
func (c Chord) MIDI(octave int) []int {
	base := (octave+1)*12 + c.Root
	intervals := c.Semitones()
	ret := make([]int, len(intervals))
	for i, iv := range intervals {
		ret[i] = base + iv
	}
	return ret
}

// ParseKey parses a key label, which has the same form as a chord label.
func ParseKey(label string) (Key, error) {
	c, err := ParseChord(label)
	if err != nil {
		return Key{}, fmt.Errorf("invalid key: %w", err)
	}
	return Key{Root: c.Root, Minor: c.Minor}, nil
}

// Scale returns the pitch classes of the key's diatonic scale, starting from
// the root.
func (k Key) Scale() []int {
	steps := majorScale
	if k.Minor {
		steps = minorScale
	}
	ret := make([]int, len(steps))
	for i, s := range steps {
		ret[i] = (k.Root + s) % 12
	}
	return ret
}

// Progression returns the stock chord progression of the key, used by the
// default note generator for chordal tracks: I-IV-V-vi in a major key and the
// i-iv-v-VI analogue in a minor key.
func (k Key) Progression() []Chord {
	scale := k.Scale()
	if k.Minor {
		return []Chord{
			{Root: scale[0], Minor: true},
			{Root: scale[3], Minor: true},
			{Root: scale[4], Minor: true},
			{Root: scale[5], Minor: false},
		}
	}
	return []Chord{
		{Root: scale[0], Minor: false},
		{Root: scale[3], Minor: false},
		{Root: scale[4], Minor: false},
		{Root: scale[5], Minor: true},
	}
}

// ParseNote parses a note name with octave, e.g. "C4", "F#3" or "Db5", into a
// MIDI note number with middle C ("C4") at 60.
func ParseNote(name string) (int, error) {
	s := strings.TrimSpace(name)
	i := len(s)
	for i > 0 && (s[i-1] == '-' || (s[i-1] >= '0' && s[i-1] <= '9')) {
		i--
	}
	if i == 0 || i == len(s) {
		return 0, fmt.Errorf("invalid note name %q", name)
	}
	pc, ok := noteIndex[s[:i]]
	if !ok {
		return 0, fmt.Errorf("invalid note name %q", name)
	}
	var octave int
	if _, err := fmt.Sscanf(s[i:], "%d", &octave); err != nil {
		return 0, fmt.Errorf("invalid note octave in %q", name)
	}
	midi := (octave+1)*12 + pc
	if midi < 0 || midi > 127 {
		return 0, fmt.Errorf("note %q out of MIDI range", name)
	}
	return midi, nil
}

// NoteLabel formats a MIDI note number as a sharp-spelled name with octave,
// the inverse of ParseNote: NoteLabel(60) is "C4".
func NoteLabel(midi int) string {
	pc := midi % 12
	if pc < 0 {
		pc += 12
	}
	return fmt.Sprintf("%s%d", pitchClassNames[pc], (midi-pc)/12-1)
}

// LabelMIDI turns a clip label into concrete pitches: a note name with an
// octave digit gives a single pitch, anything else is parsed as a chord label
// and voiced at DefaultChordOctave.
func LabelMIDI(label string) ([]int, error) {
	if n, err := ParseNote(label); err == nil {
		return []int{n}, nil
	}
	c, err := ParseChord(label)
	if err != nil {
		return nil, err
	}
	return c.MIDI(DefaultChordOctave), nil
}

// NoteFreq returns the frequency in Hz of a MIDI note number, with A4 (69) at
// 440 Hz.
func NoteFreq(midi int) float32 {
	return float32(440 * math.Exp2(float64(midi-69)/12))
}
