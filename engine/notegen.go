package engine

import (
	"hash/fnv"

	"github.com/strumlab/strum"
)

// leadOctave is where generated lead lines live. Base 4 keeps the walk in
// the same register as a sung melody.
const leadOctave = 4

// generateNotes supplies labels for a clip without notes, derived from the
// song key. Chordal tracks cycle the key's stock progression, lead tracks
// take a quasi-random walk over the key's scale, and rhythm tracks stay
// unpitched. The walk is seeded from the clip ID so the same clip generates
// the same line on every schedule.
func generateNotes(kind strum.TrackKind, key strum.Key, clipID string, n int) []string {
	notes := make([]string, n)
	switch kind {
	case strum.TrackChordal:
		prog := key.Progression()
		for i := range notes {
			notes[i] = prog[i%len(prog)].Label()
		}
	case strum.TrackLead:
		scale := key.Scale()
		seed := clipSeed(clipID)
		degree := int(seed>>16) % len(scale)
		for i := range notes {
			octave, step := degree/len(scale), degree%len(scale)
			interval := (scale[step] - key.Root + 12) % 12
			notes[i] = strum.NoteLabel((leadOctave+1)*12 + key.Root + 12*octave + interval)
			seed *= 16007
			degree += int(seed>>20)%5 - 2
			if degree < 0 {
				degree = 0
			}
			if limit := 2*len(scale) - 1; degree > limit {
				degree = limit
			}
		}
	}
	return notes
}

func clipSeed(clipID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(clipID))
	seed := h.Sum32()
	if seed == 0 {
		seed = 1
	}
	return seed
}
