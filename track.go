package strum

type (
	// TrackKind tells the default note generator how to treat a track when its
	// clips carry no notes: chordal tracks walk the key's stock progression,
	// lead tracks take a quasi-random walk over the key's scale, and rhythm
	// tracks trigger unpitched hits.
	TrackKind string

	// Instrument names the sound a track plays with: a resource category and
	// an instrument inside it. The instrument name keeps whatever casing the
	// document used; resource lookups are case-insensitive but the path is
	// built from this exact spelling.
	Instrument struct {
		Category string `yaml:"category" json:"category"`
		Name     string `yaml:"name" json:"name"`
	}

	// Track is one lane of the song: an instrument, mixer settings, an effect
	// chain and the clips placed on it.
	Track struct {
		ID         string         `yaml:"id,omitempty" json:"id,omitempty"`
		Name       string         `yaml:"name,omitempty" json:"name,omitempty"`
		Instrument Instrument     `yaml:"instrument" json:"instrument"`
		Kind       TrackKind      `yaml:"kind,omitempty" json:"kind,omitempty" validate:"omitempty,oneof=chordal lead rhythm"`
		Volume     float64        `yaml:"volume,omitempty" json:"volume,omitempty" validate:"gte=0,lte=1"`
		Pan        float64        `yaml:"pan,omitempty" json:"pan,omitempty" validate:"gte=-1,lte=1"`
		Muted      bool           `yaml:"muted,omitempty" json:"muted,omitempty"`
		Solo       bool           `yaml:"solo,omitempty" json:"solo,omitempty"`
		Effects    EffectSettings `yaml:"effects,omitempty" json:"effects,omitempty"`
		Clips      []Clip         `yaml:"clips" json:"clips" validate:"dive"`
	}
)

const (
	TrackChordal TrackKind = "chordal"
	TrackLead    TrackKind = "lead"
	TrackRhythm  TrackKind = "rhythm"
)

// Copy makes a deep copy of a Track.
func (t *Track) Copy() Track {
	clips := make([]Clip, len(t.Clips))
	for i := range t.Clips {
		clips[i] = t.Clips[i].Copy()
	}
	ret := *t
	ret.Clips = clips
	return ret
}

// Sanitize forces all track fields into their valid ranges and sanitizes the
// clips. A zero volume reads as "not set" and becomes the default; silencing a
// track is what the Muted flag is for.
func (t *Track) Sanitize() {
	if t.Kind != TrackChordal && t.Kind != TrackLead && t.Kind != TrackRhythm {
		t.Kind = TrackChordal
	}
	if !isFinite(t.Volume) || t.Volume <= 0 {
		t.Volume = DefaultTrackVolume
	}
	if t.Volume > 1 {
		t.Volume = 1
	}
	t.Pan = clampFinite(t.Pan, -1, 1)
	t.Effects = t.Effects.Clamp()
	for i := range t.Clips {
		t.Clips[i].Sanitize()
	}
}

// ClipIndex returns the index of the clip with the given ID, or -1.
func (t *Track) ClipIndex(id string) int {
	for i := range t.Clips {
		if t.Clips[i].ID == id {
			return i
		}
	}
	return -1
}
