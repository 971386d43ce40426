package strum

type (
	// Clip is a piece of content placed on a track's timeline. A clip either
	// references a recorded resource directly, in which case it plays as one
	// continuous sound, or it is granular: its duration is subdivided into
	// grains and each grain triggers one note from Notes (or from the default
	// note generator when Notes is empty).
	Clip struct {
		ID    string  `yaml:"id,omitempty" json:"id,omitempty"`
		Start float64 `yaml:"start" json:"start" validate:"gte=0"`
		// Duration is the length of the clip on the timeline, in seconds.
		Duration float64 `yaml:"duration" json:"duration" validate:"gte=0"`
		// Notes holds chord labels ("Em") or note names ("C4"). Grains cycle
		// through it, reusing notes from the start when there are more grains
		// than notes.
		Notes []string `yaml:"notes,omitempty,flow" json:"notes,omitempty"`
		// Resource, when set, marks the clip as a direct resource clip.
		Resource *ResourceRef `yaml:"resource,omitempty" json:"resource,omitempty"`
		// GrainDuration is the grain length in seconds; zero means the
		// engine-wide default.
		GrainDuration float64 `yaml:"grainDuration,omitempty" json:"grainDuration,omitempty" validate:"gte=0"`
		// Offset is how far into the referenced resource playback starts, in
		// seconds. Only meaningful for direct resource clips.
		Offset float64 `yaml:"offset,omitempty" json:"offset,omitempty" validate:"gte=0"`
		// Volume scales this clip's triggers on top of the track volume. Zero
		// reads as "not set" and plays at full level.
		Volume  float64        `yaml:"volume,omitempty" json:"volume,omitempty" validate:"gte=0,lte=1"`
		Effects EffectSettings `yaml:"effects,omitempty" json:"effects,omitempty"`
	}

	// ResourceRef names a recorded resource: a category (e.g. "guitar"), an
	// instrument within it (e.g. "Acoustic") and a variant, which for chord
	// libraries is the chord label. Lookups are case-insensitive on the
	// instrument but the original casing decides the resource path.
	ResourceRef struct {
		Category   string `yaml:"category" json:"category"`
		Instrument string `yaml:"instrument" json:"instrument"`
		Variant    string `yaml:"variant" json:"variant"`
	}
)

// End returns the clip's end position on the timeline.
func (c *Clip) End() float64 {
	return c.Start + c.Duration
}

// Grain returns the effective grain duration of the clip.
func (c *Clip) Grain() float64 {
	if c.GrainDuration > 0 {
		return c.GrainDuration
	}
	return DefaultGrain
}

// Copy makes a deep copy of a Clip.
func (c *Clip) Copy() Clip {
	notes := make([]string, len(c.Notes))
	copy(notes, c.Notes)
	ret := *c
	ret.Notes = notes
	if c.Resource != nil {
		r := *c.Resource
		ret.Resource = &r
	}
	return ret
}

// Sanitize forces all clip fields into their valid ranges. It never fails;
// nonsensical values collapse to safe defaults.
func (c *Clip) Sanitize() {
	c.Start = SanitizeStartTime(c.Start)
	c.Duration = SanitizeDuration(c.Duration)
	if !isFinite(c.GrainDuration) || c.GrainDuration < 0 {
		c.GrainDuration = 0
	}
	if c.GrainDuration > MaxClipSeconds {
		c.GrainDuration = MaxClipSeconds
	}
	if !isFinite(c.Offset) || c.Offset < 0 {
		c.Offset = 0
	}
	if !isFinite(c.Volume) || c.Volume <= 0 || c.Volume > 1 {
		c.Volume = 1
	}
	c.Effects = c.Effects.Clamp()
}
