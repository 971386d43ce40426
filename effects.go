package strum

type (
	// EffectSettings is the full set of effect amounts for a signal chain.
	// Every stage of a chain always exists; an amount of zero leaves the stage
	// as an exact pass-through. Amounts are in [0, 1] except PitchShift which
	// is in semitones. The zero value is a completely dry chain.
	EffectSettings struct {
		PitchShift float64 `yaml:"pitchShift,omitempty" json:"pitchShift,omitempty" validate:"gte=-12,lte=12"`
		Distortion float64 `yaml:"distortion,omitempty" json:"distortion,omitempty" validate:"gte=0,lte=1"`
		Bitcrush   float64 `yaml:"bitcrush,omitempty" json:"bitcrush,omitempty" validate:"gte=0,lte=1"`
		Chorus     float64 `yaml:"chorus,omitempty" json:"chorus,omitempty" validate:"gte=0,lte=1"`
		Filter     float64 `yaml:"filter,omitempty" json:"filter,omitempty" validate:"gte=0,lte=1"`
		Delay      float64 `yaml:"delay,omitempty" json:"delay,omitempty" validate:"gte=0,lte=1"`
		Reverb     float64 `yaml:"reverb,omitempty" json:"reverb,omitempty" validate:"gte=0,lte=1"`
	}
)

// Clamp returns the settings with every amount forced into its valid range.
// Non-finite values collapse to zero.
func (e EffectSettings) Clamp() EffectSettings {
	return EffectSettings{
		PitchShift: clampFinite(e.PitchShift, -12, 12),
		Distortion: clampFinite(e.Distortion, 0, 1),
		Bitcrush:   clampFinite(e.Bitcrush, 0, 1),
		Chorus:     clampFinite(e.Chorus, 0, 1),
		Filter:     clampFinite(e.Filter, 0, 1),
		Delay:      clampFinite(e.Delay, 0, 1),
		Reverb:     clampFinite(e.Reverb, 0, 1),
	}
}

// Merge lays the clip settings over the track settings: any non-zero amount in
// over wins, zero amounts keep the base value.
func (e EffectSettings) Merge(over EffectSettings) EffectSettings {
	ret := e
	if over.PitchShift != 0 {
		ret.PitchShift = over.PitchShift
	}
	if over.Distortion != 0 {
		ret.Distortion = over.Distortion
	}
	if over.Bitcrush != 0 {
		ret.Bitcrush = over.Bitcrush
	}
	if over.Chorus != 0 {
		ret.Chorus = over.Chorus
	}
	if over.Filter != 0 {
		ret.Filter = over.Filter
	}
	if over.Delay != 0 {
		ret.Delay = over.Delay
	}
	if over.Reverb != 0 {
		ret.Reverb = over.Reverb
	}
	return ret
}

// IsZero reports whether every amount is zero, i.e. the chain would be a
// complete pass-through.
func (e EffectSettings) IsZero() bool {
	return e == EffectSettings{}
}
