package synth_test

import (
	"testing"

	"github.com/strumlab/strum"
	"github.com/strumlab/strum/synth"
)

func mixAll(v *synth.Voice, frames int) ([]float32, int) {
	l := make([]float32, frames)
	r := make([]float32, frames)
	block := 512
	for off := 0; off < frames; off += block {
		end := min(off+block, frames)
		if !v.Mix(l[off:end], r[off:end]) {
			return l, end
		}
	}
	return l, frames
}

func TestChordVoiceProducesSoundAndDies(t *testing.T) {
	c, _ := strum.ParseChord("Am")
	v := synth.NewChordVoice(c.MIDI(3), 0.5, 0.8)
	total := strum.SampleRate * 3 // way beyond hold plus release cap
	buf, lived := mixAll(v, total)
	if lived >= total {
		t.Fatalf("voice still alive after %v frames", total)
	}
	if lived < strum.SampleRate/2 {
		t.Errorf("voice died before its hold time: %v frames", lived)
	}
	var peak float32
	for _, s := range buf {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	if peak == 0 {
		t.Errorf("voice produced only silence")
	}
	if peak > 1 {
		t.Errorf("voice clipped: peak %v", peak)
	}
}

func TestReleaseCutsHold(t *testing.T) {
	v := synth.NewNoteVoice(60, 10, 0.5)
	l := make([]float32, 64)
	r := make([]float32, 64)
	if !v.Mix(l, r) {
		t.Fatalf("voice died immediately")
	}
	v.Release()
	frames := 0
	for v.Mix(l, r) {
		frames += len(l)
		if frames > strum.SampleRate*4 {
			t.Fatalf("released voice never died")
		}
	}
	if frames > strum.SampleRate*2 {
		t.Errorf("release tail too long: %v frames", frames)
	}
}

func TestHitVoiceIsShort(t *testing.T) {
	v := synth.NewHitVoice(0.2, 0.8)
	_, lived := mixAll(v, strum.SampleRate*3)
	if lived >= strum.SampleRate*3 {
		t.Errorf("hit voice still alive after 3 seconds")
	}
}

func TestVoicesAreIndependent(t *testing.T) {
	a := synth.NewNoteVoice(60, 1, 0.5)
	b := synth.NewNoteVoice(60, 1, 0.5)
	l1 := make([]float32, 256)
	r1 := make([]float32, 256)
	a.Mix(l1, r1)
	// advancing b must not affect a's continuation
	l2 := make([]float32, 256)
	r2 := make([]float32, 256)
	b.Mix(l2, r2)
	b.Mix(l2, r2)
	cont := make([]float32, 256)
	contR := make([]float32, 256)
	a.Mix(cont, contR)
	both := synth.NewNoteVoice(60, 1, 0.5)
	skip := make([]float32, 256)
	skipR := make([]float32, 256)
	both.Mix(skip, skipR)
	ref := make([]float32, 256)
	refR := make([]float32, 256)
	both.Mix(ref, refR)
	for i := range cont {
		if cont[i] != ref[i] {
			t.Fatalf("voice state leaked between instances at frame %v", i)
		}
	}
}
