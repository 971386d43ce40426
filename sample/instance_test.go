package sample_test

import (
	"testing"

	"github.com/strumlab/strum"
	"github.com/strumlab/strum/sample"
)

func rampPCM(frames, rate int) *sample.PCM {
	p := &sample.PCM{
		Left:  make([]float32, frames),
		Right: make([]float32, frames),
		Rate:  rate,
	}
	for i := range p.Left {
		v := float32(i) / float32(frames)
		p.Left[i] = v
		p.Right[i] = -v
	}
	return p
}

func mixUntilDead(t *testing.T, v interface {
	Mix(l, r []float32) bool
}, maxFrames int) int {
	t.Helper()
	l := make([]float32, 256)
	r := make([]float32, 256)
	total := 0
	for total < maxFrames {
		for i := range l {
			l[i], r[i] = 0, 0
		}
		alive := v.Mix(l, r)
		total += len(l)
		if !alive {
			return total
		}
	}
	t.Fatalf("voice still alive after %v frames", maxFrames)
	return total
}

func TestInstancePlaysWholeResource(t *testing.T) {
	pcm := rampPCM(4000, strum.SampleRate)
	inst := pcm.Instance(0, 0, 1)
	total := mixUntilDead(t, inst, 8000)
	if total < 4000 || total > 4000+256 {
		t.Errorf("instance lifetime: got %v frames, expected about 4000", total)
	}
}

func TestInstanceOffsetAndDuration(t *testing.T) {
	pcm := rampPCM(strum.SampleRate, strum.SampleRate) // one second ramp
	inst := pcm.Instance(0.5, 0.1, 1)

	l := make([]float32, 512)
	r := make([]float32, 512)
	inst.Mix(l, r)
	// 5ms in, past the declick attack, the ramp should read near its midpoint
	probe := l[300]
	if probe < 0.45 || probe > 0.55 {
		t.Errorf("offset read: got %v, expected about 0.5", probe)
	}
	if r[300] > -0.45 || r[300] < -0.55 {
		t.Errorf("right channel: got %v, expected about -0.5", r[300])
	}

	total := mixUntilDead(t, pcm.Instance(0.5, 0.1, 1), strum.SampleRate)
	limit := int(0.1*strum.SampleRate) + 512
	if total > limit {
		t.Errorf("held instance lived %v frames, expected under %v", total, limit)
	}
}

func TestInstanceResamples(t *testing.T) {
	pcm := rampPCM(2000, strum.SampleRate/2)
	total := mixUntilDead(t, pcm.Instance(0, 0, 1), 16000)
	if total < 3900 || total > 4300 {
		t.Errorf("22050 Hz resource should stretch to about 4000 output frames, got %v", total)
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	pcm := rampPCM(8000, strum.SampleRate)
	a := pcm.Instance(0, 0, 1)
	b := pcm.Instance(0, 0, 1)

	l := make([]float32, 1024)
	r := make([]float32, 1024)
	a.Mix(l, r)
	a.Mix(l, r) // advance a by another block

	la := make([]float32, 1024)
	lb := make([]float32, 1024)
	ra := make([]float32, 1024)
	rb := make([]float32, 1024)
	a.Mix(la, ra)
	b.Mix(lb, rb)
	if la[512] == lb[512] {
		t.Errorf("instances share playback position: both read %v", la[512])
	}
	if lb[900] == 0 {
		t.Errorf("second instance should still be near the start of the ramp")
	}
}

func TestReleaseFadesOut(t *testing.T) {
	pcm := rampPCM(strum.SampleRate*2, strum.SampleRate)
	inst := pcm.Instance(0, 0, 1)
	l := make([]float32, 512)
	r := make([]float32, 512)
	inst.Mix(l, r)
	inst.Release()
	total := mixUntilDead(t, inst, strum.SampleRate)
	if total > 1024 {
		t.Errorf("release fade took %v frames, expected a short declick tail", total)
	}
}
