package oto

import (
	"encoding/binary"
	"math"

	"github.com/strumlab/strum"
)

// FloatBufferToBytesLE appends the buffer's frames to out as interleaved
// little-endian float32, the format the device players here are opened with.
func FloatBufferToBytesLE(buf strum.AudioBuffer, out []byte) []byte {
	for _, frame := range buf {
		for _, smp := range frame {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(smp))
		}
	}
	return out
}
