package audio

import (
	"encoding/binary"
	"math"
	"time"
)

const bytesPerSample = 2

// BytesPerSecond is the PCM byte rate of f, or 0 for an unset format.
func (f Format) BytesPerSecond() int {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return f.SampleRate * f.Channels * bytesPerSample
}

// Duration returns how long n bytes of PCM in format f play for.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// RMS is the root-mean-square amplitude of pcm, in int16 sample units.
func RMS(pcm []byte) float64 {
	n := len(pcm) / bytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(sampleAt(pcm, i))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// EncodeWAV prepends a canonical 44-byte RIFF header to pcm.
func EncodeWAV(pcm []byte, f Format) []byte {
	le := binary.LittleEndian
	out := make([]byte, 0, 44+len(pcm))
	out = append(out, "RIFF"...)
	out = le.AppendUint32(out, uint32(36+len(pcm)))
	out = append(out, "WAVEfmt "...)
	out = le.AppendUint32(out, 16)
	out = le.AppendUint16(out, 1)
	out = le.AppendUint16(out, uint16(f.Channels))
	out = le.AppendUint32(out, uint32(f.SampleRate))
	out = le.AppendUint32(out, uint32(f.BytesPerSecond()))
	out = le.AppendUint16(out, uint16(f.Channels*bytesPerSample))
	out = le.AppendUint16(out, 8*bytesPerSample)
	out = append(out, "data"...)
	out = le.AppendUint32(out, uint32(len(pcm)))
	return append(out, pcm...)
}
