package audio

import "math"

// ApplyGain scales every int16 LE sample in pcm by gain, saturating at the
// int16 limits. It returns a new slice; a gain of exactly 1 returns pcm
// unchanged. A trailing odd byte is dropped.
func ApplyGain(pcm []byte, gain float64) []byte {
	if gain == 1 {
		return pcm
	}
	n := len(pcm) / 2
	out := make([]byte, n*2)
	if gain <= 0 {
		return out
	}
	for i := range n {
		v := float64(sampleAt(pcm, i)) * gain
		putSample(out, i, int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(v)))))
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

func putSample(pcm []byte, i int, v int16) {
	pcm[i*2] = byte(v)
	pcm[i*2+1] = byte(v >> 8)
}
