package audio

import (
	"fmt"
	"log/slog"
)

// Convert returns f in the target format. Frames already in the target format
// are returned as is. Resampling happens before channel conversion so stereo
// input is never resampled twice. Frames with an odd byte count cannot be
// int16 PCM and come back with nil Data.
func Convert(f Frame, target Format) Frame {
	if len(f.Data)%2 != 0 {
		return Frame{SampleRate: target.SampleRate, Channels: target.Channels}
	}
	if f.Format() == target {
		return f
	}

	pcm := f.Data
	if f.SampleRate != target.SampleRate {
		if f.Channels == 2 {
			pcm = ResampleStereo16(pcm, f.SampleRate, target.SampleRate)
		} else {
			pcm = ResampleMono16(pcm, f.SampleRate, target.SampleRate)
		}
	}
	switch {
	case f.Channels == 1 && target.Channels == 2:
		pcm = MonoToStereo(pcm)
	case f.Channels == 2 && target.Channels == 1:
		pcm = StereoToMono(pcm)
	}
	return Frame{Data: pcm, SampleRate: target.SampleRate, Channels: target.Channels}
}

// ConvertStream converts every frame from in to target on its own goroutine.
// The returned channel is closed when in is closed. Unconvertible frames are
// dropped; the first format mismatch is logged once.
func ConvertStream(in <-chan Frame, target Format) <-chan Frame {
	out := make(chan Frame, cap(in))
	go func() {
		defer close(out)
		warned := false
		for f := range in {
			if !warned && f.Format() != target {
				warned = true
				slog.Debug("audio: converting capture stream",
					"from", f.Format().String(),
					"to", target.String(),
				)
			}
			c := Convert(f, target)
			if len(c.Data) == 0 {
				continue
			}
			out <- c
		}
	}()
	return out
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*4)
	for i := range n {
		s := sampleAt(pcm, i)
		putSample(out, 2*i, s)
		putSample(out, 2*i+1, s)
	}
	return out
}

// StereoToMono averages each L+R pair.
func StereoToMono(pcm []byte) []byte {
	n := len(pcm) / 4
	out := make([]byte, n*2)
	for i := range n {
		avg := (int32(sampleAt(pcm, 2*i)) + int32(sampleAt(pcm, 2*i+1))) / 2
		putSample(out, i, int16(avg))
	}
	return out
}

// ResampleMono16 converts mono PCM from srcRate to dstRate with linear
// interpolation. Invalid rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample(pcm, 1, srcRate, dstRate)
}

// ResampleStereo16 is [ResampleMono16] for interleaved stereo.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample(pcm, 2, srcRate, dstRate)
}

func resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (2 * channels)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*2*channels)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for ch := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+ch))
			s1 := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int16(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

// String renders f as e.g. "48000Hz stereo".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}
