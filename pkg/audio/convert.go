package audio

import (
	"log/slog"
	"sync"
)

// Normalizer converts raw PCM chunks from a source's native format to the
// fixed target format required downstream. It has no mutable sample state;
// output length is a deterministic function of input length and the two
// formats, so the Framer's byte accounting stays correct across calls.
// The sync.Once fields only gate log spam; Normalize is safe to call from
// any goroutine.
type Normalizer struct {
	Source Format
	Target Format

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// NewNormalizer creates a Normalizer for the given source and target formats.
// Both formats must have passed [Format.Validate]; only 16-bit PCM is handled.
func NewNormalizer(source, target Format) *Normalizer {
	return &Normalizer{Source: source, Target: target}
}

// Normalize converts chunk from the source format to the target format.
// If the formats already match, chunk is returned unchanged (zero
// allocation). Chunks with an odd byte count are dropped with a one-time
// warning; they indicate a torn int16 sample upstream.
// Conversion order: resample first, then channel convert.
func (n *Normalizer) Normalize(chunk []byte) []byte {
	if len(chunk)%2 != 0 {
		n.warnedCorrupt.Do(func() {
			slog.Warn("audio normalizer: odd byte count in PCM chunk, dropping",
				"bytes", len(chunk),
				"source", n.Source.String(),
			)
		})
		return nil
	}

	// Fast path: source matches target.
	if n.Source.SampleRate == n.Target.SampleRate && n.Source.Channels == n.Target.Channels {
		return chunk
	}

	n.warnedMismatch.Do(func() {
		slog.Info("audio normalizer: converting",
			"from", n.Source.String(),
			"to", n.Target.String(),
		)
	})

	pcm := chunk
	rate := n.Source.SampleRate
	channels := n.Source.Channels

	// Step 1: Resample first (avoids resampling stereo when target is mono).
	if rate != n.Target.SampleRate {
		if channels == 1 {
			pcm = ResampleMono16(pcm, rate, n.Target.SampleRate)
		} else {
			pcm = ResampleStereo16(pcm, rate, n.Target.SampleRate)
		}
		rate = n.Target.SampleRate
	}

	// Step 2: Channel conversion.
	if channels != n.Target.Channels {
		if channels == 1 && n.Target.Channels == 2 {
			pcm = MonoToStereo(pcm)
		} else if channels == 2 && n.Target.Channels == 1 {
			pcm = StereoToMono(pcm)
		}
	}

	return pcm
}

// NormalizedLen returns the exact output length Normalize will produce for
// an input of srcLen bytes. The Framer relies on this for byte accounting.
func (n *Normalizer) NormalizedLen(srcLen int) int {
	if srcLen%2 != 0 {
		return 0
	}
	if n.Source.SampleRate == n.Target.SampleRate && n.Source.Channels == n.Target.Channels {
		return srcLen
	}

	sampleBytes := n.Source.Channels * 2
	frames := srcLen / sampleBytes
	if n.Source.SampleRate != n.Target.SampleRate {
		frames = int(int64(frames) * int64(n.Target.SampleRate) / int64(n.Source.SampleRate))
	}
	return frames * n.Target.Channels * 2
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// Input must be little-endian int16 PCM (2 bytes per sample).
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono
// output. Uses int32 arithmetic to prevent overflow and clamps to int16
// range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		lSample := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		rSample := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (lSample + rSample) / 2

		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples.
// If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// ResampleStereo16 resamples 16-bit stereo PCM from srcRate to dstRate using
// linear interpolation. Each stereo frame is 4 bytes (L+R interleaved).
// If srcRate == dstRate, the input is returned unchanged.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 4 {
		return pcm
	}
	srcFrames := len(pcm) / 4
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*4)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		l0 := int16(pcm[srcIdx*4]) | int16(pcm[srcIdx*4+1])<<8
		r0 := int16(pcm[srcIdx*4+2]) | int16(pcm[srcIdx*4+3])<<8

		var l1, r1 int16
		if srcIdx+1 < srcFrames {
			l1 = int16(pcm[(srcIdx+1)*4]) | int16(pcm[(srcIdx+1)*4+1])<<8
			r1 = int16(pcm[(srcIdx+1)*4+2]) | int16(pcm[(srcIdx+1)*4+3])<<8
		} else {
			l1 = l0
			r1 = r0
		}

		lInterp := int16(float64(l0)*(1-frac) + float64(l1)*frac)
		rInterp := int16(float64(r0)*(1-frac) + float64(r1)*frac)

		out[i*4] = byte(lInterp)
		out[i*4+1] = byte(lInterp >> 8)
		out[i*4+2] = byte(rInterp)
		out[i*4+3] = byte(rInterp >> 8)
	}
	return out
}
