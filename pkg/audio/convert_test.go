package audio

import (
	"bytes"
	"testing"
)

// pcm16 encodes int16 samples as little-endian PCM bytes.
func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func TestMonoToStereo(t *testing.T) {
	in := pcm16(100, -200, 32767)
	want := pcm16(100, 100, -200, -200, 32767, 32767)

	if got := MonoToStereo(in); !bytes.Equal(got, want) {
		t.Errorf("MonoToStereo = %v, want %v", got, want)
	}
}

func TestStereoToMono_Averages(t *testing.T) {
	in := pcm16(100, 200, -1000, -2000)
	want := pcm16(150, -1500)

	if got := StereoToMono(in); !bytes.Equal(got, want) {
		t.Errorf("StereoToMono = %v, want %v", got, want)
	}
}

func TestStereoToMono_NoOverflow(t *testing.T) {
	// Both channels at full scale must not wrap.
	in := pcm16(32767, 32767, -32768, -32768)
	want := pcm16(32767, -32768)

	if got := StereoToMono(in); !bytes.Equal(got, want) {
		t.Errorf("StereoToMono = %v, want %v", got, want)
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	in := pcm16(0, 100, 200, 300, 400, 500, 600, 700)
	got := ResampleMono16(in, 48000, 24000)

	if len(got) != len(in)/2 {
		t.Fatalf("output length = %d, want %d", len(got), len(in)/2)
	}
	// 2:1 decimation lands on every other input sample exactly.
	want := pcm16(0, 200, 400, 600)
	if !bytes.Equal(got, want) {
		t.Errorf("ResampleMono16 = %v, want %v", got, want)
	}
}

func TestResampleMono16_SameRateUnchanged(t *testing.T) {
	in := pcm16(1, 2, 3)
	if got := ResampleMono16(in, 48000, 48000); !bytes.Equal(got, in) {
		t.Errorf("same-rate resample changed data")
	}
}

func TestResampleStereo16_Upsample(t *testing.T) {
	in := pcm16(0, 0, 100, -100)
	got := ResampleStereo16(in, 24000, 48000)

	if len(got) != len(in)*2 {
		t.Fatalf("output length = %d, want %d", len(got), len(in)*2)
	}
	// Frame 0 must be the original first frame.
	if !bytes.Equal(got[:4], in[:4]) {
		t.Errorf("first frame = %v, want %v", got[:4], in[:4])
	}
}

func TestNormalize_FastPath(t *testing.T) {
	f := Format{SampleRate: 48000, Channels: 2, BitDepth: 16}
	n := NewNormalizer(f, f)
	in := pcm16(1, 2, 3, 4)

	got := n.Normalize(in)
	if &got[0] != &in[0] {
		t.Error("matching formats should return the input slice unchanged")
	}
}

func TestNormalize_DropsOddChunk(t *testing.T) {
	f := Format{SampleRate: 48000, Channels: 2, BitDepth: 16}
	n := NewNormalizer(f, f)

	if got := n.Normalize([]byte{1, 2, 3}); got != nil {
		t.Errorf("odd-length chunk = %v, want nil", got)
	}
}

func TestNormalize_MonoUpmixAndResample(t *testing.T) {
	src := Format{SampleRate: 24000, Channels: 1, BitDepth: 16}
	dst := Format{SampleRate: 48000, Channels: 2, BitDepth: 16}
	n := NewNormalizer(src, dst)

	in := pcm16(100, 200, 300, 400)
	got := n.Normalize(in)

	// 4 mono samples at 24k become 8 at 48k, then 16 interleaved stereo
	// samples: 32 bytes.
	if len(got) != 32 {
		t.Fatalf("output length = %d, want 32", len(got))
	}
	if want := n.NormalizedLen(len(in)); len(got) != want {
		t.Errorf("NormalizedLen = %d, actual output = %d", want, len(got))
	}
}

func TestNormalizedLen(t *testing.T) {
	tests := []struct {
		name   string
		src    Format
		dst    Format
		srcLen int
		want   int
	}{
		{
			"identity",
			Format{SampleRate: 48000, Channels: 2, BitDepth: 16},
			Format{SampleRate: 48000, Channels: 2, BitDepth: 16},
			3840, 3840,
		},
		{
			"stereo downmix",
			Format{SampleRate: 48000, Channels: 2, BitDepth: 16},
			Format{SampleRate: 48000, Channels: 1, BitDepth: 16},
			3840, 1920,
		},
		{
			"mono upmix with resample",
			Format{SampleRate: 44100, Channels: 1, BitDepth: 16},
			Format{SampleRate: 48000, Channels: 2, BitDepth: 16},
			882, 1920,
		},
		{
			"odd input",
			Format{SampleRate: 48000, Channels: 2, BitDepth: 16},
			Format{SampleRate: 48000, Channels: 2, BitDepth: 16},
			33, 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			n := NewNormalizer(tc.src, tc.dst)
			if got := n.NormalizedLen(tc.srcLen); got != tc.want {
				t.Errorf("NormalizedLen(%d) = %d, want %d", tc.srcLen, got, tc.want)
			}
		})
	}
}
