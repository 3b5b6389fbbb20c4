// Package audio holds the PCM plumbing between speech providers and the
// output device: clip and format handling, utterance segmentation, WAV and
// MP3 codecs, and the [Player] abstraction.
//
// All PCM in this package is signed 16-bit little-endian, interleaved when
// multi-channel.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Format describes interleaved 16-bit PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// Common formats.
var (
	// STT is what the speech-to-text providers expect.
	STT = Format{SampleRate: 16000, Channels: 1}

	// Speaker is the default output device format.
	Speaker = Format{SampleRate: 48000, Channels: 2}
)

// Valid reports whether f describes sensible PCM.
func (f Format) Valid() bool { return f.SampleRate > 0 && f.Channels > 0 }

// BytesPerSecond returns the PCM data rate of f.
func (f Format) BytesPerSecond() int { return f.SampleRate * f.Channels * 2 }

// Duration returns the play time of n bytes of PCM in f.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
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

// Clip is a complete piece of decoded audio.
type Clip struct {
	PCM    []byte
	Format Format
}

// Duration returns the clip's play time.
func (c Clip) Duration() time.Duration { return c.Format.Duration(len(c.PCM)) }

// Convert returns c resampled and remixed to f. A clip already in f is
// returned as is.
func (c Clip) Convert(f Format) Clip {
	if c.Format == f || !c.Format.Valid() || !f.Valid() {
		return c
	}
	frames := deinterleave(c.PCM, c.Format.Channels)
	frames = remix(frames, f.Channels)
	for i := range frames {
		frames[i] = resample(frames[i], c.Format.SampleRate, f.SampleRate)
	}
	return Clip{PCM: interleave(frames), Format: f}
}

// ── Sample helpers ───────────────────────────────────────────────────────────

// Samples decodes PCM into int16 samples. A trailing odd byte is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// PCM encodes int16 samples.
func PCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Float32Mono downmixes PCM with the given channel count to mono float32
// samples in [-1, 1].
func Float32Mono(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	s := Samples(pcm)
	n := len(s) / channels
	out := make([]float32, n)
	for i := range n {
		var sum float32
		for ch := range channels {
			sum += float32(s[i*channels+ch]) / 32768
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// RMS returns the root-mean-square level of pcm in sample units (0..32767).
func RMS(pcm []byte) float64 {
	s := Samples(pcm)
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(s)))
}

// Gain scales pcm by g in place, clamping to the int16 range.
func Gain(pcm []byte, g float64) {
	if g == 1 {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) * g
		binary.LittleEndian.PutUint16(pcm[i:], uint16(clamp16(v)))
	}
}

func clamp16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}

// deinterleave splits PCM into one sample slice per channel.
func deinterleave(pcm []byte, channels int) [][]int16 {
	s := Samples(pcm)
	n := len(s) / channels
	out := make([][]int16, channels)
	for ch := range out {
		out[ch] = make([]int16, n)
		for i := range n {
			out[ch][i] = s[i*channels+ch]
		}
	}
	return out
}

func interleave(chans [][]int16) []byte {
	if len(chans) == 0 {
		return nil
	}
	n := len(chans[0])
	s := make([]int16, n*len(chans))
	for i := range n {
		for ch := range chans {
			s[i*len(chans)+ch] = chans[ch][i]
		}
	}
	return PCM(s)
}

// remix maps channels to the target count. Downmixing to mono averages;
// upmixing from mono duplicates; other layouts keep the leading channels and
// repeat the last one.
func remix(chans [][]int16, to int) [][]int16 {
	from := len(chans)
	if from == to || from == 0 {
		return chans
	}
	if to == 1 {
		n := len(chans[0])
		mono := make([]int16, n)
		for i := range n {
			var sum int32
			for ch := range chans {
				sum += int32(chans[ch][i])
			}
			mono[i] = int16(sum / int32(from))
		}
		return [][]int16{mono}
	}
	out := make([][]int16, to)
	for ch := range out {
		src := min(ch, from-1)
		out[ch] = append([]int16(nil), chans[src]...)
	}
	return out
}

// resample converts one channel from src to dst Hz by linear interpolation.
func resample(in []int16, src, dst int) []int16 {
	if src == dst || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(dst) / int64(src))
	out := make([]int16, n)
	step := float64(src) / float64(dst)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)
		a := float64(in[j])
		b := a
		if j+1 < len(in) {
			b = float64(in[j+1])
		}
		out[i] = clamp16(a + (b-a)*frac)
	}
	return out
}
