package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// ErrUnknownFormat is returned by [Decode] for data that is neither WAV nor
// MP3.
var ErrUnknownFormat = errors.New("audio: unknown container format")

// Decode sniffs data and decodes it as WAV or MP3.
func Decode(data []byte) (Clip, error) {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return DecodeWAV(bytes.NewReader(data))
	case isMP3(data):
		return DecodeMP3(bytes.NewReader(data))
	default:
		return Clip{}, ErrUnknownFormat
	}
}

// isMP3 matches an ID3v2 tag or an MPEG audio frame sync word.
func isMP3(data []byte) bool {
	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return true
	}
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

// DecodeWAV decodes a PCM WAV file of any integer bit depth into 16-bit PCM.
func DecodeWAV(r io.ReadSeeker) (Clip, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return Clip{}, errors.New("audio: wav: invalid file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("audio: wav: %w", err)
	}

	depth := int(d.BitDepth)
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = to16(v, depth)
	}
	f := Format{SampleRate: int(d.SampleRate), Channels: int(d.NumChans)}
	if !f.Valid() {
		return Clip{}, fmt.Errorf("audio: wav: bad format %s", f)
	}
	return Clip{PCM: PCM(samples), Format: f}, nil
}

func to16(v, depth int) int16 {
	switch depth {
	case 8:
		return int16((v - 128) << 8)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	default:
		return int16(v)
	}
}

// DecodeMP3 decodes an MP3 stream. go-mp3 always yields 16-bit stereo.
func DecodeMP3(r io.Reader) (Clip, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return Clip{}, fmt.Errorf("audio: mp3: %w", err)
	}
	pcm, err := io.ReadAll(d)
	if err != nil {
		return Clip{}, fmt.Errorf("audio: mp3: decode: %w", err)
	}
	return Clip{PCM: pcm, Format: Format{SampleRate: d.SampleRate(), Channels: 2}}, nil
}

// EncodeWAV wraps c in a 16-bit PCM WAV container.
func EncodeWAV(c Clip) ([]byte, error) {
	if !c.Format.Valid() {
		return nil, fmt.Errorf("audio: wav: bad format %s", c.Format)
	}
	ws := &writeSeeker{}
	e := wav.NewEncoder(ws, c.Format.SampleRate, 16, c.Format.Channels, 1)

	s := Samples(c.PCM)
	data := make([]int, len(s))
	for i, v := range s {
		data[i] = int(v)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: c.Format.Channels, SampleRate: c.Format.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := e.Write(buf); err != nil {
		return nil, fmt.Errorf("audio: wav: encode: %w", err)
	}
	if err := e.Close(); err != nil {
		return nil, fmt.Errorf("audio: wav: close: %w", err)
	}
	return ws.buf, nil
}

// writeSeeker is the in-memory io.WriteSeeker the WAV encoder needs to
// patch its header sizes on Close.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	if need := w.pos + len(p); need > len(w.buf) {
		w.buf = append(w.buf, make([]byte, need-len(w.buf))...)
	}
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(w.pos)
	case io.SeekEnd:
		base = int64(len(w.buf))
	default:
		return 0, errors.New("audio: invalid whence")
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("audio: negative seek")
	}
	w.pos = int(next)
	return next, nil
}
