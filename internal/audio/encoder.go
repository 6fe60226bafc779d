package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/satindergrewal/stereosplit/internal/domain"
	"gopkg.in/hraban/opus.v2"
)

// Output formats.
const (
	FormatMP3  = "mp3"
	FormatWAV  = "wav"
	FormatOpus = "opus"
)

// Meta labels an output file.
type Meta struct {
	Left  string
	Right string
}

// Renderer encodes a Stereo mix to a file.
type Renderer interface {
	Render(ctx context.Context, st *Stereo, meta Meta) (*Rendered, error)
}

// FileRenderer writes mixes into a Workspace.
type FileRenderer struct {
	Workspace *Workspace
	Format    string
	FFmpeg    string // binary, default "ffmpeg"
}

// ValidFormat reports whether f is a supported output format.
func ValidFormat(f string) bool {
	switch f {
	case FormatMP3, FormatWAV, FormatOpus:
		return true
	}
	return false
}

// WithFormat returns a copy rendering to another format.
func (r *FileRenderer) WithFormat(format string) *FileRenderer {
	c := *r
	c.Format = format
	return &c
}

// Render encodes st. On error no file is left behind.
func (r *FileRenderer) Render(ctx context.Context, st *Stereo, meta Meta) (*Rendered, error) {
	format := r.Format
	if format == "" {
		format = FormatMP3
	}

	var (
		out *Rendered
		err error
	)
	switch format {
	case FormatMP3:
		out = &Rendered{Path: r.Workspace.NewPath(".mp3"), Filename: "mix.mp3", MimeType: "audio/mpeg"}
		err = r.ffmpeg(ctx, st, out.Path, "-codec:a", "libmp3lame", "-b:a", "192k", "-f", "mp3")
		if err == nil {
			err = TagMP3(out.Path, meta)
		}
	case FormatWAV:
		out = &Rendered{Path: r.Workspace.NewPath(".wav"), Filename: "mix.wav", MimeType: "audio/wav"}
		err = r.ffmpeg(ctx, st, out.Path, "-codec:a", "pcm_s16le", "-f", "wav")
	case FormatOpus:
		out = &Rendered{Path: r.Workspace.NewPath(".ogg"), Filename: "mix.ogg", MimeType: "audio/ogg"}
		err = EncodeOpus(st, out.Path)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", domain.ErrEncode, format)
	}
	if err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// ffmpeg pipes interleaved float32 PCM into ffmpeg and writes path.
func (r *FileRenderer) ffmpeg(ctx context.Context, st *Stereo, path string, codec ...string) error {
	args := []string{
		"-f", "f32le",
		"-ar", fmt.Sprint(st.SampleRate),
		"-ac", "2",
		"-i", "pipe:0",
	}
	args = append(args, codec...)
	args = append(args, "-loglevel", "error", "-y", path)

	cmd := exec.CommandContext(ctx, binOr(r.FFmpeg, "ffmpeg"), args...)
	cmd.Stdin = bytes.NewReader(SamplesToBytes(st.Interleave()))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: ffmpeg encode: %w: %s", domain.ErrEncode, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// opusFrameMs is the Opus frame duration used for every packet.
const opusFrameMs = 20

// OpusRate reports whether libopus accepts the sample rate.
func OpusRate(rate int) bool {
	switch rate {
	case 8000, 12000, 16000, 24000, 48000:
		return true
	}
	return false
}

// EncodeOpus writes st as Ogg/Opus. The final frame is zero padded.
func EncodeOpus(st *Stereo, path string) error {
	if !OpusRate(st.SampleRate) {
		return fmt.Errorf("%w: opus does not support %d Hz", domain.ErrEncode, st.SampleRate)
	}

	enc, err := opus.NewEncoder(st.SampleRate, 2, opus.AppAudio)
	if err != nil {
		return fmt.Errorf("%w: opus encoder: %w", domain.ErrEncode, err)
	}
	if err := enc.SetBitrate(128000); err != nil {
		return fmt.Errorf("%w: opus bitrate: %w", domain.ErrEncode, err)
	}

	ogg, err := oggwriter.New(path, uint32(st.SampleRate), 2)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", domain.ErrIO, path, err)
	}

	frameSize := st.SampleRate * opusFrameMs / 1000 // per channel
	// Ogg Opus granule positions always count 48 kHz samples.
	granuleStep := uint32(48000 * opusFrameMs / 1000)

	pcm := st.Interleave()
	frame := make([]float32, frameSize*2)
	buf := make([]byte, 4000)
	var ts uint32

	for off := 0; off < len(pcm); off += len(frame) {
		n := copy(frame, pcm[off:])
		clear(frame[n:])

		m, err := enc.EncodeFloat32(frame, buf)
		if err != nil {
			ogg.Close()
			os.Remove(path)
			return fmt.Errorf("%w: opus encode: %w", domain.ErrEncode, err)
		}
		pkt := &rtp.Packet{
			Header:  rtp.Header{Timestamp: ts},
			Payload: append([]byte(nil), buf[:m]...),
		}
		if err := ogg.WriteRTP(pkt); err != nil {
			ogg.Close()
			os.Remove(path)
			return fmt.Errorf("%w: write ogg: %w", domain.ErrIO, err)
		}
		ts += granuleStep
	}

	if err := ogg.Close(); err != nil {
		return fmt.Errorf("%w: close ogg: %w", domain.ErrIO, err)
	}
	return nil
}
