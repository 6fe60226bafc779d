package audio

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"os/exec"
	"strconv"

	"github.com/satindergrewal/stereosplit/internal/domain"
)

// Decoder turns an audio file on disk into an Asset.
type Decoder interface {
	Decode(ctx context.Context, path string) (*Asset, error)
}

// FFmpegDecoder decodes with ffprobe + ffmpeg at the file's native sample
// rate and channel count.
type FFmpegDecoder struct {
	FFmpeg  string // binary, default "ffmpeg"
	FFprobe string // binary, default "ffprobe"
}

type probeResult struct {
	Streams []struct {
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

// Decode probes the first audio stream and decodes it to float32 PCM.
// The returned Asset owns path.
func (d FFmpegDecoder) Decode(ctx context.Context, path string) (*Asset, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s missing", domain.ErrIO, path)
		}
		return nil, fmt.Errorf("%w: stat %s: %w", domain.ErrIO, path, err)
	}

	rate, channels, err := d.probe(ctx, path)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, binOr(d.FFmpeg, "ffmpeg"),
		"-i", path,
		"-map", "0:a:0",
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-loglevel", "error",
		"pipe:1",
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg decode %s: %w", domain.ErrDecode, path, err)
	}

	return &Asset{
		Channels:   BytesToPlanar(out, channels),
		SampleRate: rate,
		Path:       path,
	}, nil
}

func (d FFmpegDecoder) probe(ctx context.Context, path string) (rate, channels int, err error) {
	cmd := exec.CommandContext(ctx, binOr(d.FFprobe, "ffprobe"),
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=sample_rate,channels",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: ffprobe %s: %w", domain.ErrDecode, path, err)
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (rate, channels int, err error) {
	var pr probeResult
	if err := json.Unmarshal(out, &pr); err != nil {
		return 0, 0, fmt.Errorf("%w: parse ffprobe output: %w", domain.ErrDecode, err)
	}
	if len(pr.Streams) == 0 {
		return 0, 0, fmt.Errorf("%w: no audio stream", domain.ErrDecode)
	}
	s := pr.Streams[0]
	rate, err = strconv.Atoi(s.SampleRate)
	if err != nil || rate <= 0 || s.Channels <= 0 {
		return 0, 0, fmt.Errorf("%w: bad stream info rate=%q channels=%d", domain.ErrDecode, s.SampleRate, s.Channels)
	}
	return rate, s.Channels, nil
}

// BytesToPlanar splits interleaved little-endian float32 PCM into one slice
// per channel. A trailing partial frame is dropped.
func BytesToPlanar(buf []byte, channels int) [][]float32 {
	frames := len(buf) / (4 * channels)
	planar := make([][]float32, channels)
	for c := range planar {
		planar[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 4
			planar[c][i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
		}
	}
	return planar
}

// SamplesToBytes converts float32 samples to little-endian bytes.
func SamplesToBytes(samples []float32) []byte {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return buf
}

func binOr(bin, fallback string) string {
	if bin != "" {
		return bin
	}
	return fallback
}
