package audio

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/satindergrewal/stereosplit/internal/domain"
)

// Asset is a decoded waveform plus the file it was decoded from.
// Channels is planar: one slice per channel, all the same length.
type Asset struct {
	Channels   [][]float32
	SampleRate int
	Path       string // backing storage, removed by Release
	Label      string // display name (song title, query or upload name)

	once sync.Once
}

// ChannelCount returns the number of channels.
func (a *Asset) ChannelCount() int {
	return len(a.Channels)
}

// FrameCount returns samples per channel.
func (a *Asset) FrameCount() int {
	if len(a.Channels) == 0 {
		return 0
	}
	return len(a.Channels[0])
}

// Release deletes the backing file. Safe to call more than once and on nil.
func (a *Asset) Release() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		removeFile(a.Path)
	})
}

// Stereo is the output of Mix: Left is source A, Right is source B.
type Stereo struct {
	Left       []float32
	Right      []float32
	SampleRate int
}

// FrameCount returns samples per channel.
func (s *Stereo) FrameCount() int {
	return len(s.Left)
}

// Interleave returns L,R,L,R... samples.
func (s *Stereo) Interleave() []float32 {
	out := make([]float32, 2*len(s.Left))
	for i := range s.Left {
		out[2*i] = s.Left[i]
		out[2*i+1] = s.Right[i]
	}
	return out
}

// Rendered is an encoded mix on disk.
type Rendered struct {
	Path     string
	Filename string // name shown to the user, e.g. mix.mp3
	MimeType string

	once sync.Once
}

// Release deletes the encoded file. Safe to call more than once and on nil.
func (r *Rendered) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		removeFile(r.Path)
	})
}

// Workspace hands out unique file paths under one directory.
type Workspace struct {
	dir string
}

// NewWorkspace creates dir if needed.
func NewWorkspace(dir string) (*Workspace, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create workspace %s: %w", domain.ErrIO, dir, err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace root.
func (w *Workspace) Dir() string {
	return w.dir
}

// NewPath returns a fresh path with the given extension (".mp3", ".ogg").
func (w *Workspace) NewPath(ext string) string {
	return filepath.Join(w.dir, uuid.New().String()+ext)
}

func removeFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Cleanup failed %s: %v", path, err)
	}
}
