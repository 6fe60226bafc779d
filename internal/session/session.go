// Package session runs the per-user two-input flow that ends in a stereo mix.
package session

import (
	"time"

	"github.com/satindergrewal/stereosplit/internal/audio"
)

// Mode is what a session is waiting for. Idle means no session exists.
type Mode int

const (
	Idle Mode = iota
	AwaitingSecondURL
	AwaitingSecondFile
	AwaitingGenericSecond
)

func (m Mode) String() string {
	switch m {
	case AwaitingSecondURL:
		return "awaiting_url"
	case AwaitingSecondFile:
		return "awaiting_file"
	case AwaitingGenericSecond:
		return "awaiting_generic_file"
	default:
		return "idle"
	}
}

// acceptsFiles reports whether uploads are the expected input.
func (m Mode) acceptsFiles() bool {
	return m == AwaitingSecondFile || m == AwaitingGenericSecond
}

// Session tracks one user between the first and second input.
// Pending (id or asset) is only set at step 2.
type Session struct {
	UserID       int64
	Mode         Mode
	Step         int
	PendingID    string
	PendingAsset *audio.Asset
	CreatedAt    time.Time
}

// Release frees whatever the session holds.
func (s *Session) Release() {
	if s == nil {
		return
	}
	s.PendingAsset.Release()
	s.PendingAsset = nil
	s.PendingID = ""
}
