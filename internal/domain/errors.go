// Package domain holds the error kinds shared by every layer and the single
// translator that turns them into text for the user.
package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInputParse      = errors.New("input parse error")
	ErrUnexpectedInput = errors.New("unexpected input")
	ErrResolution      = errors.New("resolution failure")
	ErrNotFound        = errors.New("resource not found")
	ErrDownloadFailed  = errors.New("download failed")
	ErrDecode          = errors.New("decode error")
	ErrEmptySignal     = errors.New("mixing error: empty signal")
	ErrEncode          = errors.New("encode error")
	ErrIO              = errors.New("io error")
	ErrDelivery        = errors.New("delivery error")
	ErrBusy            = errors.New("mixer busy")
	ErrTooLarge        = errors.New("file too large")

	// ErrLinkCount is the input error for text carrying the wrong number
	// of YouTube links. errors.Is also matches it against ErrInputParse.
	ErrLinkCount = fmt.Errorf("%w: wrong number of links", ErrInputParse)
)

// UserMessage maps an error to the one line shown to the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLinkCount):
		return "❌ Send exactly two YouTube links in one message, or use /url to send them one at a time."
	case errors.Is(err, ErrInputParse):
		return "❌ That doesn't look like a YouTube link. Send a youtube.com/watch?v=… or youtu.be/… URL."
	case errors.Is(err, ErrUnexpectedInput):
		return "❌ Not what I was waiting for. Finish the current request or send /cancel."
	case errors.Is(err, ErrResolution):
		return "❌ Couldn't understand. Try:\n• 'mix X and Y'\n• 'left: X, right: Y'\n• Send 2 YouTube links\n• Upload 2 audio files"
	case errors.Is(err, ErrNotFound):
		return "❌ Couldn't find that song on YouTube."
	case errors.Is(err, ErrDownloadFailed):
		return "❌ Download failed. Please start over."
	case errors.Is(err, ErrDecode):
		return "❌ Couldn't read that audio. Send an mp3, m4a, ogg, flac or wav file."
	case errors.Is(err, ErrEmptySignal):
		return "❌ One of the tracks has no audio in it."
	case errors.Is(err, ErrEncode):
		return "❌ Couldn't encode the mix."
	case errors.Is(err, ErrTooLarge):
		return "❌ That file is too large. Send a shorter clip."
	case errors.Is(err, ErrBusy):
		return "⏳ Too many mixes running right now. Try again in a minute."
	case errors.Is(err, ErrDelivery):
		return "❌ Couldn't send the result."
	case errors.Is(err, context.Canceled):
		return "🛑 Cancelled."
	case errors.Is(err, context.DeadlineExceeded):
		return "⌛ Took too long. Please start over."
	default:
		return "❌ Something went wrong. Please start over."
	}
}
