package session

import (
	"context"

	"github.com/satindergrewal/stereosplit/internal/audio"
	"github.com/satindergrewal/stereosplit/internal/resolver"
)

// Resolver turns free text into a song pair.
type Resolver interface {
	Resolve(ctx context.Context, text string) (resolver.Request, error)
}

// Gateway searches for and downloads songs.
type Gateway interface {
	Search(ctx context.Context, query string) (string, error)
	Fetch(ctx context.Context, videoID string) (*audio.Asset, error)
}

// Delivery talks back to the user.
type Delivery interface {
	Notify(ctx context.Context, userID int64, text string) error
	SendDocument(ctx context.Context, userID int64, filename string, data []byte) error
}
