// Package youtube finds songs on YouTube and downloads their audio with yt-dlp.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"

	"github.com/satindergrewal/stereosplit/internal/audio"
	"github.com/satindergrewal/stereosplit/internal/domain"
	"github.com/satindergrewal/stereosplit/internal/resolver"
)

// Backend runs yt-dlp.
type Backend interface {
	// Search returns yt-dlp's printed ids for a search, one per line.
	Search(ctx context.Context, query string) (string, error)
	// Download extracts the audio of a video to outBase + ".mp3".
	Download(ctx context.Context, url, outBase string) error
}

// Gateway resolves queries to video ids and fetches decoded audio.
type Gateway struct {
	backend   Backend
	workspace *audio.Workspace
	decoder   audio.Decoder
}

// NewGateway creates a gateway storing downloads in ws.
func NewGateway(backend Backend, ws *audio.Workspace, dec audio.Decoder) *Gateway {
	return &Gateway{backend: backend, workspace: ws, decoder: dec}
}

// Search returns the id of the first video matching query.
func (g *Gateway) Search(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("%w: empty query", domain.ErrNotFound)
	}

	out, err := g.backend.Search(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: search %q: %w", domain.ErrDownloadFailed, query, err)
	}

	for _, line := range strings.Split(out, "\n") {
		if id := strings.TrimSpace(line); id != "" {
			log.Printf("Search %q -> %s", query, id)
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no video for %q", domain.ErrNotFound, query)
}

// Fetch downloads and decodes a video's audio. The caller owns the Asset.
func (g *Gateway) Fetch(ctx context.Context, videoID string) (*audio.Asset, error) {
	base := strings.TrimSuffix(g.workspace.NewPath(".mp3"), ".mp3")
	path := base + ".mp3"

	if err := g.backend.Download(ctx, resolver.WatchURL(videoID), base); err != nil {
		removeQuiet(path)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrDownloadFailed, videoID, err)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: no output file: %w", domain.ErrDownloadFailed, videoID, err)
	}

	asset, err := g.decoder.Decode(ctx, path)
	if err != nil {
		removeQuiet(path)
		return nil, err
	}
	asset.Label = videoID
	return asset, nil
}

func removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Cleanup failed %s: %v", path, err)
	}
}
