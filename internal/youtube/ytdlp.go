package youtube

import (
	"context"
	"fmt"

	"github.com/lrstanley/go-ytdlp"
)

// YTDLP is the Backend backed by the yt-dlp binary.
type YTDLP struct {
	Cookies string // optional cookies.txt for age/region gated videos
}

// Install fetches a yt-dlp binary if none is available.
func Install(ctx context.Context) error {
	if _, err := ytdlp.Install(ctx, nil); err != nil {
		return fmt.Errorf("install yt-dlp: %w", err)
	}
	return nil
}

// Search prints the id of the top search hit.
func (y YTDLP) Search(ctx context.Context, query string) (string, error) {
	cmd := ytdlp.New().
		Print("id").
		SkipDownload().
		NoPlaylist()
	if y.Cookies != "" {
		cmd = cmd.Cookies(y.Cookies)
	}

	res, err := cmd.Run(ctx, "ytsearch1:"+query)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// Download extracts the best audio stream as 192k mp3.
func (y YTDLP) Download(ctx context.Context, url, outBase string) error {
	cmd := ytdlp.New().
		Format("bestaudio/best").
		ExtractAudio().
		AudioFormat("mp3").
		AudioQuality("192K").
		NoPlaylist().
		Output(outBase + ".%(ext)s")
	if y.Cookies != "" {
		cmd = cmd.Cookies(y.Cookies)
	}

	if _, err := cmd.Run(ctx, url); err != nil {
		return err
	}
	return nil
}
