package resolver

import (
	"fmt"
	"regexp"

	"github.com/satindergrewal/stereosplit/internal/domain"
)

var videoLink = regexp.MustCompile(`https?://(?:www\.|m\.|music\.)?(?:youtube\.com/(?:watch\?(?:\S*?&)?v=|shorts/)|youtu\.be/)([A-Za-z0-9_-]+)`)

// VideoIDs returns the ids of every YouTube link in text, in order.
func VideoIDs(text string) []string {
	var ids []string
	for _, m := range videoLink.FindAllStringSubmatch(text, -1) {
		ids = append(ids, m[1])
	}
	return ids
}

// VideoID extracts exactly one video id from text.
func VideoID(text string) (string, error) {
	ids := VideoIDs(text)
	if len(ids) != 1 {
		return "", fmt.Errorf("%w: want one YouTube link, found %d", domain.ErrInputParse, len(ids))
	}
	return ids[0], nil
}

// WatchURL is the canonical link for a video id.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}
