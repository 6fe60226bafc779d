package audio

import (
	"fmt"

	"github.com/bogem/id3v2"
	"github.com/satindergrewal/stereosplit/internal/domain"
)

// TagMP3 writes an ID3 title naming both sides of the mix.
func TagMP3(path string, meta Meta) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: false})
	if err != nil {
		return fmt.Errorf("%w: id3 open: %w", domain.ErrEncode, err)
	}
	defer tag.Close()

	tag.SetVersion(4)
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle(Title(meta))
	tag.SetArtist("stereosplit")
	tag.AddCommentFrame(id3v2.CommentFrame{
		Encoding:    id3v2.EncodingUTF8,
		Language:    "eng",
		Description: "channels",
		Text:        fmt.Sprintf("L: %s\nR: %s", orUnknown(meta.Left), orUnknown(meta.Right)),
	})

	if err := tag.Save(); err != nil {
		return fmt.Errorf("%w: id3 save: %w", domain.ErrEncode, err)
	}
	return nil
}

// Title is the display title of a mix.
func Title(meta Meta) string {
	return orUnknown(meta.Left) + " | " + orUnknown(meta.Right)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
