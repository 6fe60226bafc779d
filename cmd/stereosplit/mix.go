package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/stereosplit/internal/audio"
)

func newMixCmd() *cobra.Command {
	var (
		out    string
		format string
	)
	cmd := &cobra.Command{
		Use:   "mix LEFT RIGHT",
		Short: "Mix two local audio files, LEFT into the left ear and RIGHT into the right",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(format)
			if !audio.ValidFormat(format) {
				return fmt.Errorf("unknown format %q: want mp3, wav or opus", format)
			}
			if out == "" {
				out = "mix." + extFor(format)
			}

			tmp, err := os.MkdirTemp("", "stereosplit-*")
			if err != nil {
				return err
			}
			defer os.RemoveAll(tmp)
			ws, err := audio.NewWorkspace(tmp)
			if err != nil {
				return err
			}

			dec := &audio.FFmpegDecoder{}
			r := &audio.FileRenderer{Workspace: ws, Format: format}
			if err := mixFiles(cmd.Context(), dec, r, args[0], args[1], out); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default mix.<ext>)")
	cmd.Flags().StringVar(&format, "format", audio.FormatMP3, "output format: mp3, wav or opus")
	return cmd
}

// mixFiles decodes left and right, mixes them and writes the result to out.
// Decoded inputs are never released: they are the user's own files.
func mixFiles(ctx context.Context, dec audio.Decoder, r audio.Renderer, left, right, out string) error {
	a, err := dec.Decode(ctx, left)
	if err != nil {
		return fmt.Errorf("%s: %w", left, err)
	}
	b, err := dec.Decode(ctx, right)
	if err != nil {
		return fmt.Errorf("%s: %w", right, err)
	}
	if ratio := audio.PitchRatio(a, b); ratio != 1 {
		log.Printf("Sample rate mismatch: left=%dHz right=%dHz (right plays at %.3fx)", a.SampleRate, b.SampleRate, ratio)
	}

	st, err := audio.Mix(a, b)
	if err != nil {
		return err
	}
	meta := audio.Meta{Left: stem(left), Right: stem(right)}
	rendered, err := r.Render(ctx, st, meta)
	if err != nil {
		return err
	}
	defer rendered.Release()
	return copyFile(rendered.Path, out)
}

func extFor(format string) string {
	if format == audio.FormatOpus {
		return "ogg"
	}
	return format
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
