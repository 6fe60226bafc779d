package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "stereosplit",
		Short:        "Mix two songs into one stereo file, one per ear",
		Long:         "stereosplit takes two songs (YouTube links, search text or audio files) and renders song A on the left channel and song B on the right. It runs as a Telegram bot with a small HTTP API, or mixes local files from the command line.",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		newServeCmd(),
		newMixCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write([]byte(version + "\n"))
			return err
		},
	}
}
