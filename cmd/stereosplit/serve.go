package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/stereosplit/internal/audio"
	"github.com/satindergrewal/stereosplit/internal/config"
	"github.com/satindergrewal/stereosplit/internal/httpapi"
	"github.com/satindergrewal/stereosplit/internal/ollama"
	"github.com/satindergrewal/stereosplit/internal/resolver"
	"github.com/satindergrewal/stereosplit/internal/session"
	"github.com/satindergrewal/stereosplit/internal/telegram"
	"github.com/satindergrewal/stereosplit/internal/youtube"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "config file (toml, yaml or json)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	if cfg.TelegramToken == "" && cfg.Port == 0 {
		return errors.New("nothing to serve: set TELEGRAM_BOT_TOKEN and/or HTTP_PORT")
	}
	if !audio.ValidFormat(cfg.OutputFormat) {
		return fmt.Errorf("OUTPUT_FORMAT %q: want mp3, wav or opus", cfg.OutputFormat)
	}

	log.Println("stereosplit starting up...")

	ws, err := audio.NewWorkspace(cfg.WorkDir)
	if err != nil {
		return err
	}
	dec := &audio.FFmpegDecoder{}
	renderer := &audio.FileRenderer{Workspace: ws, Format: cfg.OutputFormat}

	var (
		wg     sync.WaitGroup
		store  = session.NewStore()
		runner *session.Runner
	)

	if cfg.TelegramToken != "" {
		if err := youtube.Install(ctx); err != nil {
			return err
		}
		api, err := telegram.Connect(cfg.TelegramToken)
		if err != nil {
			return err
		}
		bot := telegram.New(api, ws, dec, cfg.MaxUploadSize)

		res := resolver.New(songExtractor(ctx, cfg))
		gw := youtube.NewGateway(&youtube.YTDLP{Cookies: cfg.YTDLPCookies}, ws, dec)
		runner = session.NewRunner(store, res, gw, renderer, bot, session.RunnerConfig{
			Workers:   cfg.MaxMixes,
			QueueSize: cfg.QueueSize,
		})
		machine := session.NewMachine(store, runner, bot)
		dispatcher := session.NewDispatcher(machine.Handle, machine.Interrupt)

		wg.Add(2)
		go func() {
			defer wg.Done()
			runner.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			bot.Run(ctx, dispatcher.Dispatch)
			dispatcher.Wait()
		}()
		if cfg.SessionTTL > 0 {
			go machine.RunSweeper(ctx, cfg.SessionTTL, time.Minute)
		}
		log.Printf("Mixer ready: %d worker(s), queue %d, output %s", cfg.MaxMixes, cfg.QueueSize, cfg.OutputFormat)
	} else {
		log.Println("Telegram not configured (set TELEGRAM_BOT_TOKEN to enable the bot)")
	}

	if cfg.Port > 0 {
		status := func() httpapi.Status {
			sessions, mixes := store.Stats()
			st := httpapi.Status{Sessions: sessions, ActiveMixes: mixes, OutputFormat: cfg.OutputFormat}
			if runner != nil {
				st.QueuedMixes = runner.QueueSize()
			}
			return st
		}
		render := func(format string) audio.Renderer { return renderer.WithFormat(format) }
		h := httpapi.NewHandler(dec, render, ws, status, cfg.OutputFormat, cfg.MaxUploadSize)
		e := httpapi.NewServer(h)
		addr := fmt.Sprintf(":%d", cfg.Port)

		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			log.Println("Shutting down HTTP...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := e.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP shutdown: %v", err)
			}
		}()

		log.Printf("HTTP API listening on %s", addr)
		go func() {
			if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("HTTP server error: %v", err)
			}
		}()
	}

	<-ctx.Done()
	log.Println("Shutting down...")
	wg.Wait()
	return nil
}

// songExtractor connects to Ollama when configured. A nil result means free
// text falls back to the grammar alone.
func songExtractor(ctx context.Context, cfg config.Config) resolver.Extractor {
	if cfg.OllamaURL == "" {
		log.Println("Ollama not configured (set OLLAMA_URL to resolve free text with an LLM)")
		return nil
	}
	client := ollama.NewClient(cfg.OllamaURL, cfg.OllamaModel)
	readyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if !client.WaitForReady(readyCtx, 2*time.Second) {
		log.Println("Ollama not available, free text uses the grammar only")
		return nil
	}
	log.Printf("Ollama connected: %s", cfg.OllamaModel)
	return ollama.NewSongExtractor(client)
}
