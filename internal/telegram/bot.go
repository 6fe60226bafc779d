// Package telegram connects the session machine to the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/satindergrewal/stereosplit/internal/audio"
	"github.com/satindergrewal/stereosplit/internal/domain"
	"github.com/satindergrewal/stereosplit/internal/session"
)

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot receives updates and delivers replies. Private chats only: the chat
// id doubles as the user id.
type Bot struct {
	api       API
	workspace *audio.Workspace
	decoder   audio.Decoder
	http      *http.Client
	maxUpload int64
}

// Connect logs in with token.
func Connect(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	log.Printf("Telegram connected: @%s", api.Self.UserName)
	return api, nil
}

// New creates a bot. Uploads are downloaded into ws and decoded with dec;
// anything over maxUpload bytes is refused.
func New(api API, ws *audio.Workspace, dec audio.Decoder, maxUpload int64) *Bot {
	return &Bot{
		api:       api,
		workspace: ws,
		decoder:   dec,
		http:      &http.Client{Timeout: 5 * time.Minute},
		maxUpload: maxUpload,
	}
}

// Notify sends a text message.
func (b *Bot) Notify(ctx context.Context, userID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.api.Send(tgbotapi.NewMessage(userID, text))
	return err
}

// SendDocument sends data as a file attachment.
func (b *Bot) SendDocument(ctx context.Context, userID int64, filename string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(userID, tgbotapi.FileBytes{Name: filename, Bytes: data})
	_, err := b.api.Send(doc)
	return err
}

// Run long-polls for updates and hands each routed event to dispatch until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context, dispatch func(ctx context.Context, ev session.Event)) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			if ev, ok := b.Route(upd.Message); ok {
				dispatch(ctx, ev)
			}
		}
	}
}

// Route turns a message into a session event. Messages the bot has no use
// for (stickers, group service messages) are skipped.
func (b *Bot) Route(msg *tgbotapi.Message) (session.Event, bool) {
	if msg == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return session.Event{}, false
	}
	ev := session.Event{UserID: msg.Chat.ID}

	if msg.IsCommand() {
		switch msg.Command() {
		case "url":
			ev.Command = session.CmdStartURL
		case "file":
			ev.Command = session.CmdStartFile
		case "cancel":
			ev.Command = session.CmdCancel
		case "start", "help":
			ev.Command = session.CmdHelp
		default:
			return session.Event{}, false
		}
		return ev, true
	}

	if ref, ok := attachment(msg); ok {
		ev.Upload = b.upload(ref)
		return ev, true
	}

	if text := strings.TrimSpace(msg.Text); text != "" {
		ev.Text = text
		return ev, true
	}
	return session.Event{}, false
}

type fileRef struct {
	id   string
	name string
	size int64
}

// attachment picks the audio carried by msg, if any.
func attachment(msg *tgbotapi.Message) (fileRef, bool) {
	switch {
	case msg.Audio != nil:
		return fileRef{id: msg.Audio.FileID, name: msg.Audio.FileName, size: int64(msg.Audio.FileSize)}, true
	case msg.Voice != nil:
		return fileRef{id: msg.Voice.FileID, name: "voice.ogg", size: int64(msg.Voice.FileSize)}, true
	case msg.Document != nil && isAudioDocument(msg.Document):
		return fileRef{id: msg.Document.FileID, name: msg.Document.FileName, size: int64(msg.Document.FileSize)}, true
	}
	return fileRef{}, false
}

var audioExts = map[string]bool{
	".mp3": true, ".m4a": true, ".ogg": true, ".oga": true, ".opus": true,
	".flac": true, ".wav": true, ".aac": true, ".webm": true,
}

func isAudioDocument(d *tgbotapi.Document) bool {
	if strings.HasPrefix(d.MimeType, "audio/") {
		return true
	}
	return audioExts[strings.ToLower(path.Ext(d.FileName))]
}

// upload returns the deferred download-and-decode for ref.
func (b *Bot) upload(ref fileRef) func(ctx context.Context) (*audio.Asset, error) {
	return func(ctx context.Context) (*audio.Asset, error) {
		if b.maxUpload > 0 && ref.size > b.maxUpload {
			return nil, fmt.Errorf("%w: %s is %d bytes", domain.ErrTooLarge, ref.name, ref.size)
		}
		url, err := b.api.GetFileDirectURL(ref.id)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve file %s: %w", domain.ErrDownloadFailed, ref.id, err)
		}

		ext := strings.ToLower(path.Ext(ref.name))
		if ext == "" {
			ext = ".bin"
		}
		dst := b.workspace.NewPath(ext)
		if err := b.download(ctx, url, dst); err != nil {
			os.Remove(dst)
			return nil, err
		}

		asset, err := b.decoder.Decode(ctx, dst)
		if err != nil {
			os.Remove(dst)
			return nil, err
		}
		asset.Label = strings.TrimSuffix(ref.name, path.Ext(ref.name))
		log.Printf("Upload received: %s (%d frames @ %dHz)", ref.name, asset.FrameCount(), asset.SampleRate)
		return asset, nil
	}
}

func (b *Bot) download(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDownloadFailed, err)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDownloadFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", domain.ErrDownloadFailed, resp.StatusCode)
	}

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	defer f.Close()

	body := io.Reader(resp.Body)
	if b.maxUpload > 0 {
		body = io.LimitReader(resp.Body, b.maxUpload+1)
	}
	n, err := io.Copy(f, body)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDownloadFailed, err)
	}
	if b.maxUpload > 0 && n > b.maxUpload {
		return fmt.Errorf("%w: more than %d bytes", domain.ErrTooLarge, b.maxUpload)
	}
	return nil
}
