// Package httpapi serves health, status and a one-shot mix endpoint.
package httpapi

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/satindergrewal/stereosplit/internal/audio"
	"github.com/satindergrewal/stereosplit/internal/domain"
)

// Status is the body of GET /api/status.
type Status struct {
	Sessions     int    `json:"sessions"`
	ActiveMixes  int    `json:"active_mixes"`
	QueuedMixes  int    `json:"queued_mixes"`
	OutputFormat string `json:"output_format"`
}

// RendererFor returns the renderer for an output format.
type RendererFor func(format string) audio.Renderer

// Handler handles the HTTP API.
type Handler struct {
	decoder   audio.Decoder
	renderer  RendererFor
	workspace *audio.Workspace
	status    func() Status
	format    string
	maxUpload int64
}

// NewHandler creates a handler. format is the default output format and
// maxUpload the per-file size limit in bytes (0 means no limit).
func NewHandler(dec audio.Decoder, r RendererFor, ws *audio.Workspace, status func() Status, format string, maxUpload int64) *Handler {
	return &Handler{
		decoder:   dec,
		renderer:  r,
		workspace: ws,
		status:    status,
		format:    format,
		maxUpload: maxUpload,
	}
}

// NewServer builds the echo server with the handler's routes.
func NewServer(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	h.RegisterRoutes(e)
	return e
}

// RegisterRoutes registers the API routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	e.GET("/api/status", h.Status)
	e.POST("/api/mix", h.Mix)
}

// Health reports liveness.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

// Status reports sessions and mix load.
func (h *Handler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.status())
}

// Mix takes multipart files "left" and "right" and answers with the stereo
// mix as an attachment.
func (h *Handler) Mix(c echo.Context) error {
	if h.maxUpload > 0 {
		req := c.Request()
		req.Body = http.MaxBytesReader(c.Response(), req.Body, 2*h.maxUpload+1<<20)
	}

	format := strings.ToLower(c.FormValue("format"))
	if format == "" {
		format = h.format
	}
	if !audio.ValidFormat(format) {
		return h.fail(c, fmt.Errorf("%w: unknown format %q", domain.ErrInputParse, format))
	}

	ctx := c.Request().Context()
	var sides [2]*audio.Asset
	defer func() {
		sides[0].Release()
		sides[1].Release()
	}()
	for i, field := range []string{"left", "right"} {
		fh, err := c.FormFile(field)
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				return h.fail(c, fmt.Errorf("%w: request body over %d bytes", domain.ErrTooLarge, tooBig.Limit))
			}
			return h.fail(c, fmt.Errorf("%w: missing file %q: %w", domain.ErrInputParse, field, err))
		}
		path, err := h.save(fh)
		if err != nil {
			return h.fail(c, err)
		}
		a, err := h.decoder.Decode(ctx, path)
		if err != nil {
			os.Remove(path)
			return h.fail(c, err)
		}
		a.Label = strings.TrimSuffix(fh.Filename, filepath.Ext(fh.Filename))
		sides[i] = a
	}

	st, err := audio.Mix(sides[0], sides[1])
	if err != nil {
		return h.fail(c, err)
	}
	meta := audio.Meta{Left: sides[0].Label, Right: sides[1].Label}
	sides[0].Release()
	sides[1].Release()

	out, err := h.renderer(format).Render(ctx, st, meta)
	if err != nil {
		return h.fail(c, err)
	}
	defer out.Release()

	log.Printf("HTTP mix: %q | %q -> %s (%d frames @ %dHz)", meta.Left, meta.Right, out.Filename, st.FrameCount(), st.SampleRate)
	c.Response().Header().Set(echo.HeaderContentType, out.MimeType)
	return c.Attachment(out.Path, out.Filename)
}

// save copies an uploaded part into the workspace.
func (h *Handler) save(fh *multipart.FileHeader) (string, error) {
	if h.maxUpload > 0 && fh.Size > h.maxUpload {
		return "", fmt.Errorf("%w: %s is %d bytes", domain.ErrTooLarge, fh.Filename, fh.Size)
	}
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("%w: open upload: %w", domain.ErrIO, err)
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if ext == "" {
		ext = ".bin"
	}
	path := h.workspace.NewPath(ext)
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("%w: save upload: %w", domain.ErrIO, err)
	}
	return path, nil
}

// fail answers with {"error": ...}. Client errors carry the error text;
// server errors only the user-facing message.
func (h *Handler) fail(c echo.Context, err error) error {
	code := statusCode(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		log.Printf("HTTP mix failed: %v", err)
		msg = domain.UserMessage(err)
	}
	return c.JSON(code, map[string]string{"error": msg})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrInputParse),
		errors.Is(err, domain.ErrUnexpectedInput),
		errors.Is(err, domain.ErrDecode),
		errors.Is(err, domain.ErrEmptySignal):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
