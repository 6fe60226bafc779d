package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/satindergrewal/stereosplit/internal/audio"
	"github.com/satindergrewal/stereosplit/internal/domain"
	"github.com/satindergrewal/stereosplit/internal/resolver"
	"github.com/stretchr/testify/require"
)

type document struct {
	userID   int64
	filename string
	data     []byte
}

type fakeDelivery struct {
	mu   sync.Mutex
	msgs map[int64][]string
	docs chan document
}

func newFakeDelivery() *fakeDelivery {
	return &fakeDelivery{msgs: make(map[int64][]string), docs: make(chan document, 16)}
}

func (d *fakeDelivery) Notify(_ context.Context, userID int64, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs[userID] = append(d.msgs[userID], text)
	return nil
}

func (d *fakeDelivery) SendDocument(_ context.Context, userID int64, filename string, data []byte) error {
	d.docs <- document{userID: userID, filename: filename, data: data}
	return nil
}

func (d *fakeDelivery) messages(userID int64) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.msgs[userID]...)
}

func (d *fakeDelivery) last(userID int64) string {
	m := d.messages(userID)
	if len(m) == 0 {
		return ""
	}
	return m[len(m)-1]
}

func (d *fakeDelivery) saw(userID int64, substr string) bool {
	for _, m := range d.messages(userID) {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func (d *fakeDelivery) waitDocument(t *testing.T) document {
	t.Helper()
	select {
	case doc := <-d.docs:
		return doc
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a document")
		return document{}
	}
}

// fakeGateway maps queries to ids and ids to assets built in dir.
type fakeGateway struct {
	t      *testing.T
	dir    string
	frames map[string]int // video id -> frame count

	mu       sync.Mutex
	searched []string
	fetched  []string
	fetchErr error
	block    bool // Fetch waits for ctx cancellation
	started  chan string
}

func newFakeGateway(t *testing.T) *fakeGateway {
	return &fakeGateway{
		t:       t,
		dir:     t.TempDir(),
		frames:  map[string]int{},
		started: make(chan string, 8),
	}
}

func (g *fakeGateway) Search(_ context.Context, query string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.searched = append(g.searched, query)
	if query == "missing" {
		return "", fmt.Errorf("%w: %q", domain.ErrNotFound, query)
	}
	return "id-" + strings.ReplaceAll(query, " ", "-"), nil
}

func (g *fakeGateway) Fetch(ctx context.Context, videoID string) (*audio.Asset, error) {
	g.mu.Lock()
	g.fetched = append(g.fetched, videoID)
	block, fetchErr := g.block, g.fetchErr
	g.mu.Unlock()

	select {
	case g.started <- videoID:
	default:
	}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	n, ok := g.frames[videoID]
	if !ok {
		n = 4
	}
	a := newAsset(g.t, g.dir, n)
	a.Label = videoID
	return a, nil
}

func (g *fakeGateway) calls() (searched, fetched []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.searched...), append([]string(nil), g.fetched...)
}

// fakeRenderer writes the interleaved samples as raw bytes.
type fakeRenderer struct {
	dir string
}

func (r fakeRenderer) Render(_ context.Context, st *audio.Stereo, _ audio.Meta) (*audio.Rendered, error) {
	path := filepath.Join(r.dir, fmt.Sprintf("mix-%d.raw", time.Now().UnixNano()))
	if err := os.WriteFile(path, audio.SamplesToBytes(st.Interleave()), 0o644); err != nil {
		return nil, err
	}
	return &audio.Rendered{Path: path, Filename: "mix.raw", MimeType: "application/octet-stream"}, nil
}

var assetSeq struct {
	sync.Mutex
	n int
}

// newAsset creates a mono asset with a real backing file.
func newAsset(t *testing.T, dir string, frames int) *audio.Asset {
	t.Helper()
	assetSeq.Lock()
	assetSeq.n++
	n := assetSeq.n
	assetSeq.Unlock()

	path := filepath.Join(dir, fmt.Sprintf("asset-%d.mp3", n))
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
	samples := make([]float32, frames)
	for i := range samples {
		samples[i] = float32(i + 1)
	}
	return &audio.Asset{Channels: [][]float32{samples}, SampleRate: 44100, Path: path}
}

type harness struct {
	store    *Store
	machine  *Machine
	runner   *Runner
	delivery *fakeDelivery
	gateway  *fakeGateway
	dir      string
}

func newHarness(t *testing.T, cfg RunnerConfig, start bool) *harness {
	t.Helper()
	h := &harness{
		store:    NewStore(),
		delivery: newFakeDelivery(),
		gateway:  newFakeGateway(t),
		dir:      t.TempDir(),
	}
	h.runner = NewRunner(h.store, resolver.New(nil), h.gateway, fakeRenderer{dir: t.TempDir()}, h.delivery, cfg)
	h.machine = NewMachine(h.store, h.runner, h.delivery)

	if start {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			h.runner.Run(ctx)
			close(done)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}
	return h
}

func (h *harness) send(userID int64, ev Event) {
	ev.UserID = userID
	h.machine.Handle(context.Background(), ev)
}
