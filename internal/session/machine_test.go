package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/satindergrewal/stereosplit/internal/audio"
	"github.com/satindergrewal/stereosplit/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const user = int64(42)

func TestURLFlow(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1, QueueSize: 4}, true)
	h.gateway.frames["AAA111"] = 10
	h.gateway.frames["BBB222"] = 25

	h.send(user, Event{Command: CmdStartURL})
	mode, step := h.machine.State(user)
	assert.Equal(t, AwaitingSecondURL, mode)
	assert.Equal(t, 1, step)

	h.send(user, Event{Text: "https://youtu.be/AAA111"})
	mode, step = h.machine.State(user)
	assert.Equal(t, AwaitingSecondURL, mode)
	assert.Equal(t, 2, step)
	assert.Equal(t, msgSendSecondURL, h.delivery.last(user))

	h.send(user, Event{Text: "https://www.youtube.com/watch?v=BBB222"})
	mode, _ = h.machine.State(user)
	assert.Equal(t, Idle, mode)

	doc := h.delivery.waitDocument(t)
	assert.Equal(t, user, doc.userID)
	planar := audio.BytesToPlanar(doc.data, 2)
	require.Len(t, planar[0], 25)
	for i := 0; i < 25; i++ {
		assert.Equal(t, float32(i%10+1), planar[0][i])
		assert.Equal(t, float32(i+1), planar[1][i])
	}

	searched, fetched := h.gateway.calls()
	assert.Empty(t, searched)
	assert.Equal(t, []string{"AAA111", "BBB222"}, fetched)
}

func TestURLFlowInvalidLinkKeepsState(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, false)

	h.send(user, Event{Command: CmdStartURL})
	h.send(user, Event{Text: "https://youtu.be/AAA111"})
	h.send(user, Event{Text: "not a link"})

	mode, step := h.machine.State(user)
	assert.Equal(t, AwaitingSecondURL, mode)
	assert.Equal(t, 2, step)
	assert.Equal(t, domain.UserMessage(domain.ErrInputParse), h.delivery.last(user))

	var pending string
	h.store.With(user, func(e *Entry) { pending = e.Session().PendingID })
	assert.Equal(t, "AAA111", pending)
}

func TestURLFlowTwoLinksAtOnce(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, true)

	h.send(user, Event{Command: CmdStartURL})
	h.send(user, Event{Text: "https://youtu.be/AAA111 https://youtu.be/BBB222"})

	h.delivery.waitDocument(t)
	_, fetched := h.gateway.calls()
	assert.Equal(t, []string{"AAA111", "BBB222"}, fetched)
	mode, _ := h.machine.State(user)
	assert.Equal(t, Idle, mode)
}

func TestURLFlowRejectsFile(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, false)
	h.send(user, Event{Command: CmdStartURL})

	upload := newAsset(t, h.dir, 3)
	h.send(user, Event{File: upload})

	mode, step := h.machine.State(user)
	assert.Equal(t, AwaitingSecondURL, mode)
	assert.Equal(t, 1, step)
	assert.Equal(t, msgWantURL, h.delivery.last(user))
	assert.NoFileExists(t, upload.Path)
}

func TestUploadSkippedWhenNotExpected(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, false)
	h.send(user, Event{Command: CmdStartURL})

	called := false
	h.send(user, Event{Upload: func(context.Context) (*audio.Asset, error) {
		called = true
		return nil, nil
	}})
	assert.False(t, called)
	assert.Equal(t, msgWantURL, h.delivery.last(user))
}

func TestFileFlow(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, true)

	h.send(user, Event{Command: CmdStartFile})
	first := newAsset(t, h.dir, 3)
	h.send(user, Event{File: first})

	mode, step := h.machine.State(user)
	assert.Equal(t, AwaitingSecondFile, mode)
	assert.Equal(t, 2, step)

	second := newAsset(t, h.dir, 7)
	h.send(user, Event{File: second})

	doc := h.delivery.waitDocument(t)
	assert.Len(t, audio.BytesToPlanar(doc.data, 2)[0], 7)

	require.Eventually(t, func() bool {
		_, jobs := h.store.Stats()
		return jobs == 0
	}, time.Second, 5*time.Millisecond)
	assert.NoFileExists(t, first.Path)
	assert.NoFileExists(t, second.Path)
	assert.True(t, h.delivery.saw(user, msgMixingFiles))
}

func TestFileFlowRejectsTextAndKeepsPending(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, false)

	h.send(user, Event{Command: CmdStartFile})
	first := newAsset(t, h.dir, 3)
	h.send(user, Event{File: first})
	h.send(user, Event{Text: "mix a and b"})

	mode, step := h.machine.State(user)
	assert.Equal(t, AwaitingSecondFile, mode)
	assert.Equal(t, 2, step)
	assert.Equal(t, msgWantFile, h.delivery.last(user))
	assert.FileExists(t, first.Path)
	assert.Equal(t, 0, h.runner.QueueSize())
}

func TestGenericFileFlow(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, true)

	first := newAsset(t, h.dir, 5)
	h.send(user, Event{File: first})

	mode, step := h.machine.State(user)
	assert.Equal(t, AwaitingGenericSecond, mode)
	assert.Equal(t, 2, step)
	assert.Equal(t, msgSendSecondFile, h.delivery.last(user))

	h.send(user, Event{File: newAsset(t, h.dir, 2)})
	doc := h.delivery.waitDocument(t)
	assert.Len(t, audio.BytesToPlanar(doc.data, 2)[0], 5)
}

func TestCancelFromEveryState(t *testing.T) {
	setups := map[string]func(h *harness) *audio.Asset{
		"url step 1": func(h *harness) *audio.Asset {
			h.send(user, Event{Command: CmdStartURL})
			return nil
		},
		"url step 2": func(h *harness) *audio.Asset {
			h.send(user, Event{Command: CmdStartURL})
			h.send(user, Event{Text: "https://youtu.be/AAA111"})
			return nil
		},
		"file step 1": func(h *harness) *audio.Asset {
			h.send(user, Event{Command: CmdStartFile})
			return nil
		},
		"file step 2": func(h *harness) *audio.Asset {
			h.send(user, Event{Command: CmdStartFile})
			a := newAsset(h.gateway.t, h.dir, 3)
			h.send(user, Event{File: a})
			return a
		},
		"generic": func(h *harness) *audio.Asset {
			a := newAsset(h.gateway.t, h.dir, 3)
			h.send(user, Event{File: a})
			return a
		},
	}
	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, RunnerConfig{Workers: 1}, false)
			held := setup(h)

			h.send(user, Event{Command: CmdCancel})

			mode, _ := h.machine.State(user)
			assert.Equal(t, Idle, mode)
			assert.Equal(t, msgCancelled, h.delivery.last(user))
			if held != nil {
				assert.NoFileExists(t, held.Path)
			}
			sessions, _ := h.store.Stats()
			assert.Zero(t, sessions)
		})
	}
}

func TestCancelWhenIdle(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, false)
	h.send(user, Event{Command: CmdCancel})
	assert.Equal(t, msgNothingToStop, h.delivery.last(user))
}

func TestRestartReleasesOldPending(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, false)
	first := newAsset(t, h.dir, 3)
	h.send(user, Event{File: first})

	h.send(user, Event{Command: CmdStartURL})

	assert.NoFileExists(t, first.Path)
	mode, step := h.machine.State(user)
	assert.Equal(t, AwaitingSecondURL, mode)
	assert.Equal(t, 1, step)
}

func TestIdleTextResolvesAndSearches(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, true)

	h.send(user, Event{Text: "left: snowman sia, right: 1998 sleepy hallow and other"})
	h.delivery.waitDocument(t)

	searched, fetched := h.gateway.calls()
	assert.Equal(t, []string{"snowman sia", "1998 sleepy hallow and other"}, searched)
	assert.Equal(t, []string{"id-snowman-sia", "id-1998-sleepy-hallow-and-other"}, fetched)
	assert.True(t, h.delivery.saw(user, "📝 Left: snowman sia"))

	mode, _ := h.machine.State(user)
	assert.Equal(t, Idle, mode)
}

func TestIdleTextTwoLinksSkipSearch(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, true)

	h.send(user, Event{Text: "https://youtu.be/AAA111 + https://youtu.be/BBB222"})
	h.delivery.waitDocument(t)

	searched, fetched := h.gateway.calls()
	assert.Empty(t, searched)
	assert.Equal(t, []string{"AAA111", "BBB222"}, fetched)
}

func TestIdleTextUnresolvable(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, true)
	h.send(user, Event{Text: "hello there"})

	msg := domain.UserMessage(domain.ErrResolution)
	require.Eventually(t, func() bool { return h.delivery.last(user) == msg }, time.Second, 5*time.Millisecond)
	_, fetched := h.gateway.calls()
	assert.Empty(t, fetched)
}

func TestSearchNotFoundReported(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, true)
	h.send(user, Event{Text: "missing and found"})

	msg := domain.UserMessage(domain.ErrNotFound)
	require.Eventually(t, func() bool { return h.delivery.last(user) == msg }, time.Second, 5*time.Millisecond)
}

func TestEmptyUploadReportsMixingError(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, true)

	first := newAsset(t, h.dir, 0)
	h.send(user, Event{File: first})
	second := newAsset(t, h.dir, 4)
	h.send(user, Event{File: second})

	msg := domain.UserMessage(domain.ErrEmptySignal)
	require.Eventually(t, func() bool { return h.delivery.last(user) == msg }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		_, jobs := h.store.Stats()
		return jobs == 0
	}, time.Second, 5*time.Millisecond)
	assert.NoFileExists(t, first.Path)
	assert.NoFileExists(t, second.Path)
}

func TestCancelDuringMixDropsResult(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, true)
	h.gateway.block = true

	h.send(user, Event{Command: CmdStartURL})
	h.send(user, Event{Text: "https://youtu.be/AAA111"})
	h.send(user, Event{Text: "https://youtu.be/BBB222"})

	select {
	case <-h.gateway.started:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never started")
	}

	h.send(user, Event{Command: CmdCancel})
	assert.Equal(t, msgCancelled, h.delivery.last(user))

	require.Eventually(t, func() bool { return h.runner.Active() == 0 }, time.Second, 5*time.Millisecond)
	select {
	case doc := <-h.delivery.docs:
		t.Fatalf("stale mix delivered: %s", doc.filename)
	default:
	}
	assert.Equal(t, msgCancelled, h.delivery.last(user))
}

func TestStaleResultIsNotDelivered(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, false)

	a, b := newAsset(t, h.dir, 2), newAsset(t, h.dir, 2)
	j := &Job{UserID: user, Left: Source{Asset: a}, Right: Source{Asset: b}, ID: "job-1"}
	j.ctx, j.cancel = context.WithCancel(context.Background())
	// never registered on the entry, as if cancelled after the mix started

	h.runner.process(j)

	select {
	case <-h.delivery.docs:
		t.Fatal("stale mix delivered")
	default:
	}
	assert.NoFileExists(t, a.Path)
	assert.NoFileExists(t, b.Path)
}

func TestBusyRunnerReleasesAssets(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1, QueueSize: 0}, false)

	h.send(user, Event{Text: "a and b"})
	assert.Equal(t, 1, h.runner.QueueSize())

	other := int64(7)
	first := newAsset(t, h.dir, 2)
	second := newAsset(t, h.dir, 2)
	h.send(other, Event{File: first})
	h.send(other, Event{File: second})

	assert.Equal(t, domain.UserMessage(domain.ErrBusy), h.delivery.last(other))
	assert.NoFileExists(t, first.Path)
	assert.NoFileExists(t, second.Path)
	mode, _ := h.machine.State(other)
	assert.Equal(t, Idle, mode)
}

func TestUploadFailureDestroysSession(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, false)
	h.send(user, Event{Command: CmdStartFile})
	first := newAsset(t, h.dir, 3)
	h.send(user, Event{File: first})

	h.send(user, Event{Upload: func(context.Context) (*audio.Asset, error) {
		return nil, errors.Join(domain.ErrDecode, errors.New("moov atom not found"))
	}})

	mode, _ := h.machine.State(user)
	assert.Equal(t, Idle, mode)
	assert.NoFileExists(t, first.Path)
	assert.Equal(t, domain.UserMessage(domain.ErrDecode), h.delivery.last(user))
}

func TestHelp(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, false)
	h.send(user, Event{Command: CmdHelp})
	assert.Equal(t, msgHelp, h.delivery.last(user))
	mode, _ := h.machine.State(user)
	assert.Equal(t, Idle, mode)
}

func TestUsersAreIndependent(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, false)

	var wg sync.WaitGroup
	for u := int64(1); u <= 20; u++ {
		wg.Add(1)
		go func(u int64) {
			defer wg.Done()
			h.send(u, Event{Command: CmdStartURL})
			h.send(u, Event{Text: "https://youtu.be/ID" + string(rune('A'+u))})
		}(u)
	}
	wg.Wait()

	for u := int64(1); u <= 20; u++ {
		mode, step := h.machine.State(u)
		assert.Equal(t, AwaitingSecondURL, mode)
		assert.Equal(t, 2, step)
	}
	sessions, _ := h.store.Stats()
	assert.Equal(t, 20, sessions)
}

func TestSweeperExpiresSessions(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, false)
	old := newAsset(t, h.dir, 3)
	h.machine.now = func() time.Time { return time.Now().Add(-time.Hour) }
	h.send(user, Event{File: old})
	h.machine.now = time.Now

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.machine.RunSweeper(ctx, time.Minute, 5*time.Millisecond)

	require.Eventually(t, func() bool { return h.delivery.last(user) == msgExpired }, time.Second, 5*time.Millisecond)
	mode, _ := h.machine.State(user)
	assert.Equal(t, Idle, mode)
	assert.NoFileExists(t, old.Path)
}

func TestURLFlowTooManyLinks(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, false)
	h.send(user, Event{Command: CmdStartURL})
	h.send(user, Event{Text: "https://youtu.be/AAA111"})

	h.send(user, Event{Text: "https://youtu.be/BBB222 https://youtu.be/CCC333"})

	mode, step := h.machine.State(user)
	assert.Equal(t, AwaitingSecondURL, mode)
	assert.Equal(t, 2, step)
	assert.Equal(t, msgOneLink, h.delivery.last(user))
	assert.Equal(t, 0, h.runner.QueueSize())
}

func TestIdleTextWithOneLinkAsksForTwo(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, true)
	h.send(user, Event{Text: "mix https://youtu.be/AAA111 and something"})

	msg := domain.UserMessage(domain.ErrLinkCount)
	require.Eventually(t, func() bool { return h.delivery.last(user) == msg }, time.Second, 5*time.Millisecond)
	assert.Contains(t, msg, "exactly two")
}

type recordingRenderer struct {
	calls atomic.Int32
}

func (r *recordingRenderer) Render(context.Context, *audio.Stereo, audio.Meta) (*audio.Rendered, error) {
	r.calls.Add(1)
	return nil, errors.New("unexpected render")
}

type panicRenderer struct{}

func (panicRenderer) Render(context.Context, *audio.Stereo, audio.Meta) (*audio.Rendered, error) {
	panic("renderer blew up")
}

func TestCancelReleasesQueuedJob(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1, QueueSize: 4}, true)
	h.gateway.block = true

	other := int64(2)
	h.send(other, Event{Text: "https://youtu.be/AAA111 https://youtu.be/BBB222"})
	select {
	case <-h.gateway.started:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never started")
	}

	first, second := newAsset(t, h.dir, 3), newAsset(t, h.dir, 3)
	h.send(user, Event{File: first})
	h.send(user, Event{File: second})
	assert.Equal(t, 1, h.runner.QueueSize())

	h.send(user, Event{Command: CmdCancel})

	assert.Equal(t, msgCancelled, h.delivery.last(user))
	assert.NoFileExists(t, first.Path)
	assert.NoFileExists(t, second.Path)
	_, jobs := h.store.Stats()
	assert.Equal(t, 1, jobs, "only the other user's mix is left")
}

func TestCancelledJobIsNotMixed(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, false)
	rec := &recordingRenderer{}
	h.runner.renderer = rec

	a, b := newAsset(t, h.dir, 2), newAsset(t, h.dir, 2)
	j := &Job{ID: "job-1", UserID: user, Left: Source{Asset: a}, Right: Source{Asset: b}}
	j.ctx, j.cancel = context.WithCancel(context.Background())
	h.store.With(user, func(e *Entry) { e.AddJob(j) })
	j.cancel()

	h.runner.process(j)

	assert.Zero(t, rec.calls.Load())
	assert.NoFileExists(t, a.Path)
	assert.NoFileExists(t, b.Path)
	assert.Empty(t, h.delivery.messages(user))
	_, jobs := h.store.Stats()
	assert.Zero(t, jobs)
}

func TestPanicInMixIsReported(t *testing.T) {
	h := newHarness(t, RunnerConfig{Workers: 1}, false)
	h.runner.renderer = panicRenderer{}

	a, b := newAsset(t, h.dir, 2), newAsset(t, h.dir, 2)
	j := &Job{ID: "job-1", UserID: user, Left: Source{Asset: a}, Right: Source{Asset: b}}
	j.ctx, j.cancel = context.WithCancel(context.Background())
	h.store.With(user, func(e *Entry) { e.AddJob(j) })

	assert.NotPanics(t, func() { h.runner.process(j) })

	assert.Equal(t, domain.UserMessage(errors.New("panic")), h.delivery.last(user))
	assert.NoFileExists(t, a.Path)
	assert.NoFileExists(t, b.Path)
	_, jobs := h.store.Stats()
	assert.Zero(t, jobs)
	assert.Zero(t, h.runner.Active())
}
