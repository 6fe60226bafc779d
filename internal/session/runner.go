package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/satindergrewal/stereosplit/internal/audio"
	"github.com/satindergrewal/stereosplit/internal/domain"
)

// Source is one side of a mix: an uploaded asset, a video id, or a search
// query, in that order of precedence.
type Source struct {
	Asset   *audio.Asset
	VideoID string
	Query   string
}

func (s Source) label() string {
	switch {
	case s.Query != "":
		return s.Query
	case s.VideoID != "":
		return "youtu.be/" + s.VideoID
	case s.Asset != nil && s.Asset.Label != "":
		return s.Asset.Label
	}
	return ""
}

// Job is one queued mix. Text, when set, is resolved into Left and Right
// before anything is downloaded.
type Job struct {
	ID     string
	UserID int64
	Text   string
	Left   Source
	Right  Source

	ctx    context.Context
	cancel context.CancelFunc
	taken  atomic.Bool
}

// take claims the job's assets. Only the first caller, either a worker
// starting the job or a cancel reaching it first, gets true.
func (j *Job) take() bool {
	return j.taken.CompareAndSwap(false, true)
}

func (j *Job) release() {
	j.Left.Asset.Release()
	j.Right.Asset.Release()
}

// RunnerConfig sizes the runner.
type RunnerConfig struct {
	Workers   int // concurrent mixes
	QueueSize int // queued mixes beyond the running ones
}

// Runner executes mix jobs on a fixed pool of goroutines and reports each
// result back to its user.
type Runner struct {
	store    *Store
	resolver Resolver
	gateway  Gateway
	renderer audio.Renderer
	delivery Delivery
	workers  int

	jobs   chan *Job
	active atomic.Int64
}

// NewRunner creates a runner. Call Run to start the workers.
func NewRunner(store *Store, res Resolver, gw Gateway, r audio.Renderer, d Delivery, cfg RunnerConfig) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	return &Runner{
		store:    store,
		resolver: res,
		gateway:  gw,
		renderer: r,
		delivery: d,
		workers:  cfg.Workers,
		jobs:     make(chan *Job, cfg.QueueSize+cfg.Workers),
	}
}

// TrySubmit queues j without blocking. It reports false when the queue is full.
func (r *Runner) TrySubmit(j *Job) bool {
	select {
	case r.jobs <- j:
		return true
	default:
		return false
	}
}

// QueueSize returns the number of jobs waiting for a worker.
func (r *Runner) QueueSize() int {
	return len(r.jobs)
}

// Active returns the number of jobs being processed.
func (r *Runner) Active() int {
	return int(r.active.Load())
}

// Run starts the workers and blocks until ctx is cancelled and every
// in-progress job has finished. Jobs still queued are dropped and their
// assets released.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-r.jobs:
					stop := context.AfterFunc(ctx, j.cancel)
					r.process(j)
					stop()
				}
			}
		}()
	}
	wg.Wait()

	for {
		select {
		case j := <-r.jobs:
			j.cancel()
			if j.take() {
				j.release()
			}
			r.forget(j)
		default:
			return
		}
	}
}

func (r *Runner) process(j *Job) {
	if !j.take() {
		log.Printf("Skipping cancelled mix: user=%d job=%s", j.UserID, j.ID)
		r.forget(j)
		return
	}

	r.active.Add(1)
	defer r.active.Add(-1)
	defer j.cancel()
	defer r.forget(j)
	defer j.release()

	ctx := j.ctx
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic in mix: %v", rec)
			log.Printf("Mix failed: user=%d job=%s: %v\n%s", j.UserID, j.ID, err, debug.Stack())
			r.notify(ctx, j.UserID, domain.UserMessage(err))
		}
	}()

	if err := r.mix(ctx, j); err != nil {
		if ctx.Err() != nil {
			log.Printf("Mix cancelled: user=%d job=%s", j.UserID, j.ID)
			return
		}
		log.Printf("Mix failed: user=%d job=%s: %v", j.UserID, j.ID, err)
		r.notify(ctx, j.UserID, domain.UserMessage(err))
	}
}

func (r *Runner) mix(ctx context.Context, j *Job) error {
	if j.Text != "" {
		req, err := r.resolver.Resolve(ctx, j.Text)
		if err != nil {
			return err
		}
		j.Left = Source{Query: req.Left.Text, VideoID: req.Left.VideoID}
		j.Right = Source{Query: req.Right.Text, VideoID: req.Right.VideoID}
		if req.Left.VideoID == "" {
			r.notify(ctx, j.UserID, fmt.Sprintf("📝 Left: %s\n📝 Right: %s\n\n🔎 Searching YouTube...", j.Left.Query, j.Right.Query))
		}
	}

	downloads := j.Left.Asset == nil || j.Right.Asset == nil
	if err := r.acquire(ctx, j, &j.Left, 1); err != nil {
		return err
	}
	if err := r.acquire(ctx, j, &j.Right, 2); err != nil {
		return err
	}

	left, right := j.Left.Asset, j.Right.Asset
	if ratio := audio.PitchRatio(left, right); ratio != 1 {
		log.Printf("Sample rate mismatch: user=%d left=%dHz right=%dHz (right plays at %.3fx)",
			j.UserID, left.SampleRate, right.SampleRate, ratio)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if downloads {
		r.notify(ctx, j.UserID, msgMixing)
	}

	st, err := audio.Mix(left, right)
	j.release()
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	out, err := r.renderer.Render(ctx, st, audio.Meta{Left: j.Left.label(), Right: j.Right.label()})
	if err != nil {
		return err
	}
	defer out.Release()

	data, err := os.ReadFile(out.Path)
	if err != nil {
		return fmt.Errorf("%w: read mix: %w", domain.ErrIO, err)
	}

	if !r.claim(j) {
		log.Printf("Dropping stale mix: user=%d job=%s", j.UserID, j.ID)
		return nil
	}

	r.notify(ctx, j.UserID, msgDone)
	if err := r.delivery.SendDocument(ctx, j.UserID, out.Filename, data); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDelivery, err)
	}
	log.Printf("Mix delivered: user=%d job=%s frames=%d rate=%d", j.UserID, j.ID, st.FrameCount(), st.SampleRate)
	return nil
}

// acquire fills src.Asset, searching and downloading as needed.
func (r *Runner) acquire(ctx context.Context, j *Job, src *Source, n int) error {
	if src.Asset != nil {
		return nil
	}
	if src.VideoID == "" {
		id, err := r.gateway.Search(ctx, src.Query)
		if err != nil {
			return err
		}
		src.VideoID = id
	}

	r.notify(ctx, j.UserID, fmt.Sprintf("⏬ Downloading song %d/2...", n))
	asset, err := r.gateway.Fetch(ctx, src.VideoID)
	if err != nil {
		return err
	}
	src.Asset = asset
	return nil
}

// claim unregisters the job if it is still current. A false result means
// the user cancelled it.
func (r *Runner) claim(j *Job) bool {
	current := false
	r.store.With(j.UserID, func(e *Entry) {
		current = e.RemoveJob(j.ID)
	})
	return current
}

func (r *Runner) forget(j *Job) {
	r.store.With(j.UserID, func(e *Entry) {
		e.RemoveJob(j.ID)
	})
}

func (r *Runner) notify(ctx context.Context, userID int64, text string) {
	if ctx.Err() != nil {
		return
	}
	if err := r.delivery.Notify(ctx, userID, text); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Notify failed: user=%d: %v", userID, err)
	}
}
