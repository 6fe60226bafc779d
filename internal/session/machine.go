package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/satindergrewal/stereosplit/internal/audio"
	"github.com/satindergrewal/stereosplit/internal/domain"
	"github.com/satindergrewal/stereosplit/internal/resolver"
)

// Command is an explicit user command.
type Command int

const (
	CmdNone Command = iota
	CmdStartURL
	CmdStartFile
	CmdCancel
	CmdHelp
)

// Event is one inbound message. Exactly one of Command, Text, File or Upload
// is set.
type Event struct {
	UserID  int64
	Command Command
	Text    string
	File    *audio.Asset
	// Upload fetches and decodes an uploaded file. It runs only when an
	// upload is acceptable in the current state.
	Upload func(ctx context.Context) (*audio.Asset, error)
}

// Machine is the per-user state machine. It owns no goroutines; mixes run
// on the Runner.
type Machine struct {
	store    *Store
	runner   *Runner
	delivery Delivery
	uploads  uploads
	now      func() time.Time
}

// NewMachine wires a machine to its store, runner and delivery channel.
func NewMachine(store *Store, runner *Runner, delivery Delivery) *Machine {
	return &Machine{
		store:    store,
		runner:   runner,
		delivery: delivery,
		now:      time.Now,
	}
}

// Handle processes one event. Errors never escape: they are turned into a
// message for the user and the user's session is destroyed.
func (m *Machine) Handle(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			ev.File.Release()
			m.Fail(ctx, ev.UserID, fmt.Errorf("panic handling event: %v", r))
		}
	}()

	if ev.Upload != nil {
		if !m.acceptsUpload(ev.UserID) {
			m.notify(ctx, ev.UserID, msgWantURL)
			return
		}
		uctx, done, ok := m.uploads.begin(ctx, ev.UserID)
		if !ok {
			log.Printf("Upload dropped, cancel pending: user=%d", ev.UserID)
			return
		}
		defer done()
		asset, err := ev.Upload(uctx)
		interrupted := uctx.Err() != nil && ctx.Err() == nil
		if interrupted {
			log.Printf("Upload interrupted by cancel: user=%d", ev.UserID)
			asset.Release()
			return
		}
		if err != nil {
			m.Fail(ctx, ev.UserID, err)
			return
		}
		ev.File = asset
	}

	var replies []string
	m.store.With(ev.UserID, func(e *Entry) {
		replies = m.apply(e, ev)
	})
	for _, r := range replies {
		m.notify(ctx, ev.UserID, r)
	}
}

// Interrupt cuts short the user's upload in progress and drops uploads
// queued before the cancel that follows. Call it when a cancel arrives,
// before the cancel event itself is queued.
func (m *Machine) Interrupt(userID int64) {
	m.uploads.interrupt(userID)
}

// Fail destroys the user's session and reports err to them.
func (m *Machine) Fail(ctx context.Context, userID int64, err error) {
	log.Printf("Session error: user=%d: %v", userID, err)
	m.store.With(userID, func(e *Entry) {
		e.Clear()
	})
	m.notify(ctx, userID, domain.UserMessage(err))
}

// State returns the user's mode and step (0 when idle).
func (m *Machine) State(userID int64) (Mode, int) {
	mode, step := Idle, 0
	m.store.With(userID, func(e *Entry) {
		if s := e.Session(); s != nil {
			mode, step = s.Mode, s.Step
		}
	})
	return mode, step
}

// RunSweeper expires abandoned sessions every interval until ctx ends.
func (m *Machine) RunSweeper(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, userID := range m.store.Expire(ttl) {
				log.Printf("Session expired: user=%d", userID)
				m.notify(ctx, userID, msgExpired)
			}
		}
	}
}

func (m *Machine) acceptsUpload(userID int64) bool {
	ok := true
	m.store.With(userID, func(e *Entry) {
		if s := e.Session(); s != nil {
			ok = s.Mode.acceptsFiles()
		}
	})
	return ok
}

// apply runs one transition with the user's entry locked and returns the
// replies to send once the lock is released.
func (m *Machine) apply(e *Entry, ev Event) []string {
	switch {
	case ev.Command != CmdNone:
		return m.applyCommand(e, ev)
	case ev.File != nil:
		return m.applyFile(e, ev)
	default:
		return m.applyText(e, ev)
	}
}

func (m *Machine) applyCommand(e *Entry, ev Event) []string {
	switch ev.Command {
	case CmdStartURL:
		e.Start(m.newSession(ev.UserID, AwaitingSecondURL))
		return []string{msgSendFirstURL}
	case CmdStartFile:
		e.Start(m.newSession(ev.UserID, AwaitingSecondFile))
		return []string{msgSendFirstFile}
	case CmdCancel:
		m.uploads.clear(ev.UserID)
		had := e.Session() != nil
		e.Clear()
		if n := e.CancelJobs(); n > 0 {
			log.Printf("Cancelled %d mix(es): user=%d", n, ev.UserID)
			had = true
		}
		if !had {
			return []string{msgNothingToStop}
		}
		return []string{msgCancelled}
	default:
		return []string{msgHelp}
	}
}

func (m *Machine) applyFile(e *Entry, ev Event) []string {
	s := e.Session()
	switch {
	case s == nil:
		sess := m.newSession(ev.UserID, AwaitingGenericSecond)
		sess.Step = 2
		sess.PendingAsset = ev.File
		e.Start(sess)
		return []string{msgSendSecondFile}

	case !s.Mode.acceptsFiles():
		ev.File.Release()
		return []string{msgWantURL}

	case s.Step == 1:
		s.PendingAsset = ev.File
		s.Step = 2
		return []string{msgSendSecondFile}

	default:
		first := e.Detach().PendingAsset
		return m.submit(e, &Job{
			UserID: ev.UserID,
			Left:   Source{Asset: first},
			Right:  Source{Asset: ev.File},
		}, msgMixingFiles)
	}
}

func (m *Machine) applyText(e *Entry, ev Event) []string {
	s := e.Session()
	if s == nil {
		if ev.Text == "" {
			return nil
		}
		return m.submit(e, &Job{UserID: ev.UserID, Text: ev.Text}, msgFinding)
	}

	if s.Mode != AwaitingSecondURL {
		return []string{msgWantFile}
	}

	ids := resolver.VideoIDs(ev.Text)
	switch {
	case len(ids) == 2 && s.Step == 1:
		e.Clear()
		return m.submit(e, &Job{
			UserID: ev.UserID,
			Left:   Source{VideoID: ids[0]},
			Right:  Source{VideoID: ids[1]},
		}, "")

	case len(ids) == 0:
		err := fmt.Errorf("%w: no link in %q", domain.ErrInputParse, ev.Text)
		return []string{domain.UserMessage(err)}

	case len(ids) != 1:
		return []string{msgOneLink}

	case s.Step == 1:
		s.PendingID = ids[0]
		s.Step = 2
		return []string{msgSendSecondURL}

	default:
		first := e.Detach().PendingID
		return m.submit(e, &Job{
			UserID: ev.UserID,
			Left:   Source{VideoID: first},
			Right:  Source{VideoID: ids[0]},
		}, "")
	}
}

// submit registers j on the entry and queues it. On a full queue the job's
// assets are released and the user is told to retry.
func (m *Machine) submit(e *Entry, j *Job, ack string) []string {
	j.ID = uuid.New().String()
	j.ctx, j.cancel = context.WithCancel(context.Background())
	e.AddJob(j)

	if !m.runner.TrySubmit(j) {
		e.RemoveJob(j.ID)
		j.cancel()
		j.release()
		return []string{domain.UserMessage(domain.ErrBusy)}
	}
	if ack == "" {
		return nil
	}
	return []string{ack}
}

func (m *Machine) newSession(userID int64, mode Mode) *Session {
	return &Session{
		UserID:    userID,
		Mode:      mode,
		Step:      1,
		CreatedAt: m.now(),
	}
}

func (m *Machine) notify(ctx context.Context, userID int64, text string) {
	if err := m.delivery.Notify(ctx, userID, text); err != nil {
		log.Printf("Notify failed: user=%d: %v", userID, err)
	}
}

// uploads tracks downloads of user uploads so a cancel can end them.
type uploads struct {
	mu        sync.Mutex
	running   map[int64]context.CancelFunc
	cancelled map[int64]bool
}

// begin registers an upload for userID. ok is false when a cancel is
// pending for the user.
func (u *uploads) begin(ctx context.Context, userID int64) (uctx context.Context, done func(), ok bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancelled[userID] {
		return nil, nil, false
	}
	if u.running == nil {
		u.running = make(map[int64]context.CancelFunc)
	}
	uctx, cancel := context.WithCancel(ctx)
	u.running[userID] = cancel
	return uctx, func() {
		u.mu.Lock()
		delete(u.running, userID)
		u.mu.Unlock()
		cancel()
	}, true
}

func (u *uploads) interrupt(userID int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancelled == nil {
		u.cancelled = make(map[int64]bool)
	}
	u.cancelled[userID] = true
	if cancel, ok := u.running[userID]; ok {
		cancel()
	}
}

func (u *uploads) clear(userID int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.cancelled, userID)
}
