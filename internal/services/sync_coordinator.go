package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"budget/internal/core"
	"budget/internal/docstore"
	"budget/internal/log"
)

// SyncStatus is the user-visible save/load indicator.
type SyncStatus string

const (
	StatusIdle       SyncStatus = ""
	StatusSaved      SyncStatus = "saved"
	StatusSaveFailed SyncStatus = "save_failed"
	StatusLoadFailed SyncStatus = "load_failed"
)

var statusMessages = map[SyncStatus]string{
	StatusSaved:      "Saved ✓",
	StatusSaveFailed: "Error saving!",
	StatusLoadFailed: "Failed to load data. Please try refreshing.",
}

// Message returns the text shown for s.
func (s SyncStatus) Message() string {
	return statusMessages[s]
}

// Origin tags why the ledger changed.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

func (o Origin) String() string {
	if o == OriginRemote {
		return "remote"
	}
	return "local"
}

// Update is one change to the coordinator's ledger.
type Update struct {
	Origin Origin
	Ledger core.Ledger
}

// shouldWrite is the only write decision: local edits are persisted,
// remote snapshots never are.
func shouldWrite(u Update) bool {
	return u.Origin == OriginLocal
}

var ErrNotRunning = errors.New("sync coordinator is not running")

// SyncConfig holds the timing knobs of the coordinator.
type SyncConfig struct {
	// DebounceWindow is the quiet period after the last edit before writing (default: 1s)
	DebounceWindow time.Duration

	// SavedStatusTTL is how long "saved" stays visible (default: 2s)
	SavedStatusTTL time.Duration

	// ErrorStatusTTL is how long "save failed" stays visible (default: 3s)
	ErrorStatusTTL time.Duration

	// ClientID tags written documents so their echoes can be recognised.
	ClientID string

	Now func() time.Time
}

func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		DebounceWindow: time.Second,
		SavedStatusTTL: 2 * time.Second,
		ErrorStatusTTL: 3 * time.Second,
		Now:            time.Now,
	}
}

// SyncState is an immutable view of the coordinator, safe to share.
type SyncState struct {
	Ledger    core.Ledger
	Dirty     bool
	Loaded    bool
	Writing   bool
	Status    SyncStatus
	LastSaved time.Time
}

// Message returns the status text, empty when idle.
func (s SyncState) Message() string {
	return s.Status.Message()
}

type syncRecorder interface {
	ObserveWrite(result string, d time.Duration)
	ObserveSnapshot(kind string)
}

type nopSyncRecorder struct{}

func (nopSyncRecorder) ObserveWrite(string, time.Duration) {}
func (nopSyncRecorder) ObserveSnapshot(string)             {}

type (
	localEdit struct {
		mutate func(core.Ledger) core.Ledger
		reply  chan core.Ledger
	}
	remoteSnapshot struct {
		snap docstore.Snapshot
	}
	subscriptionClosed struct{}
	debounceFired      struct{ gen uint64 }
	writeDone          struct {
		gen uint64
		err error
		dur time.Duration
	}
	statusExpired struct{ seq uint64 }
	flushRequest  struct{ reply chan error }
)

// maxSentStamps bounds how many of our own write stamps are remembered for
// echo matching.
const maxSentStamps = 16

// SyncCoordinator keeps one user's ledger in step with the remote
// document. All state lives on a single control loop goroutine; writes run
// beside it so a stalled remote call never blocks edits.
type SyncCoordinator struct {
	store   docstore.DocumentStore
	config  SyncConfig
	logger  *log.Logger
	metrics syncRecorder

	state atomic.Pointer[SyncState]

	// Lifecycle management
	edits   sync.RWMutex // held shared by Apply, exclusively while stopping
	mu      sync.Mutex
	running bool
	events  chan any
	stopCh  chan struct{}
	doneCh  chan struct{}
	readyCh chan struct{}
}

func NewSyncCoordinator(store docstore.DocumentStore, config SyncConfig, logger *log.Logger) *SyncCoordinator {
	def := DefaultSyncConfig()
	if config.DebounceWindow <= 0 {
		config.DebounceWindow = def.DebounceWindow
	}
	if config.SavedStatusTTL <= 0 {
		config.SavedStatusTTL = def.SavedStatusTTL
	}
	if config.ErrorStatusTTL <= 0 {
		config.ErrorStatusTTL = def.ErrorStatusTTL
	}
	if config.Now == nil {
		config.Now = def.Now
	}
	if logger == nil {
		logger = log.Nop()
	}
	c := &SyncCoordinator{
		store:   store,
		config:  config,
		logger:  logger.WithComponent(log.ComponentSync),
		metrics: nopSyncRecorder{},
	}
	c.state.Store(&SyncState{Ledger: core.Ledger{}})
	return c
}

// WithMetrics attaches a write/snapshot recorder.
func (c *SyncCoordinator) WithMetrics(m syncRecorder) *SyncCoordinator {
	if m != nil {
		c.metrics = m
	}
	return c
}

// State returns the latest published state.
func (c *SyncCoordinator) State() SyncState {
	return *c.state.Load()
}

// IsRunning returns whether a session is being synced.
func (c *SyncCoordinator) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Start subscribes to the user's document and starts the control loop.
// When the subscription cannot be opened the coordinator still runs with
// an empty ledger and a persistent load-failed status, and the error is
// returned.
func (c *SyncCoordinator) Start(ctx context.Context, s core.Session) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("sync coordinator is already running")
	}
	c.running = true
	c.events = make(chan any, 16)
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.readyCh = make(chan struct{})
	events, stopCh, doneCh, readyCh := c.events, c.stopCh, c.doneCh, c.readyCh
	c.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	snaps, subErr := c.store.Subscribe(loopCtx, s.UserID)

	l := &syncLoop{
		c:       c,
		ctx:     loopCtx,
		cancel:  cancel,
		userID:  s.UserID,
		events:  events,
		stopCh:  stopCh,
		doneCh:  doneCh,
		readyCh: readyCh,
		ledger:  core.Ledger{},
	}
	if subErr != nil {
		c.metrics.ObserveSnapshot("error")
		c.logger.ErrorContext(ctx, "Failed to subscribe to document",
			log.FieldUserID, s.UserID,
			log.FieldOperation, log.OpSubscribe,
			log.FieldError, subErr)
		l.status = StatusLoadFailed
		l.markReady()
	} else {
		go l.forward(snaps)
	}
	l.publish()
	go l.run()

	c.logger.InfoContext(ctx, "Sync coordinator started",
		log.FieldUserID, s.UserID,
		log.FieldClientID, c.config.ClientID,
		"debounce", c.config.DebounceWindow)

	if subErr != nil {
		return fmt.Errorf("subscribe: %w", subErr)
	}
	return nil
}

// Stop clears the ledger, drops any pending write and closes the
// subscription. It waits for the control loop to exit.
func (c *SyncCoordinator) Stop(ctx context.Context) error {
	return c.stop(ctx, false)
}

// Drain is Stop for a session that stays valid: edits are refused from
// now on, the dirty ledger is written at once and the coordinator stops
// once that write has finished or ctx ends. The flush error, if any, is
// returned.
func (c *SyncCoordinator) Drain(ctx context.Context) error {
	return c.stop(ctx, true)
}

func (c *SyncCoordinator) stop(ctx context.Context, flush bool) error {
	// Waits for in-flight Apply calls so none is acknowledged after the
	// final flush.
	c.edits.Lock()
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		c.edits.Unlock()
		return nil
	}
	c.running = false
	events, stopCh, doneCh := c.events, c.stopCh, c.doneCh
	c.mu.Unlock()
	c.edits.Unlock()

	var flushErr error
	if flush {
		if flushErr = requestFlush(ctx, events, doneCh); flushErr != nil {
			c.logger.ErrorContext(ctx, "Failed to flush ledger before stop",
				log.FieldOperation, log.OpWrite,
				log.FieldError, flushErr)
		}
	}

	close(stopCh)

	select {
	case <-doneCh:
	case <-ctx.Done():
		c.logger.WarnContext(ctx, "Sync coordinator stop timed out")
		return ctx.Err()
	}
	c.state.Store(&SyncState{Ledger: core.Ledger{}})
	c.logger.InfoContext(ctx, "Sync coordinator stopped", "flushed", flush && flushErr == nil)
	return flushErr
}

// Flush writes the dirty ledger now instead of waiting for the debounce
// window, and returns once nothing is left unsaved or the write failed.
func (c *SyncCoordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	events, doneCh := c.events, c.doneCh
	c.mu.Unlock()
	return requestFlush(ctx, events, doneCh)
}

func requestFlush(ctx context.Context, events chan any, doneCh chan struct{}) error {
	reply := make(chan error, 1)
	select {
	case events <- flushRequest{reply: reply}:
	case <-doneCh:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-doneCh:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready is closed once the first snapshot has been handled or loading has
// failed. It is nil before the first Start.
func (c *SyncCoordinator) Ready() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyCh
}

// Apply runs mutate against the current ledger as a local edit and returns
// the resulting ledger.
func (c *SyncCoordinator) Apply(ctx context.Context, mutate func(core.Ledger) core.Ledger) (core.Ledger, error) {
	c.edits.RLock()
	defer c.edits.RUnlock()

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil, ErrNotRunning
	}
	events, doneCh := c.events, c.doneCh
	c.mu.Unlock()

	reply := make(chan core.Ledger, 1)
	select {
	case events <- localEdit{mutate: mutate, reply: reply}:
	case <-doneCh:
		return nil, ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case l := <-reply:
		return l, nil
	case <-doneCh:
		return nil, ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// syncLoop is the state owned by one run of the control loop.
type syncLoop struct {
	c       *SyncCoordinator
	ctx     context.Context
	cancel  context.CancelFunc
	userID  string
	events  chan any
	stopCh  chan struct{}
	doneCh  chan struct{}
	readyCh chan struct{}
	settled bool // first snapshot handled or load failed
	ready   bool

	ledger    core.Ledger
	dirty     bool
	loaded    bool
	gen       uint64 // bumped by every local edit and every applied remote snapshot
	debounce  *time.Timer
	writing   bool
	rewrite   bool // debounce fired during a write
	status    SyncStatus
	statusSeq uint64
	statusTTL *time.Timer
	lastSaved time.Time

	sent     []time.Time // stamps of writes sent during this run
	flushing []chan error
}

func (l *syncLoop) run() {
	defer close(l.doneCh)
	defer l.shutdown()

	for {
		select {
		case <-l.stopCh:
			return
		case ev := <-l.events:
			l.handle(ev)
			l.publish()
		}
	}
}

func (l *syncLoop) handle(ev any) {
	switch ev := ev.(type) {
	case localEdit:
		next := ev.mutate(l.ledger)
		if !core.LedgersEqual(next, l.ledger) {
			l.apply(Update{Origin: OriginLocal, Ledger: next})
		}
		ev.reply <- l.ledger
	case remoteSnapshot:
		l.onSnapshot(ev.snap)
	case subscriptionClosed:
		if l.ctx.Err() == nil {
			l.c.logger.WarnContext(l.ctx, "Document subscription closed", log.FieldUserID, l.userID)
		}
	case debounceFired:
		if ev.gen != l.gen || !l.dirty {
			return
		}
		if l.writing {
			l.rewrite = true
			return
		}
		l.startWrite()
	case writeDone:
		l.onWriteDone(ev)
		l.settleFlush(ev.err)
	case flushRequest:
		l.flushing = append(l.flushing, ev.reply)
		l.settleFlush(nil)
	case statusExpired:
		if ev.seq == l.statusSeq && l.status != StatusLoadFailed {
			l.status = StatusIdle
		}
	}
}

// apply installs u as the current ledger and schedules a write when the
// update is local.
func (l *syncLoop) apply(u Update) {
	l.ledger = u.Ledger
	l.gen++
	if !shouldWrite(u) {
		l.cancelDebounce()
		l.dirty = false
		l.rewrite = false
		return
	}
	l.dirty = true
	l.scheduleWrite(l.c.config.DebounceWindow)
}

func (l *syncLoop) onSnapshot(snap docstore.Snapshot) {
	if snap.Err != nil {
		l.c.metrics.ObserveSnapshot("error")
		l.c.logger.WarnContext(l.ctx, "Document snapshot error", log.FieldUserID, l.userID, log.FieldError, snap.Err)
		if !l.loaded {
			l.setStatus(StatusLoadFailed, 0)
			l.markReady()
		}
		return
	}
	first := !l.loaded
	l.loaded = true
	l.markReady()
	if l.status == StatusLoadFailed {
		l.status = StatusIdle
	}

	if !snap.Exists {
		l.c.metrics.ObserveSnapshot("missing")
		if !first {
			return
		}
		// New user: seed the current month and persist it right away.
		month := l.c.config.Now().Month()
		seed := core.Ledger{month: core.FlatRecord(core.Bucket{Income: []core.Entry{}, Expenses: []core.Entry{}})}
		l.c.logger.InfoContext(l.ctx, "No document found, initializing ledger", log.FieldUserID, l.userID, log.FieldMonth, month.String())
		if l.ledger.IsEmpty() {
			l.ledger = seed
		}
		l.gen++
		l.dirty = true
		l.cancelDebounce()
		if l.writing {
			l.rewrite = true
		} else {
			l.startWrite()
		}
		return
	}

	if own, latest := l.ownEcho(snap.Document); !first && own && (l.dirty || !latest) {
		// Echo of our own write while newer edits are pending, or of a write
		// already superseded by a later one of ours.
		l.c.metrics.ObserveSnapshot("echo")
		return
	}

	l.c.metrics.ObserveSnapshot("applied")
	ledger := snap.Document.MonthlyData
	if ledger == nil {
		ledger = core.Ledger{}
	}
	l.apply(Update{Origin: OriginRemote, Ledger: ledger})
	l.c.logger.DebugContext(l.ctx, "Applied remote snapshot",
		log.FieldUserID, l.userID,
		log.FieldOrigin, snap.Document.UpdatedBy,
		log.FieldMonths, len(ledger))
}

// ownEcho reports whether doc is exactly one of the documents this run
// wrote, and whether it is the most recent one. Writes of an earlier run
// never match, so a restored session always takes the stored document.
func (l *syncLoop) ownEcho(doc docstore.Document) (own, latest bool) {
	if doc.UpdatedBy == "" || doc.UpdatedBy != l.c.config.ClientID {
		return false, false
	}
	for i := len(l.sent) - 1; i >= 0; i-- {
		if l.sent[i].Equal(doc.LastUpdated) {
			return true, i == len(l.sent)-1
		}
	}
	return false, false
}

func (l *syncLoop) markReady() {
	l.settled = true
}

func (l *syncLoop) startWrite() {
	l.cancelDebounce()
	if l.ledger.IsEmpty() {
		// Nothing worth persisting.
		l.dirty = false
		return
	}
	l.writing = true
	l.rewrite = false
	gen := l.gen
	doc := docstore.Document{
		MonthlyData: l.ledger,
		LastUpdated: l.c.config.Now().UTC(),
		UpdatedBy:   l.c.config.ClientID,
	}
	if len(l.sent) == maxSentStamps {
		l.sent = append(l.sent[:0], l.sent[1:]...)
	}
	l.sent = append(l.sent, doc.LastUpdated)
	go func() {
		started := time.Now()
		err := l.c.store.Write(l.ctx, l.userID, doc)
		l.send(writeDone{gen: gen, err: err, dur: time.Since(started)})
	}()
}

func (l *syncLoop) onWriteDone(ev writeDone) {
	l.writing = false
	if ev.err != nil {
		l.c.metrics.ObserveWrite("error", ev.dur)
		l.c.logger.ErrorContext(l.ctx, "Failed to save ledger",
			log.FieldUserID, l.userID,
			log.FieldOperation, log.OpWrite,
			log.FieldError, ev.err)
		l.setStatus(StatusSaveFailed, l.c.config.ErrorStatusTTL)
	} else {
		l.c.metrics.ObserveWrite("ok", ev.dur)
		if ev.gen == l.gen {
			l.dirty = false
		}
		l.lastSaved = l.c.config.Now()
		l.setStatus(StatusSaved, l.c.config.SavedStatusTTL)
		log.NewStructuredLogger(l.c.logger).LogLedgerSaved(l.ctx, l.userID, len(l.ledger), ev.dur.Milliseconds())
	}
	if l.rewrite && l.dirty {
		l.startWrite()
	}
}

// settleFlush answers pending flush requests once nothing is unsaved, or
// with err when the last write failed. While callers wait, a dirty ledger
// is written without waiting for the debounce window.
func (l *syncLoop) settleFlush(err error) {
	if len(l.flushing) == 0 {
		return
	}
	if err == nil {
		if l.dirty && !l.writing {
			l.startWrite()
		}
		if l.writing {
			return
		}
	}
	for _, reply := range l.flushing {
		reply <- err
	}
	l.flushing = nil
}

func (l *syncLoop) scheduleWrite(after time.Duration) {
	l.cancelDebounce()
	gen := l.gen
	l.debounce = time.AfterFunc(after, func() {
		l.send(debounceFired{gen: gen})
	})
}

func (l *syncLoop) cancelDebounce() {
	if l.debounce != nil {
		l.debounce.Stop()
		l.debounce = nil
	}
}

// setStatus shows s, clearing it after ttl unless ttl is zero.
func (l *syncLoop) setStatus(s SyncStatus, ttl time.Duration) {
	l.status = s
	l.statusSeq++
	if l.statusTTL != nil {
		l.statusTTL.Stop()
		l.statusTTL = nil
	}
	if ttl > 0 {
		seq := l.statusSeq
		l.statusTTL = time.AfterFunc(ttl, func() {
			l.send(statusExpired{seq: seq})
		})
	}
}

// send delivers an event unless the loop has exited.
func (l *syncLoop) send(ev any) {
	select {
	case l.events <- ev:
	case <-l.doneCh:
	}
}

// forward feeds subscription snapshots into the loop.
func (l *syncLoop) forward(snaps <-chan docstore.Snapshot) {
	for snap := range snaps {
		l.send(remoteSnapshot{snap: snap})
	}
	l.send(subscriptionClosed{})
}

// publish stores the state readers see, then releases Ready waiters so they
// never observe a pre-load state.
func (l *syncLoop) publish() {
	l.c.state.Store(&SyncState{
		Ledger:    l.ledger,
		Dirty:     l.dirty,
		Loaded:    l.loaded,
		Writing:   l.writing,
		Status:    l.status,
		LastSaved: l.lastSaved,
	})
	if l.settled && !l.ready {
		l.ready = true
		close(l.readyCh)
	}
}

func (l *syncLoop) shutdown() {
	l.cancelDebounce()
	if l.statusTTL != nil {
		l.statusTTL.Stop()
	}
	l.cancel()
	for _, reply := range l.flushing {
		reply <- ErrNotRunning
	}
	l.flushing = nil
	l.ledger = core.Ledger{}
	l.dirty = false
	l.rewrite = false
	l.settled = true
	l.publish()
}
