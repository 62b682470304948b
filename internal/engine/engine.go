package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roach88/hatdata/internal/entity"
	"github.com/roach88/hatdata/internal/events"
	"github.com/roach88/hatdata/internal/repository"
)

// Mode selects how the local and remote repositories relate. It is fixed at
// construction.
type Mode int

const (
	// ModeLocalMirror keeps local as a read-mostly cache of remote.
	ModeLocalMirror Mode = iota + 1
	// ModeCommandQueue treats local as a write-ahead queue of outbound commands.
	ModeCommandQueue
	// ModeRemoteWithOffline reads remote while online and local while not.
	ModeRemoteWithOffline
)

func (m Mode) String() string {
	switch m {
	case ModeLocalMirror:
		return "local_mirror"
	case ModeCommandQueue:
		return "command_queue"
	case ModeRemoteWithOffline:
		return "remote_with_offline"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts the String form of a mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local_mirror", "mirror":
		return ModeLocalMirror, nil
	case "command_queue", "command":
		return ModeCommandQueue, nil
	case "remote_with_offline", "offline":
		return ModeRemoteWithOffline, nil
	}
	return 0, newConfigError("unknown mode %q", s)
}

// Engine event names. Local and remote repository events are relayed with
// the LocalPrefix and RemotePrefix prefixes.
const (
	EventBeginSync = "beginSync"
	EventEndSync   = "endSync"

	LocalPrefix  = "local_"
	RemotePrefix = "remote_"
)

// Config holds the engine's scheduling settings.
type Config struct {
	Mode Mode

	// SyncRate is the offset from the last successful sync to the next one.
	SyncRate string
	// RetryRate is the offset from a failed or offline attempt to the retry.
	RetryRate string

	// AutoSync arms the scheduler after every attempt.
	AutoSync bool
	// IsOnline is the initial connectivity state.
	IsOnline bool
}

// DefaultConfig returns a mirror configuration syncing daily and retrying
// every minute, online, without auto-sync.
func DefaultConfig() Config {
	return Config{
		Mode:      ModeLocalMirror,
		SyncRate:  "+1 day",
		RetryRate: "+1 minute",
		IsOnline:  true,
	}
}

// Engine synchronizes a local repository from a remote one.
//
// Sync attempts are serialized by a single isSyncing flag: a trigger that
// arrives while an attempt is in flight is a no-op, not a wait.
//
// Thread-safety model:
//   - Timers fire on their own goroutines and only enqueue triggers.
//   - Run() or ProcessPending() consume triggers; repositories are touched
//     only from the goroutine doing so, or from the caller's goroutine for
//     direct Sync calls. Callers must not mix the two concurrently.
//   - Scheduling state accessors are safe from any goroutine.
type Engine struct {
	*events.Channel

	local  *repository.Repository
	remote *repository.Repository

	mode      Mode
	syncRate  time.Duration
	retryRate time.Duration
	autoSync  bool

	clock    Clock
	attempts *Sequence
	logger   *slog.Logger
	queue    *triggerQueue
	commands map[string]*Command

	running   atomic.Bool
	isSyncing atomic.Bool

	mu          sync.Mutex
	isOnline    bool
	lastSync    time.Time
	lastAttempt time.Time
	retrying    bool
	lastError   error
	stopTimer   func() bool
	destroyed   bool
}

// Option configures an Engine.
type Option func(*Engine) error

// WithConfig applies a full configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) error {
		return e.applyConfig(cfg)
	}
}

// WithMode overrides the mode.
func WithMode(m Mode) Option {
	return func(e *Engine) error {
		e.mode = m
		return nil
	}
}

// WithAutoSync enables the scheduler.
func WithAutoSync(on bool) Option {
	return func(e *Engine) error {
		e.autoSync = on
		return nil
	}
}

// WithOnline sets the initial connectivity state.
func WithOnline(online bool) Option {
	return func(e *Engine) error {
		e.isOnline = online
		return nil
	}
}

// WithClock replaces the wall clock (tests use a manual one).
func WithClock(c Clock) Option {
	return func(e *Engine) error {
		e.clock = c
		return nil
	}
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = l
		return nil
	}
}

// WithCommands registers commands for command-queue mode.
func WithCommands(cmds ...*Command) Option {
	return func(e *Engine) error {
		for _, c := range cmds {
			e.RegisterCommand(c)
		}
		return nil
	}
}

func (e *Engine) applyConfig(cfg Config) error {
	syncRate, err := ParseOffset(cfg.SyncRate)
	if err != nil {
		return newConfigError("sync rate: %v", err)
	}
	retryRate, err := ParseOffset(cfg.RetryRate)
	if err != nil {
		return newConfigError("retry rate: %v", err)
	}
	if syncRate <= 0 || retryRate <= 0 {
		return newConfigError("sync and retry rates must be positive")
	}
	e.mode = cfg.Mode
	e.syncRate = syncRate
	e.retryRate = retryRate
	e.autoSync = cfg.AutoSync
	e.isOnline = cfg.IsOnline
	return nil
}

// New creates an engine owning local and remote. Their events are relayed
// with "local_" and "remote_" prefixes, and Destroy cascades to both.
func New(local, remote *repository.Repository, opts ...Option) (*Engine, error) {
	if local == nil || remote == nil {
		return nil, newConfigError("local and remote repositories are required")
	}
	if local == remote {
		return nil, newConfigError("local and remote must be distinct repositories")
	}

	e := &Engine{
		Channel:  events.NewChannel([]string{EventBeginSync, EventEndSync}),
		local:    local,
		remote:   remote,
		clock:    SystemClock(),
		attempts: NewSequence(),
		logger:   slog.Default(),
		queue:    newTriggerQueue(),
		commands: make(map[string]*Command),
	}
	if err := e.applyConfig(DefaultConfig()); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	switch e.mode {
	case ModeLocalMirror, ModeCommandQueue, ModeRemoteWithOffline:
	default:
		return nil, newConfigError("unknown mode %d", int(e.mode))
	}

	if err := e.RelayFrom(local.Channel, repository.Events, LocalPrefix); err != nil {
		return nil, err
	}
	if err := e.RelayFrom(remote.Channel, repository.Events, RemotePrefix); err != nil {
		return nil, err
	}
	if e.mode == ModeCommandQueue {
		if _, err := local.On(repository.EventAdd, e.onLocalAdd); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) Mode() Mode                     { return e.mode }
func (e *Engine) Local() *repository.Repository  { return e.local }
func (e *Engine) Remote() *repository.Repository { return e.remote }
func (e *Engine) IsSyncing() bool                { return e.isSyncing.Load() }
func (e *Engine) IsAutoSync() bool               { return e.autoSync }
func (e *Engine) SyncRate() time.Duration        { return e.syncRate }
func (e *Engine) RetryRate() time.Duration       { return e.retryRate }
func (e *Engine) Attempts() int64                { return e.attempts.Current() }

// IsOnline reports the connectivity state.
func (e *Engine) IsOnline() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isOnline
}

// LastSync is the completion time of the last successful sync.
func (e *Engine) LastSync() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// LastError is the failure of the most recent attempt, or nil after a
// successful one.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastError
}

// IsRetrying reports whether the next attempt is on the retry schedule.
func (e *Engine) IsRetrying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retrying
}

// ActiveRepository is the repository reads should go to: remote while online
// in remote-with-offline mode, local otherwise.
func (e *Engine) ActiveRepository() *repository.Repository {
	if e.mode == ModeRemoteWithOffline && e.IsOnline() {
		return e.remote
	}
	return e.local
}

// SetIsOnline records connectivity. Coming online with auto-sync enabled
// requests a sync.
func (e *Engine) SetIsOnline(online bool) {
	e.mu.Lock()
	was := e.isOnline
	e.isOnline = online
	e.mu.Unlock()

	if online && !was {
		e.logger.Info("engine online", "mode", e.mode.String())
		if e.autoSync {
			e.queue.Enqueue(Trigger{Kind: TriggerOnline, At: e.clock.Now()})
		}
	} else if !online && was {
		e.logger.Info("engine offline", "mode", e.mode.String())
	}
}

// RegisterCommand adds or replaces a command by name.
func (e *Engine) RegisterCommand(c *Command) {
	e.commands[c.Name()] = c
}

// Command returns the registered command named name, or nil.
func (e *Engine) Command(name string) *Command {
	return e.commands[name]
}

// QueueCommand appends an outbound command to the local queue. In
// command-queue mode an online engine dispatches it right away.
func (e *Engine) QueueCommand(ctx context.Context, name string, payload map[string]any) (*entity.Entity, error) {
	if err := e.ensureAlive(); err != nil {
		return nil, err
	}
	return e.local.Add(ctx, map[string]any{
		PropCommand: name,
		PropPayload: payload,
		PropDate:    e.clock.Now().UTC().Format(time.RFC3339Nano),
	})
}

// onLocalAdd dispatches a freshly queued command while online. Without a
// running loop the sync happens inline on the adding goroutine.
func (e *Engine) onLocalAdd(events.Event) events.Result {
	if !e.IsOnline() || e.isDestroyed() {
		return events.Continue
	}
	if e.running.Load() {
		e.queue.Enqueue(Trigger{Kind: TriggerLocalChange, At: e.clock.Now()})
		return events.Continue
	}
	if err := e.Sync(context.Background()); err != nil {
		e.logger.Error("sync after local add failed", "mode", e.mode.String(), "error", err)
	}
	return events.Continue
}

func (e *Engine) isDestroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

func (e *Engine) ensureAlive() error {
	if e.isDestroyed() {
		return &SyncError{Code: ErrCodeDestroyed, Message: "engine is destroyed"}
	}
	return nil
}

// NeedsSync reports pending local work (unsynced commands in command-queue
// mode, unsaved changes otherwise) or an elapsed sync schedule.
func (e *Engine) NeedsSync() bool {
	if e.hasPendingWork() {
		return true
	}
	return !e.clock.Now().Before(e.NextSync())
}

func (e *Engine) hasPendingWork() bool {
	if e.mode == ModeCommandQueue {
		return len(e.unsyncedItems()) > 0
	}
	return e.local.HasPendingChanges()
}

// NextSync is when the next regular sync is due: the last successful sync
// plus the sync rate, or now when there has never been one.
func (e *Engine) NextSync() time.Time {
	e.mu.Lock()
	last := e.lastSync
	e.mu.Unlock()
	if last.IsZero() {
		return e.clock.Now()
	}
	return last.Add(e.syncRate)
}

// NextRetry is when a retry is due: the last attempt plus the retry rate.
func (e *Engine) NextRetry() time.Time {
	e.mu.Lock()
	last := e.lastAttempt
	e.mu.Unlock()
	if last.IsZero() {
		return e.clock.Now()
	}
	return last.Add(e.retryRate)
}

// Sync runs one synchronization attempt for the engine's mode.
//
// A call while another attempt is running returns nil immediately. Offline
// engines and transient failures do not return an error: the failure is
// recorded as LastError, reported on endSync, and the next attempt moves
// to the retry schedule. Usage errors (unknown command, missing handlers)
// and context cancellation are returned.
func (e *Engine) Sync(ctx context.Context) error {
	if err := e.ensureAlive(); err != nil {
		return err
	}
	if !e.isSyncing.CompareAndSwap(false, true) {
		e.logger.Debug("sync already running, trigger ignored", "mode", e.mode.String())
		return nil
	}
	retry, err := e.attempt(ctx)
	e.isSyncing.Store(false)

	if e.autoSync && !e.isDestroyed() {
		e.arm(retry)
	}
	return err
}

// attempt performs one guarded sync. It reports whether the next attempt
// belongs on the retry schedule, and the error to return to the caller.
func (e *Engine) attempt(ctx context.Context) (bool, error) {
	seq := e.attempts.Next()
	now := e.clock.Now()

	e.mu.Lock()
	e.lastAttempt = now
	online := e.isOnline
	e.mu.Unlock()

	if !online {
		e.fail(ErrOffline)
		e.logger.Info("sync skipped, offline", "attempt", seq, "mode", e.mode.String())
		_ = e.Emit(EventEndSync, e, ErrOffline)
		return true, nil
	}

	_ = e.Emit(EventBeginSync, e)
	e.logger.Debug("sync starting", "attempt", seq, "mode", e.mode.String())

	var err error
	switch e.mode {
	case ModeLocalMirror:
		err = e.syncMirror(ctx)
	case ModeCommandQueue:
		err = e.syncCommands(ctx)
	case ModeRemoteWithOffline:
		err = e.syncRemoteWithOffline(ctx)
	}

	if err != nil {
		e.fail(err)
		_ = e.Emit(EventEndSync, e, err)
		if IsSyncError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			e.logger.Error("sync failed", "attempt", seq, "mode", e.mode.String(), "error", err)
			return true, err
		}
		e.logger.Warn("sync failed, will retry",
			"attempt", seq,
			"mode", e.mode.String(),
			"retry_in", e.retryRate.String(),
			"error", err,
		)
		return true, nil
	}

	done := e.clock.Now()
	e.mu.Lock()
	e.lastSync = done
	e.retrying = false
	e.lastError = nil
	e.mu.Unlock()

	e.logger.Info("sync complete",
		"attempt", seq,
		"mode", e.mode.String(),
		"local_count", e.local.Len(),
	)
	_ = e.Emit(EventEndSync, e, nil)
	return false, nil
}

func (e *Engine) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastError = err
	e.retrying = true
}

// StartAutoSync enables the scheduler. When a sync is already due it runs
// immediately; otherwise a single timer is armed for the next due time.
func (e *Engine) StartAutoSync(ctx context.Context) error {
	if err := e.ensureAlive(); err != nil {
		return err
	}
	e.autoSync = true
	return e.doAutoSync(ctx, e.IsRetrying())
}

// StopAutoSync disables the scheduler and cancels its timer.
func (e *Engine) StopAutoSync() {
	e.autoSync = false
	e.clearTimer()
}

// doAutoSync syncs now when the relevant due time has passed, or arms a
// timer for it. Any previously armed timer is cleared first.
func (e *Engine) doAutoSync(ctx context.Context, isRetry bool) error {
	e.clearTimer()
	due := e.NextSync()
	if isRetry {
		due = e.NextRetry()
	}
	if !e.clock.Now().Before(due) || (!isRetry && e.hasPendingWork()) {
		return e.Sync(ctx)
	}
	e.arm(isRetry)
	return nil
}

// arm clears any pending timer and sets a new one for the next due time.
func (e *Engine) arm(isRetry bool) {
	e.clearTimer()

	kind := TriggerScheduled
	due := e.NextSync()
	if isRetry {
		kind = TriggerRetry
		due = e.NextRetry()
	}
	now := e.clock.Now()
	delay := max(due.Sub(now), 0)

	stop := e.clock.AfterFunc(delay, func() {
		e.queue.Enqueue(Trigger{Kind: kind, At: e.clock.Now()})
	})
	e.mu.Lock()
	e.stopTimer = stop
	e.mu.Unlock()

	e.logger.Debug("next sync armed",
		"trigger", kind.String(),
		"due", humanize.RelTime(now, due, "ago", "from now"),
	)
}

func (e *Engine) clearTimer() {
	e.mu.Lock()
	stop := e.stopTimer
	e.stopTimer = nil
	e.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// PendingTriggers returns the number of queued sync triggers.
func (e *Engine) PendingTriggers() int { return e.queue.Len() }

// ProcessPending consumes every queued trigger on the calling goroutine and
// returns how many were processed. Errors from individual syncs are joined.
func (e *Engine) ProcessPending(ctx context.Context) (int, error) {
	var (
		n    int
		errs []error
	)
	for {
		t, ok := e.queue.TryDequeue()
		if !ok {
			return n, errors.Join(errs...)
		}
		n++
		if err := e.processTrigger(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
}

func (e *Engine) processTrigger(ctx context.Context, t Trigger) error {
	e.logger.Debug("processing trigger", "trigger", t.Kind.String(), "mode", e.mode.String())
	return e.Sync(ctx)
}

// Run consumes sync triggers until the context is cancelled or Stop is
// called. It must be called from exactly one goroutine. A failing sync is
// logged and the loop continues.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine already running")
	}
	defer e.running.Store(false)
	e.logger.Info("sync engine starting", "mode", e.mode.String())

	for {
		t, ok := e.queue.TryDequeue()
		if ok {
			if err := e.processTrigger(ctx, t); err != nil {
				e.logger.Error("sync trigger failed",
					"trigger", t.Kind.String(),
					"mode", e.mode.String(),
					"error", err,
				)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("sync engine stopping: context cancelled")
			e.clearTimer()
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes with the queue
			if e.queue.IsClosed() && e.queue.Len() == 0 {
				e.logger.Info("sync engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the trigger queue, which makes Run return.
func (e *Engine) Stop() {
	e.clearTimer()
	e.queue.Close()
}

// Destroy stops scheduling, detaches every listener and destroys both
// repositories.
func (e *Engine) Destroy() error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return nil
	}
	e.destroyed = true
	e.mu.Unlock()

	e.Stop()
	e.RemoveAllListeners()
	return errors.Join(e.local.Destroy(), e.remote.Destroy())
}
