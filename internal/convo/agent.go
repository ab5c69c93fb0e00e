// ABOUTME: Conversation agent state machine keeping one conversation's log in sync
// ABOUTME: Merges bus pushes, polls and optimistic sends; adapts to resume/background/suspend

package convo

import (
	"context"
	"log/slog"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/2389/convo-sync/internal/metrics"
	"github.com/google/uuid"
)

// Config tunes an agent's timers and retry policy.
type Config struct {
	// PollInterval is the gap between incremental fetches while ready.
	PollInterval time.Duration
	// SuspendAfter is how long the agent stays backgrounded before suspending.
	SuspendAfter time.Duration
	FetchTimeout time.Duration
	SendTimeout  time.Duration
	RetryBase    time.Duration
	RetryMax     time.Duration
	// MaxRetries is the number of consecutive transient failures tolerated
	// before the agent moves to the error status.
	MaxRetries int
	TypingTTL  time.Duration
	// Location is used for day dividers. Nil means time.Local.
	Location *time.Location
}

// DefaultConfig returns the settings used when no Config is supplied.
func DefaultConfig() Config {
	return Config{
		PollInterval: 10 * time.Second,
		SuspendAfter: 5 * time.Minute,
		FetchTimeout: 15 * time.Second,
		SendTimeout:  30 * time.Second,
		RetryBase:    time.Second,
		RetryMax:     30 * time.Second,
		MaxRetries:   5,
		TypingTTL:    6 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.SuspendAfter <= 0 {
		c.SuspendAfter = d.SuspendAfter
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.RetryBase <= 0 {
		c.RetryBase = d.RetryBase
	}
	if c.RetryMax < c.RetryBase {
		c.RetryMax = max(d.RetryMax, c.RetryBase)
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.TypingTTL <= 0 {
		c.TypingTTL = d.TypingTTL
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// Params are the required collaborators of an agent.
type Params struct {
	ConvoID string
	// Self is the viewer's id. It is the sender of optimistic items and is
	// excluded from typing indicators and the unread boundary.
	Self   string
	Client Client
	// Events may be nil, in which case the agent relies on polling alone.
	Events EventBus
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the agent's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) {
		a.metrics = m
	}
}

// WithConfig overrides timers and retry policy. Zero fields keep defaults.
func WithConfig(cfg Config) Option {
	return func(a *Agent) {
		a.cfg = cfg
	}
}

type fetchKind string

const (
	fetchNone    fetchKind = ""
	fetchInitial fetchKind = "history"
	fetchResync  fetchKind = "resync"
	fetchPoll    fetchKind = "poll"
)

type typingMark struct {
	timer *time.Timer
	seq   uint64
}

// Agent owns the synchronized state of one conversation. All transitions and
// merges run under mu and each commits at most one new snapshot.
type Agent struct {
	convoID string
	self    string
	client  Client
	events  EventBus
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	pub     *Publisher

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex

	status         Status
	log            *itemLog
	err            *ErrorInfo
	wantForeground bool
	loaded         bool
	needResync     bool

	cursor       string
	hasMore      bool
	loadingOlder bool
	olderGen     uint64

	readUpTo int64
	boundary int64

	typing    map[string]typingMark
	typingSeq uint64

	unsubscribe func()
	subGen      uint64

	fetchKind   fetchKind
	fetchCancel context.CancelFunc
	fetchGen    uint64

	pollTimer *time.Timer
	pollGen   uint64

	suspendTimer *time.Timer
	suspendGen   uint64

	retryTimer *time.Timer
	retryKind  fetchKind
	retryGen   uint64
	failures   int
	retrying   bool
}

// New creates an agent in the uninitialized status. Nothing is fetched until
// the first Resume.
func New(p Params, opts ...Option) *Agent {
	a := &Agent{
		convoID: p.ConvoID,
		self:    p.Self,
		client:  p.Client,
		events:  p.Events,
		cfg:     DefaultConfig(),
		logger:  slog.Default(),
		status:  StatusUninitialized,
		log:     newItemLog(),
		typing:  make(map[string]typingMark),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.cfg = a.cfg.withDefaults()
	a.logger = a.logger.With("component", "convo_agent", "convo_id", p.ConvoID)
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.pub = NewPublisher(&State{ConvoID: p.ConvoID, Status: StatusUninitialized}, a.logger, a.metrics)
	return a
}

// ConvoID returns the conversation this agent tracks.
func (a *Agent) ConvoID() string {
	return a.convoID
}

// LatestSeq returns the highest confirmed sequence number seen so far.
func (a *Agent) LatestSeq() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.log.latestSeq()
}

// Snapshot returns the current published state.
func (a *Agent) Snapshot() *State {
	return a.pub.Snapshot()
}

// Subscribe registers a listener for snapshot changes.
func (a *Agent) Subscribe(l Listener) func() {
	a.mu.Lock()
	destroyed := a.status == StatusDestroyed
	a.mu.Unlock()
	if destroyed {
		return func() {}
	}
	return a.pub.Subscribe(l)
}

// Resume brings the conversation to ready, initializing or resyncing as the
// current status requires. It never blocks on I/O.
func (a *Agent) Resume() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.status {
	case StatusDestroyed:
		return ErrDestroyed
	case StatusUninitialized, StatusError:
		a.wantForeground = true
		a.err = nil
		a.failures = 0
		a.setStatusLocked(StatusInitializing)
		a.subscribeLocked()
		a.startFetchLocked(fetchInitial)
	case StatusInitializing:
		a.wantForeground = true
		return nil
	case StatusReady:
		return nil
	case StatusBackgrounded:
		a.stopSuspendLocked()
		a.setStatusLocked(StatusReady)
		switch {
		case a.fetchKind != fetchNone, a.retryTimer != nil:
			// The outstanding fetch or retry reschedules polling when done.
		case a.needResync:
			a.startFetchLocked(fetchResync)
		default:
			a.schedulePollLocked()
		}
	case StatusSuspended:
		a.subscribeLocked()
		a.setStatusLocked(StatusReady)
		a.startFetchLocked(fetchResync)
	}

	a.commitLocked()
	return nil
}

// Background stops polling and arms the suspend timer. Push updates keep
// flowing while backgrounded.
func (a *Agent) Background() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.status {
	case StatusDestroyed:
		return ErrDestroyed
	case StatusUninitialized, StatusError:
		return &StateError{Op: "background", Status: a.status}
	case StatusInitializing:
		a.wantForeground = false
		return nil
	case StatusBackgrounded, StatusSuspended:
		return nil
	}

	a.stopPollLocked()
	if a.retryKind == fetchPoll {
		a.stopRetryLocked()
		a.retrying = false
		a.failures = 0
	}
	a.setStatusLocked(StatusBackgrounded)
	a.armSuspendLocked()
	a.commitLocked()
	return nil
}

// Suspend drops the bus subscription and any in-flight fetch. The next
// Resume performs a full resync.
func (a *Agent) Suspend() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.status {
	case StatusDestroyed:
		return ErrDestroyed
	case StatusSuspended:
		return nil
	case StatusBackgrounded:
		a.suspendLocked()
		a.commitLocked()
		return nil
	default:
		return &StateError{Op: "suspend", Status: a.status}
	}
}

// Destroy releases timers, fetches and the bus subscription. Late responses
// are discarded and further mutations return ErrDestroyed.
func (a *Agent) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status == StatusDestroyed {
		return
	}

	a.cancelFetchLocked()
	a.stopPollLocked()
	a.stopRetryLocked()
	a.stopSuspendLocked()
	a.unsubscribeLocked()
	a.clearAllTypingLocked()
	a.olderGen++
	a.loadingOlder = false
	a.retrying = false
	a.cancel()

	a.setStatusLocked(StatusDestroyed)
	a.commitLocked()
	a.pub.Close()
	a.logger.Debug("agent destroyed")
}

// SendMessage inserts a pending item and sends it in the background. The
// returned correlation id identifies the item until the server confirms it.
func (a *Agent) SendMessage(body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", ErrEmptyBody
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status == StatusDestroyed {
		return "", ErrDestroyed
	}
	if !a.status.Active() {
		return "", ErrNotActive
	}

	correlationID := uuid.New().String()
	a.log.addPending(correlationID, a.self, body, time.Now())
	a.commitLocked()

	go a.deliver(correlationID, body)
	return correlationID, nil
}

// RetrySend resends a failed optimistic item.
func (a *Agent) RetrySend(correlationID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status == StatusDestroyed {
		return ErrDestroyed
	}
	if !a.status.Active() {
		return ErrNotActive
	}

	it, ok := a.log.markPending(correlationID)
	if !ok {
		return ErrUnknownCorrelation
	}
	a.commitLocked()

	go a.deliver(correlationID, it.Body)
	return nil
}

// LoadOlder fetches the page before the oldest loaded item. Calls while a
// page is loading or when history is exhausted are no-ops.
func (a *Agent) LoadOlder() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status == StatusDestroyed {
		return ErrDestroyed
	}
	if !a.status.Active() {
		return ErrNotActive
	}
	if a.loadingOlder || !a.hasMore {
		return nil
	}

	a.loadingOlder = true
	a.olderGen++
	gen, cursor := a.olderGen, a.cursor
	a.commitLocked()

	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, a.cfg.FetchTimeout)
		defer cancel()
		started := time.Now()
		page, err := a.client.FetchHistory(ctx, a.convoID, cursor)
		a.finishOlder(gen, page, err, started)
	}()
	return nil
}

func (a *Agent) finishOlder(gen uint64, page *Page, err error, started time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gen != a.olderGen || a.status == StatusDestroyed {
		return
	}
	a.loadingOlder = false

	if err != nil {
		a.metrics.Fetch("older", "error", time.Since(started).Seconds())
		a.logger.Warn("failed to load older history", "error", err)
		a.commitLocked()
		return
	}
	a.metrics.Fetch("older", "ok", time.Since(started).Seconds())

	if page != nil {
		for _, it := range page.Items {
			a.applyItemLocked(it)
		}
		a.cursor = page.Cursor
		a.hasMore = page.HasMore && page.Cursor != ""
	}
	a.commitLocked()
}

func (a *Agent) deliver(correlationID, body string) {
	ctx, cancel := context.WithTimeout(a.ctx, a.cfg.SendTimeout)
	defer cancel()

	confirmed, err := a.client.SendMessage(ctx, a.convoID, body, correlationID)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status == StatusDestroyed {
		return
	}

	if err != nil {
		a.metrics.Send("failed")
		a.logger.Warn("send failed", "correlation_id", correlationID, "error", err)
		if a.log.markFailed(correlationID, newErrorInfo(KindSendFailure, err).Message) {
			a.commitLocked()
		}
		return
	}

	a.metrics.Send("sent")
	if confirmed == nil {
		// Confirmation arrives through the bus or the next poll.
		return
	}
	item := *confirmed
	if item.CorrelationID == "" {
		item.CorrelationID = correlationID
	}
	if a.log.upsert(item) {
		a.commitLocked()
	}
}

// handleEvent applies one bus delivery. subGen pins the subscription the
// handler was registered with so deliveries after unsubscribe are dropped.
func (a *Agent) handleEvent(subGen uint64, ev Event) {
	if ev.ConvoID != a.convoID {
		a.metrics.Event(string(ev.Kind), "ignored")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if subGen != a.subGen || a.status == StatusDestroyed {
		a.metrics.Event(string(ev.Kind), "stale")
		return
	}

	if a.applyEventLocked(ev) {
		a.metrics.Event(string(ev.Kind), "applied")
		a.commitLocked()
		return
	}
	a.metrics.Event(string(ev.Kind), "noop")
}

func (a *Agent) applyEventLocked(ev Event) bool {
	switch ev.Kind {
	case EventNewMessage:
		if ev.Message == nil {
			return false
		}
		return a.applyItemLocked(*ev.Message)
	case EventDelete:
		if ev.Deletion == nil {
			return false
		}
		return a.log.remove(ev.Deletion.MessageID, nil)
	case EventReadStateChanged:
		if ev.Read == nil || (ev.Read.Reader != "" && ev.Read.Reader != a.self) {
			return false
		}
		if ev.Read.UpTo <= a.readUpTo {
			return false
		}
		a.readUpTo = ev.Read.UpTo
		return true
	case EventTyping:
		if ev.Typing == nil || ev.Typing.Sender == "" || ev.Typing.Sender == a.self {
			return false
		}
		if ev.Typing.Active {
			return a.setTypingLocked(ev.Typing.Sender)
		}
		return a.clearTypingLocked(ev.Typing.Sender)
	default:
		a.logger.Debug("ignoring unknown event", "kind", ev.Kind)
		return false
	}
}

// applyItemLocked merges a confirmed item. A message from a sender also
// clears their typing indicator.
func (a *Agent) applyItemLocked(it Item) bool {
	changed := a.log.upsert(it)
	if changed && it.Sender != "" {
		a.clearTypingLocked(it.Sender)
	}
	return changed
}

func (a *Agent) applyPageLocked(page *Page) {
	if page == nil {
		return
	}
	for _, it := range page.Items {
		a.applyItemLocked(it)
	}
	// The latest page is complete for its range. It closes the gap only if
	// it reaches back to what was already synced.
	if lo, hi := seqRange(page.Items); hi > 0 && (!a.loaded || lo <= a.log.syncedSeq()+1) {
		a.log.coverThrough(hi)
	}
	if !a.loaded {
		a.cursor = page.Cursor
		a.hasMore = page.HasMore && page.Cursor != ""
		a.boundary = page.ReadUpTo
		a.loaded = true
	}
	if page.ReadUpTo > a.readUpTo {
		a.readUpTo = page.ReadUpTo
	}
}

// startFetchLocked issues a fetch, superseding any outstanding one.
func (a *Agent) startFetchLocked(kind fetchKind) {
	a.cancelFetchLocked()

	gen := a.fetchGen
	ctx, cancel := context.WithTimeout(a.ctx, a.cfg.FetchTimeout)
	a.fetchCancel = cancel
	a.fetchKind = kind
	since := a.log.syncedSeq()

	go func() {
		defer cancel()
		started := time.Now()

		var (
			page  *Page
			items []Item
			err   error
		)
		if kind == fetchPoll {
			items, err = a.client.FetchSince(ctx, a.convoID, since)
		} else {
			page, err = a.client.FetchHistory(ctx, a.convoID, "")
		}
		a.finishFetch(gen, kind, page, items, err, started)
	}()
}

func (a *Agent) finishFetch(gen uint64, kind fetchKind, page *Page, items []Item, err error, started time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gen != a.fetchGen || a.status == StatusDestroyed {
		a.logger.Debug("discarding stale fetch result", "kind", kind)
		return
	}
	a.fetchCancel = nil
	a.fetchKind = fetchNone
	elapsed := time.Since(started).Seconds()

	if err != nil {
		a.metrics.Fetch(string(kind), "error", elapsed)
		a.fetchFailedLocked(kind, err)
		a.commitLocked()
		return
	}
	a.metrics.Fetch(string(kind), "ok", elapsed)
	a.failures = 0
	a.retrying = false

	switch kind {
	case fetchInitial:
		a.applyPageLocked(page)
		a.err = nil
		if a.wantForeground {
			a.setStatusLocked(StatusReady)
			a.schedulePollLocked()
		} else {
			a.setStatusLocked(StatusBackgrounded)
			a.armSuspendLocked()
		}
	case fetchResync:
		a.applyPageLocked(page)
		a.needResync = false
		if a.status == StatusReady {
			a.schedulePollLocked()
		}
	case fetchPoll:
		for _, it := range items {
			a.applyItemLocked(it)
		}
		// Results are contiguous from since, so anything still absent
		// below the newest returned seq is gone on the server.
		if _, hi := seqRange(items); hi > 0 {
			a.log.coverThrough(hi)
		}
		if a.status == StatusReady {
			a.schedulePollLocked()
		}
	}
	a.commitLocked()
}

func (a *Agent) fetchFailedLocked(kind fetchKind, err error) {
	if Classify(err) == KindPermanent {
		a.logger.Warn("fetch failed permanently", "kind", kind, "error", err)
		a.failLocked(newErrorInfo(KindPermanent, err))
		return
	}

	a.failures++
	if a.failures > a.cfg.MaxRetries {
		a.logger.Warn("fetch failed, giving up", "kind", kind, "attempts", a.failures, "error", err)
		a.failLocked(newErrorInfo(KindTransient, err))
		return
	}

	delay := a.backoff(a.failures)
	a.retrying = true
	a.logger.Info("fetch failed, retrying", "kind", kind, "attempt", a.failures, "delay", delay, "error", err)
	a.scheduleRetryLocked(kind, delay)
}

// failLocked moves to the error status. Items are kept as they were.
func (a *Agent) failLocked(info *ErrorInfo) {
	a.cancelFetchLocked()
	a.stopPollLocked()
	a.stopRetryLocked()
	a.stopSuspendLocked()
	a.unsubscribeLocked()
	a.clearAllTypingLocked()
	a.failures = 0
	a.retrying = false
	a.wantForeground = false
	a.err = info
	a.setStatusLocked(StatusError)
}

func (a *Agent) suspendLocked() {
	a.stopSuspendLocked()
	a.cancelFetchLocked()
	a.stopRetryLocked()
	a.stopPollLocked()
	a.unsubscribeLocked()
	a.clearAllTypingLocked()
	a.failures = 0
	a.retrying = false
	a.needResync = true
	a.setStatusLocked(StatusSuspended)
}

func (a *Agent) backoff(attempt int) time.Duration {
	d := a.cfg.RetryBase
	for i := 1; i < attempt && d < a.cfg.RetryMax; i++ {
		d *= 2
	}
	d = min(d, a.cfg.RetryMax)
	// Jitter in [d/2, d].
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

func (a *Agent) cancelFetchLocked() {
	if a.fetchCancel != nil {
		a.fetchCancel()
		a.fetchCancel = nil
	}
	a.fetchGen++
	a.fetchKind = fetchNone
}

func (a *Agent) schedulePollLocked() {
	a.stopPollLocked()
	gen := a.pollGen
	a.pollTimer = time.AfterFunc(a.cfg.PollInterval, func() { a.onPollTick(gen) })
}

func (a *Agent) stopPollLocked() {
	if a.pollTimer != nil {
		a.pollTimer.Stop()
		a.pollTimer = nil
	}
	a.pollGen++
}

func (a *Agent) onPollTick(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gen != a.pollGen || a.status != StatusReady {
		return
	}
	a.pollTimer = nil
	// Skip the tick while another fetch or a retry is outstanding; its
	// completion schedules the next poll.
	if a.fetchKind != fetchNone || a.retryTimer != nil {
		return
	}
	a.startFetchLocked(fetchPoll)
}

func (a *Agent) scheduleRetryLocked(kind fetchKind, delay time.Duration) {
	a.stopRetryLocked()
	gen := a.retryGen
	a.retryKind = kind
	a.retryTimer = time.AfterFunc(delay, func() { a.onRetry(gen) })
}

func (a *Agent) stopRetryLocked() {
	if a.retryTimer != nil {
		a.retryTimer.Stop()
		a.retryTimer = nil
	}
	a.retryKind = fetchNone
	a.retryGen++
}

func (a *Agent) onRetry(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gen != a.retryGen {
		return
	}
	kind := a.retryKind
	a.retryTimer = nil
	a.retryKind = fetchNone

	if !a.retryAllowedLocked(kind) {
		a.retrying = false
		a.failures = 0
		a.commitLocked()
		return
	}
	if a.fetchKind != fetchNone {
		return
	}
	a.startFetchLocked(kind)
}

func (a *Agent) retryAllowedLocked(kind fetchKind) bool {
	switch kind {
	case fetchInitial:
		return a.status == StatusInitializing
	case fetchResync:
		return a.needResync && (a.status == StatusReady || a.status == StatusBackgrounded)
	case fetchPoll:
		return a.status == StatusReady
	default:
		return false
	}
}

func (a *Agent) armSuspendLocked() {
	a.stopSuspendLocked()
	gen := a.suspendGen
	a.suspendTimer = time.AfterFunc(a.cfg.SuspendAfter, func() { a.onSuspendTimer(gen) })
}

func (a *Agent) stopSuspendLocked() {
	if a.suspendTimer != nil {
		a.suspendTimer.Stop()
		a.suspendTimer = nil
	}
	a.suspendGen++
}

func (a *Agent) onSuspendTimer(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gen != a.suspendGen || a.status != StatusBackgrounded {
		return
	}
	a.suspendTimer = nil
	a.logger.Debug("suspending after inactivity", "after", a.cfg.SuspendAfter)
	a.suspendLocked()
	a.commitLocked()
}

func (a *Agent) subscribeLocked() {
	if a.events == nil || a.unsubscribe != nil {
		return
	}
	a.subGen++
	gen := a.subGen
	a.unsubscribe = a.events.Subscribe(a.convoID, func(ev Event) {
		a.handleEvent(gen, ev)
	})
}

func (a *Agent) unsubscribeLocked() {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
	a.subGen++
}

func (a *Agent) setTypingLocked(sender string) bool {
	prev, existed := a.typing[sender]
	if existed {
		prev.timer.Stop()
	}
	a.typingSeq++
	seq := a.typingSeq
	a.typing[sender] = typingMark{
		timer: time.AfterFunc(a.cfg.TypingTTL, func() { a.expireTyping(sender, seq) }),
		seq:   seq,
	}
	return !existed
}

func (a *Agent) clearTypingLocked(sender string) bool {
	mark, ok := a.typing[sender]
	if !ok {
		return false
	}
	mark.timer.Stop()
	delete(a.typing, sender)
	return true
}

func (a *Agent) clearAllTypingLocked() {
	for sender, mark := range a.typing {
		mark.timer.Stop()
		delete(a.typing, sender)
	}
}

func (a *Agent) expireTyping(sender string, seq uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	mark, ok := a.typing[sender]
	if !ok || mark.seq != seq {
		return
	}
	delete(a.typing, sender)
	a.commitLocked()
}

func (a *Agent) setStatusLocked(to Status) {
	if a.status == to {
		return
	}
	a.logger.Debug("status transition", "from", a.status, "to", to)
	a.metrics.Transition(string(a.status), string(to))
	a.status = to
}

// commitLocked publishes a new snapshot if anything visible changed.
func (a *Agent) commitLocked() {
	next := a.buildStateLocked()
	if next.equal(a.pub.Snapshot()) {
		return
	}
	a.pub.Publish(next)
}

// syncingLocked reports whether a full history load is outstanding or
// waiting on a retry.
func (a *Agent) syncingLocked() bool {
	return a.status == StatusInitializing ||
		a.fetchKind == fetchResync ||
		a.retryKind == fetchResync
}

func (a *Agent) buildStateLocked() *State {
	typing := make([]string, 0, len(a.typing))
	for sender := range a.typing {
		typing = append(typing, sender)
	}
	slices.Sort(typing)

	var errInfo *ErrorInfo
	if a.err != nil {
		e := *a.err
		errInfo = &e
	}

	return &State{
		ConvoID:           a.convoID,
		Status:            a.status,
		Items:             decorate(a.log.items(), a.boundary, a.self, a.cfg.Location),
		IsFetchingHistory: a.loadingOlder || a.status == StatusInitializing,
		Syncing:           a.syncingLocked(),
		HasMoreHistory:    a.hasMore,
		Retrying:          a.retrying,
		Typing:            typing,
		LatestSeq:         a.log.latestSeq(),
		ReadUpTo:          a.readUpTo,
		Error:             errInfo,
	}
}
