package polling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-cmv/internal/cmv"
)

// DefaultInterval is the time between scheduled poll cycles.
const DefaultInterval = 60 * time.Second

// Reader is the subset of the device client polled every cycle.
// *cmv.Client satisfies it.
type Reader interface {
	ID() string
	Online() bool
	OperatingStatus(ctx context.Context) (cmv.OperatingStatus, bool)
	IndoorTemperature(ctx context.Context) (float64, bool)
	OutdoorTemperature(ctx context.Context) (float64, bool)
	IndoorHumidity(ctx context.Context) (float64, bool)
	LEDsOn(ctx context.Context) (bool, bool)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// State is the coordinator's position in its cycle.
type State int

// Coordinator states. Published and Failed are held only while the
// outcome is being handed out; both fall back to Idle.
const (
	StateIdle State = iota
	StatePolling
	StatePublished
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StatePublished:
		return "published"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a Coordinator.
type Options struct {
	// Interval between scheduled cycles. Default: 60 seconds.
	Interval time.Duration
	Logger   Logger
	Metrics  *Metrics
}

// Status summarises the coordinator for health reporting.
type Status struct {
	State             State
	LastUpdateSuccess bool
	LastError         error
	LastUpdate        time.Time
	Cycles            uint64
	Failures          uint64
}

// Coordinator polls one device, publishes immutable snapshots and serves
// the latest one.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Cycles for one coordinator never overlap.
//   - Subscribers are called synchronously from the cycle goroutine.
type Coordinator struct {
	reader   Reader
	interval time.Duration
	logger   Logger
	metrics  *Metrics

	// cycleMu serialises poll cycles.
	cycleMu sync.Mutex

	// refreshCh wakes Run when a refresh is requested.
	refreshCh chan struct{}

	mu          sync.RWMutex
	state       State
	latest      Snapshot
	hasLatest   bool
	lastSuccess bool
	lastErr     error
	cycles      uint64
	failures    uint64

	// pending is set by RequestRefresh and cleared when a cycle starts,
	// whichever caller started it.
	pending bool

	subMu       sync.RWMutex
	subs        map[int]func(Snapshot)
	failureSubs map[int]func(error)
	nextSub     int
}

// New creates a Coordinator for reader.
//
// Parameters:
//   - reader: Device client polled every cycle
//   - opts: Interval, logger and metrics; zero values use defaults
//
// Returns:
//   - *Coordinator: Idle coordinator; call Refresh for the first cycle and Run to schedule more
func New(reader Reader, opts Options) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	return &Coordinator{
		reader:      reader,
		interval:    opts.Interval,
		logger:      logger,
		metrics:     opts.Metrics,
		refreshCh:   make(chan struct{}, 1),
		subs:        make(map[int]func(Snapshot)),
		failureSubs: make(map[int]func(error)),
	}
}

// DeviceID returns the polled device's identifier.
func (c *Coordinator) DeviceID() string { return c.reader.ID() }

// Interval returns the scheduled cycle interval.
func (c *Coordinator) Interval() time.Duration { return c.interval }

// Run schedules a refresh every interval and executes refresh requests
// until ctx ends. Run does not perform an initial cycle; call Refresh
// first for that.
func (c *Coordinator) Run(ctx context.Context) error {
	sched := cron.New()
	if _, err := sched.AddFunc("@every "+c.interval.String(), c.RequestRefresh); err != nil {
		return fmt.Errorf("scheduling poll for %s: %w", c.reader.ID(), err)
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	c.logger.Info("poller started", "device_id", c.reader.ID(), "interval", c.interval)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("poller stopped", "device_id", c.reader.ID())
			return nil
		case <-c.refreshCh:
			// Failures are recorded in Status and logged by the cycle.
			_ = c.refreshIfPending(ctx) //nolint:errcheck // outcome kept in Status
		}
	}
}

// RequestRefresh asks for an out-of-schedule cycle without waiting for it.
// Requests made while a cycle is running collapse into a single follow-up
// cycle.
func (c *Coordinator) RequestRefresh() {
	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return
	}
	c.pending = true
	c.mu.Unlock()

	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// Refresh runs one cycle now and waits for it. It blocks while another
// cycle for this device is running. A cycle started by Refresh also serves
// any refresh requested before it began.
//
// Parameters:
//   - ctx: Bounds the cycle; cancelling it abandons the cycle without recording a failure
//
// Returns:
//   - error: nil when a snapshot was published, ErrUpdateFailed when the cycle
//     failed, ErrCycleAbandoned when ctx ended first
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()
	return c.runCycle(ctx)
}

// refreshIfPending runs a cycle unless the pending request was already
// served by a cycle that started after it.
func (c *Coordinator) refreshIfPending(ctx context.Context) error {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	c.mu.RLock()
	pending := c.pending
	c.mu.RUnlock()
	if !pending {
		return nil
	}
	return c.runCycle(ctx)
}

// Latest returns the most recently published snapshot. ok is false until
// the first cycle succeeds.
func (c *Coordinator) Latest() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest, c.hasLatest
}

// State returns the current cycle state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastUpdateSuccess reports whether the most recent cycle published.
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSuccess
}

// LastError returns the error of the most recent failed cycle, or nil
// after a successful one.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Available reports whether consumers should treat the device as
// available: the last cycle published and produced at least one reading.
func (c *Coordinator) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSuccess && c.hasLatest && c.latest.Reachable()
}

// Status returns a summary for health reporting.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var last time.Time
	if c.hasLatest {
		last = c.latest.UpdatedAt()
	}
	return Status{
		State:             c.state,
		LastUpdateSuccess: c.lastSuccess,
		LastError:         c.lastErr,
		LastUpdate:        last,
		Cycles:            c.cycles,
		Failures:          c.failures,
	}
}

// Subscribe registers fn to receive every published snapshot. The returned
// function removes the subscription.
func (c *Coordinator) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

// SubscribeFailures registers fn to receive the error of every failed
// cycle. Abandoned cycles are not reported. The returned function removes
// the subscription.
func (c *Coordinator) SubscribeFailures(fn func(error)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.failureSubs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.failureSubs, id)
			c.subMu.Unlock()
		})
	}
}

// runCycle polls, then publishes or records the failure. Caller holds cycleMu.
func (c *Coordinator) runCycle(ctx context.Context) error {
	c.mu.Lock()
	c.state = StatePolling
	wasPending := c.pending
	c.pending = false
	c.mu.Unlock()
	start := time.Now()

	snap, err := c.poll(ctx)
	elapsed := time.Since(start)
	online := c.reader.Online()

	if errors.Is(err, ErrCycleAbandoned) {
		c.setState(StateIdle)
		if wasPending {
			c.RequestRefresh()
		}
		c.logger.Debug("poll cycle abandoned", "device_id", c.reader.ID(), "error", err)
		return err
	}

	if err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.lastSuccess = false
		c.lastErr = err
		c.cycles++
		c.failures++
		c.mu.Unlock()

		c.metrics.observeCycle(c.reader.ID(), "failed", elapsed, online)
		c.logger.Warn("poll cycle failed", "device_id", c.reader.ID(), "error", err)
		c.notifyFailure(err)
		c.setState(StateIdle)
		return err
	}

	c.mu.Lock()
	c.state = StatePublished
	c.latest = snap
	c.hasLatest = true
	c.lastSuccess = true
	c.lastErr = nil
	c.cycles++
	c.mu.Unlock()

	c.metrics.observeCycle(c.reader.ID(), "published", elapsed, online)
	c.metrics.observeSnapshot(snap)
	c.logger.Debug("poll cycle published",
		"device_id", c.reader.ID(),
		"reachable", snap.Reachable(),
		"duration", elapsed,
	)

	c.notify(snap)
	c.setState(StateIdle)
	return nil
}

// poll issues the five reads concurrently and assembles one snapshot.
func (c *Coordinator) poll(ctx context.Context) (Snapshot, error) {
	var r readings
	g, gctx := errgroup.WithContext(ctx)

	read := func(name string, fn func(context.Context)) {
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("%s read panicked: %v", name, p)
				}
			}()
			fn(gctx)
			return nil
		})
	}

	read("operating_status", func(ctx context.Context) { r.status, r.statusOK = c.reader.OperatingStatus(ctx) })
	read("indoor_temperature", func(ctx context.Context) { r.indoorTemp, r.indoorTempOK = c.reader.IndoorTemperature(ctx) })
	read("outdoor_temperature", func(ctx context.Context) { r.outdoorTemp, r.outdoorTempOK = c.reader.OutdoorTemperature(ctx) })
	read("indoor_humidity", func(ctx context.Context) { r.humidity, r.humidityOK = c.reader.IndoorHumidity(ctx) })
	read("leds", func(ctx context.Context) { r.ledsOn, r.ledsOnOK = c.reader.LEDsOn(ctx) })

	werr := g.Wait()
	// Reads cut short by the caller are not an observation of the device.
	if err := ctx.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s: %w", ErrCycleAbandoned, c.reader.ID(), err)
	}
	if werr != nil {
		return Snapshot{}, fmt.Errorf("%w: %s: %w", ErrUpdateFailed, c.reader.ID(), werr)
	}

	return assemble(c.reader.ID(), r, time.Now()), nil
}

func (c *Coordinator) notify(snap Snapshot) {
	c.subMu.RLock()
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subMu.RUnlock()

	for _, fn := range subs {
		c.safeCall(fn, snap)
	}
}

func (c *Coordinator) notifyFailure(err error) {
	c.subMu.RLock()
	subs := make([]func(error), 0, len(c.failureSubs))
	for _, fn := range c.failureSubs {
		subs = append(subs, fn)
	}
	c.subMu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if p := recover(); p != nil {
					c.logger.Error("failure subscriber panicked", "device_id", c.reader.ID(), "panic", p)
				}
			}()
			fn(err)
		}()
	}
}

// safeCall shields the cycle from a panicking subscriber.
func (c *Coordinator) safeCall(fn func(Snapshot), snap Snapshot) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("snapshot subscriber panicked", "device_id", c.reader.ID(), "panic", p)
		}
	}()
	fn(snap)
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
