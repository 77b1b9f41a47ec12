package polling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/gray-logic-cmv/internal/cmv"
)

// fakeReader returns canned readings. Fields are read under mu so tests
// can change them between cycles.
type fakeReader struct {
	mu sync.Mutex

	status      cmv.OperatingStatus
	statusOK    bool
	indoor      float64
	indoorOK    bool
	outdoor     float64
	outdoorOK   bool
	humidity    float64
	humidityOK  bool
	leds        bool
	ledsOK      bool
	online      bool
	panicOnLEDs bool

	// gate, when set, blocks OperatingStatus until closed.
	gate    chan struct{}
	entered chan struct{}

	statusCalls atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func healthyReader() *fakeReader {
	return &fakeReader{
		status:     cmv.OperatingStatus{FanMode: cmv.ModeMedium},
		statusOK:   true,
		indoor:     21.5,
		indoorOK:   true,
		outdoor:    10.4,
		outdoorOK:  true,
		humidity:   45.6,
		humidityOK: true,
		leds:       true,
		ledsOK:     true,
		online:     true,
	}
}

func (f *fakeReader) ID() string { return "cmv-test" }

func (f *fakeReader) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeReader) OperatingStatus(context.Context) (cmv.OperatingStatus, bool) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	f.statusCalls.Add(1)

	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusOK
}

func (f *fakeReader) IndoorTemperature(context.Context) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.indoor, f.indoorOK
}

func (f *fakeReader) OutdoorTemperature(context.Context) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outdoor, f.outdoorOK
}

func (f *fakeReader) IndoorHumidity(context.Context) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.humidity, f.humidityOK
}

func (f *fakeReader) LEDsOn(context.Context) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnLEDs {
		panic("led decoder exploded")
	}
	return f.leds, f.ledsOK
}

func TestRefresh_PublishesSnapshot(t *testing.T) {
	c := New(healthyReader(), Options{})

	if _, ok := c.Latest(); ok {
		t.Fatal("Latest() ok before first cycle")
	}
	if c.Available() {
		t.Fatal("Available() before first cycle")
	}

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	snap, ok := c.Latest()
	if !ok {
		t.Fatal("Latest() not ok after refresh")
	}
	if v, ok := snap.IndoorTemperature(); !ok || v != 21.5 {
		t.Errorf("IndoorTemperature = (%v, %v)", v, ok)
	}
	if v, ok := snap.OutdoorTemperature(); !ok || v != 10.4 {
		t.Errorf("OutdoorTemperature = (%v, %v)", v, ok)
	}
	if v, ok := snap.IndoorHumidity(); !ok || v != 45.6 {
		t.Errorf("IndoorHumidity = (%v, %v)", v, ok)
	}
	if v, ok := snap.LEDsOn(); !ok || !v {
		t.Errorf("LEDsOn = (%v, %v)", v, ok)
	}
	if m, ok := snap.FanMode(); !ok || m != cmv.ModeMedium {
		t.Errorf("FanMode = (%v, %v)", m, ok)
	}
	if _, ok := snap.Preset(); ok {
		t.Error("Preset present alongside fan mode")
	}
	if !snap.Reachable() || !c.Available() || !c.LastUpdateSuccess() {
		t.Error("healthy cycle should be reachable and available")
	}
	if c.State() != StateIdle {
		t.Errorf("State() = %v, want idle after cycle", c.State())
	}
	if snap.DeviceID() != "cmv-test" {
		t.Errorf("DeviceID = %q", snap.DeviceID())
	}
}

func TestRefresh_PartialAbsenceStillPublishes(t *testing.T) {
	r := healthyReader()
	r.outdoorOK = false
	r.ledsOK = false

	c := New(r, Options{})
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	snap, _ := c.Latest()
	if _, ok := snap.OutdoorTemperature(); ok {
		t.Error("OutdoorTemperature present, want absent")
	}
	if _, ok := snap.LEDsOn(); ok {
		t.Error("LEDsOn present, want absent")
	}
	if v, ok := snap.IndoorTemperature(); !ok || v != 21.5 {
		t.Errorf("IndoorTemperature = (%v, %v), want 21.5", v, ok)
	}
	if v, ok := snap.IndoorHumidity(); !ok || v != 45.6 {
		t.Errorf("IndoorHumidity = (%v, %v), want 45.6", v, ok)
	}
	if _, ok := snap.FanMode(); !ok {
		t.Error("FanMode absent, want medium")
	}
	if !c.LastUpdateSuccess() {
		t.Error("partial absence must not fail the cycle")
	}
}

func TestRefresh_AllAbsentIsUnreachableNotFailed(t *testing.T) {
	r := &fakeReader{}
	c := New(r, Options{})

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	snap, ok := c.Latest()
	if !ok {
		t.Fatal("all-absent cycle should still publish")
	}
	if snap.Reachable() {
		t.Error("Reachable() = true with no readings")
	}
	if !c.LastUpdateSuccess() {
		t.Error("LastUpdateSuccess() = false, want true")
	}
	if c.Available() {
		t.Error("Available() = true for unreachable device")
	}
}

func TestRefresh_PresetClearsFanMode(t *testing.T) {
	r := healthyReader()
	c := New(r, Options{})
	_ = c.Refresh(context.Background())

	r.mu.Lock()
	r.status = cmv.OperatingStatus{Preset: cmv.ModeBoost}
	r.mu.Unlock()
	_ = c.Refresh(context.Background())

	snap, _ := c.Latest()
	if p, ok := snap.Preset(); !ok || p != cmv.ModeBoost {
		t.Errorf("Preset = (%v, %v), want boost", p, ok)
	}
	if m, ok := snap.FanMode(); ok {
		t.Errorf("FanMode = %v, want absent after preset", m)
	}

	r.mu.Lock()
	r.statusOK = false
	r.mu.Unlock()
	_ = c.Refresh(context.Background())

	snap, _ = c.Latest()
	_, presetOK := snap.Preset()
	_, fanOK := snap.FanMode()
	if presetOK || fanOK {
		t.Error("absent status should leave both preset and fan mode empty")
	}
}

func TestRefresh_PanicFailsCycleAndKeepsPrevious(t *testing.T) {
	r := healthyReader()
	c := New(r, Options{})
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("first Refresh() error = %v", err)
	}
	first, _ := c.Latest()

	var seen []State
	c.Subscribe(func(Snapshot) { seen = append(seen, c.State()) })

	r.mu.Lock()
	r.panicOnLEDs = true
	r.indoor = 30
	r.mu.Unlock()

	err := c.Refresh(context.Background())
	if !errors.Is(err, ErrUpdateFailed) {
		t.Fatalf("Refresh() error = %v, want ErrUpdateFailed", err)
	}
	if c.LastUpdateSuccess() {
		t.Error("LastUpdateSuccess() = true after failed cycle")
	}
	if !errors.Is(c.LastError(), ErrUpdateFailed) {
		t.Errorf("LastError() = %v", c.LastError())
	}
	if c.Available() {
		t.Error("Available() = true after failed cycle")
	}

	kept, ok := c.Latest()
	if !ok || !kept.UpdatedAt().Equal(first.UpdatedAt()) {
		t.Error("failed cycle replaced the published snapshot")
	}
	if v, _ := kept.IndoorTemperature(); v != 21.5 {
		t.Errorf("kept IndoorTemperature = %v, want 21.5", v)
	}
	if len(seen) != 0 {
		t.Error("subscribers notified of a failed cycle")
	}

	r.mu.Lock()
	r.panicOnLEDs = false
	r.mu.Unlock()
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("recovery Refresh() error = %v", err)
	}
	if !c.LastUpdateSuccess() || c.LastError() != nil {
		t.Error("successful cycle should clear the failed state")
	}
	if len(seen) != 1 || seen[0] != StatePublished {
		t.Errorf("subscriber saw states %v, want [published]", seen)
	}

	st := c.Status()
	if st.Cycles != 3 || st.Failures != 1 {
		t.Errorf("Status() = %+v, want 3 cycles, 1 failure", st)
	}
}

func TestRefresh_CancelledContextAbandons(t *testing.T) {
	c := New(healthyReader(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Refresh(ctx)
	if !errors.Is(err, ErrCycleAbandoned) {
		t.Fatalf("Refresh() error = %v, want ErrCycleAbandoned", err)
	}
	if errors.Is(err, ErrUpdateFailed) {
		t.Error("abandoned cycle reported as ErrUpdateFailed")
	}
	if _, ok := c.Latest(); ok {
		t.Error("cancelled cycle published a snapshot")
	}
}

func TestRefresh_AbandonedCycleKeepsAvailability(t *testing.T) {
	c := New(healthyReader(), Options{})
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("first Refresh() error = %v", err)
	}

	var failures []error
	c.SubscribeFailures(func(err error) { failures = append(failures, err) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Refresh(ctx); !errors.Is(err, ErrCycleAbandoned) {
		t.Fatalf("Refresh() error = %v, want ErrCycleAbandoned", err)
	}

	if !c.Available() {
		t.Error("Available() = false after the caller abandoned a cycle")
	}
	if !c.LastUpdateSuccess() || c.LastError() != nil {
		t.Errorf("LastUpdateSuccess() = %v, LastError() = %v; want unchanged", c.LastUpdateSuccess(), c.LastError())
	}
	if c.State() != StateIdle {
		t.Errorf("State() = %v, want idle", c.State())
	}
	st := c.Status()
	if st.Cycles != 1 || st.Failures != 0 {
		t.Errorf("Status() = %+v, want 1 cycle, 0 failures", st)
	}
	if len(failures) != 0 {
		t.Errorf("failure subscribers notified of abandoned cycle: %v", failures)
	}
}

func TestSubscribeFailures(t *testing.T) {
	r := healthyReader()
	r.panicOnLEDs = true
	c := New(r, Options{})

	var got []error
	unsub := c.SubscribeFailures(func(err error) { got = append(got, err) })
	var published int
	c.Subscribe(func(Snapshot) { published++ })

	if err := c.Refresh(context.Background()); !errors.Is(err, ErrUpdateFailed) {
		t.Fatalf("Refresh() error = %v, want ErrUpdateFailed", err)
	}
	if len(got) != 1 || !errors.Is(got[0], ErrUpdateFailed) {
		t.Fatalf("failures = %v, want one ErrUpdateFailed", got)
	}

	r.mu.Lock()
	r.panicOnLEDs = false
	r.mu.Unlock()
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(got) != 1 || published != 1 {
		t.Errorf("after good cycle: failures = %d, published = %d; want 1, 1", len(got), published)
	}

	unsub()
	r.mu.Lock()
	r.panicOnLEDs = true
	r.mu.Unlock()
	_ = c.Refresh(context.Background())
	if len(got) != 1 {
		t.Errorf("unsubscribed callback still called: %d failures", len(got))
	}
}

func TestRefresh_ReadsRunConcurrently(t *testing.T) {
	r := healthyReader()
	blocking := &blockingReader{fakeReader: r, want: 5, arrived: make(chan struct{})}
	c := New(blocking, Options{})

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reads did not run concurrently: cycle deadlocked")
	}
}

// blockingReader blocks each read until all five are in flight.
type blockingReader struct {
	*fakeReader
	want    int32
	count   atomic.Int32
	arrived chan struct{}
}

func (p *blockingReader) wait() {
	if p.count.Add(1) == p.want {
		close(p.arrived)
	}
	<-p.arrived
}

func (p *blockingReader) OperatingStatus(ctx context.Context) (cmv.OperatingStatus, bool) {
	p.wait()
	return p.fakeReader.OperatingStatus(ctx)
}

func (p *blockingReader) IndoorTemperature(ctx context.Context) (float64, bool) {
	p.wait()
	return p.fakeReader.IndoorTemperature(ctx)
}

func (p *blockingReader) OutdoorTemperature(ctx context.Context) (float64, bool) {
	p.wait()
	return p.fakeReader.OutdoorTemperature(ctx)
}

func (p *blockingReader) IndoorHumidity(ctx context.Context) (float64, bool) {
	p.wait()
	return p.fakeReader.IndoorHumidity(ctx)
}

func (p *blockingReader) LEDsOn(ctx context.Context) (bool, bool) {
	p.wait()
	return p.fakeReader.LEDsOn(ctx)
}

func TestRequestRefresh_CoalescesWhileInFlight(t *testing.T) {
	r := healthyReader()
	gate := make(chan struct{})
	r.gate = gate
	r.entered = make(chan struct{}, 1)

	c := New(r, Options{Interval: time.Hour})

	var published atomic.Int32
	cycleDone := make(chan struct{}, 10)
	c.Subscribe(func(Snapshot) {
		published.Add(1)
		cycleDone <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()

	c.RequestRefresh()
	select {
	case <-r.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle did not start")
	}
	if c.State() != StatePolling {
		t.Errorf("State() = %v during cycle, want polling", c.State())
	}

	// Two requests while the first cycle is in flight.
	c.RequestRefresh()
	c.RequestRefresh()

	// Stop gating so the follow-up cycle can finish too.
	r.mu.Lock()
	r.gate = nil
	r.mu.Unlock()
	close(gate)

	for i := 0; i < 2; i++ {
		select {
		case <-cycleDone:
		case <-time.After(5 * time.Second):
			t.Fatalf("cycle %d did not publish", i+1)
		}
	}

	// Give a hypothetical third cycle time to show up.
	select {
	case <-cycleDone:
		t.Fatal("a third cycle ran; refresh requests were not coalesced")
	case <-time.After(200 * time.Millisecond):
	}

	if got := r.statusCalls.Load(); got != 2 {
		t.Errorf("cycles = %d, want 2 (one in flight + one coalesced)", got)
	}
	if got := r.maxInFlight.Load(); got != 1 {
		t.Errorf("max concurrent cycles = %d, want 1", got)
	}

	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop")
	}
}

func TestRequestRefresh_CoalescesWhileSyncRefreshInFlight(t *testing.T) {
	r := healthyReader()
	gate := make(chan struct{})
	r.gate = gate
	r.entered = make(chan struct{}, 1)

	c := New(r, Options{Interval: time.Hour})

	cycleDone := make(chan struct{}, 10)
	c.Subscribe(func(Snapshot) { cycleDone <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()

	syncDone := make(chan error, 1)
	go func() { syncDone <- c.Refresh(context.Background()) }()
	select {
	case <-r.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("synchronous cycle did not start")
	}

	// Two requests while the synchronous cycle is in flight.
	c.RequestRefresh()
	c.RequestRefresh()

	r.mu.Lock()
	r.gate = nil
	r.mu.Unlock()
	close(gate)

	if err := <-syncDone; err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-cycleDone:
		case <-time.After(5 * time.Second):
			t.Fatalf("cycle %d did not publish", i+1)
		}
	}

	select {
	case <-cycleDone:
		t.Fatal("a third cycle ran; refresh requests were not coalesced")
	case <-time.After(200 * time.Millisecond):
	}

	if got := r.statusCalls.Load(); got != 2 {
		t.Errorf("cycles = %d, want 2 (synchronous + one coalesced)", got)
	}

	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop")
	}
}

func TestRequestRefresh_ServedByLaterSyncRefresh(t *testing.T) {
	r := healthyReader()
	c := New(r, Options{Interval: time.Hour})

	// Requested before Run starts, then satisfied by a synchronous cycle.
	c.RequestRefresh()
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()
	time.Sleep(200 * time.Millisecond)
	cancel()
	<-runDone

	if got := c.Status().Cycles; got != 1 {
		t.Errorf("Cycles = %d, want 1", got)
	}
}

func TestRefresh_SerialisesConcurrentCallers(t *testing.T) {
	r := healthyReader()
	c := New(r, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Refresh(context.Background())
		}()
	}
	wg.Wait()

	if got := r.maxInFlight.Load(); got != 1 {
		t.Errorf("max concurrent cycles = %d, want 1", got)
	}
	if got := c.Status().Cycles; got != 8 {
		t.Errorf("Cycles = %d, want 8", got)
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	c := New(healthyReader(), Options{})

	var a, b atomic.Int32
	unsubA := c.Subscribe(func(Snapshot) { a.Add(1) })
	c.Subscribe(func(Snapshot) { b.Add(1) })

	_ = c.Refresh(context.Background())
	unsubA()
	unsubA()
	_ = c.Refresh(context.Background())

	if a.Load() != 1 {
		t.Errorf("unsubscribed callback ran %d times, want 1", a.Load())
	}
	if b.Load() != 2 {
		t.Errorf("subscribed callback ran %d times, want 2", b.Load())
	}
}

func TestSubscribe_PanickingSubscriberIsContained(t *testing.T) {
	c := New(healthyReader(), Options{})

	var after atomic.Int32
	c.Subscribe(func(Snapshot) { panic("bad subscriber") })
	c.Subscribe(func(Snapshot) { after.Add(1) })

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if after.Load() != 1 {
		t.Error("other subscribers not notified after a panic")
	}
	if c.State() != StateIdle {
		t.Errorf("State() = %v, want idle", c.State())
	}
}

func TestSnapshot_MarshalJSON(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	snap := assemble("cmv-1", readings{
		status:       cmv.OperatingStatus{Preset: cmv.ModeNight},
		statusOK:     true,
		indoorTemp:   20.1,
		indoorTempOK: true,
	}, at)

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if got["device_id"] != "cmv-1" {
		t.Errorf("device_id = %v", got["device_id"])
	}
	if got["indoor_temperature"] != 20.1 {
		t.Errorf("indoor_temperature = %v", got["indoor_temperature"])
	}
	for _, key := range []string{"outdoor_temperature", "indoor_humidity", "leds_on", "fan_mode"} {
		v, present := got[key]
		if !present || v != nil {
			t.Errorf("%s = %v (present %v), want null", key, v, present)
		}
	}
	if got["preset"] != "night" {
		t.Errorf("preset = %v, want night", got["preset"])
	}
	if got["reachable"] != true {
		t.Errorf("reachable = %v", got["reachable"])
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:      "idle",
		StatePolling:   "polling",
		StatePublished: "published",
		StateFailed:    "failed",
		State(42):      "state(42)",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), want)
		}
	}
}

func TestMetrics_RecordCycles(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	r := healthyReader()
	c := New(r, Options{Metrics: m})
	_ = c.Refresh(context.Background())

	if got := testutil.ToFloat64(m.cycles.WithLabelValues("cmv-test", "published")); got != 1 {
		t.Errorf("published cycles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.indoorTemp.WithLabelValues("cmv-test")); got != 21.5 {
		t.Errorf("indoor temperature gauge = %v, want 21.5", got)
	}
	if got := testutil.ToFloat64(m.online.WithLabelValues("cmv-test")); got != 1 {
		t.Errorf("online gauge = %v, want 1", got)
	}

	r.mu.Lock()
	r.indoorOK = false
	r.panicOnLEDs = true
	r.online = false
	r.mu.Unlock()
	_ = c.Refresh(context.Background())

	if got := testutil.ToFloat64(m.cycles.WithLabelValues("cmv-test", "failed")); got != 1 {
		t.Errorf("failed cycles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.online.WithLabelValues("cmv-test")); got != 0 {
		t.Errorf("online gauge = %v, want 0", got)
	}

	r.mu.Lock()
	r.panicOnLEDs = false
	r.mu.Unlock()
	_ = c.Refresh(context.Background())

	if n := testutil.CollectAndCount(m.indoorTemp); n != 0 {
		t.Errorf("indoor temperature series = %d, want dropped when absent", n)
	}
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.observeCycle("x", "published", time.Second, true)
	m.observeSnapshot(Snapshot{})
}
