package supervisor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/linecast/internal/domain"
	"github.com/pscheid92/linecast/internal/platform/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMember blocks in Start until stopped or cancelled, or fails immediately
// when startErr is set.
type fakeMember struct {
	name      string
	startErr  error
	stopPanic bool
	stopBlock chan struct{}

	started atomic.Bool
	stops   atomic.Int32
	once    sync.Once
	stopCh  chan struct{}
}

func newFakeMember(name string) *fakeMember {
	return &fakeMember{name: name, stopCh: make(chan struct{})}
}

func (f *fakeMember) Name() string { return f.name }

func (f *fakeMember) Start(ctx context.Context) error {
	f.started.Store(true)
	if f.startErr != nil {
		return f.startErr
	}
	select {
	case <-ctx.Done():
	case <-f.stopCh:
	}
	return nil
}

func (f *fakeMember) Stop() {
	f.stops.Add(1)
	if f.stopBlock != nil {
		<-f.stopBlock
	}
	f.once.Do(func() { close(f.stopCh) })
	if f.stopPanic {
		panic("stop exploded")
	}
}

func runAsync(s *Supervisor) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()
	return errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestSupervisor_StopEndsRun(t *testing.T) {
	a, b := newFakeMember("a"), newFakeMember("b")
	s := New([]Member{a, b})

	errCh := runAsync(s)
	require.Eventually(t, func() bool { return a.started.Load() && b.started.Load() }, time.Second, 5*time.Millisecond)

	s.Stop()

	assert.NoError(t, waitErr(t, errCh))
	assert.Equal(t, int32(1), a.stops.Load())
	assert.Equal(t, int32(1), b.stops.Load())
}

func TestSupervisor_StopIsIdempotent(t *testing.T) {
	a := newFakeMember("a")
	s := New([]Member{a})

	s.Stop()
	s.Stop()

	assert.Equal(t, int32(1), a.stops.Load())
	assert.NoError(t, s.Run(context.Background()), "Run after Stop returns immediately")
	assert.False(t, a.started.Load())
}

func TestSupervisor_StartFailureCancelsOthers(t *testing.T) {
	bindErr := &domain.BindError{Addr: "127.0.0.1:1", Err: errors.New("address already in use")}
	ok := newFakeMember("console")
	failing := newFakeMember("network")
	failing.startErr = bindErr

	s := New([]Member{ok, failing})
	err := waitErr(t, runAsync(s))

	require.Error(t, err)
	var got *domain.BindError
	assert.True(t, errors.As(err, &got))
	assert.Contains(t, err.Error(), "network")
	assert.True(t, ok.started.Load())
}

func TestSupervisor_ContextCancelStopsRun(t *testing.T) {
	a := newFakeMember("a")
	s := New([]Member{a})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	require.Eventually(t, a.started.Load, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, waitErr(t, errCh))
}

func TestSupervisor_StopSwallowsPanics(t *testing.T) {
	bad := newFakeMember("bad")
	bad.stopPanic = true
	good := newFakeMember("good")
	s := New([]Member{bad, good})

	errCh := runAsync(s)
	require.Eventually(t, func() bool { return bad.started.Load() && good.started.Load() }, time.Second, 5*time.Millisecond)

	assert.NotPanics(t, s.Stop)
	assert.Equal(t, int32(1), good.stops.Load())
	assert.NoError(t, waitErr(t, errCh))
}

func TestSupervisor_StopAbandonsHungMember(t *testing.T) {
	clock := clockwork.NewFakeClock()
	hung := newFakeMember("hung")
	hung.stopBlock = make(chan struct{})
	defer close(hung.stopBlock)
	next := newFakeMember("next")

	s := New([]Member{hung, next}, WithClock(clock), WithStopTimeout(time.Second))

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not complete")
	}
	assert.Equal(t, int32(1), next.stops.Load())
}

func TestSupervisor_RunPanicBecomesError(t *testing.T) {
	s := New([]Member{panickingMember{}})

	err := s.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

type panickingMember struct{}

func (panickingMember) Name() string                { return "panicky" }
func (panickingMember) Start(context.Context) error { panic("boom") }
func (panickingMember) Stop()                       {}

func testConfig(mode string) *config.Config {
	return &config.Config{
		Mode:          mode,
		Host:          "127.0.0.1",
		Port:          0,
		Interval:      20 * time.Millisecond,
		Message:       "compose",
		AcceptTimeout: 50 * time.Millisecond,
		WriteTimeout:  time.Second,
		BindAttempts:  1,
	}
}

func TestCompose_Modes(t *testing.T) {
	tests := []struct {
		mode        string
		wantMode    domain.Mode
		wantNames   []string
		wantConsole bool
		wantNetwork bool
	}{
		{"console", domain.ModeConsole, []string{"console"}, true, false},
		{"print", domain.ModeConsole, []string{"console"}, true, false},
		{"network", domain.ModeNetwork, []string{"network"}, false, true},
		{"telnet", domain.ModeNetwork, []string{"network"}, false, true},
		{"network+console", domain.ModeNetworkAndConsole, []string{"network", "console"}, true, true},
		{"telnet+print", domain.ModeNetworkAndConsole, []string{"network", "console"}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			comp, err := Compose(testConfig(tt.mode), Deps{Stdout: &bytes.Buffer{}, Registry: prometheus.NewRegistry()})
			require.NoError(t, err)

			assert.Equal(t, tt.wantMode, comp.Mode)
			assert.Equal(t, tt.wantConsole, comp.Console != nil)
			assert.Equal(t, tt.wantNetwork, comp.Network != nil)
			assert.Nil(t, comp.Admin)

			var names []string
			for _, m := range comp.Members() {
				names = append(names, m.Name())
			}
			assert.Equal(t, tt.wantNames, names)
		})
	}
}

func TestCompose_UnsupportedMode(t *testing.T) {
	comp, err := Compose(testConfig("carrier-pigeon"), Deps{})

	assert.Nil(t, comp)
	var cfgErr *domain.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "mode", cfgErr.Field)
}

func TestCompose_AdminMember(t *testing.T) {
	cfg := testConfig("network")
	cfg.AdminAddr = "127.0.0.1:0"

	comp, err := Compose(cfg, Deps{Registry: prometheus.NewRegistry()})
	require.NoError(t, err)

	require.NotNil(t, comp.Admin)
	names := make([]string, 0, len(comp.Members()))
	for _, m := range comp.Members() {
		names = append(names, m.Name())
	}
	assert.Equal(t, []string{"network", "admin"}, names)
}

func TestCompose_ImmediateStopIsCleanExit(t *testing.T) {
	cfg := testConfig("console")
	cfg.AdminAddr = "127.0.0.1:0"

	comp, err := Compose(cfg, Deps{Stdout: io.Discard, Registry: prometheus.NewRegistry()})
	require.NoError(t, err)

	errCh := runAsync(comp.Supervisor)
	comp.Stop()

	assert.NoError(t, waitErr(t, errCh))
}

// syncBuffer is a goroutine-safe bytes.Buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestCompose_RunDeliversToBothTransports(t *testing.T) {
	stdout := &syncBuffer{}
	comp, err := Compose(testConfig("network+console"), Deps{Stdout: stdout, Registry: prometheus.NewRegistry()})
	require.NoError(t, err)

	errCh := runAsync(comp.Supervisor)
	select {
	case <-comp.Network.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("network server not ready")
	}

	conn, err := net.Dial("tcp", comp.Network.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(buf[:n]), "compose  time: "))

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "compose  time: ")
	}, time.Second, 5*time.Millisecond)

	comp.Stop()
	assert.NoError(t, waitErr(t, errCh))
	assert.Equal(t, domain.StateStopped, comp.Network.State())
	assert.False(t, comp.Console.Running())
	assert.Equal(t, 0, comp.Network.ConnectionCount())
}

func TestCompose_BindFailureStopsConsole(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	_, port, err := net.SplitHostPort(occupied.Addr().String())
	require.NoError(t, err)

	cfg := testConfig("network+console")
	cfg.Port, err = strconv.Atoi(port)
	require.NoError(t, err)

	comp, err := Compose(cfg, Deps{Stdout: &syncBuffer{}, Registry: prometheus.NewRegistry()})
	require.NoError(t, err)

	err = waitErr(t, runAsync(comp.Supervisor))

	var bindErr *domain.BindError
	require.True(t, errors.As(err, &bindErr), "expected BindError, got %v", err)
	assert.False(t, comp.Console.Running())
	assert.Equal(t, domain.StateStopped, comp.Network.State())
}
