package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuya-lights/internal/application"
	"tuya-lights/internal/domain"
)

const testDebounce = 30 * time.Millisecond

func waitForCalls(t *testing.T, sender *recordingSender, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return sender.CallCount() >= n }, 2*time.Second, 5*time.Millisecond)
}

func TestSendQueue_CoalescesSameCode(t *testing.T) {
	state := newState(switchFn(true), brightFn(500))
	sender := &recordingSender{}
	q := application.NewSendQueue(state, sender, application.WithDebounce(testDebounce))

	q.Enqueue(domain.DeviceStatus{Code: "bright_value", Value: 10})
	q.Enqueue(domain.DeviceStatus{Code: "bright_value", Value: 20})

	waitForCalls(t, sender, 1)
	time.Sleep(3 * testDebounce)

	calls := sender.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "dev1", calls[0].deviceID)
	assert.Equal(t, []domain.DeviceStatus{{Code: "bright_value", Value: 20}}, calls[0].commands)
	assert.Empty(t, q.Pending())
}

func TestSendQueue_OptimisticStatus(t *testing.T) {
	state := newState(switchFn(true), brightFn(500))
	sender := &recordingSender{}
	q := application.NewSendQueue(state, sender, application.WithDebounce(time.Hour))

	q.Enqueue(domain.DeviceStatus{Code: "bright_value", Value: 900})

	st, ok := state.Status("bright_value")
	require.True(t, ok)
	assert.Equal(t, 900, st.Value)
	assert.Zero(t, sender.CallCount())
}

func TestSendQueue_UnknownCodeQueuedButNotStored(t *testing.T) {
	state := newState(switchFn(true))
	q := application.NewSendQueue(state, &recordingSender{}, application.WithDebounce(time.Hour))

	q.Enqueue(domain.DeviceStatus{Code: "work_mode", Value: "white"})

	_, ok := state.Status("work_mode")
	assert.False(t, ok)
	assert.Equal(t, []domain.DeviceStatus{{Code: "work_mode", Value: "white"}}, q.Pending())
}

func TestSendQueue_MergesDifferentControls(t *testing.T) {
	state := newState(switchFn(false), brightFn(10), colourFn(""), workModeFn("white"))
	sender := &recordingSender{}
	light := application.NewLightAccessory(state, sender, discardLogger(), application.WithDebounce(testDebounce))

	require.NoError(t, light.Set(application.ControlOn, true))
	require.NoError(t, light.Set(application.ControlHue, 120))
	require.NoError(t, light.Set(application.ControlSaturation, 100))

	waitForCalls(t, sender, 1)
	time.Sleep(3 * testDebounce)

	calls := sender.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []domain.DeviceStatus{
		{Code: "switch_led", Value: true},
		{Code: "colour_data", Value: `{"h":120,"s":1000,"v":0}`},
		{Code: "work_mode", Value: "colour"},
	}, calls[0].commands)
}

func TestSendQueue_TrailingEdge(t *testing.T) {
	state := newState(brightFn(500))
	sender := &recordingSender{}
	q := application.NewSendQueue(state, sender, application.WithDebounce(150*time.Millisecond))

	// Keep writing faster than the quiet period; nothing may be sent meanwhile.
	for i := 0; i < 5; i++ {
		q.Enqueue(domain.DeviceStatus{Code: "bright_value", Value: i})
		time.Sleep(15 * time.Millisecond)
	}
	assert.Zero(t, sender.CallCount())

	waitForCalls(t, sender, 1)
	assert.Equal(t, []domain.DeviceStatus{{Code: "bright_value", Value: 4}}, sender.Calls()[0].commands)
}

func TestSendQueue_NewCycleAfterFlush(t *testing.T) {
	state := newState(switchFn(true), brightFn(500))
	sender := &recordingSender{}
	q := application.NewSendQueue(state, sender, application.WithDebounce(testDebounce))

	q.Enqueue(domain.DeviceStatus{Code: "switch_led", Value: false})
	waitForCalls(t, sender, 1)

	q.Enqueue(domain.DeviceStatus{Code: "bright_value", Value: 100})
	waitForCalls(t, sender, 2)

	calls := sender.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []domain.DeviceStatus{{Code: "switch_led", Value: false}}, calls[0].commands)
	assert.Equal(t, []domain.DeviceStatus{{Code: "bright_value", Value: 100}}, calls[1].commands)
}

func TestSendQueue_FailureKeepsOptimisticState(t *testing.T) {
	state := newState(switchFn(false))
	sender := &recordingSender{err: errors.New("cloud unavailable")}

	var mu sync.Mutex
	var failed []domain.DeviceStatus
	q := application.NewSendQueue(state, sender,
		application.WithDebounce(testDebounce),
		application.WithFailureHandler(func(_ string, commands []domain.DeviceStatus, _ error) {
			mu.Lock()
			defer mu.Unlock()
			failed = commands
		}),
	)

	q.Enqueue(domain.DeviceStatus{Code: "switch_led", Value: true})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failed != nil
	}, 2*time.Second, 5*time.Millisecond)

	st, _ := state.Status("switch_led")
	assert.Equal(t, true, st.Value, "optimistic update is not rolled back")
	assert.Empty(t, q.Pending(), "queue is cleared even when the send fails")

	time.Sleep(3 * testDebounce)
	assert.Equal(t, 1, sender.CallCount(), "no automatic retry")
}

func TestSendQueue_FlushNow(t *testing.T) {
	state := newState(switchFn(true))
	sender := &recordingSender{}
	q := application.NewSendQueue(state, sender, application.WithDebounce(time.Hour))

	require.NoError(t, q.Flush(context.Background()), "empty flush is a no-op")
	assert.Zero(t, sender.CallCount())

	q.Enqueue(domain.DeviceStatus{Code: "switch_led", Value: false})
	require.NoError(t, q.Flush(context.Background()))

	require.Equal(t, 1, sender.CallCount())
	assert.Empty(t, q.Pending())
}

func TestSendQueue_FlushReturnsError(t *testing.T) {
	state := newState(switchFn(true))
	sendErr := errors.New("boom")
	q := application.NewSendQueue(state, &recordingSender{err: sendErr}, application.WithDebounce(time.Hour))

	q.Enqueue(domain.DeviceStatus{Code: "switch_led", Value: false})
	err := q.Flush(context.Background())
	assert.ErrorIs(t, err, sendErr)
}

func TestSendQueue_CloseFlushesAndStopsTimer(t *testing.T) {
	state := newState(switchFn(true))
	sender := &recordingSender{}
	q := application.NewSendQueue(state, sender, application.WithDebounce(testDebounce))

	q.Enqueue(domain.DeviceStatus{Code: "switch_led", Value: false})
	require.NoError(t, q.Close(context.Background()))
	require.Equal(t, 1, sender.CallCount())

	q.Enqueue(domain.DeviceStatus{Code: "switch_led", Value: true})
	time.Sleep(3 * testDebounce)
	assert.Equal(t, 1, sender.CallCount(), "closed queue does not schedule flushes")
	assert.Len(t, q.Pending(), 1)
}

type countingObserver struct {
	mu       sync.Mutex
	enqueued int
	flushes  int
	failures int
}

func (o *countingObserver) CommandsEnqueued(_ string, n int) {
	o.mu.Lock()
	o.enqueued += n
	o.mu.Unlock()
}

func (o *countingObserver) FlushCompleted(_ string, _ int, _ time.Duration, err error) {
	o.mu.Lock()
	o.flushes++
	if err != nil {
		o.failures++
	}
	o.mu.Unlock()
}

func TestSendQueue_Observer(t *testing.T) {
	state := newState(switchFn(true), brightFn(10))
	obs := &countingObserver{}
	q := application.NewSendQueue(state, &recordingSender{},
		application.WithDebounce(time.Hour), application.WithSendObserver(obs))

	q.Enqueue(domain.DeviceStatus{Code: "switch_led", Value: false}, domain.DeviceStatus{Code: "bright_value", Value: 20})
	require.NoError(t, q.Flush(context.Background()))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 2, obs.enqueued)
	assert.Equal(t, 1, obs.flushes)
	assert.Zero(t, obs.failures)
}

type gatedSender struct {
	mu        sync.Mutex
	active    int
	maxActive int
	batches   [][]domain.DeviceStatus
	started   chan struct{}
	release   chan struct{}
}

func (s *gatedSender) SendCommands(_ context.Context, _ string, commands []domain.DeviceStatus) error {
	s.mu.Lock()
	s.active++
	s.maxActive = max(s.maxActive, s.active)
	s.batches = append(s.batches, commands)
	first := len(s.batches) == 1
	s.mu.Unlock()

	if first {
		close(s.started)
		<-s.release
	}

	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	return nil
}

func TestSendQueue_SendsDoNotOverlap(t *testing.T) {
	state := newState(brightFn(500))
	sender := &gatedSender{started: make(chan struct{}), release: make(chan struct{})}
	q := application.NewSendQueue(state, sender, application.WithDebounce(testDebounce))

	q.Enqueue(domain.DeviceStatus{Code: "bright_value", Value: 100})
	<-sender.started

	q.Enqueue(domain.DeviceStatus{Code: "bright_value", Value: 900})
	done := make(chan error, 1)
	go func() { done <- q.Flush(context.Background()) }()

	time.Sleep(3 * testDebounce)
	sender.mu.Lock()
	assert.Len(t, sender.batches, 1, "the newer batch waits for the slow send")
	sender.mu.Unlock()

	close(sender.release)
	require.NoError(t, <-done)
	require.NoError(t, q.Close(context.Background()))

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, 1, sender.maxActive)
	assert.Equal(t, [][]domain.DeviceStatus{
		{{Code: "bright_value", Value: 100}},
		{{Code: "bright_value", Value: 900}},
	}, sender.batches)
}
