package i2c

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/accelx"
	"github.com/mklimuk/accelx/sim"
)

func openSim(t *testing.T, port int, opts ...sim.Opt) (*Session, *sim.MPU6050) {
	t.Helper()
	dev := sim.NewMPU6050(opts...)
	cfg := accelx.DefaultBusConfig()
	cfg.Port = port
	s, err := Initialize(cfg, dev)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })
	return s, dev
}

func mustPlan(t *testing.T) func(*Plan, error) *Plan {
	return func(p *Plan, err error) *Plan {
		t.Helper()
		require.NoError(t, err)
		return p
	}
}

func TestExecute_WakeWrite(t *testing.T) {
	s, dev := openSim(t, 10)
	require.True(t, dev.Asleep())

	data, err := s.Execute(context.Background(), mustPlan(t)(WriteRegister(0x68, 0x6B, 0x00)), time.Second)
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.False(t, dev.Asleep())
	starts, stops, _ := dev.Counters()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
}

func TestExecute_SelectThenRead(t *testing.T) {
	s, dev := openSim(t, 11)
	dev.SetAccelX(300)
	ctx := context.Background()

	_, err := s.Execute(ctx, mustPlan(t)(WriteRegister(0x68, 0x3B)), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, byte(0x3B), dev.Pointer())

	data, err := s.Execute(ctx, mustPlan(t)(ReadBytes(0x68, 2)), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x2C}, data)
	assert.Equal(t, byte(0x3D), dev.Pointer(), "pointer auto-increments past the read registers")
	_, _, naks := dev.Counters()
	assert.Equal(t, 1, naks, "only the final byte is NACKed")
}

func TestExecute_AddressNack(t *testing.T) {
	s, dev := openSim(t, 12, sim.WithNackAddress())

	_, err := s.Execute(context.Background(), mustPlan(t)(ReadBytes(0x68, 2)), 10*time.Millisecond)
	assert.ErrorIs(t, err, accelx.ErrNack)
	_, stops, _ := dev.Counters()
	assert.Equal(t, 1, stops, "bus is released after a NACK")
}

func TestExecute_WrongAddressNack(t *testing.T) {
	s, _ := openSim(t, 13, sim.WithAddress(0x69))

	_, err := s.Execute(context.Background(), mustPlan(t)(WriteRegister(0x68, 0x3B)), 10*time.Millisecond)
	assert.ErrorIs(t, err, accelx.ErrNack)
}

func TestExecute_StallTimesOut(t *testing.T) {
	s, _ := openSim(t, 14, sim.WithStallAfter(1))
	budget := 10 * time.Millisecond

	start := time.Now()
	_, err := s.Execute(context.Background(), mustPlan(t)(ReadBytes(0x68, 2)), budget)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, accelx.ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, budget, "timeout must not fire before the budget elapses")
}

func TestExecute_PlanIsSingleUse(t *testing.T) {
	s, _ := openSim(t, 15)
	plan := mustPlan(t)(WriteRegister(0x68, 0x3B))

	_, err := s.Execute(context.Background(), plan, 10*time.Millisecond)
	require.NoError(t, err)
	_, err = s.Execute(context.Background(), plan, 10*time.Millisecond)
	assert.ErrorIs(t, err, accelx.ErrPlanConsumed)
}

func TestExecute_FailedPlanIsNotReusable(t *testing.T) {
	s, _ := openSim(t, 16, sim.WithNackAddress())
	plan := mustPlan(t)(WriteRegister(0x68, 0x3B))

	_, err := s.Execute(context.Background(), plan, 10*time.Millisecond)
	require.ErrorIs(t, err, accelx.ErrNack)
	_, err = s.Execute(context.Background(), plan, 10*time.Millisecond)
	assert.ErrorIs(t, err, accelx.ErrPlanConsumed)
}

func TestExecute_AfterShutdown(t *testing.T) {
	s, _ := openSim(t, 17)
	require.NoError(t, s.Shutdown())

	_, err := s.Execute(context.Background(), mustPlan(t)(WriteRegister(0x68, 0x3B)), 10*time.Millisecond)
	assert.ErrorIs(t, err, accelx.ErrNotInstalled)
}

func TestExecute_InvalidArguments(t *testing.T) {
	s, _ := openSim(t, 18)

	_, err := s.Execute(context.Background(), nil, time.Millisecond)
	assert.ErrorIs(t, err, accelx.ErrInvalidPlan)

	_, err = s.Execute(context.Background(), mustPlan(t)(WriteRegister(0x68, 0x3B)), 0)
	assert.ErrorIs(t, err, accelx.ErrConfigInvalid)
	assert.NotErrorIs(t, err, accelx.ErrInvalidPlan)

	_, err = s.Execute(context.Background(), mustPlan(t)(WriteRegister(0x68, 0x3B)), -time.Millisecond)
	assert.ErrorIs(t, err, accelx.ErrConfigInvalid)
}

func TestExecute_ParentCancel(t *testing.T) {
	s, _ := openSim(t, 19, sim.WithStallAfter(0))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := s.Execute(ctx, mustPlan(t)(WriteRegister(0x68, 0x3B)), time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, accelx.ErrTimeout)
}

// dataNackLine acknowledges the address byte only.
type dataNackLine struct {
	*sim.MPU6050
	writes int
}

func (l *dataNackLine) WriteByte(ctx context.Context, b byte) (bool, error) {
	l.writes++
	return l.writes == 1, nil
}

func TestExecute_DataNack(t *testing.T) {
	line := &dataNackLine{MPU6050: sim.NewMPU6050()}
	cfg := accelx.DefaultBusConfig()
	cfg.Port = 20
	s, err := Initialize(cfg, line)
	require.NoError(t, err)
	defer func() { _ = s.Shutdown() }()

	_, err = s.Execute(context.Background(), mustPlan(t)(WriteRegister(0x68, 0x6B, 0x00)), 10*time.Millisecond)
	assert.ErrorIs(t, err, accelx.ErrNack)
	assert.Contains(t, err.Error(), "data byte")
	assert.Equal(t, 2, line.writes, "execution stops at the first unacknowledged byte")
}

// countingLine records the highest number of primitives running at once.
type countingLine struct {
	*sim.MPU6050
	active  atomic.Int64
	maxSeen atomic.Int64
}

func (l *countingLine) Start(ctx context.Context) error {
	n := l.active.Add(1)
	if n > l.maxSeen.Load() {
		l.maxSeen.Store(n)
	}
	time.Sleep(time.Millisecond)
	return l.MPU6050.Start(ctx)
}

func (l *countingLine) Stop(ctx context.Context) error {
	l.active.Add(-1)
	return l.MPU6050.Stop(ctx)
}

func TestExecute_Serialized(t *testing.T) {
	line := &countingLine{MPU6050: sim.NewMPU6050()}
	cfg := accelx.DefaultBusConfig()
	cfg.Port = 21
	s, err := Initialize(cfg, line)
	require.NoError(t, err)
	defer func() { _ = s.Shutdown() }()

	const workers = 8
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			plan, err := ReadBytes(0x68, 2)
			if !assert.NoError(t, err) {
				return
			}
			_, err = s.Execute(context.Background(), plan, time.Second)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), line.maxSeen.Load(), "transactions must not interleave")
}

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Configure(cfg accelx.BusConfig) error {
	return m.Called(cfg).Error(0)
}

func (m *MockRunner) Install() error {
	return m.Called().Error(0)
}

func (m *MockRunner) Uninstall() error {
	return m.Called().Error(0)
}

func (m *MockRunner) Run(ctx context.Context, plan *Plan) ([]byte, error) {
	args := m.Called(ctx, plan)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func TestExecute_Runner(t *testing.T) {
	runner := new(MockRunner)
	cfg := accelx.DefaultBusConfig()
	cfg.Port = 22
	runner.On("Configure", cfg).Return(nil).Once()
	runner.On("Install").Return(nil).Once()
	runner.On("Uninstall").Return(nil).Once()
	plan := mustPlan(t)(ReadBytes(0x68, 2))
	runner.On("Run", mock.Anything, plan).Return([]byte{0x01, 0x2C}, nil).Once()

	s, err := Initialize(cfg, runner)
	require.NoError(t, err)
	data, err := s.Execute(context.Background(), plan, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x2C}, data)
	require.NoError(t, s.Shutdown())
	runner.AssertExpectations(t)
}

func TestExecute_RunnerDeadline(t *testing.T) {
	runner := new(MockRunner)
	cfg := accelx.DefaultBusConfig()
	cfg.Port = 23
	runner.On("Configure", cfg).Return(nil)
	runner.On("Install").Return(nil)
	runner.On("Uninstall").Return(nil)
	runner.On("Run", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	s, err := Initialize(cfg, runner)
	require.NoError(t, err)
	defer func() { _ = s.Shutdown() }()

	_, err = s.Execute(context.Background(), mustPlan(t)(ReadBytes(0x68, 2)), 5*time.Millisecond)
	assert.ErrorIs(t, err, accelx.ErrTimeout)
}
