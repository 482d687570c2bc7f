package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kkt_deadline_bot/internal/app"
	"kkt_deadline_bot/internal/infra/logger"
)

type mockChecker struct {
	mock.Mock
}

func (m *mockChecker) Tick(ctx context.Context) (*app.TickReport, error) {
	args := m.Called(ctx)
	report, _ := args.Get(0).(*app.TickReport)
	return report, args.Error(1)
}

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) ReportTick(ctx context.Context, report *app.TickReport) error {
	return m.Called(ctx, report).Error(0)
}

func (m *mockReporter) SendDailySummary(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func newScheduler(checker DeadlineChecker, reporter OperatorReporter) *DeadlineScheduler {
	return NewDeadlineScheduler(checker, reporter, Options{
		Location:     time.UTC,
		CheckSpec:    "0 9 * * *",
		SummarySpec:  "30 9 * * *",
		CheckTimeout: time.Minute,
	}, logger.Discard())
}

func TestRunCheckReportsResult(t *testing.T) {
	report := &app.TickReport{Sent: 2}
	checker := &mockChecker{}
	checker.On("Tick", mock.Anything).Return(report, nil).Once()
	reporter := &mockReporter{}
	reporter.On("ReportTick", mock.Anything, report).Return(nil).Once()

	newScheduler(checker, reporter).RunCheck(context.Background())

	checker.AssertExpectations(t)
	reporter.AssertExpectations(t)
}

func TestRunCheckSkipsWhenTickInProgress(t *testing.T) {
	checker := &mockChecker{}
	checker.On("Tick", mock.Anything).Return(nil, app.ErrTickInProgress).Once()
	reporter := &mockReporter{}

	newScheduler(checker, reporter).RunCheck(context.Background())

	checker.AssertExpectations(t)
	reporter.AssertNotCalled(t, "ReportTick", mock.Anything, mock.Anything)
}

func TestRunCheckReportsPartialRun(t *testing.T) {
	report := &app.TickReport{Sent: 1, Failed: 1}
	checker := &mockChecker{}
	checker.On("Tick", mock.Anything).Return(report, errors.New("record outcome")).Once()
	reporter := &mockReporter{}
	reporter.On("ReportTick", mock.Anything, report).Return(nil).Once()

	newScheduler(checker, reporter).RunCheck(context.Background())

	reporter.AssertExpectations(t)
}

func TestRunCheckAppliesTimeout(t *testing.T) {
	var mu sync.Mutex
	var hadDeadline bool
	checker := &mockChecker{}
	checker.On("Tick", mock.Anything).Run(func(args mock.Arguments) {
		_, ok := args.Get(0).(context.Context).Deadline()
		mu.Lock()
		hadDeadline = ok
		mu.Unlock()
	}).Return(nil, errors.New("db down")).Once()

	newScheduler(checker, &mockReporter{}).RunCheck(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, hadDeadline)
}

func TestRunSummary(t *testing.T) {
	reporter := &mockReporter{}
	reporter.On("SendDailySummary", mock.Anything).Return(errors.New("one chat failed")).Once()

	newScheduler(&mockChecker{}, reporter).RunSummary(context.Background())

	reporter.AssertExpectations(t)
}

func TestStartRejectsInvalidCronExpression(t *testing.T) {
	s := NewDeadlineScheduler(&mockChecker{}, &mockReporter{}, Options{CheckSpec: "not a spec"}, logger.Discard())
	require.Error(t, s.Start())
}

func TestStartAndStop(t *testing.T) {
	s := newScheduler(&mockChecker{}, &mockReporter{})
	require.NoError(t, s.Start())
	assert.Len(t, s.cronEngine.Entries(), 2)
	s.Stop()
}
