package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	businessflow "github.com/amirphl/metal-price-sync/business_flow"
	"github.com/amirphl/metal-price-sync/models"
	testutil "github.com/amirphl/metal-price-sync/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRunner struct {
	mu     sync.Mutex
	inputs []businessflow.RunInput
	err    error
	ran    chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{ran: make(chan struct{}, 16)}
}

func (r *fakeRunner) Run(ctx context.Context, in businessflow.RunInput) (*models.RunReport, error) {
	r.mu.Lock()
	r.inputs = append(r.inputs, in)
	err := r.err
	r.mu.Unlock()
	defer func() {
		select {
		case r.ran <- struct{}{}:
		default:
		}
	}()
	if businessflow.IsRunInProgress(err) {
		return nil, err
	}
	return testutil.SampleReport(), err
}

func (r *fakeRunner) calls() []businessflow.RunInput {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]businessflow.RunInput(nil), r.inputs...)
}

func waitRuns(t *testing.T, r *fakeRunner, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.ran:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for run %d", i+1)
		}
	}
}

func TestPriceScheduler_RunsAtStartAndOnTicks(t *testing.T) {
	runner := newFakeRunner()
	template := businessflow.RunInput{Trigger: "ignored", Currency: "INR", SkipMetafields: true}
	s := NewPriceScheduler(runner, template, 10*time.Millisecond, true, nil)

	stop := s.Start(context.Background())
	waitRuns(t, runner, 3)
	stop()

	calls := runner.calls()
	require.GreaterOrEqual(t, len(calls), 3)
	for _, in := range calls {
		assert.Equal(t, "scheduler", in.Trigger)
		assert.Equal(t, "INR", in.Currency)
		assert.True(t, in.SkipMetafields)
	}
}

func TestPriceScheduler_NoRunAtStart(t *testing.T) {
	runner := newFakeRunner()
	s := NewPriceScheduler(runner, businessflow.RunInput{}, time.Hour, false, nil)

	stop := s.Start(context.Background())
	stop()

	assert.Empty(t, runner.calls())
}

func TestPriceScheduler_SurvivesFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"run in progress", businessflow.NewBusinessError("RUN_IN_PROGRESS", "busy", businessflow.ErrRunInProgress)},
		{"aborted run", businessflow.NewBusinessError("RATE_FETCH_FAILED", "down", businessflow.ErrRateFetch)},
		{"plain error", errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newFakeRunner()
			runner.err = tt.err
			s := NewPriceScheduler(runner, businessflow.RunInput{}, 5*time.Millisecond, true, nil)

			stop := s.Start(context.Background())
			waitRuns(t, runner, 2)
			stop()
		})
	}
}

func TestPriceScheduler_StopsWithParentContext(t *testing.T) {
	runner := newFakeRunner()
	s := NewPriceScheduler(runner, businessflow.RunInput{}, time.Hour, false, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stop := s.Start(ctx)
	cancel()
	stop()
}
