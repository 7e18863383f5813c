package testing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amirphl/metal-price-sync/models"
	"github.com/amirphl/metal-price-sync/repository"
	"github.com/google/uuid"
)

// TestFixtures provides helper methods for creating audit rows
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestPriceRun stores a finalized run with the given trigger and outcome.
func (tf *TestFixtures) CreateTestPriceRun(trigger string, outcome models.RunOutcome, finishedAt time.Time) (*models.PriceRun, error) {
	r := SampleReport()
	r.RunID = uuid.New()
	r.Trigger = trigger
	r.StartedAt = finishedAt.Add(-42 * time.Second)
	r.FinishedAt = finishedAt
	switch outcome {
	case models.RunOutcomeSuccess:
		r.Errors = []string{}
		r.Counters.VariantsFailed = 0
	case models.RunOutcomeAborted:
		r.Aborted = true
	}

	row := models.NewPriceRunFromReport(r)
	if err := repository.NewPriceRunRepository(tf.DB.DB).Save(context.Background(), row); err != nil {
		return nil, err
	}
	return row, nil
}

// WithDB runs fn against a fresh database and skips the test when no
// PostgreSQL server is reachable.
func WithDB(t *testing.T, fn func(db *TestDB)) {
	t.Helper()
	err := TestWithDB(func(db *TestDB) error {
		fn(db)
		return nil
	})
	if errors.Is(err, ErrDBUnavailable) {
		t.Skipf("skipping: %v", err)
	}
	if err != nil {
		t.Fatal(err)
	}
}
