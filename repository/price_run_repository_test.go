package repository_test

import (
	"testing"
	"time"

	"github.com/amirphl/metal-price-sync/models"
	"github.com/amirphl/metal-price-sync/repository"
	testingutil "github.com/amirphl/metal-price-sync/testing"
	"github.com/amirphl/metal-price-sync/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceRunRepository(t *testing.T) {
	testingutil.WithDB(t, func(testDB *testingutil.TestDB) {
		repo := repository.NewPriceRunRepository(testDB.DB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
		first, err := fixtures.CreateTestPriceRun("cli", models.RunOutcomeSuccess, base)
		require.NoError(t, err)
		second, err := fixtures.CreateTestPriceRun("scheduler", models.RunOutcomeCompletedWithErrors, base.Add(time.Hour))
		require.NoError(t, err)
		third, err := fixtures.CreateTestPriceRun("scheduler", models.RunOutcomeAborted, base.Add(2*time.Hour))
		require.NoError(t, err)

		t.Run("ByRunID", func(t *testing.T) {
			got, err := repo.ByRunID(ctx, second.RunID)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "completed_with_errors", got.Outcome)
			assert.Equal(t, 3, got.VariantsUpdated)
			assert.Equal(t, []string{"variant 11 (Ring / 14K): storefront write failed: 502"}, []string(got.Errors))
		})

		t.Run("ByRunIDNotFound", func(t *testing.T) {
			got, err := repo.ByRunID(ctx, uuid.New())
			assert.NoError(t, err)
			assert.Nil(t, got)
		})

		t.Run("Latest", func(t *testing.T) {
			got, err := repo.Latest(ctx)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, third.RunID, got.RunID)
		})

		t.Run("ByFilter", func(t *testing.T) {
			tests := []struct {
				name   string
				filter models.PriceRunFilter
				want   []uuid.UUID
			}{
				{"all newest first", models.PriceRunFilter{}, []uuid.UUID{third.RunID, second.RunID, first.RunID}},
				{"by trigger", models.PriceRunFilter{Trigger: utils.ToPtr("scheduler")}, []uuid.UUID{third.RunID, second.RunID}},
				{"by outcome", models.PriceRunFilter{Outcome: utils.ToPtr("success")}, []uuid.UUID{first.RunID}},
				{"dry runs", models.PriceRunFilter{DryRun: utils.ToPtr(true)}, nil},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					rows, err := repo.ByFilter(ctx, tt.filter, "", 0, 0)
					require.NoError(t, err)
					var got []uuid.UUID
					for _, r := range rows {
						got = append(got, r.RunID)
					}
					assert.Equal(t, tt.want, got)

					count, err := repo.Count(ctx, tt.filter)
					require.NoError(t, err)
					assert.Equal(t, int64(len(tt.want)), count)
				})
			}
		})

		t.Run("Pagination", func(t *testing.T) {
			rows, err := repo.ByFilter(ctx, models.PriceRunFilter{}, "", 2, 2)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, first.RunID, rows[0].RunID)
		})

		t.Run("DuplicateRunIDRejected", func(t *testing.T) {
			dup := *first
			dup.ID = 0
			assert.ErrorIs(t, repo.Save(ctx, &dup), repository.ErrDuplicateRecord)
		})

		t.Run("ByID", func(t *testing.T) {
			got, err := repo.ByID(ctx, third.ID)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, third.RunID, got.RunID)

			missing, err := repo.ByID(ctx, third.ID+1000)
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	})
}
