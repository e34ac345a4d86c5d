package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gatekeeper/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContactAllowanceRunsOutThenBillsCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activate(t, "employer-1", "employer_pro", "ref-1")

	d := f.engine.CheckGate(ctx, "employer-1", model.GateContactUnlock, model.GateParams{})
	require.Equal(t, model.DecisionIncluded, d.Source)
	require.NotNil(t, d.Remaining)
	assert.EqualValues(t, 10, *d.Remaining)

	for i := 0; i < 10; i++ {
		res, err := f.engine.ConsumeIncluded(ctx, "employer-1", model.KeyContactUnlocksIncluded)
		require.NoError(t, err)
		assert.True(t, res.Consumed, "unlock %d", i+1)
		assert.EqualValues(t, 9-i, res.Remaining)
	}

	res, err := f.engine.ConsumeIncluded(ctx, "employer-1", model.KeyContactUnlocksIncluded)
	require.NoError(t, err)
	assert.False(t, res.Consumed)
	assert.EqualValues(t, 0, res.Remaining)

	d = f.engine.CheckGate(ctx, "employer-1", model.GateContactUnlock, model.GateParams{})
	assert.True(t, d.Allowed)
	assert.Equal(t, model.DecisionCredits, d.Source)
	assert.Equal(t, model.ReasonAllowanceUsedUp, d.Reason)

	status, err := f.engine.Quota.Remaining(ctx, "employer-1", model.KeyContactUnlocksIncluded)
	require.NoError(t, err)
	assert.Equal(t, &model.QuotaStatus{MetricKey: model.KeyContactUnlocksIncluded, Limit: 10, Used: 10, Remaining: 0}, status)
}

func TestConcurrentConsumeNeverDoubleSpends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activate(t, "employer-1", "employer_pro", "ref-1")

	const callers = 64
	var (
		wg       sync.WaitGroup
		consumed atomic.Int64
		refused  atomic.Int64
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.ConsumeIncluded(ctx, "employer-1", model.KeyContactUnlocksIncluded)
			if !assert.NoError(t, err) {
				return
			}
			if res.Consumed {
				consumed.Add(1)
			} else {
				refused.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10, consumed.Load())
	assert.EqualValues(t, callers-10, refused.Load())

	rows := f.db.UsagePeriods("employer-1", model.KeyContactUnlocksIncluded)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 10, rows[0].MetricValue)
}

func TestUnlimitedAllowanceSkipsUsageRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activate(t, "employer-1", "employer_unlimited", "ref-1")

	for i := 0; i < 25; i++ {
		res, err := f.engine.ConsumeIncluded(ctx, "employer-1", model.KeyContactUnlocksIncluded)
		require.NoError(t, err)
		assert.True(t, res.Consumed)
		assert.EqualValues(t, model.Unlimited, res.Remaining)
	}
	assert.Empty(t, f.db.UsagePeriods("employer-1", model.KeyContactUnlocksIncluded))

	d := f.engine.CheckGate(ctx, "employer-1", model.GateContactUnlock, model.GateParams{})
	assert.True(t, d.Allowed)
	assert.True(t, d.Unlimited)
	assert.Equal(t, model.DecisionIncluded, d.Source)
}

func TestFreeTierHasNoContactAllowance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	status, err := f.engine.Quota.Remaining(ctx, "employer-1", model.KeyContactUnlocksIncluded)
	require.NoError(t, err)
	assert.EqualValues(t, 0, status.Remaining)

	res, err := f.engine.ConsumeIncluded(ctx, "employer-1", model.KeyContactUnlocksIncluded)
	require.NoError(t, err)
	assert.False(t, res.Consumed)

	d := f.engine.CheckGate(ctx, "employer-1", model.GateContactUnlock, model.GateParams{})
	assert.Equal(t, model.DecisionCredits, d.Source)
}

func TestMissingPeriodRowMeansNothingRemains(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A pass written straight to the store has no period rows yet.
	p := f.products["employer_pro"]
	now := time.Now()
	_, _, err := f.store.Passes.Activate(ctx, model.ActivatePassInput{
		UserID: "employer-1", ProductID: p.ID, Scope: p.Scope, PurchaseRef: "direct",
		StartsAt: now.Add(-time.Hour), EndsAt: now.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	status, err := f.engine.Quota.Remaining(ctx, "employer-1", model.KeyContactUnlocksIncluded)
	require.NoError(t, err)
	assert.EqualValues(t, 10, status.Limit)
	assert.EqualValues(t, 0, status.Remaining)

	res, err := f.engine.ConsumeIncluded(ctx, "employer-1", model.KeyContactUnlocksIncluded)
	require.NoError(t, err)
	assert.False(t, res.Consumed)
}
