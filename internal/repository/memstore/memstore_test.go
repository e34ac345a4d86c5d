package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gatekeeper/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentDeductionsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	db := New()
	ledger := db.Store().Ledger

	_, _, err := ledger.Append(ctx, model.AppendCreditInput{UserID: "u1", Delta: 100, CreditType: model.CreditPurchase})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failed    int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := ledger.Append(ctx, model.AppendCreditInput{UserID: "u1", Delta: -10, CreditType: model.CreditContactUnlock})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			assert.True(t, errors.Is(err, model.ErrInsufficientFunds))
			failed++
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 40, failed)

	balance, err := ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, balance)

	var sum int64
	for i, e := range db.LedgerEntries("u1") {
		sum += e.Delta
		assert.EqualValues(t, i+1, e.Seq, "sequence must be dense")
		assert.Equal(t, sum, e.BalanceAfter, "balance_after must equal the running sum")
		assert.Equal(t, sum-e.Delta, e.BalanceBefore)
		assert.GreaterOrEqual(t, e.BalanceAfter, int64(0))
	}
}

func TestOncePerMonthAppend(t *testing.T) {
	ctx := context.Background()
	ledger := New().Store().Ledger
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	_, ok, err := ledger.Append(ctx, model.AppendCreditInput{UserID: "u1", Delta: 50, CreditType: model.CreditPlanAllocation, At: at, OncePerMonth: true})
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = ledger.Append(ctx, model.AppendCreditInput{UserID: "u1", Delta: 50, CreditType: model.CreditPlanAllocation, At: at.Add(48 * time.Hour), OncePerMonth: true})
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = ledger.Append(ctx, model.AppendCreditInput{UserID: "u1", Delta: 50, CreditType: model.CreditPlanAllocation, At: at.AddDate(0, 1, 0), OncePerMonth: true})
	require.NoError(t, err)
	assert.True(t, ok)

	balance, err := ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 100, balance)
}

func TestConcurrentConsumeStopsAtLimit(t *testing.T) {
	ctx := context.Background()
	usage := New().Store().Usage
	now := time.Now()
	require.NoError(t, usage.InitPeriods(ctx, []model.IncludedUsagePeriod{{
		UserID: "u1", ProductID: "p1", MetricKey: model.KeyContactUnlocksIncluded,
		PeriodStart: now.Add(-time.Hour), PeriodEnd: now.Add(time.Hour),
	}}))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		consumed int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := usage.Consume(ctx, "u1", "p1", model.KeyContactUnlocksIncluded, now, 10)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				consumed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, consumed)

	row, err := usage.Current(ctx, "u1", "p1", model.KeyContactUnlocksIncluded, now)
	require.NoError(t, err)
	assert.EqualValues(t, 10, row.MetricValue)
}

func TestInitPeriodsKeepsExistingCounts(t *testing.T) {
	ctx := context.Background()
	usage := New().Store().Usage
	now := time.Now()
	period := model.IncludedUsagePeriod{
		UserID: "u1", ProductID: "p1", MetricKey: "m",
		PeriodStart: now.Add(-time.Hour), PeriodEnd: now.Add(time.Hour),
	}
	require.NoError(t, usage.InitPeriods(ctx, []model.IncludedUsagePeriod{period}))
	_, ok, err := usage.Consume(ctx, "u1", "p1", "m", now, 5)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, usage.InitPeriods(ctx, []model.IncludedUsagePeriod{period}))
	row, err := usage.Current(ctx, "u1", "p1", "m", now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, row.MetricValue)
}

func TestActivatePassKeepsOneActivePerScope(t *testing.T) {
	ctx := context.Background()
	db := New()
	passes := db.Store().Passes
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := passes.Activate(ctx, model.ActivatePassInput{
				UserID: "u1", ProductID: "p1", Scope: model.ScopeEmployer,
				PurchaseRef: "ref-" + string(rune('a'+i)),
				StartsAt:    now, EndsAt: now.Add(24 * time.Hour),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, db.ActivePassCount("u1", model.ScopeEmployer))

	first, created, err := passes.Activate(ctx, model.ActivatePassInput{
		UserID: "u1", ProductID: "p1", Scope: model.ScopeEmployer, PurchaseRef: "ref-a",
		StartsAt: now, EndsAt: now.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, created, "replay must not create a second pass")
	assert.Equal(t, "ref-a", first.PurchaseRef)
	assert.Equal(t, 1, db.ActivePassCount("u1", model.ScopeEmployer))
}

func TestActivateWritesUsageRows(t *testing.T) {
	ctx := context.Background()
	db := New()
	store := db.Store()
	now := time.Now().Truncate(time.Second)

	pass, created, err := store.Passes.Activate(ctx, model.ActivatePassInput{
		UserID: "u1", ProductID: "p1", Scope: model.ScopeEmployer, PurchaseRef: "ref-1",
		StartsAt: now, EndsAt: now.Add(24 * time.Hour),
		Usage: []model.IncludedUsagePeriod{{
			UserID: "u1", ProductID: "p1", Scope: model.ScopeEmployer, MetricKey: model.KeyContactUnlocksIncluded,
		}},
	})
	require.NoError(t, err)
	require.True(t, created)

	row, err := store.Usage.Current(ctx, "u1", "p1", model.KeyContactUnlocksIncluded, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, model.ScopeEmployer, row.Scope)
	assert.EqualValues(t, 0, row.MetricValue)
	assert.True(t, row.PeriodStart.Equal(pass.StartsAt))
	assert.True(t, row.PeriodEnd.Equal(pass.EndsAt))
}

func TestExpireDue(t *testing.T) {
	ctx := context.Background()
	passes := New().Store().Passes
	now := time.Now()
	_, _, err := passes.Activate(ctx, model.ActivatePassInput{
		UserID: "u1", ProductID: "p1", Scope: model.ScopeVendor, PurchaseRef: "r1",
		StartsAt: now.Add(-48 * time.Hour), EndsAt: now.Add(-time.Hour),
	})
	require.NoError(t, err)

	users, err := passes.ExpireDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, users)

	live, err := passes.ListLive(ctx, "u1", now)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestFailWith(t *testing.T) {
	db := New()
	db.FailWith(model.ErrStoreUnavailable)
	_, err := db.Store().Ledger.Balance(context.Background(), "u1")
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)

	db.FailWith(nil)
	_, err = db.Store().Ledger.Balance(context.Background(), "u1")
	assert.NoError(t, err)
}
