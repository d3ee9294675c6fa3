package quota

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porticohq/portico/internal/store"
	"github.com/porticohq/portico/internal/usage"
)

const testSigningKey = "test-signing-key-0123456789abcdef"

func newTestLedger(t *testing.T, tier string, opts ...Option) (*Ledger, *usage.Store) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, db.CreateTenant(ctx, "acme", "Acme", tier))
	require.NoError(t, db.CreateSubject(ctx, "sub_1", "acme", "a@acme.test"))

	usageStore, err := usage.NewStore(db.SQL(), testSigningKey)
	require.NoError(t, err)

	return NewLedger(db, usageStore, DefaultTiers(), opts...), usageStore
}

func appendN(t *testing.T, us *usage.Store, subjectID string, n int, ts time.Time) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		require.NoError(t, us.Append(ctx, &usage.Record{
			ID:        uuid.NewString(),
			SubjectID: subjectID,
			TenantID:  "acme",
			Tokens:    10,
			Success:   true,
			Timestamp: ts,
		}))
	}
}

func TestCheckAndReserve_Allowed(t *testing.T) {
	ledger, us := newTestLedger(t, "free")
	appendN(t, us, "sub_1", 5, time.Now().UTC())

	d, err := ledger.CheckAndReserve(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, TierFree, d.Tier)
	assert.Equal(t, 5, d.Used)
	assert.Equal(t, 100, d.Limit)
	assert.Equal(t, 95, d.Remaining)
	assert.Equal(t, "acme", d.TenantID)
}

func TestCheckAndReserve_Exhausted(t *testing.T) {
	ledger, us := newTestLedger(t, "free")
	appendN(t, us, "sub_1", 100, time.Now().UTC())

	d, err := ledger.CheckAndReserve(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 100, d.Used)
	assert.Equal(t, 0, d.Remaining)
}

func TestCheckAndReserve_OldUsageOutsideWindow(t *testing.T) {
	ledger, us := newTestLedger(t, "free")
	appendN(t, us, "sub_1", 100, time.Now().UTC().Add(-25*time.Hour))

	d, err := ledger.CheckAndReserve(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Used)
}

func TestCheckAndReserve_UnknownSubject(t *testing.T) {
	ledger, _ := newTestLedger(t, "free")
	_, err := ledger.CheckAndReserve(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrSubjectNotFound)
}

func TestCheckAndReserve_UnknownTierFallsBackToFree(t *testing.T) {
	ledger, _ := newTestLedger(t, "gold-plated")
	d, err := ledger.CheckAndReserve(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, 100, d.Limit)
}

func TestResetAt_NextUTCMidnight(t *testing.T) {
	ledger, _ := newTestLedger(t, "standard")
	d, err := ledger.Status(context.Background(), "sub_1")
	require.NoError(t, err)

	assert.Equal(t, 0, d.ResetAt.Hour())
	assert.Equal(t, 0, d.ResetAt.Minute())
	assert.True(t, d.ResetAt.After(time.Now().UTC()))
	assert.LessOrEqual(t, time.Until(d.ResetAt), 24*time.Hour)
}

func TestNextUTCMidnight_IdempotentAtBoundary(t *testing.T) {
	midnight := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, midnight.Add(24*time.Hour), nextUTCMidnight(midnight))
	assert.Equal(t, midnight, nextUTCMidnight(midnight.Add(-time.Second)))
}

func TestUsedMonotonicWithinWindow(t *testing.T) {
	ledger, us := newTestLedger(t, "free")
	ctx := context.Background()

	var prev int
	for i := 0; i < 5; i++ {
		appendN(t, us, "sub_1", 1, time.Now().UTC())
		d, err := ledger.Status(ctx, "sub_1")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, d.Used, prev)
		prev = d.Used
	}
	assert.Equal(t, 5, prev)
}

func TestBurstLimit(t *testing.T) {
	ledger, _ := newTestLedger(t, "free", WithBurstLimit(1, 2))
	ctx := context.Background()

	_, err := ledger.CheckAndReserve(ctx, "sub_1")
	require.NoError(t, err)
	_, err = ledger.CheckAndReserve(ctx, "sub_1")
	require.NoError(t, err)
	_, err = ledger.CheckAndReserve(ctx, "sub_1")
	assert.ErrorIs(t, err, ErrBurstExceeded)
}

func TestTierCacheServesStaleWithinTTL(t *testing.T) {
	ledger, _ := newTestLedger(t, "free", WithCacheTTL(time.Hour))
	ctx := context.Background()

	d, err := ledger.Status(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, TierFree, d.Tier)

	// Tier changes in the store are not observed until the cache expires.
	_, err = ledger.db.SQL().Exec(`UPDATE tenants SET tier = 'premium' WHERE id = 'acme'`)
	require.NoError(t, err)

	d, err = ledger.Status(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, TierFree, d.Tier)
}

func TestLoadTiers_Override(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/tiers.yaml"
	require.NoError(t, writeFile(path, `
tiers:
  premium:
    requests_per_day: 5000
    model: gpt-4o
`))

	table, err := LoadTiers(path)
	require.NoError(t, err)
	assert.Equal(t, 5000, table[TierPremium].RequestsPerDay)
	// Unset fields keep defaults.
	assert.Equal(t, 4096, table[TierPremium].MaxTokensPerRequest)
	assert.Equal(t, 100, table[TierFree].RequestsPerDay)
}

func TestLoadTiers_UnknownTier(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/tiers.yaml"
	require.NoError(t, writeFile(path, "tiers:\n  platinum:\n    requests_per_day: 1\n"))

	_, err := LoadTiers(path)
	assert.Error(t, err)
}
