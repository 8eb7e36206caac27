package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"combine-guard-go/enforce"
	"combine-guard-go/risk"
)

func newTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := NewSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestActionRoundTrip(t *testing.T) {
	t.Parallel()

	j := newTestJournal(t)

	issued := time.Date(2026, 3, 4, 14, 30, 0, 0, time.UTC)
	resolved := issued.Add(750 * time.Millisecond)
	a := enforce.Action{
		ID:         NewBreachID(issued),
		AccountID:  "acct-1",
		Kind:       enforce.KindAutoFlat,
		Rule:       risk.RuleOpenRiskCap,
		Symbol:     "GCZ25",
		Cooldown:   0,
		IssuedAt:   issued,
		ResolvedAt: resolved,
		Outcome:    enforce.OutcomeApplied,
		Attempts:   2,
		LastError:  "timeout",
	}
	require.NoError(t, j.AppendAction(a))

	got, err := j.ActionsFor("acct-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, enforce.KindAutoFlat, got[0].Kind)
	assert.Equal(t, risk.RuleOpenRiskCap, got[0].Rule)
	assert.Equal(t, "GCZ25", got[0].Symbol)
	assert.False(t, got[0].Permanent)
	assert.Equal(t, enforce.OutcomeApplied, got[0].Outcome)
	assert.Equal(t, 2, got[0].Attempts)
	assert.Equal(t, "timeout", got[0].LastError)
	assert.True(t, got[0].IssuedAt.Equal(issued))
	assert.True(t, got[0].ResolvedAt.Equal(resolved))
}

func TestPendingActionHasNullResolvedAt(t *testing.T) {
	t.Parallel()

	j := newTestJournal(t)

	issued := time.Date(2026, 3, 4, 14, 30, 0, 0, time.UTC)
	a := enforce.Action{
		ID:        NewBreachID(issued),
		AccountID: "acct-1",
		Kind:      enforce.KindDisable,
		Rule:      risk.RuleDailyLoss,
		Permanent: true,
		IssuedAt:  issued,
		Outcome:   enforce.OutcomePending,
	}
	require.NoError(t, j.AppendAction(a))

	got, err := j.ActionsFor("acct-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].ResolvedAt.IsZero())
	assert.True(t, got[0].Permanent)
}

func TestRecentBreachesOrderedNewestFirst(t *testing.T) {
	t.Parallel()

	j := newTestJournal(t)

	base := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, j.AppendBreach(BreachRecord{
			AccountID: "acct-1",
			Rule:      risk.RuleDailyLoss,
			Status:    risk.StatusBreach,
			Detail:    "loss cap exceeded",
			At:        base.Add(time.Duration(i) * time.Minute),
		}))
	}
	// Another account's breaches never leak into the query.
	require.NoError(t, j.AppendBreach(BreachRecord{
		AccountID: "acct-2",
		Rule:      risk.RuleConnectivity,
		Status:    risk.StatusBreach,
		At:        base,
	}))

	got, err := j.RecentBreaches("acct-1", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].At.After(got[1].At))
	assert.True(t, got[1].At.After(got[2].At))
	for _, b := range got {
		assert.Equal(t, "acct-1", b.AccountID)
		assert.Equal(t, risk.StatusBreach, b.Status)
		assert.NotEmpty(t, b.ID)
	}
}

func TestBreachStatusRoundTrip(t *testing.T) {
	t.Parallel()

	j := newTestJournal(t)

	at := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	require.NoError(t, j.AppendBreach(BreachRecord{
		AccountID: "acct-1", Rule: risk.RuleScalingLimit, Status: risk.StatusWarning, At: at,
	}))

	got, err := j.RecentBreaches("acct-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, risk.StatusWarning, got[0].Status)
	assert.Equal(t, risk.RuleScalingLimit, got[0].Rule)
}
