package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/layer-3/clearway/adapters/store"
	"github.com/layer-3/clearway/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type poolFixture struct {
	pool     *TokenPool
	store    *store.MemoryStore
	events   *fakeEvents
	notifier *fakeNotifier
	clock    *clock.Mock
}

func newPool(t *testing.T, threshold int) *poolFixture {
	t.Helper()
	f := &poolFixture{
		store:    store.NewMemoryStore(),
		events:   &fakeEvents{},
		notifier: &fakeNotifier{},
		clock:    clock.NewMock(),
	}
	f.clock.Set(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	f.pool = NewTokenPool(f.store, f.events, f.notifier, f.clock, zerolog.Nop(), threshold)
	return f
}

func (f *poolFixture) add(t *testing.T, id string, tier core.Tier, quotas map[core.Capability]int) {
	t.Helper()
	_, err := f.pool.Add(context.Background(), id, tier)
	require.NoError(t, err)
	for c, q := range quotas {
		require.NoError(t, f.pool.UpdateQuota(context.Background(), id, c, q))
	}
}

func (f *poolFixture) token(t *testing.T, id string) core.Token {
	t.Helper()
	for _, tok := range f.pool.List() {
		if tok.ID == id {
			return tok
		}
	}
	t.Fatalf("token %s not in pool", id)
	return core.Token{}
}

func TestSelectRanking(t *testing.T) {
	f := newPool(t, 3)
	f.add(t, "b-low", core.TierStandard, map[core.Capability]int{core.CapabilityStandard: 2})
	f.add(t, "a-high", core.TierStandard, map[core.Capability]int{core.CapabilityStandard: 9})
	f.add(t, "c-high", core.TierStandard, map[core.Capability]int{core.CapabilityStandard: 9})

	tok, err := f.pool.Select(core.CapabilityStandard)
	require.NoError(t, err)
	assert.Equal(t, "a-high", tok.ID, "highest remaining, ties by ID")

	f.add(t, "z-unused", core.TierStandard, nil)
	tok, err = f.pool.Select(core.CapabilityStandard)
	require.NoError(t, err)
	assert.Equal(t, "z-unused", tok.ID, "unused outranks any finite quota")
}

func TestSelectSkipsExhaustedAndExpired(t *testing.T) {
	f := newPool(t, 1)
	f.add(t, "empty", core.TierStandard, map[core.Capability]int{core.CapabilityStandard: 0})
	f.add(t, "dead", core.TierStandard, nil)
	require.NoError(t, f.pool.RecordFailure(context.Background(), "dead", http.StatusUnauthorized, "token blocked/invalid"))

	_, err := f.pool.Select(core.CapabilityStandard)
	assert.ErrorIs(t, err, core.ErrNoTokenAvailable)
}

func TestSelectTierRules(t *testing.T) {
	f := newPool(t, 3)
	f.add(t, "std", core.TierStandard, map[core.Capability]int{core.CapabilityStandard: 0, core.CapabilityHeavy: 50})
	f.add(t, "elev", core.TierElevated, map[core.Capability]int{core.CapabilityStandard: 5})

	tok, err := f.pool.Select(core.CapabilityStandard)
	require.NoError(t, err)
	assert.Equal(t, "elev", tok.ID, "standard falls back to elevated")

	tok, err = f.pool.Select(core.CapabilityHeavy)
	require.NoError(t, err)
	assert.Equal(t, "elev", tok.ID, "heavy is elevated only")

	require.NoError(t, f.pool.UpdateQuota(context.Background(), "elev", core.CapabilityHeavy, 0))
	_, err = f.pool.Select(core.CapabilityHeavy)
	assert.ErrorIs(t, err, core.ErrNoTokenAvailable)
}

func TestSelectEmptyPool(t *testing.T) {
	f := newPool(t, 3)
	_, err := f.pool.Select(core.CapabilityStandard)
	assert.ErrorIs(t, err, core.ErrNoTokenAvailable)
}

func TestRecordFailureUnauthorizedExpires(t *testing.T) {
	f := newPool(t, 2)
	f.add(t, "abc", core.TierStandard, nil)
	ctx := context.Background()

	require.NoError(t, f.pool.RecordFailure(ctx, "sso-rw=abc;sso=abc", http.StatusUnauthorized, "token blocked/invalid"))
	tok := f.token(t, "abc")
	assert.Equal(t, 1, tok.FailureCount)
	assert.Equal(t, core.TokenStatusActive, tok.Status)
	require.NotNil(t, tok.LastFailureTime)
	assert.True(t, f.clock.Now().Equal(*tok.LastFailureTime))

	require.NoError(t, f.pool.RecordFailure(ctx, "abc", http.StatusUnauthorized, "token blocked/invalid"))
	tok = f.token(t, "abc")
	assert.Equal(t, 2, tok.FailureCount)
	assert.Equal(t, core.TokenStatusExpired, tok.Status)
	assert.Equal(t, []string{"abc"}, f.events.expired)

	stored, err := f.store.LoadTokens(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, core.TokenStatusExpired, stored[0].Status)
}

func TestRecordFailureForbiddenNotifiesOnly(t *testing.T) {
	f := newPool(t, 1)
	f.add(t, "abc", core.TierStandard, nil)

	require.NoError(t, f.pool.RecordFailure(context.Background(), "abc", http.StatusForbidden, "egress blocked"))
	f.pool.Wait()

	tok := f.token(t, "abc")
	assert.Equal(t, 0, tok.FailureCount)
	assert.Nil(t, tok.LastFailureTime)
	assert.Equal(t, core.TokenStatusActive, tok.Status)
	assert.EqualValues(t, 1, f.notifier.calls.Load())
}

func TestRecordFailureOtherStatusKeepsCount(t *testing.T) {
	f := newPool(t, 1)
	f.add(t, "abc", core.TierStandard, nil)

	require.NoError(t, f.pool.RecordFailure(context.Background(), "abc", http.StatusBadGateway, "upstream error"))
	tok := f.token(t, "abc")
	assert.Equal(t, 0, tok.FailureCount)
	assert.Equal(t, "upstream error", tok.LastFailureReason)
	assert.NotNil(t, tok.LastFailureTime)
	assert.Equal(t, core.TokenStatusActive, tok.Status)
}

func TestRecordFailureUnknownToken(t *testing.T) {
	f := newPool(t, 1)
	err := f.pool.RecordFailure(context.Background(), "ghost", http.StatusUnauthorized, "x")
	assert.ErrorIs(t, err, core.ErrTokenNotFound)
}

func TestRecordDenial(t *testing.T) {
	f := newPool(t, 3)
	f.add(t, "abc", core.TierStandard, nil)
	ctx := context.Background()

	blocked := &core.DenialError{
		StatusCode: http.StatusForbidden,
		Kind:       core.ClassifyDenial(http.StatusForbidden, []byte(`{"error":"User is blocked"}`)),
	}
	require.NoError(t, f.pool.RecordDenial(ctx, "abc", core.CapabilityStandard, blocked))
	assert.Equal(t, 1, f.token(t, "abc").FailureCount)
	assert.Equal(t, "token blocked/invalid", f.token(t, "abc").LastFailureReason)

	challenge := &core.DenialError{
		StatusCode: http.StatusForbidden,
		Kind:       core.ClassifyDenial(http.StatusForbidden, []byte(`<html>Just a moment...</html>`)),
	}
	require.NoError(t, f.pool.RecordDenial(ctx, "abc", core.CapabilityStandard, challenge))
	f.pool.Wait()
	assert.Equal(t, 1, f.token(t, "abc").FailureCount, "challenge blocks never touch the count")
	assert.EqualValues(t, 1, f.notifier.calls.Load())

	limited := &core.DenialError{StatusCode: http.StatusTooManyRequests, Kind: core.DenialRateLimited}
	require.NoError(t, f.pool.RecordDenial(ctx, "abc", core.CapabilityStandard, limited))
	tok := f.token(t, "abc")
	assert.Equal(t, 0, tok.Remaining(core.CapabilityStandard))
	assert.Equal(t, 1, tok.FailureCount)
}

func TestResetFailureKeepsStatus(t *testing.T) {
	f := newPool(t, 1)
	f.add(t, "abc", core.TierStandard, nil)
	ctx := context.Background()

	require.NoError(t, f.pool.RecordFailure(ctx, "abc", http.StatusUnauthorized, "token blocked/invalid"))
	require.NoError(t, f.pool.ResetFailure(ctx, "abc"))

	tok := f.token(t, "abc")
	assert.Equal(t, 0, tok.FailureCount)
	assert.Nil(t, tok.LastFailureTime)
	assert.Empty(t, tok.LastFailureReason)
	assert.Equal(t, core.TokenStatusExpired, tok.Status)
}

func TestConsume(t *testing.T) {
	f := newPool(t, 3)
	f.add(t, "finite", core.TierStandard, map[core.Capability]int{core.CapabilityStandard: 2})
	f.add(t, "unused", core.TierStandard, nil)
	ctx := context.Background()

	f.pool.Consume(ctx, "finite", core.CapabilityStandard)
	f.pool.Consume(ctx, "finite", core.CapabilityStandard)
	f.pool.Consume(ctx, "finite", core.CapabilityStandard)
	assert.Equal(t, 0, f.token(t, "finite").Remaining(core.CapabilityStandard))

	f.pool.Consume(ctx, "unused", core.CapabilityStandard)
	assert.Equal(t, core.QuotaUnused, f.token(t, "unused").Remaining(core.CapabilityStandard))
}

func TestAddDeleteAndLoad(t *testing.T) {
	f := newPool(t, 3)
	ctx := context.Background()

	f.add(t, "abc", core.TierElevated, nil)
	_, err := f.pool.Add(ctx, "sso-rw=abc;sso=abc", core.TierStandard)
	assert.ErrorIs(t, err, core.ErrTokenExists)

	reloaded := NewTokenPool(f.store, nil, nil, f.clock, zerolog.Nop(), 3)
	require.NoError(t, reloaded.Load(ctx))
	require.Len(t, reloaded.List(), 1)
	assert.Equal(t, core.TierElevated, reloaded.List()[0].Tier)

	require.NoError(t, f.pool.Delete(ctx, "abc"))
	assert.ErrorIs(t, f.pool.Delete(ctx, "abc"), core.ErrTokenNotFound)
	assert.Empty(t, f.pool.List())
}

func TestCounts(t *testing.T) {
	f := newPool(t, 1)
	f.add(t, "a", core.TierStandard, nil)
	f.add(t, "b", core.TierStandard, nil)
	f.add(t, "c", core.TierElevated, nil)
	require.NoError(t, f.pool.RecordFailure(context.Background(), "b", http.StatusUnauthorized, "x"))

	counts := f.pool.Counts()
	assert.Equal(t, 1, counts[core.TierStandard][core.TokenStatusActive])
	assert.Equal(t, 1, counts[core.TierStandard][core.TokenStatusExpired])
	assert.Equal(t, 1, counts[core.TierElevated][core.TokenStatusActive])
}
