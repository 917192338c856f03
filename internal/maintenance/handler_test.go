package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"skin-accounts/internal/account"
	"skin-accounts/internal/guard"
)

type batchStore struct {
	remaining int64
	timeouts  int64
	calls     int
	nows      []int64
	err       error
}

func (s *batchStore) ResetRollingCounters(ctx context.Context, now int64, batchSize int) (account.ResetResult, error) {
	s.calls++
	s.nows = append(s.nows, now)
	if s.err != nil {
		return account.ResetResult{}, s.err
	}
	n := min(s.remaining, int64(batchSize))
	s.remaining -= n
	cleared := min(s.timeouts, n)
	s.timeouts -= cleared
	return account.ResetResult{ResetAccounts: n, ClearedTimeouts: cleared}, nil
}

func TestResetRunsUntilBatchIsShort(t *testing.T) {
	store := &batchStore{remaining: 25, timeouts: 3}
	core, logs := observer.New(zap.InfoLevel)
	h := NewResetHandler(store, zap.New(core), 10)
	h.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodPost, "/internal/maintenance/reset-counters", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out resetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "ok", out.Status)
	require.Equal(t, 3, out.Batches)
	require.Equal(t, int64(25), out.Result.ResetAccounts)
	require.Equal(t, int64(3), out.Result.ClearedTimeouts)
	require.Equal(t, []int64{1_700_000_000, 1_700_000_000, 1_700_000_000}, store.nows)

	require.Equal(t, 1, logs.FilterMessage("counter_reset_completed").Len())
}

func TestResetExactMultipleStopsOnEmptyBatch(t *testing.T) {
	store := &batchStore{remaining: 20}
	h := NewResetHandler(store, nil, 10)

	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodPost, "/internal/maintenance/reset-counters", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 3, store.calls)
}

func TestResetFailure(t *testing.T) {
	store := &batchStore{err: errors.New("db down")}
	h := NewResetHandler(store, nil, 10)

	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodPost, "/internal/maintenance/reset-counters", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"reset failed"}`, rec.Body.String())
}

func TestResetBehindGuard(t *testing.T) {
	store := &batchStore{remaining: 1}
	route := guard.Middleware("maintenance-secret", http.HandlerFunc(NewResetHandler(store, nil, 10).Handle))

	rec := httptest.NewRecorder()
	route.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/maintenance/reset-counters", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, store.calls)

	token, err := guard.IssueMaintenanceToken("maintenance-secret", "cron", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/reset-counters", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	route.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, store.calls)
}
