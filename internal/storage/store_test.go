package storage

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rampq/internal/config"
	"rampq/internal/ramp"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleItem(id string, ts time.Time) HistoryItem {
	return HistoryItem{
		ID:        id,
		Timestamp: ts,
		Strategy:  "test",
		Report: ramp.Report{
			Timestamp: ts,
			Strategy:  config.Strategy{Name: "test", StartConcurrency: 2, MaxConcurrency: 4, StepSize: 2},
			Summary:   ramp.Summary{TotalBatches: 2, TotalTests: 6, MaxConcurrencyTested: 4},
		},
	}
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t)

	item := sampleItem("run-1", time.Now())
	require.NoError(t, s.Save(item))

	got, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, 2, got.Report.Summary.TotalBatches)
	assert.Equal(t, 4, got.Report.Summary.MaxConcurrencyTested)
}

func TestGetUnknown(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get("missing")
	assert.Error(t, err)
}

func TestGetByPrefix(t *testing.T) {
	s := openTestStore(t)

	now := time.Now()
	require.NoError(t, s.Save(sampleItem("a1b2c3d4-0000-0000-0000-000000000001", now)))
	require.NoError(t, s.Save(sampleItem("ffe0e1e2-0000-0000-0000-000000000002", now.Add(time.Second))))

	// The 8-char short ID printed by the history listing resolves.
	got, err := s.Get("a1b2c3d4")
	require.NoError(t, err)
	assert.Equal(t, "a1b2c3d4-0000-0000-0000-000000000001", got.ID)

	_, err = s.Get("")
	assert.Error(t, err)
}

func TestGetAmbiguousPrefix(t *testing.T) {
	s := openTestStore(t)

	now := time.Now()
	require.NoError(t, s.Save(sampleItem("aaaa-1111", now)))
	require.NoError(t, s.Save(sampleItem("aaaa-2222", now.Add(time.Second))))

	_, err := s.Get("aaaa")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")

	// An exact ID always wins, even when it prefixes nothing else.
	got, err := s.Get("aaaa-1111")
	require.NoError(t, err)
	assert.Equal(t, "aaaa-1111", got.ID)
}

func TestListNewestFirst(t *testing.T) {
	s := openTestStore(t)

	base := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Save(sampleItem(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Second))))
	}

	items := s.List()
	require.Len(t, items, 3)
	assert.Equal(t, "run-2", items[0].ID)
	assert.Equal(t, "run-0", items[2].ID)
}

func TestHistoryIsPruned(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < maxHistory+5; i++ {
		require.NoError(t, s.Save(sampleItem(fmt.Sprintf("run-%03d", i), time.Now())))
	}

	items := s.List()
	assert.Len(t, items, maxHistory)

	// The oldest entries are the ones dropped.
	_, err := s.Get("run-000")
	assert.Error(t, err)
	_, err = s.Get(fmt.Sprintf("run-%03d", maxHistory+4))
	assert.NoError(t, err)
}
