package journey

import (
	"testing"
	"time"

	"sagerspace-tracker/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func report(id string, alt, heading float64) models.PositionReport {
	return models.PositionReport{
		TrackID:        id,
		Serial:         "SN-" + id,
		Lat:            31.95,
		Lng:            35.91,
		AltitudeMeters: alt,
		HeadingDegrees: heading,
		DisplayName:    "Drone " + id,
	}
}

func newTestStore() *Store {
	return NewStore(Options{}, zap.NewNop())
}

func TestStore_Fold_CreatesJourney(t *testing.T) {
	s := newTestStore()
	now := time.UnixMilli(1_000)

	snap, stats := s.Fold([]models.PositionReport{report("JO-B001", 120, 90)}, now)

	require.Equal(t, 1, snap.Len())
	j, ok := snap.Get("JO-B001")
	require.True(t, ok)
	assert.Len(t, j.History, 1)
	assert.Equal(t, j.History[0], j.Current)
	assert.Equal(t, int64(1_000), j.LastUpdatedEpochMs)
	assert.Equal(t, int64(1_000), j.FirstSeenEpochMs)
	assert.Equal(t, FoldStats{Accepted: 1, Created: 1}, stats)
}

func TestStore_Fold_AppendsHistoryInOrder(t *testing.T) {
	s := newTestStore()
	s.Fold([]models.PositionReport{report("JO-B001", 120, 90)}, time.UnixMilli(1_000))

	second := report("JO-B001", 125, 95)
	third := report("JO-B001", 130, 100)
	snap, _ := s.Fold([]models.PositionReport{second, third}, time.UnixMilli(2_000))

	j, _ := snap.Get("JO-B001")
	require.Len(t, j.History, 3)
	assert.Equal(t, third, j.Current)
	assert.Equal(t, third, j.History[len(j.History)-1])
	assert.Equal(t, second, j.History[1])
	assert.Equal(t, int64(2_000), j.LastUpdatedEpochMs)
	assert.Equal(t, int64(1_000), j.FirstSeenEpochMs)
}

func TestStore_Fold_ZeroAltitudeDeletesExisting(t *testing.T) {
	s := newTestStore()
	s.Fold([]models.PositionReport{report("JO-B001", 120, 90), report("JO-B001", 125, 95)}, time.UnixMilli(1_000))

	snap, stats := s.Fold([]models.PositionReport{report("JO-B001", 0, 95)}, time.UnixMilli(2_000))

	assert.False(t, snap.Has("JO-B001"))
	assert.Equal(t, 1, stats.Grounded)
	assert.Equal(t, 0, s.Len())
}

func TestStore_Fold_ZeroAltitudeFirstReportNeverCreates(t *testing.T) {
	s := newTestStore()

	snap, stats := s.Fold([]models.PositionReport{report("JO-B001", 0, 0)}, time.UnixMilli(1_000))

	assert.Equal(t, 0, snap.Len())
	assert.Equal(t, 0, stats.Created)
	assert.Equal(t, 0, stats.Grounded)
}

func TestStore_Fold_GroundedThenAirborneInSameBatch(t *testing.T) {
	s := newTestStore()
	s.Fold([]models.PositionReport{report("JO-B001", 120, 90)}, time.UnixMilli(1_000))

	relaunch := report("JO-B001", 15, 180)
	snap, _ := s.Fold([]models.PositionReport{report("JO-B001", 0, 90), relaunch}, time.UnixMilli(2_000))

	j, ok := snap.Get("JO-B001")
	require.True(t, ok)
	assert.Len(t, j.History, 1, "landing discards the old history")
	assert.Equal(t, relaunch, j.Current)
}

func TestStore_Fold_DropsMalformed(t *testing.T) {
	s := newTestStore()
	bad := report("", 100, 0)
	offMap := report("JO-R002", 100, 0)
	offMap.Lat = 123

	snap, stats := s.Fold([]models.PositionReport{bad, offMap, report("JO-B001", 50, 0)}, time.UnixMilli(1_000))

	assert.Equal(t, []string{"JO-B001"}, snap.IDs())
	assert.Equal(t, 2, stats.Rejected)
	assert.Equal(t, 1, stats.Accepted)
}

func TestStore_Fold_EmptyBatchIsNoop(t *testing.T) {
	s := newTestStore()
	s.Fold([]models.PositionReport{report("JO-B001", 120, 90)}, time.UnixMilli(1_000))

	snap, stats := s.Fold(nil, time.UnixMilli(5_000))

	assert.Equal(t, FoldStats{}, stats)
	j, _ := snap.Get("JO-B001")
	assert.Equal(t, int64(1_000), j.LastUpdatedEpochMs)
}

func TestStore_Fold_LastUpdatedNeverRegresses(t *testing.T) {
	s := newTestStore()
	s.Fold([]models.PositionReport{report("JO-B001", 120, 90)}, time.UnixMilli(5_000))

	snap, _ := s.Fold([]models.PositionReport{report("JO-B001", 121, 90)}, time.UnixMilli(4_000))

	j, _ := snap.Get("JO-B001")
	assert.Equal(t, int64(5_000), j.LastUpdatedEpochMs)
	assert.Len(t, j.History, 2)
}

func TestStore_HistoryMonotonicAcrossFolds(t *testing.T) {
	s := newTestStore()
	prev := 0
	for i := 0; i < 20; i++ {
		snap, _ := s.Fold([]models.PositionReport{report("JO-B001", float64(100+i), float64(i))}, time.UnixMilli(int64(i*100)))
		j, ok := snap.Get("JO-B001")
		require.True(t, ok)
		require.GreaterOrEqual(t, len(j.History), prev)
		require.Equal(t, j.History[len(j.History)-1], j.Current)
		prev = len(j.History)
	}
	assert.Equal(t, 20, prev)
}

func TestStore_Sweep_RemovesStale(t *testing.T) {
	s := newTestStore()
	s.Fold([]models.PositionReport{report("JO-R002", 80, 0)}, time.UnixMilli(0))
	s.Fold([]models.PositionReport{report("JO-B001", 80, 0)}, time.UnixMilli(25_000))

	snap, evicted := s.Sweep(time.UnixMilli(30_000), 30*time.Second)

	assert.Equal(t, []string{"JO-R002"}, evicted)
	assert.Equal(t, []string{"JO-B001"}, snap.IDs())
}

func TestStore_Sweep_Idempotent(t *testing.T) {
	s := newTestStore()
	s.Fold([]models.PositionReport{report("JO-R002", 80, 0), report("JO-B001", 80, 0)}, time.UnixMilli(0))
	s.Fold([]models.PositionReport{report("JO-B001", 80, 0)}, time.UnixMilli(20_000))

	now := time.UnixMilli(35_000)
	first, _ := s.Sweep(now, 30*time.Second)
	second, evicted := s.Sweep(now, 30*time.Second)

	assert.Equal(t, first.IDs(), second.IDs())
	assert.Empty(t, evicted)
}

// 航迹在 T 时刻最后更新，则 T+window+interval 及之后的任何快照中都不存在
func TestStore_EvictionLiveness(t *testing.T) {
	window := 30 * time.Second
	interval := window / 3

	for offset := time.Duration(0); offset < interval; offset += 1700 * time.Millisecond {
		s := newTestStore()
		touched := time.UnixMilli(0).Add(offset)
		s.Fold([]models.PositionReport{report("JO-R002", 90, 0)}, touched)

		deadline := touched.Add(window + interval)
		var snap models.Snapshot
		for tick := interval; !time.UnixMilli(0).Add(tick).After(deadline); tick += interval {
			snap, _ = s.Sweep(time.UnixMilli(0).Add(tick), window)
		}
		assert.False(t, snap.Has("JO-R002"), "offset %s", offset)
	}
}

func TestStore_Sweep_SelfHealsEmptyHistory(t *testing.T) {
	s := newTestStore()
	s.journeys["JO-X"] = &models.Journey{TrackID: "JO-X", LastUpdatedEpochMs: 10_000}

	snap, evicted := s.Sweep(time.UnixMilli(10_000), 30*time.Second)

	assert.Equal(t, []string{"JO-X"}, evicted)
	assert.Equal(t, 0, snap.Len())
}

func TestStore_Sweep_DebugPanicsOnEmptyHistory(t *testing.T) {
	s := NewStore(Options{Debug: true}, zap.NewNop())
	s.journeys["JO-X"] = &models.Journey{TrackID: "JO-X"}

	assert.Panics(t, func() {
		s.Sweep(time.UnixMilli(0), 30*time.Second)
	})
}

func TestStore_SnapshotUnaffectedByLaterFolds(t *testing.T) {
	s := newTestStore()
	before, _ := s.Fold([]models.PositionReport{report("JO-B001", 120, 90)}, time.UnixMilli(1_000))

	s.Fold([]models.PositionReport{report("JO-B001", 130, 90), report("JO-R002", 10, 0)}, time.UnixMilli(2_000))
	s.Fold([]models.PositionReport{report("JO-B001", 0, 90)}, time.UnixMilli(3_000))

	j, ok := before.Get("JO-B001")
	require.True(t, ok)
	assert.Len(t, j.History, 1)
	assert.Equal(t, 1, before.Len())
}
