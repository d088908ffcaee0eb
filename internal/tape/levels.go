package tape

import (
	"math"
	"sort"
	"time"

	"github.com/rmonteiro-dev/tapeflow/pkg/models"
)

// levelStore aggregates traded volume per tick-size bucket. It is owned by
// the tape engine and relies on the engine mutex for serialization; none of
// its methods lock.
type levelStore struct {
	tickSize  float64
	retention time.Duration
	levels    map[int64]*models.PriceLevel
}

func newLevelStore(tickSize float64, retention time.Duration) *levelStore {
	return &levelStore{
		tickSize:  tickSize,
		retention: retention,
		levels:    make(map[int64]*models.PriceLevel),
	}
}

// bucket maps a price onto its tick-size bucket key.
func (s *levelStore) bucket(price float64) int64 {
	return int64(math.Round(price / s.tickSize))
}

// rounded returns the bucket's representative price.
func (s *levelStore) rounded(price float64) float64 {
	return float64(s.bucket(price)) * s.tickSize
}

// add books an estimated volume contribution at the tick's price bucket,
// splitting it toward the direction implied by the priceChange sign. A flat
// tick splits evenly.
func (s *levelStore) add(price, volume, priceChange, buySplit float64, now time.Time) *models.PriceLevel {
	key := s.bucket(price)
	level, ok := s.levels[key]
	if !ok {
		level = &models.PriceLevel{Price: s.rounded(price)}
		s.levels[key] = level
	}

	buyShare := 0.5
	switch {
	case priceChange > 0:
		buyShare = buySplit
	case priceChange < 0:
		buyShare = 1 - buySplit
	}

	level.TotalVolume += volume
	level.BuyVolume += volume * buyShare
	level.SellVolume += volume * (1 - buyShare)
	level.Touches++
	level.LastActivity = now

	return level
}

// get returns the level at the given price, or nil when the bucket has never
// traded or has been evicted.
func (s *levelStore) get(price float64) *models.PriceLevel {
	return s.levels[s.bucket(price)]
}

// evict drops levels idle past the retention window.
func (s *levelStore) evict(now time.Time) {
	for key, level := range s.levels {
		if now.Sub(level.LastActivity) > s.retention {
			delete(s.levels, key)
		}
	}
}

// topByVolume returns copies of the n highest-volume levels, descending.
func (s *levelStore) topByVolume(n int) []models.PriceLevel {
	out := make([]models.PriceLevel, 0, len(s.levels))
	for _, level := range s.levels {
		out = append(out, *level)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TotalVolume > out[j].TotalVolume
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func (s *levelStore) size() int {
	return len(s.levels)
}
