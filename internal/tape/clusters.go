package tape

import (
	"math"
	"time"

	"github.com/rmonteiro-dev/tapeflow/pkg/models"
)

// clusterTracker merges ticks into price-proximate, time-bounded volume
// clusters. Owned by the tape engine; serialization comes from the engine
// mutex.
type clusterTracker struct {
	distance         float64
	window           time.Duration
	maxClusters      int
	absorptionShare  float64
	absorptionVolume float64
	clusters         []*models.VolumeCluster
}

func newClusterTracker(distance float64, window time.Duration, maxClusters int, absorptionShare, absorptionVolume float64) *clusterTracker {
	return &clusterTracker{
		distance:         distance,
		window:           window,
		maxClusters:      maxClusters,
		absorptionShare:  absorptionShare,
		absorptionVolume: absorptionVolume,
	}
}

// add accumulates the tick into an existing cluster within the price distance
// and recency window, or starts a new one. Returns the touched cluster.
func (c *clusterTracker) add(price, volume, priceChange, buySplit float64, now time.Time) *models.VolumeCluster {
	var target *models.VolumeCluster
	for i := len(c.clusters) - 1; i >= 0; i-- {
		cluster := c.clusters[i]
		if math.Abs(cluster.Price-price) <= c.distance && now.Sub(cluster.EndTime) <= c.window {
			target = cluster
			break
		}
	}

	if target == nil {
		target = &models.VolumeCluster{
			Price:     price,
			StartTime: now,
		}
		c.clusters = append(c.clusters, target)
		if len(c.clusters) > c.maxClusters {
			c.clusters = c.clusters[len(c.clusters)-c.maxClusters:]
		}
	}

	buyShare := 0.5
	switch {
	case priceChange > 0:
		buyShare = buySplit
	case priceChange < 0:
		buyShare = 1 - buySplit
	}

	target.Volume += volume
	target.BuyVolume += volume * buyShare
	target.SellVolume += volume * (1 - buyShare)
	target.EndTime = now
	c.refreshAbsorption(target)

	return target
}

// refreshAbsorption re-evaluates the cluster's absorption flag: one side must
// hold at least the configured share of total volume and the cluster must be
// large enough to matter.
func (c *clusterTracker) refreshAbsorption(cluster *models.VolumeCluster) {
	if cluster.Volume <= c.absorptionVolume {
		cluster.Absorption = false
		return
	}
	buyShare := cluster.BuyVolume / cluster.Volume
	cluster.Absorption = buyShare >= c.absorptionShare || (1-buyShare) >= c.absorptionShare
}

// recent returns copies of clusters last touched inside the given window,
// newest last.
func (c *clusterTracker) recent(now time.Time, window time.Duration) []models.VolumeCluster {
	out := make([]models.VolumeCluster, 0, len(c.clusters))
	for _, cluster := range c.clusters {
		if now.Sub(cluster.EndTime) <= window {
			out = append(out, *cluster)
		}
	}
	return out
}

// largestNonAbsorbed returns the biggest cluster in the window that has not
// been flagged as absorption, with ok=false when none qualifies.
func (c *clusterTracker) largestNonAbsorbed(now time.Time, window time.Duration) (models.VolumeCluster, bool) {
	var best *models.VolumeCluster
	for _, cluster := range c.clusters {
		if cluster.Absorption || now.Sub(cluster.EndTime) > window {
			continue
		}
		if best == nil || cluster.Volume > best.Volume {
			best = cluster
		}
	}
	if best == nil {
		return models.VolumeCluster{}, false
	}
	return *best, true
}

func (c *clusterTracker) size() int {
	return len(c.clusters)
}
