package demsample

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blockCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demsample_block_cache_hits_total",
		Help: "The total number of hits on the GeoTIFF block cache",
	})
	blockCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demsample_block_cache_misses_total",
		Help: "The total number of misses on the GeoTIFF block cache",
	})
	pointsSampled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demsample_points_sampled_total",
		Help: "The total number of points sampled",
	})
	pointsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demsample_points_skipped_total",
		Help: "The total number of points skipped because they could not be sampled",
	})
	filesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "demsample_files_processed_total",
		Help: "The total number of input files processed, by result",
	}, []string{"result"})
)
