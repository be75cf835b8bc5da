package stats

import (
	"bufio"
	"context"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

const (
	BYTE = 1 << (10 * iota)
	KILOBYTE
	MEGABYTE
	GIGABYTE
)

// OpenTradesFunc returns the number of open trades of a node.
type OpenTradesFunc func() int

// EnableStatistics starts a goroutine that periodically logs memory usage,
// goroutines and open trades of every node. When ctx is done the default
// prometheus metrics are appended to dumpPath, if not empty.
func EnableStatistics(
	ctx context.Context, interval time.Duration, dumpPath string,
	openTrades map[string]OpenTradesFunc,
) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				PrintMemoryStatistics()
				PrintNumOfRoutines()
				PrintOpenTrades(openTrades)
			case <-ctx.Done():
				if dumpPath == "" {
					return
				}
				if err := DumpPrometheusDefaults(dumpPath); err != nil {
					log.WithError(err).Warn("failed to dump metrics")
				}
				return
			}
		}
	}()
}

// RegisterOpenTradesGauge exposes the open trades of a node as a gauge.
func RegisterOpenTradesGauge(
	reg prometheus.Registerer, node string, openTrades OpenTradesFunc,
) error {
	return reg.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   "escrow",
			Name:        "open_trades",
			Help:        "Number of trades not yet archived.",
			ConstLabels: prometheus.Labels{"node": node},
		},
		func() float64 { return float64(openTrades()) },
	))
}

func toMegabytes(bytes uint64) float64 {
	return float64(bytes) / MEGABYTE
}

// PrintMemoryStatistics prints memory statistics using go runtime library.
func PrintMemoryStatistics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	log.Infof(
		"Total allocated: %.3fMB, Heap allocated: %.3fMB, "+
			"Allocated objects count: %v, Freed objects count: %v",
		toMegabytes(memStats.TotalAlloc),
		toMegabytes(memStats.HeapAlloc),
		memStats.Mallocs,
		memStats.Frees,
	)
}

// PrintOpenTrades prints the number of open trades per node.
func PrintOpenTrades(openTrades map[string]OpenTradesFunc) {
	for node, count := range openTrades {
		log.WithField("node", node).Infof("Open trades: %d", count())
	}
}

// DumpPrometheusDefaults appends default Prometheus metrics to the given file.
func DumpPrometheusDefaults(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	defer file.Close()
	writer := bufio.NewWriter(file)

	metricFamily, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return err
	}
	for _, v := range metricFamily {
		if _, err := writer.WriteString(v.String() + "\n"); err != nil {
			return err
		}
	}
	return writer.Flush()
}

// PrintNumOfRoutines prints number of go routines currently running
func PrintNumOfRoutines() {
	log.Infof("Num of go routines: %v", runtime.NumGoroutine())
}
