// Package stats aggregates metrics from many load test clients and prints a
// summary with percentile distributions.
package stats

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"time"
)

// Collector aggregates client metrics. All methods are goroutine-safe.
type Collector struct {
	mu          sync.Mutex
	latencies   map[string][]time.Duration
	counters    map[string]int
	errors      int
	connections int
	startTime   time.Time
}

// NewCollector creates a Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{
		latencies: make(map[string][]time.Duration),
		counters:  make(map[string]int),
		startTime: time.Now(),
	}
}

// AddConnect records a connected client with its onboarding and dial
// latencies.
func (c *Collector) AddConnect(onboard, connect time.Duration) {
	c.mu.Lock()
	c.latencies["onboard"] = append(c.latencies["onboard"], onboard)
	c.latencies["connect"] = append(c.latencies["connect"], connect)
	c.connections++
	c.mu.Unlock()
}

// AddLatency records one sample under name.
func (c *Collector) AddLatency(name string, d time.Duration) {
	c.mu.Lock()
	c.latencies[name] = append(c.latencies[name], d)
	c.mu.Unlock()
}

// Inc bumps the named counter.
func (c *Collector) Inc(name string) {
	c.mu.Lock()
	c.counters[name]++
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// ConnectionCount returns the number of recorded connections.
func (c *Collector) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

// ErrorCount returns the number of recorded errors.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Report prints the summary to stdout.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:     %s\n", time.Since(c.startTime).Round(time.Second))
	fmt.Printf("Connections:  %d\n", c.connections)
	fmt.Printf("Errors:       %d\n", c.errors)
	if c.connections > 0 {
		fmt.Printf("Error rate:   %.2f%%\n", float64(c.errors)/float64(c.connections)*100)
	}

	for _, name := range sortedKeys(c.counters) {
		fmt.Printf("%-13s %d\n", name+":", c.counters[name])
	}
	for _, name := range sortedKeys(c.latencies) {
		if len(c.latencies[name]) == 0 {
			continue
		}
		fmt.Printf("\n--- %s latency ---\n", name)
		printPercentiles(c.latencies[name])
	}
	fmt.Println()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func printPercentiles(durations []time.Duration) {
	slices.Sort(durations)

	n := len(durations)
	p50 := durations[n/2]
	p95 := durations[int(math.Ceil(float64(n)*0.95))-1]
	p99 := durations[int(math.Ceil(float64(n)*0.99))-1]

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	avg := sum / time.Duration(n)

	fmt.Printf("  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
		avg.Round(time.Microsecond),
		p50.Round(time.Microsecond),
		p95.Round(time.Microsecond),
		p99.Round(time.Microsecond),
		durations[n-1].Round(time.Microsecond),
		n,
	)
}
