package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nearby/radar/loadtest/client"
	"github.com/nearby/radar/loadtest/stats"
)

// runSaturate onboards and connects sessions at a steady rate, optionally
// subscribes each to its radar, then holds them open while counting drops.
// Rate limiting on POST /session must be off or raised for large runs.
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	api := fs.String("api", "http://localhost:8080", "HTTP API base URL")
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	connections := fs.Int("connections", 1000, "Number of sessions to open")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration")
	hold := fs.Duration("hold", 30*time.Second, "Hold duration after all sessions are connected")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous onboarding attempts")
	subscribe := fs.Bool("subscribe", true, "Subscribe every session to radar updates")
	lat := fs.Float64("lat", 40.7128, "Center latitude")
	lng := fs.Float64("lng", -74.0060, "Center longitude")
	fs.Parse(args)

	fmt.Printf("Saturate test: %d sessions to %s (ramp=%s, hold=%s, concurrency=%d, subscribe=%v)\n",
		*connections, *url, *rampUp, *hold, *concurrency, *subscribe)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()

	var mu sync.Mutex
	clients := make([]*client.Client, 0, *connections)
	interrupted := false

	// --- Ramp-up ---
	fmt.Println("\n--- Ramp-up phase ---")

	interval := *rampUp / time.Duration(*connections)
	if interval <= 0 {
		interval = time.Millisecond
	}

	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		lastCount := 0
		lastTime := time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				current := collector.ConnectionCount()
				rate := float64(current-lastCount) / now.Sub(lastTime).Seconds()
				fmt.Printf("  [ramp] sessions: %d/%d  errors: %d  rate: %.1f/s\n",
					current, *connections, collector.ErrorCount(), rate)
				lastCount = current
				lastTime = now
			case <-progressStop:
				return
			}
		}
	}()

	rampStart := time.Now()
	rampTicker := time.NewTicker(interval)

	for launched := 0; launched < *connections && !interrupted; {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during ramp-up.")
			interrupted = true
		case <-rampTicker.C:
			launched++
			wg.Add(1)
			sem <- struct{}{}

			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()

				c, err := client.New(connCtx, *api, *url, randomProfile(*lat, *lng))
				if err != nil {
					collector.AddError()
					return
				}
				m := c.GetMetrics()
				collector.AddConnect(m.OnboardLatency, m.ConnectLatency)

				if *subscribe {
					c.On(client.TypeRadarUpdate, func(json.RawMessage) { collector.Inc("radar updates") })
					if err := c.Send(client.TypeRadarSubscribe, nil); err != nil {
						collector.AddError()
					}
				}

				mu.Lock()
				clients = append(clients, c)
				mu.Unlock()
			}()
		}
	}
	rampTicker.Stop()
	wg.Wait()
	close(progressStop)
	progressWg.Wait()

	fmt.Printf("\nRamp-up complete: %d/%d sessions in %s (%d errors)\n",
		collector.ConnectionCount(), *connections,
		time.Since(rampStart).Round(time.Millisecond), collector.ErrorCount())

	// --- Hold ---
	dropped := 0
	if !interrupted {
		fmt.Println("\n--- Hold phase ---")
		mu.Lock()
		initial := len(clients)
		mu.Unlock()
		fmt.Printf("Holding %d sessions for %s...\n", initial, *hold)

		holdTimer := time.NewTimer(*hold)
		statusTicker := time.NewTicker(5 * time.Second)

	holdLoop:
		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nInterrupted during hold phase.")
				break holdLoop
			case <-holdTimer.C:
				fmt.Println("\nHold period complete.")
				break holdLoop
			case <-statusTicker.C:
				dropped = closedCount(&mu, clients)
				fmt.Printf("  [hold] alive: %d/%d  dropped: %d\n", initial-dropped, initial, dropped)
			}
		}
		holdTimer.Stop()
		statusTicker.Stop()
	}

	// --- Cleanup ---
	fmt.Println("\n--- Cleanup ---")
	mu.Lock()
	fmt.Printf("Closing %d sessions...\n", len(clients))
	for _, c := range clients {
		c.Close()
	}
	mu.Unlock()

	if dropped > 0 {
		fmt.Printf("\nSessions dropped during hold: %d\n", dropped)
	}
	collector.Report()
}

func closedCount(mu *sync.Mutex, clients []*client.Client) int {
	mu.Lock()
	defer mu.Unlock()
	n := 0
	for _, c := range clients {
		select {
		case <-c.Done():
			n++
		default:
		}
	}
	return n
}
