package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nearby/radar/loadtest/client"
	"github.com/nearby/radar/loadtest/stats"
)

// runRadar drives pairs of users through discovery and chat: both onboard
// near each other, the first waits for the second to show up on its radar,
// requests a chat, the second accepts and both exchange timestamped lines
// until the chat duration is over.
func runRadar(args []string) {
	fs := flag.NewFlagSet("radar", flag.ExitOnError)
	api := fs.String("api", "http://localhost:8080", "HTTP API base URL")
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	pairs := fs.Int("pairs", 100, "Number of user pairs")
	concurrency := fs.Int("concurrency", 20, "Pairs set up at the same time")
	chatDuration := fs.Duration("chat-duration", 20*time.Second, "How long each pair chats")
	msgInterval := fs.Duration("msg-interval", 2*time.Second, "Interval between lines per user")
	discoverTimeout := fs.Duration("discover-timeout", 15*time.Second, "Timeout for a partner to appear on the radar")
	lat := fs.Float64("lat", 40.7128, "Center latitude")
	lng := fs.Float64("lng", -74.0060, "Center longitude")
	fs.Parse(args)

	fmt.Printf("Radar test: %d pairs to %s (chat=%s, interval=%s, concurrency=%d)\n",
		*pairs, *url, *chatDuration, *msgInterval, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

	for i := 0; i < *pairs; i++ {
		select {
		case <-ctx.Done():
		case sem <- struct{}{}:
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				p := pairRun{
					api: *api, url: *url, lat: *lat, lng: *lng,
					chatDuration:    *chatDuration,
					msgInterval:     *msgInterval,
					discoverTimeout: *discoverTimeout,
					collector:       collector,
				}
				if err := p.run(ctx); err != nil {
					collector.AddError()
					fmt.Printf("  [pair] %v\n", err)
				}
			}()
		}
	}
	wg.Wait()
	collector.Report()
}

type pairRun struct {
	api, url        string
	lat, lng        float64
	chatDuration    time.Duration
	msgInterval     time.Duration
	discoverTimeout time.Duration
	collector       *stats.Collector
}

func (p pairRun) run(ctx context.Context) error {
	profile := randomProfile(p.lat, p.lng)

	a, err := p.connect(ctx, profile)
	if err != nil {
		return fmt.Errorf("connect a: %w", err)
	}
	defer a.Close()

	discovered := make(chan struct{})
	var discoveredOnce sync.Once
	var targetID string
	var targetMu sync.Mutex
	a.On(client.TypeRadarUpdate, func(raw json.RawMessage) {
		p.collector.Inc("radar updates")
		var update struct {
			Entries []struct {
				SessionID string `json:"session_id"`
			} `json:"entries"`
		}
		if json.Unmarshal(raw, &update) != nil {
			return
		}
		targetMu.Lock()
		want := targetID
		targetMu.Unlock()
		for _, e := range update.Entries {
			if want != "" && e.SessionID == want {
				discoveredOnce.Do(func() { close(discovered) })
			}
		}
	})
	if err := a.Send(client.TypeRadarSubscribe, nil); err != nil {
		return err
	}

	b, err := p.connect(ctx, profile)
	if err != nil {
		return fmt.Errorf("connect b: %w", err)
	}
	defer b.Close()
	joined := time.Now()
	targetMu.Lock()
	targetID = b.SessionID()
	targetMu.Unlock()

	// b accepts whoever asks.
	b.On(client.TypeChatRequest, func(raw json.RawMessage) {
		var req struct {
			FromID string `json:"from_id"`
		}
		if json.Unmarshal(raw, &req) == nil {
			_ = b.Send(client.TypeChatAccept, map[string]string{"requester_id": req.FromID})
		}
	})

	// A refresh may have run before b was known; one explicit resubscribe
	// forces a fresh snapshot.
	_ = a.Send(client.TypeRadarSubscribe, nil)

	select {
	case <-discovered:
		p.collector.AddLatency("discovery", time.Since(joined))
	case <-time.After(p.discoverTimeout):
		return fmt.Errorf("partner never appeared on the radar")
	case <-ctx.Done():
		return ctx.Err()
	}

	accepted := make(chan struct{}, 1)
	a.On(client.TypeChatAccepted, func(json.RawMessage) {
		select {
		case accepted <- struct{}{}:
		default:
		}
	})
	requested := time.Now()
	if err := a.Send(client.TypeChatRequest, map[string]string{"target_id": b.SessionID()}); err != nil {
		return err
	}
	select {
	case <-accepted:
		p.collector.AddLatency("request to accept", time.Since(requested))
		p.collector.Inc("chats")
	case <-time.After(5 * time.Second):
		return fmt.Errorf("chat was not accepted")
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, c := range []*client.Client{a, b} {
		c.On(client.TypeChatMessage, func(raw json.RawMessage) {
			var line struct {
				Text string `json:"text"`
			}
			if json.Unmarshal(raw, &line) != nil {
				return
			}
			if sent, ok := parseStamp(line.Text); ok {
				p.collector.AddLatency("message", time.Since(sent))
			}
			p.collector.Inc("messages")
		})
	}

	chatCtx, cancel := context.WithTimeout(ctx, p.chatDuration)
	defer cancel()
	var talkers sync.WaitGroup
	for _, c := range []*client.Client{a, b} {
		talkers.Add(1)
		go func() {
			defer talkers.Done()
			talk(chatCtx, c, p.msgInterval)
		}()
	}
	talkers.Wait()

	return a.Send(client.TypeChatEnd, map[string]string{"partner_id": b.SessionID()})
}

func (p pairRun) connect(ctx context.Context, profile client.Profile) (*client.Client, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	c, err := client.New(cctx, p.api, p.url, profile)
	if err != nil {
		return nil, err
	}
	m := c.GetMetrics()
	p.collector.AddConnect(m.OnboardLatency, m.ConnectLatency)
	return c, nil
}

func talk(ctx context.Context, c *client.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Send(client.TypeChatMessage, map[string]string{"text": stamp(time.Now()) + " hello from the load test"})
		}
	}
}

func stamp(t time.Time) string {
	return "t" + strconv.FormatInt(t.UnixNano(), 36)
}

func parseStamp(text string) (time.Time, bool) {
	word, _, _ := strings.Cut(text, " ")
	if !strings.HasPrefix(word, "t") {
		return time.Time{}, false
	}
	ns, err := strconv.ParseInt(word[1:], 36, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}
