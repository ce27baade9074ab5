package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/e7canasta/framebridge/internal/capture"
	"github.com/e7canasta/framebridge/internal/config"
	"github.com/e7canasta/framebridge/internal/orchestrator"
)

const statsTimeout = time.Second

// reportStats periodically prints engine and session statistics.
func reportStats(ctx context.Context, interval time.Duration, orch *orchestrator.Orchestrator, engines []engineHandle) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printLiveStats(ctx, time.Since(startTime), orch, engines)
		}
	}
}

func fetchStats(parent context.Context, orch *orchestrator.Orchestrator) (orchestrator.Stats, error) {
	ctx, cancel := context.WithTimeout(parent, statsTimeout)
	defer cancel()
	return orch.Stats(ctx)
}

// printLiveStats prints current statistics from all components
func printLiveStats(ctx context.Context, uptime time.Duration, orch *orchestrator.Orchestrator, engines []engineHandle) {
	st, err := fetchStats(ctx, orch)
	if err != nil {
		return
	}
	names := engineNames(engines)

	fmt.Println()
	fmt.Println("╭─────────────────────────────────────────────────────────────────╮")
	fmt.Printf("│ framebridge Statistics (Uptime: %v)\n", uptime.Round(time.Second))
	fmt.Println("├─────────────────────────────────────────────────────────────────┤")

	sessions := st.Sessions
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Key.String() < sessions[j].Key.String() })

	fmt.Println("│ Sessions:")
	if len(sessions) == 0 {
		fmt.Println("│   (none)")
	}
	for _, s := range sessions {
		printSession(s)
	}

	fmt.Println("│")
	fmt.Println("│ Engines:")
	for _, e := range st.Engines {
		source := "unfed"
		if e.Fed {
			source = e.Source
		}
		fmt.Printf("│   %-12s %-8s %-14s: %5d delivered, %4d not ready, %4d superseded, %5d presented\n",
			names[e.ID],
			e.Kind,
			source,
			e.Delivered,
			e.NotReady,
			e.Superseded,
			e.Presented)
	}

	fmt.Println("╰─────────────────────────────────────────────────────────────────╯")
	fmt.Println()
}

func printSession(s capture.Stats) {
	fmt.Printf("│   %s (%s, %s, %s)\n", s.Key, s.State, s.Output, s.Policy)
	fmt.Printf("│     Captured:   %6d frames (%.1f fps)\n", s.Captured, fps(s.Captured, s.Uptime))
	fmt.Printf("│     Rate:       %6.1f fps (stddev %.1f, jitter %dms, stable=%v)\n",
		s.Rate.FPSMean, s.Rate.FPSStdDev, time.Duration(s.Rate.JitterMean*float64(time.Second)).Milliseconds(), s.Rate.Stable)
	fmt.Printf("│     Delivered:  %6d frames\n", s.Delivered)
	fmt.Printf("│     Dropped:    %6d frames (%.1f%%)\n", s.Dropped, dropRate(s.Enqueued, s.Dropped))
	fmt.Printf("│     Stalls:     %6d\n", s.Stalls)
	fmt.Printf("│     Buffers:    %d/%d outstanding, %d double releases\n",
		s.Buffers.Outstanding, s.Buffers.Slots, s.Buffers.DoubleReleases)
}

// printFinalStats prints final statistics at shutdown
func printFinalStats(orch *orchestrator.Orchestrator, engines []engineHandle) {
	st, err := fetchStats(context.Background(), orch)
	if err != nil {
		return
	}
	names := engineNames(engines)

	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println("                     Final Statistics                         ")
	fmt.Println("═══════════════════════════════════════════════════════════════")

	var captured, delivered, dropped uint64
	for _, s := range st.Sessions {
		captured += s.Captured
		delivered += s.Delivered
		dropped += s.Dropped
	}
	fmt.Printf("  Active Sessions:       %d\n", len(st.Sessions))
	fmt.Printf("  Frames Captured:       %d frames\n", captured)
	fmt.Printf("  Frames Delivered:      %d frames\n", delivered)
	fmt.Printf("  Queue Drops:           %d frames\n", dropped)

	fmt.Println()
	fmt.Println("  Engine Summary:")
	for _, e := range st.Engines {
		fmt.Printf("    %-12s: %d uploaded, %d presented, %d superseded, %d failed\n",
			names[e.ID],
			e.Uploaded,
			e.Presented,
			e.Superseded,
			e.Failed)
	}

	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println()
}

func printBanner(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║    framebridged - capture to render engine bridge             ║")
	fmt.Printf("║                    Version %-30s ║\n", version)
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("  Capture Driver:  %s\n", cfg.Capture.Driver)
	fmt.Printf("  Queue Depth:     %d (%s)\n", cfg.Capture.QueueDepth, cfg.Capture.Policy)
	fmt.Printf("  Engines:         %d\n", len(cfg.Engines))
	for _, e := range cfg.Engines {
		kind := e.Kind
		if kind == "" {
			kind = "default"
		}
		fmt.Printf("    - %-12s: %-8s %s/%s %dx%d\n",
			e.Name, kind, e.Facing, e.Backend, e.Surface.Width, e.Surface.Height)
	}
	fmt.Printf("  Stats Interval:  %v\n", cfg.StatsInterval())
	fmt.Println()
	fmt.Println("SIGUSR1 toggles facing, SIGUSR2 toggles backend, Ctrl+C stops")
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println()
}

func engineNames(engines []engineHandle) map[string]string {
	names := make(map[string]string, len(engines))
	for _, h := range engines {
		names[h.id] = h.name
	}
	return names
}

func fps(frames uint64, uptime time.Duration) float64 {
	if uptime <= 0 {
		return 0
	}
	return float64(frames) / uptime.Seconds()
}

// dropRate calculates drop percentage
func dropRate(total, drops uint64) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(drops) / float64(total) * 100.0
}
