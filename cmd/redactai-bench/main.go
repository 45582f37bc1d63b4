// Command redactai-bench measures end-to-end Assess latency for one prompt.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/redactai/redactai/internal/app"
	"github.com/redactai/redactai/internal/config"
	"github.com/redactai/redactai/internal/engine"
)

func main() {
	cfgPath := flag.String("config", "redactai.yaml", "path to config yaml")
	n := flag.Int("n", 200, "number of iterations")
	concurrency := flag.Int("c", 1, "concurrent callers")
	prompt := flag.String("prompt", "My email is test@example.com and my API key is sk_live_abc123xyz", "prompt text to evaluate")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	eng, err := app.BuildEngine(cfg, nil)
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}
	defer eng.Close()

	ctx := context.Background()
	// Warmup
	for i := 0; i < 5; i++ {
		if _, err := eng.Assess(ctx, *prompt, engine.Context{}); err != nil {
			log.Fatalf("warmup assess failed: %v", err)
		}
	}

	if *n <= 0 {
		*n = 1
	}
	if *concurrency <= 0 {
		*concurrency = 1
	}

	durations, wall, err := run(ctx, eng, *prompt, *n, *concurrency)
	if err != nil {
		log.Fatalf("assess failed: %v", err)
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var total time.Duration
	for _, d := range durations {
		total += d
	}
	avg := float64(total.Microseconds()) / 1000.0 / float64(len(durations))
	p50 := float64(durations[len(durations)/2].Microseconds()) / 1000.0
	p95 := float64(durations[int(float64(len(durations))*0.95)].Microseconds()) / 1000.0
	rps := float64(len(durations)) / wall.Seconds()

	fmt.Printf("bench: n=%d c=%d avg_ms=%.2f p50_ms=%.2f p95_ms=%.2f rps=%.0f mode=%s\n",
		len(durations), *concurrency, avg, p50, p95, rps, eng.Mode)
}

func run(ctx context.Context, eng *app.Engine, prompt string, n, c int) ([]time.Duration, time.Duration, error) {
	durations := make([]time.Duration, n)
	jobs := make(chan int)
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	start := time.Now()
	for w := 0; w < c; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				t0 := time.Now()
				if _, err := eng.Assess(ctx, prompt, engine.Context{}); err != nil {
					errOnce.Do(func() { firstErr = err })
				}
				durations[i] = time.Since(t0)
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return durations, time.Since(start), firstErr
}
