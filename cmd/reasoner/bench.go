package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/spf13/cobra"

	"dyad-reasoner/pkg/reasonclient"
	"dyad-reasoner/pkg/types"
)

// benchStats collects client-observed latency split by cache status.
type benchStats struct {
	mu sync.Mutex

	// 1us to 60s, 3 significant figures
	byStatus map[string]*hdrhistogram.Histogram

	errors      int
	circuitOpen int
}

func newBenchStats() *benchStats {
	return &benchStats{byStatus: make(map[string]*hdrhistogram.Histogram)}
}

func (b *benchStats) record(status string, latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.byStatus[status]
	if !ok {
		h = hdrhistogram.New(1, 60_000_000, 3)
		b.byStatus[status] = h
	}
	us := latency.Microseconds()
	if us < 1 {
		us = 1
	}
	_ = h.RecordValue(us)
}

func (b *benchStats) fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if errors.Is(err, reasonclient.ErrCircuitOpen) {
		b.circuitOpen++
		return
	}
	b.errors++
}

func (b *benchStats) report(w io.Writer, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := b.errors + b.circuitOpen
	fmt.Fprintf(w, "%-6s %8s %10s %10s %10s %10s\n", "cache", "count", "p50", "p95", "p99", "max")
	for _, status := range []string{types.CacheMiss, types.CacheHit} {
		h, ok := b.byStatus[status]
		if !ok {
			continue
		}
		total += int(h.TotalCount())
		fmt.Fprintf(w, "%-6s %8d %10s %10s %10s %10s\n",
			status,
			h.TotalCount(),
			usDuration(h.ValueAtQuantile(50)),
			usDuration(h.ValueAtQuantile(95)),
			usDuration(h.ValueAtQuantile(99)),
			usDuration(h.Max()),
		)
	}
	fmt.Fprintf(w, "\nrequests: %d  errors: %d  circuit_open: %d  elapsed: %s", total, b.errors, b.circuitOpen, elapsed.Round(time.Millisecond))
	if secs := elapsed.Seconds(); secs > 0 {
		fmt.Fprintf(w, "  throughput: %.1f req/s", float64(total)/secs)
	}
	fmt.Fprintln(w)
}

func usDuration(us int64) string {
	return (time.Duration(us) * time.Microsecond).Round(10 * time.Microsecond).String()
}

func newBenchCmd() *cobra.Command {
	var (
		flags       clientFlags
		dyad        string
		requestPath string
		requests    int
		concurrency int
		distinct    int
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Repeat a request and report HIT/MISS latency percentiles",
		Long: "bench sends the same request repeatedly. With --distinct N the requests\n" +
			"cycle through N variants, so the first pass over each variant misses the cache.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if requests < 1 || concurrency < 1 {
				return fmt.Errorf("requests and concurrency must be positive")
			}
			if distinct < 1 {
				distinct = 1
			}
			client, err := flags.client()
			if err != nil {
				return err
			}
			base, err := loadRequest(requestPath, dyad)
			if err != nil {
				return err
			}

			stats := newBenchStats()
			start := time.Now()
			runBench(cmd.Context(), client, base, requests, concurrency, distinct, stats)
			stats.report(cmd.OutOrStdout(), time.Since(start))
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&dyad, "dyad", "night", "dyad for the built-in sample request")
	cmd.Flags().StringVarP(&requestPath, "file", "f", "", "JSON request file, - for stdin")
	cmd.Flags().IntVarP(&requests, "requests", "n", 50, "total requests")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "concurrent workers")
	cmd.Flags().IntVar(&distinct, "distinct", 1, "number of distinct request variants")
	return cmd
}

func runBench(ctx context.Context, client *reasonclient.Client, base *types.ReasoningRequest, requests, concurrency, distinct int, stats *benchStats) {
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				req := variant(base, i%distinct)
				t0 := time.Now()
				resp, err := client.Reason(ctx, req)
				if err != nil {
					stats.fail(err)
					continue
				}
				stats.record(resp.CacheStatus, time.Since(t0))
			}
		}()
	}

feed:
	for i := 0; i < requests; i++ {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
}

// variant returns a copy of base with a bench_variant feature so distinct
// variants fingerprint differently.
func variant(base *types.ReasoningRequest, n int) *types.ReasoningRequest {
	req := *base
	req.Features = make(types.Features, len(base.Features)+1)
	for k, v := range base.Features {
		req.Features[k] = v
	}
	req.Features["bench_variant"] = float64(n)
	return &req
}
