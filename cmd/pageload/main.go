package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Truonghai2/BaultPHP-sub001/app"
	"github.com/Truonghai2/BaultPHP-sub001/app/pages"
	"github.com/Truonghai2/BaultPHP-sub001/internal/config"
	"github.com/Truonghai2/BaultPHP-sub001/internal/logging"
)

// NOTE: configured through PAGESTORE_* variables or the YAML file named by
// PAGESTORE_CONFIG, e.g.
//   PAGESTORE_STORE_DRIVER=sqlite PAGESTORE_STORE_DSN=/tmp/pages.db go run ./cmd/pageload

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pageload:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	log, err := logging.New(os.Stdout, cfg.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		srv := serveMetrics(cfg.Metrics.Addr, reg, log)
		defer func() { _ = srv.Shutdown(context.WithoutCancel(ctx)) }()
	}

	appCfg := app.Config{Context: ctx, Log: log, Settings: cfg}
	if reg != nil {
		appCfg.Registerer = reg
	}
	a, err := app.Run(appCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Stop(); err != nil {
			log.Warn("stop failed", slog.Any("error", err))
		}
	}()

	log.Info("starting workload",
		slog.Int("pages", cfg.Workload.Pages),
		slog.Int("updates", cfg.Workload.Updates),
		slog.Int("blocks", cfg.Workload.Blocks),
		slog.Int("concurrency", cfg.Workload.Concurrency),
	)

	res := runWorkload(ctx, a.Service(), cfg.Workload, log)
	printStats(res)
	if res.failed > 0 {
		return fmt.Errorf("%d pages failed", res.failed)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	log.Info("serving metrics", slog.String("addr", addr))
	return srv
}

// === workload ===

type result struct {
	took     time.Duration
	pages    int64
	commands int64
	failed   int64
}

func runWorkload(ctx context.Context, svc *pages.Service, w config.WorkloadConfig, log *slog.Logger) result {
	var (
		res      result
		wg       sync.WaitGroup
		next     atomic.Int64
		commands atomic.Int64
		done     atomic.Int64
		failed   atomic.Int64
		startAt  = time.Now()
	)

	stopProgress := make(chan struct{})
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		last, lastAt := int64(0), startAt
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				n := commands.Load()
				mu := getMemUsage()
				fmt.Printf(" | %5d pages | %6d commands | %6d cmd/s | (%d / %d) MiB mem (sys) |\n",
					done.Load(), n, int(float64(n-last)/now.Sub(lastAt).Seconds()), mu.Alloc/1024/1024, mu.Sys/1024/1024)
				last, lastAt = n, now
			case <-stopProgress:
				return
			}
		}
	}()

	for range w.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := next.Add(1)
				if i > int64(w.Pages) || ctx.Err() != nil {
					return
				}
				n, err := writePage(ctx, svc, int(i), w)
				commands.Add(int64(n))
				if err != nil {
					failed.Add(1)
					log.Warn("page failed", slog.Int64("page", i), slog.Any("error", err))
					continue
				}
				done.Add(1)
			}
		}()
	}
	wg.Wait()
	close(stopProgress)
	<-progressDone

	res.took = time.Since(startAt)
	res.pages = done.Load()
	res.commands = commands.Load()
	res.failed = failed.Load()
	return res
}

// writePage runs the command sequence of one page and returns how many
// commands succeeded.
func writePage(ctx context.Context, svc *pages.Service, i int, w config.WorkloadConfig) (n int, err error) {
	ctx = pages.WithActor(ctx, "pageload")
	id, err := svc.CreatePage(ctx, pages.CreatePageInput{
		Name:     fmt.Sprintf("Load page %d", i),
		AuthorID: fmt.Sprintf("author-%d", i%10),
	})
	if err != nil {
		return n, err
	}
	n++

	var blockIDs []string
	for b := range w.Blocks {
		blockID, err := svc.AddBlock(ctx, pages.AddBlockInput{PageID: id, Component: "text", SortOrder: b})
		if err != nil {
			return n, err
		}
		blockIDs = append(blockIDs, blockID)
		n++
	}

	for u := range w.Updates {
		if u%2 == 0 {
			err = svc.UpdateContent(ctx, pages.UpdateContentInput{PageID: id, Content: fmt.Sprintf("revision %d", u)})
		} else if len(blockIDs) > 0 {
			err = svc.UpdateBlockContent(ctx, pages.UpdateBlockContentInput{
				BlockID: blockIDs[u%len(blockIDs)],
				Content: fmt.Sprintf("block revision %d", u),
			})
		} else {
			err = svc.RenamePage(ctx, pages.RenamePageInput{PageID: id, Name: fmt.Sprintf("Load page %d rev %d", i, u)})
		}
		if err != nil {
			return n, err
		}
		n++
	}

	if err := svc.Publish(ctx, pages.PageInput{PageID: id}); err != nil {
		return n, err
	}
	return n + 1, nil
}

// === stats helpers ===

type MemUsage struct {
	Alloc uint64 // bytes allocated and not yet freed (heap)
	Sys   uint64 // total bytes obtained from OS
	NumGC uint32 // gc cycles
}

func getMemUsage() MemUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemUsage{Alloc: m.Alloc, Sys: m.Sys, NumGC: m.NumGC}
}

func printStats(res result) {
	fmt.Println("==========================================")
	fmt.Printf("total runtime: %.3f seconds\n", res.took.Seconds())
	fmt.Printf("        pages: %d (%d failed)\n", res.pages, res.failed)
	fmt.Printf("     commands: %d\n", res.commands)
	if s := res.took.Seconds(); s > 0 {
		fmt.Printf("   commands/s: %d\n", int(float64(res.commands)/s))
	}
	fmt.Printf("      gc runs: %d\n", getMemUsage().NumGC)
}
