package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mail-export/stats"
)

// Bar manages a progress bar for tracking message export.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	mu      sync.Mutex
	enabled bool
}

// New creates a new progress bar if logLevel is "info".
func New(total int, logLevel string) *Bar {
	enabled := logLevel == "info"

	bar := &Bar{
		total:   total,
		enabled: enabled,
	}

	if enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Exporting messages").
			Start()

		bar.pb = pb

		pterm.Info.Printf("Messages listed: %d\n", total)
		pterm.Println()
	}

	return bar
}

// Update increments the progress bar based on the event type.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned:
		b.pb.Increment()

		if evt.Detail != "" {
			display := evt.Detail
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			b.pb.UpdateTitle("Exporting: " + display)
		}
	case stats.EventTypeExported, stats.EventTypeDryRunExport, stats.EventTypeSkipped:
		// Individual outcomes stay quiet; the final summary carries the counts.
	case stats.EventTypeError:
		// Show error messages above the progress bar
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}

	b.pb.Stop()
	pterm.Success.Println("Export complete!")
}

// Subscriber creates a stats subscriber function that updates the progress bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// ProgressReporter wraps the stats Reporter with progress bar functionality.
type ProgressReporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

// NewProgressReporter creates a new progress reporter with optional progress bar.
func NewProgressReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *ProgressReporter {
	reporter := &ProgressReporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}

	if bar != nil && bar.enabled {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
	}
	// The event channel is bounded and the batch blocks once it fills, so
	// a collector must drain it even when the progress bar is off.
	stream.SubscribeStats("progress-stats", reporter.collectStats)

	return reporter
}

// Summary returns the statistics collected so far.
func (pr *ProgressReporter) Summary() stats.Summary {
	return pr.collector.Snapshot()
}

// collectStats collects statistics and prints the final summary.
func (pr *ProgressReporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	pr.collector.Run(ctx, events)

	summary := pr.collector.Snapshot()
	duration := time.Since(pr.started)

	if pr.bar == nil || !pr.bar.enabled {
		if pr.logger != nil {
			attrs := append(summary.LogAttrs(), "duration", duration)
			pr.logger.Info("export summary", attrs...)
		}
		return nil
	}

	if pr.logger != nil {
		pterm.Println()
		pterm.DefaultSection.Println("Summary Statistics")
		pterm.Info.Printf("Duration: %v\n", duration)
		pterm.Info.Printf("Scanned: %d\n", summary.Scanned)
		pterm.Info.Printf("Normalized: %d\n", summary.Normalized)
		pterm.Info.Printf("Partial: %d\n", summary.Partial)
		pterm.Info.Printf("Exported: %d\n", summary.Exported)
		pterm.Info.Printf("Dry-run exported: %d\n", summary.DryRunExported)
		pterm.Info.Printf("Skipped: %d\n", summary.Skipped)
		pterm.Info.Printf("Cancelled: %d\n", summary.Cancelled)
		pterm.Info.Printf("Errors: %d\n", summary.Errors)
		if summary.LastError != nil {
			pterm.Error.Printf("Last error: %v\n", summary.LastError)
		}
	}

	return nil
}
