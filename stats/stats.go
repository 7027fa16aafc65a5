package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Stage identifies the pipeline stage an event originated from.
type Stage string

const (
	StageSource    Stage = "source"
	StageNormalize Stage = "normalize"
	StageAttach    Stage = "attach"
	StageRender    Stage = "render"
	StageExport    Stage = "export"
	StageTable     Stage = "table"
)

type EventType string

const (
	EventTypeScanned      EventType = "scanned"
	EventTypeNormalized   EventType = "normalized"
	EventTypePartial      EventType = "partial"
	EventTypeExported     EventType = "exported"
	EventTypeDryRunExport EventType = "dry_run_exported"
	EventTypeSkipped      EventType = "skipped"
	EventTypeCancelled    EventType = "cancelled"
	EventTypeError        EventType = "error"
)

// Event is one structured pipeline event: record identity, stage, outcome.
type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	Err       error
	Detail    string
}

type Summary struct {
	Scanned        int
	Normalized     int
	Partial        int
	Exported       int
	DryRunExported int
	Skipped        int
	Cancelled      int
	Errors         int
	LastError      error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"normalized", s.Normalized,
		"partial", s.Partial,
		"exported", s.Exported,
		"dryRunExported", s.DryRunExported,
		"skipped", s.Skipped,
		"cancelled", s.Cancelled,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeNormalized:
		c.summary.Normalized++
	case EventTypePartial:
		c.summary.Normalized++
		c.summary.Partial++
	case EventTypeExported:
		c.summary.Exported++
	case EventTypeDryRunExport:
		c.summary.DryRunExported++
	case EventTypeSkipped:
		c.summary.Skipped++
	case EventTypeCancelled:
		c.summary.Cancelled++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

// EventStream is implemented by the batch runner; subscribers drain the
// event channel until the batch closes it.
type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(m map[string]int, limit int) {
	type pair struct {
		Key   string
		Value int
	}

	var pairs []pair
	for k, v := range m {
		pairs = append(pairs, pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Value > pairs[j].Value
	})

	for i := 0; i < limit && i < len(pairs); i++ {
		fmt.Printf("%d. %s (%d)\n", i+1, pairs[i].Key, pairs[i].Value)
	}
}
