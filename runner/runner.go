package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dhcgn/mail-export/attach"
	"github.com/dhcgn/mail-export/config"
	"github.com/dhcgn/mail-export/export"
	"github.com/dhcgn/mail-export/filter"
	"github.com/dhcgn/mail-export/model"
	"github.com/dhcgn/mail-export/normalize"
	"github.com/dhcgn/mail-export/render"
	"github.com/dhcgn/mail-export/source"
	"github.com/dhcgn/mail-export/state"
	"github.com/dhcgn/mail-export/stats"
	"github.com/dhcgn/mail-export/table"
)

type StageFunc func(context.Context) error

// Runner orchestrates one export batch: it fans the listed message handles
// out to a bounded worker pool, records one outcome per message in the
// batch report, and publishes the summary table after the pool drains.
type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	handles chan source.Handle
	events  chan stats.Event

	normalizer *normalize.Normalizer
	resolver   *attach.Resolver
	renderer   *render.Renderer
	writer     *export.Writer
	agg        *table.Aggregator
	selection  *filter.Filter
	tracker    state.Tracker
	report     *model.BatchReport

	documentTargets []model.ExportTarget
	tableTargets    []model.ExportTarget

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeHandlesOnce sync.Once
	closeEventsOnce  sync.Once
	since            time.Time
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runner, error) {
	ctx, cancel := context.WithCancel(ctx)

	selection, err := filter.New(filter.Options{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("selection filter: %w", err)
	}

	knownSenders, err := config.LoadKnownSenders(cfg.KnownSendersFile)
	if err != nil {
		cancel()
		return nil, err
	}

	tracker, err := state.NewFileTracker(cfg.OutDir, !cfg.DryRun)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("export manifest: %w", err)
	}

	writer, err := export.NewWriter(export.Options{Root: cfg.OutDir, DryRun: cfg.DryRun}, logger)
	if err != nil {
		cancel()
		return nil, err
	}

	var templates render.Source
	if cfg.TemplateDir != "" {
		templates = &render.DirSource{Dir: cfg.TemplateDir}
	}

	r := &Runner{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,

		handles: make(chan source.Handle, 32),
		events:  make(chan stats.Event, 128),

		normalizer: normalize.New(normalize.Options{KnownSenders: knownSenders}, logger),
		resolver: attach.NewResolver(attach.Policy{
			MaxAttachmentBytes: cfg.MaxAttachmentBytes,
			AllowedKinds:       cfg.AllowedKinds,
			NameCollision:      attach.CollisionPolicy(cfg.NameCollision),
		}, logger),
		renderer:  render.New(templates),
		writer:    writer,
		agg:       table.New(),
		selection: selection,
		tracker:   tracker,
		report:    model.NewBatchReport(),
	}

	for _, target := range cfg.Targets {
		switch target.Format {
		case model.FormatTable:
			r.tableTargets = append(r.tableTargets, target)
		default:
			r.documentTargets = append(r.documentTargets, target)
		}
	}

	return r, nil
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Report() *model.BatchReport {
	return r.report
}

func (r *Runner) Tracker() state.Tracker {
	return r.tracker
}

func (r *Runner) EmitEvent(evt stats.Event) {
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, r.events); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

// Run processes every listed handle through the pipeline and publishes
// the batch summary. It returns the finalized report alongside the first
// fatal error, if any. Cancelling the context stops the batch between
// messages; in-flight messages complete and the remainder is recorded as
// cancelled.
func (r *Runner) Run(listed []source.Handle) (*model.BatchReport, error) {
	r.since = time.Now()
	r.logger.Info("starting batch", "messages", len(listed), "concurrency", r.cfg.Concurrency)

	for i := 0; i < r.cfg.Concurrency; i++ {
		r.AddStage(fmt.Sprintf("worker-%d", i), r.worker)
	}
	r.AddStage("feed", func(ctx context.Context) error {
		return r.feed(ctx, listed)
	})

	r.workWG.Wait()

	// The feed stage has closed the handles channel by now. Anything still
	// buffered was never picked up by a worker; record it so the report
	// keeps one result per listed handle.
	for h := range r.handles {
		r.recordCancelled(h)
	}

	r.publishTable()
	r.report.Finalize()

	r.closeEvents()
	r.statsWG.Wait()
	r.cancel()

	if closer, ok := r.tracker.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			r.fail(fmt.Errorf("export manifest: %w", err))
		}
	}

	err := r.err
	duration := time.Since(r.since)
	succeeded, failed, skipped := r.report.Counts()
	if err != nil {
		r.logger.Error("batch failed", "duration", duration, "err", err)
		return r.report, err
	}

	r.logger.Info("batch completed",
		"duration", duration,
		"succeeded", succeeded,
		"failed", failed,
		"skipped", skipped)
	return r.report, nil
}

func (r *Runner) feed(ctx context.Context, listed []source.Handle) error {
	defer r.closeHandles()
	for _, h := range listed {
		select {
		case <-ctx.Done():
			r.recordCancelled(h)
		case r.handles <- h:
		}
	}
	return nil
}

func (r *Runner) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case h, ok := <-r.handles:
			if !ok {
				return nil
			}
			if ctx.Err() != nil {
				r.recordCancelled(h)
				return ctx.Err()
			}
			r.processMessage(h)
		}
	}
}

// processMessage runs one handle through normalize, attachment resolution,
// rendering and export. Every path appends at least one result to the
// batch report and one row to the summary aggregator.
func (r *Runner) processMessage(h source.Handle) {
	r.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeScanned, Detail: h.Locator()})

	if r.selection.Active() {
		rc, err := h.Open()
		if err != nil {
			r.recordFailure(h, stats.StageSource, err)
			return
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			r.recordFailure(h, stats.StageSource, fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err))
			return
		}
		if !r.selection.Allows(raw) {
			r.recordUnselected(h)
			return
		}
		h = source.NewMemHandle(h.Kind(), h.Locator(), raw)
	}

	rec, err := r.normalizer.Normalize(h)
	if err != nil {
		r.recordFailure(h, stats.StageNormalize, err)
		return
	}
	if rec.Partial {
		r.EmitEvent(stats.Event{Stage: stats.StageNormalize, Type: stats.EventTypePartial, MessageID: rec.ID, Detail: h.Locator()})
	} else {
		r.EmitEvent(stats.Event{Stage: stats.StageNormalize, Type: stats.EventTypeNormalized, MessageID: rec.ID})
	}

	if r.cfg.SkipExported && r.tracker.AlreadyExported(rec.ID) {
		r.EmitEvent(stats.Event{Stage: stats.StageExport, Type: stats.EventTypeSkipped, MessageID: rec.ID, Detail: "already exported"})
		r.report.Append(model.ExportResult{
			MessageID: rec.ID,
			Locator:   h.Locator(),
			Kind:      model.KindSkipped,
		})
		r.appendRow(rec, h)
		return
	}

	seq, err := r.resolver.Resolve(h)
	if err != nil {
		r.recordFailure(h, stats.StageAttach, err)
		return
	}
	rec.Attachments = seq.Collect()
	seq.Release()
	for _, ref := range rec.Attachments {
		if ref.Unavailable {
			rec.Flag(model.FlagAttachmentError)
			r.EmitEvent(stats.Event{Stage: stats.StageAttach, Type: stats.EventTypeError, MessageID: rec.ID, Err: ref.Err})
		}
	}

	if len(r.documentTargets) > 0 {
		art, err := r.renderer.Render(rec, render.Spec{Format: model.FormatDocument})
		if err != nil {
			for _, target := range r.documentTargets {
				r.EmitEvent(stats.Event{Stage: stats.StageRender, Type: stats.EventTypeError, MessageID: rec.ID, Err: err})
				r.report.Append(model.ExportResult{
					MessageID: rec.ID,
					Locator:   h.Locator(),
					Target:    target,
					Kind:      model.Classify(err),
					Err:       err,
				})
			}
			r.appendRow(rec, h)
			return
		}

		for _, target := range r.documentTargets {
			res := r.writer.Write(art, target)
			res.Locator = h.Locator()
			r.report.Append(res)
			r.emitExport(res)
			if res.Success() && !r.cfg.DryRun {
				if err := r.tracker.MarkExported(rec.ID, res.Path); err != nil {
					r.fail(fmt.Errorf("export manifest: %w", err))
				}
			}
		}
	}

	r.appendRow(rec, h)
}

func (r *Runner) emitExport(res model.ExportResult) {
	evt := stats.Event{Stage: stats.StageExport, MessageID: res.MessageID, Detail: res.Path}
	switch {
	case res.Err != nil:
		evt.Type = stats.EventTypeError
		evt.Err = res.Err
	case res.Kind == model.KindDryRun:
		evt.Type = stats.EventTypeDryRunExport
	case res.Kind == model.KindSkipped:
		evt.Type = stats.EventTypeSkipped
	default:
		evt.Type = stats.EventTypeExported
	}
	r.EmitEvent(evt)
}

// appendRow renders the record's summary row and hands it to the
// aggregator so the batch table lists every message the source yielded.
func (r *Runner) appendRow(rec *model.MessageRecord, h source.Handle) {
	art, err := r.renderer.Render(rec, render.Spec{Format: model.FormatTable})
	if err != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageTable, Type: stats.EventTypeError, MessageID: rec.ID, Err: err})
		r.appendFallbackRow(rec.ID, h, model.Classify(err))
		return
	}
	if err := r.agg.Append(art.Columns, art.Row); err != nil {
		r.fail(fmt.Errorf("summary row: %w", err))
	}
}

// appendFallbackRow records a message that never produced renderable
// fields: unreadable sources, filtered messages, cancelled work.
func (r *Runner) appendFallbackRow(id string, h source.Handle, kind string) {
	columns := []string{"ID", "Locator", "Source", "Error"}
	row := map[string]string{
		"ID":      id,
		"Locator": h.Locator(),
		"Source":  string(h.Kind()),
		"Error":   kind,
	}
	if err := r.agg.Append(columns, row); err != nil {
		r.fail(fmt.Errorf("summary row: %w", err))
	}
}

// recordFailure accounts for a message that failed before any artifact
// existed. The placeholder identity keeps the report and summary table at
// one entry per listed message even when the source was unreadable.
func (r *Runner) recordFailure(h source.Handle, stage stats.Stage, err error) {
	id := uuid.NewString()
	r.EmitEvent(stats.Event{Stage: stage, Type: stats.EventTypeError, MessageID: id, Err: err, Detail: h.Locator()})
	r.logger.Warn("message failed", "locator", h.Locator(), "kind", model.Classify(err), "err", err)
	r.report.Append(model.ExportResult{
		MessageID: id,
		Locator:   h.Locator(),
		Kind:      model.Classify(err),
		Err:       err,
	})
	r.appendFallbackRow(id, h, model.Classify(err))
}

func (r *Runner) recordUnselected(h source.Handle) {
	id := uuid.NewString()
	r.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeSkipped, MessageID: id, Detail: h.Locator()})
	r.report.Append(model.ExportResult{
		MessageID: id,
		Locator:   h.Locator(),
		Kind:      model.KindSkipped,
	})
	r.appendFallbackRow(id, h, model.KindSkipped)
}

func (r *Runner) recordCancelled(h source.Handle) {
	id := uuid.NewString()
	r.report.Append(model.ExportResult{
		MessageID: id,
		Locator:   h.Locator(),
		Kind:      model.KindCancelled,
	})
	r.appendFallbackRow(id, h, model.KindCancelled)
}

// publishTable finalizes the aggregator and writes the summary through the
// same export writer the documents use.
func (r *Runner) publishTable() {
	art, err := r.agg.Finalize()
	if err != nil {
		r.fail(fmt.Errorf("summary table: %w", err))
		return
	}

	for _, target := range r.tableTargets {
		res := r.writer.Write(art, target)
		r.report.Append(res)
		evt := stats.Event{Stage: stats.StageTable, MessageID: art.MessageID, Detail: res.Path}
		switch {
		case res.Err != nil:
			evt.Type = stats.EventTypeError
			evt.Err = res.Err
		case res.Kind == model.KindDryRun:
			evt.Type = stats.EventTypeDryRunExport
		default:
			evt.Type = stats.EventTypeExported
		}
		r.EmitEvent(evt)
	}
}

func (r *Runner) closeHandles() {
	r.closeHandlesOnce.Do(func() {
		close(r.handles)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		close(r.events)
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
