package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"autopress/internal/core"
	"autopress/internal/dedup"
	"autopress/internal/logger"
	"autopress/internal/selector"

	"github.com/google/uuid"
)

// ErrAlreadyRunning is returned when a run is requested while another
// run holds the pipeline.
var ErrAlreadyRunning = errors.New("a pipeline run is already in progress")

const recentTitleSample = 5

// CandidateSource discovers raw headlines.
type CandidateSource interface {
	FetchCandidates(ctx context.Context) ([]core.Candidate, error)
}

// Picker narrows candidates down to the run's selections.
type Picker interface {
	SelectBestArticles(ctx context.Context, candidates []core.Candidate, targetCount int, forceCategory string) []core.Selection
}

// ContentFetcher pulls readable article text for a selection.
type ContentFetcher interface {
	FetchArticleContent(ctx context.Context, rawURL, title string) (string, bool)
}

// Writer is the model-backed editorial step.
type Writer interface {
	Rewrite(ctx context.Context, title, content, category string, recentTitles []string) (core.RewrittenArticle, error)
	GenerateImagePrompt(ctx context.Context, title, excerpt string) string
}

// ImageGenerator produces a cover image URL for a prompt, plus the
// per-size-tier variants of the same rendition.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string, seed int64) (string, error)
	Renditions(prompt string, seed int64) map[string]string
}

// ContentChecker is the post-rewrite duplicate recheck.
type ContentChecker interface {
	CheckContent(ctx context.Context, title, content string) (dedup.Result, error)
}

// Archive is the slice of the store the orchestrator writes to.
type Archive interface {
	CreateExecution(ctx context.Context, rec *core.ExecutionRecord) error
	FinishExecution(ctx context.Context, rec *core.ExecutionRecord) error
	InsertItem(ctx context.Context, item *core.PublishedItem) error
	RecentTitles(ctx context.Context, category string, n int) ([]string, error)
}

// Invalidator drops stale cache entries after the archive changes.
type Invalidator interface {
	InvalidateByTag(ctx context.Context, tag string)
}

// Publisher fans published items out to side-effect subscribers.
type Publisher interface {
	Publish(evt core.ItemPublishedEvent)
}

// Rescheduler queues the next run after this one reaches a terminal
// state.
type Rescheduler interface {
	ScheduleNextRun(ctx context.Context) error
}

// Notifier delivers the post-run report.
type Notifier interface {
	SendReport(ctx context.Context, report core.ExecutionReport)
}

// Options shape a single run.
type Options struct {
	// Trigger records what started the run: "manual", "schedule", or
	// "queue".
	Trigger string

	// ForceCategory pins every selection to one category when set.
	ForceCategory string
}

// Orchestrator drives the full pipeline run: discovery, selection,
// rewriting, imaging, archival, and the terminal bookkeeping around it.
// At most one run is in flight per process.
type Orchestrator struct {
	source      CandidateSource
	picker      Picker
	fetcher     ContentFetcher
	writer      Writer
	images      ImageGenerator // nil disables cover images
	checker     ContentChecker
	archive     Archive
	cache       Invalidator // nil disables invalidation
	bus         Publisher   // nil disables side effects
	rescheduler Rescheduler // nil disables rescheduling
	notifier    Notifier    // nil disables reports
	targetCount int

	running atomic.Bool
}

// Config wires an orchestrator. The optional collaborators (Images,
// Cache, Bus, Rescheduler, Notifier) may be nil.
type Config struct {
	Source      CandidateSource
	Picker      Picker
	Fetcher     ContentFetcher
	Writer      Writer
	Images      ImageGenerator
	Checker     ContentChecker
	Archive     Archive
	Cache       Invalidator
	Bus         Publisher
	Rescheduler Rescheduler
	Notifier    Notifier
	TargetCount int
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.TargetCount < 1 {
		cfg.TargetCount = 3
	}
	return &Orchestrator{
		source:      cfg.Source,
		picker:      cfg.Picker,
		fetcher:     cfg.Fetcher,
		writer:      cfg.Writer,
		images:      cfg.Images,
		checker:     cfg.Checker,
		archive:     cfg.Archive,
		cache:       cfg.Cache,
		bus:         cfg.Bus,
		rescheduler: cfg.Rescheduler,
		notifier:    cfg.Notifier,
		targetCount: cfg.TargetCount,
	}
}

// SetRescheduler attaches the scheduler after construction. The
// scheduler needs this orchestrator as its runner, so one side of the
// pair has to be wired late.
func (o *Orchestrator) SetRescheduler(r Rescheduler) {
	o.rescheduler = r
}

// Running reports whether a run is currently in flight.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Run satisfies the scheduler's runner contract.
func (o *Orchestrator) Run(ctx context.Context, trigger string) error {
	_, err := o.Execute(ctx, Options{Trigger: trigger})
	return err
}

// Execute performs one full pipeline run and returns its execution
// record. The record is guaranteed to reach a terminal state: panics
// and early failures still finish it as FAILED before Execute returns.
func (o *Orchestrator) Execute(ctx context.Context, opts Options) (*core.ExecutionRecord, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer o.running.Store(false)

	if opts.Trigger == "" {
		opts.Trigger = "manual"
	}

	rec := &core.ExecutionRecord{
		ID:        uuid.New().String(),
		Status:    core.ExecutionRunning,
		StartedAt: time.Now().UTC(),
		Metadata:  map[string]string{"trigger": opts.Trigger},
	}
	if opts.ForceCategory != "" {
		rec.Metadata["force_category"] = opts.ForceCategory
	}
	if err := o.archive.CreateExecution(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating execution record: %w", err)
	}
	logger.Info("pipeline run started", "execution_id", rec.ID, "trigger", opts.Trigger)

	var items []core.ReportItem
	defer func() {
		if r := recover(); r != nil {
			rec.Errors = append(rec.Errors, fmt.Sprintf("panic: %v", r))
			rec.Status = core.ExecutionFailed
			logger.Error("pipeline run panicked", fmt.Errorf("%v", r), "execution_id", rec.ID)
		}
		o.finish(rec, items)
	}()

	candidates, err := o.source.FetchCandidates(ctx)
	if err != nil {
		rec.Errors = append(rec.Errors, fmt.Sprintf("fetching candidates: %v", err))
		rec.Status = core.ExecutionFailed
		return rec, fmt.Errorf("fetching candidates: %w", err)
	}
	rec.Scraped = len(candidates)
	logger.Info("candidates discovered", "execution_id", rec.ID, "count", len(candidates))

	selections := o.picker.SelectBestArticles(ctx, candidates, o.targetCount, opts.ForceCategory)
	if len(selections) == 0 {
		rec.Errors = append(rec.Errors, "no candidates survived selection")
		rec.Status = core.ExecutionFailed
		return rec, errors.New("no candidates survived selection")
	}

	for _, sel := range selections {
		item, err := o.processSelection(ctx, rec, sel)
		if err != nil {
			// One bad article never takes the run down.
			rec.Errors = append(rec.Errors, fmt.Sprintf("%s: %v", sel.Candidate.Title, err))
			logger.Warn("selection failed", "execution_id", rec.ID, "title", sel.Candidate.Title, "error", err.Error())
			continue
		}
		rec.Published++
		items = append(items, core.ReportItem{Title: item.Title, Slug: item.Slug, Status: item.Status})
	}

	switch {
	case rec.Published == 0:
		rec.Status = core.ExecutionFailed
	case len(rec.Errors) > 0:
		rec.Status = core.ExecutionPartial
	default:
		rec.Status = core.ExecutionSuccess
	}
	return rec, nil
}

// finish stamps the terminal state, persists it, reschedules, and
// notifies. Runs exactly once per execution, panic or not.
func (o *Orchestrator) finish(rec *core.ExecutionRecord, items []core.ReportItem) {
	if !rec.Terminal() {
		rec.Status = core.ExecutionFailed
	}
	rec.FinishedAt = time.Now().UTC()
	rec.Duration = rec.FinishedAt.Sub(rec.StartedAt)

	// Terminal bookkeeping uses a fresh context: the run's context may
	// already be canceled, and the record must land regardless.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := o.archive.FinishExecution(ctx, rec); err != nil {
		logger.Error("finishing execution record failed", err, "execution_id", rec.ID)
	}
	logger.Info("pipeline run finished",
		"execution_id", rec.ID,
		"status", string(rec.Status),
		"published", rec.Published,
		"errors", len(rec.Errors),
		"duration", rec.Duration.String())

	if o.rescheduler != nil {
		if err := o.rescheduler.ScheduleNextRun(ctx); err != nil {
			logger.Error("rescheduling after run failed", err, "execution_id", rec.ID)
		}
	}
	if o.notifier != nil {
		o.notifier.SendReport(ctx, core.ExecutionReport{
			ExecutionID: rec.ID,
			Status:      rec.Status,
			StartedAt:   rec.StartedAt,
			Duration:    rec.Duration,
			Scraped:     rec.Scraped,
			Published:   rec.Published,
			Errors:      rec.Errors,
			Items:       items,
		})
	}
}

// processSelection takes one selection through rewrite, imaging, the
// duplicate recheck, and archival.
func (o *Orchestrator) processSelection(ctx context.Context, rec *core.ExecutionRecord, sel core.Selection) (*core.PublishedItem, error) {
	content, fetched := o.fetcher.FetchArticleContent(ctx, sel.Candidate.Link, sel.Candidate.Title)
	if !fetched {
		logger.Debug("using fallback content", "title", sel.Candidate.Title)
	}

	recentTitles, err := o.archive.RecentTitles(ctx, sel.Category, recentTitleSample)
	if err != nil {
		logger.Warn("recent title lookup failed", "category", sel.Category, "error", err.Error())
	}

	article, err := o.writer.Rewrite(ctx, sel.Candidate.Title, content, sel.Category, recentTitles)
	if err != nil {
		return nil, fmt.Errorf("rewriting: %w", err)
	}

	// The rewrite can converge on an angle the archive already has even
	// when the source URL was new; recheck before committing.
	res, err := o.checker.CheckContent(ctx, article.Title, article.Content)
	if err != nil {
		logger.Warn("content recheck failed, publishing anyway", "title", article.Title, "error", err.Error())
	} else if res.IsDuplicate {
		return nil, fmt.Errorf("duplicate after rewrite: %s", res.Reason)
	}

	var imageURL string
	var renditions map[string]string
	if o.images != nil {
		prompt := o.writer.GenerateImagePrompt(ctx, article.Title, article.Excerpt)
		seed := time.Now().UnixNano()
		imageURL, err = o.images.Generate(ctx, prompt, seed)
		if err != nil {
			// Articles ship without a cover before they ship late.
			logger.Warn("image generation failed", "title", article.Title, "error", err.Error())
			imageURL = ""
		} else {
			renditions = o.images.Renditions(prompt, seed)
		}
	}

	status := core.ItemDraft
	if article.Score >= core.PublishThreshold {
		status = core.ItemPublished
	}

	item := &core.PublishedItem{
		ID:              uuid.New().String(),
		Title:           article.Title,
		Excerpt:         article.Excerpt,
		Content:         article.Content,
		ImageURL:        imageURL,
		SourceURL:       dedup.NormalizeURL(sel.Candidate.Link),
		Category:        sel.Category,
		Topic:           selector.TopicTag(sel.Candidate.Title),
		Score:           article.Score,
		Status:          status,
		ExecutionID:     rec.ID,
		MetaDescription: article.MetaDescription,
		Keywords:        article.Keywords,
		PublishedAt:     time.Now().UTC(),
	}
	if err := o.archive.InsertItem(ctx, item); err != nil {
		return nil, fmt.Errorf("archiving: %w", err)
	}
	logger.Info("item archived",
		"execution_id", rec.ID,
		"slug", item.Slug,
		"status", string(item.Status),
		"score", item.Score)

	if o.cache != nil {
		o.cache.InvalidateByTag(ctx, "articles")
	}
	if o.bus != nil {
		o.bus.Publish(core.ItemPublishedEvent{Item: *item, ExecutionID: rec.ID, Renditions: renditions})
	}
	return item, nil
}
