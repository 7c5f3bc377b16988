package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"autopress/internal/core"
	"autopress/internal/dedup"
)

type stubSource struct {
	candidates []core.Candidate
	err        error
	block      chan struct{} // when set, FetchCandidates waits until closed
}

func (s *stubSource) FetchCandidates(context.Context) ([]core.Candidate, error) {
	if s.block != nil {
		<-s.block
	}
	return s.candidates, s.err
}

type stubPicker struct {
	selections []core.Selection
	panics     bool
}

func (s *stubPicker) SelectBestArticles(_ context.Context, _ []core.Candidate, _ int, _ string) []core.Selection {
	if s.panics {
		panic("selection exploded")
	}
	return s.selections
}

type stubFetcher struct{}

func (stubFetcher) FetchArticleContent(_ context.Context, _, title string) (string, bool) {
	return "Full text of " + title, true
}

type stubWriter struct {
	score   int
	failFor string // title substring that makes Rewrite fail
}

func (w *stubWriter) Rewrite(_ context.Context, title, _, _ string, _ []string) (core.RewrittenArticle, error) {
	if w.failFor != "" && strings.Contains(title, w.failFor) {
		return core.RewrittenArticle{}, errors.New("model refused")
	}
	return core.RewrittenArticle{
		Title:   "Rewritten: " + title,
		Excerpt: "Excerpt",
		Content: "Body for " + title,
		Score:   w.score,
	}, nil
}

func (w *stubWriter) GenerateImagePrompt(_ context.Context, title, _ string) string {
	return "illustration of " + title
}

type stubImages struct {
	err error
}

func (s *stubImages) Generate(_ context.Context, prompt string, _ int64) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "https://img.example.com/" + fmt.Sprint(len(prompt)), nil
}

func (s *stubImages) Renditions(prompt string, seed int64) map[string]string {
	base := fmt.Sprintf("https://img.example.com/%d/%d/", len(prompt), seed)
	return map[string]string{"hero": base + "hero", "card": base + "card", "thumb": base + "thumb"}
}

type stubBus struct {
	mu     sync.Mutex
	events []core.ItemPublishedEvent
}

func (b *stubBus) Publish(evt core.ItemPublishedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
}

type stubChecker struct {
	dupFor string
}

func (s *stubChecker) CheckContent(_ context.Context, title, _ string) (dedup.Result, error) {
	if s.dupFor != "" && strings.Contains(title, s.dupFor) {
		return dedup.Result{IsDuplicate: true, Reason: "content similarity"}, nil
	}
	return dedup.Result{}, nil
}

type memArchive struct {
	mu       sync.Mutex
	created  []*core.ExecutionRecord
	finished []*core.ExecutionRecord
	items    []*core.PublishedItem
}

func (a *memArchive) CreateExecution(_ context.Context, rec *core.ExecutionRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *rec
	a.created = append(a.created, &cp)
	return nil
}

func (a *memArchive) FinishExecution(_ context.Context, rec *core.ExecutionRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *rec
	a.finished = append(a.finished, &cp)
	return nil
}

func (a *memArchive) InsertItem(_ context.Context, item *core.PublishedItem) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	item.Slug = strings.ToLower(strings.ReplaceAll(item.Title, " ", "-"))
	cp := *item
	a.items = append(a.items, &cp)
	return nil
}

func (a *memArchive) RecentTitles(context.Context, string, int) ([]string, error) {
	return nil, nil
}

type stubRescheduler struct {
	mu    sync.Mutex
	calls int
}

func (r *stubRescheduler) ScheduleNextRun(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil
}

type stubNotifier struct {
	mu      sync.Mutex
	reports []core.ExecutionReport
}

func (n *stubNotifier) SendReport(_ context.Context, report core.ExecutionReport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, report)
}

func selections(titles ...string) []core.Selection {
	var out []core.Selection
	for _, t := range titles {
		out = append(out, core.Selection{
			Candidate: core.Candidate{Title: t, Link: "https://news.example.com/" + strings.ReplaceAll(t, " ", "-")},
			Category:  "World",
		})
	}
	return out
}

func newTestOrchestrator(archive *memArchive, picker Picker, writer Writer, checker ContentChecker) *Orchestrator {
	return New(Config{
		Source:  &stubSource{candidates: []core.Candidate{{Title: "seed"}}},
		Picker:  picker,
		Fetcher: stubFetcher{},
		Writer:  writer,
		Images:  &stubImages{},
		Checker: checker,
		Archive: archive,
	})
}

func TestExecuteSuccessfulRun(t *testing.T) {
	archive := &memArchive{}
	o := newTestOrchestrator(archive,
		&stubPicker{selections: selections("Summit Agreement Reached", "Markets Rally Hard")},
		&stubWriter{score: 900},
		&stubChecker{})

	rec, err := o.Execute(context.Background(), Options{Trigger: "manual"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if rec.Status != core.ExecutionSuccess {
		t.Errorf("Expected SUCCESS, got %s", rec.Status)
	}
	if rec.Published != 2 {
		t.Errorf("Expected 2 published, got %d", rec.Published)
	}
	if len(archive.finished) != 1 || !archive.finished[0].Terminal() {
		t.Error("Expected exactly one terminal record write")
	}
	if len(archive.items) != 2 {
		t.Fatalf("Expected 2 archived items, got %d", len(archive.items))
	}
	for _, item := range archive.items {
		if item.Status != core.ItemPublished {
			t.Errorf("Score 900 should publish, item %s is %s", item.Slug, item.Status)
		}
		if item.ExecutionID != rec.ID {
			t.Errorf("Item %s not tied to execution", item.Slug)
		}
		if item.Topic == "" {
			t.Errorf("Item %s missing topic tag", item.Slug)
		}
	}
}

func TestExecuteLowScoreLandsAsDraft(t *testing.T) {
	archive := &memArchive{}
	o := newTestOrchestrator(archive,
		&stubPicker{selections: selections("Quiet Local Story")},
		&stubWriter{score: core.PublishThreshold - 1},
		&stubChecker{})

	rec, err := o.Execute(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if rec.Status != core.ExecutionSuccess {
		t.Errorf("A draft still counts as a successful publish, got %s", rec.Status)
	}
	if archive.items[0].Status != core.ItemDraft {
		t.Errorf("Expected DRAFT below threshold, got %s", archive.items[0].Status)
	}
}

func TestExecutePartialWhenSomeItemsFail(t *testing.T) {
	archive := &memArchive{}
	o := newTestOrchestrator(archive,
		&stubPicker{selections: selections("Good Story Lands", "Bad Story Breaks")},
		&stubWriter{score: 800, failFor: "Bad Story"},
		&stubChecker{})

	rec, err := o.Execute(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if rec.Status != core.ExecutionPartial {
		t.Errorf("Expected PARTIAL, got %s", rec.Status)
	}
	if rec.Published != 1 || len(rec.Errors) != 1 {
		t.Errorf("Expected 1 published and 1 error, got %d and %d", rec.Published, len(rec.Errors))
	}
}

func TestExecuteFailedWhenNothingPublishes(t *testing.T) {
	archive := &memArchive{}
	o := newTestOrchestrator(archive,
		&stubPicker{selections: selections("Doomed Story One", "Doomed Story Two")},
		&stubWriter{score: 800, failFor: "Doomed"},
		&stubChecker{})

	rec, err := o.Execute(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	if rec.Status != core.ExecutionFailed {
		t.Errorf("Expected FAILED with zero publishes, got %s", rec.Status)
	}
}

func TestExecuteFailedWhenFeedsDown(t *testing.T) {
	archive := &memArchive{}
	o := New(Config{
		Source:  &stubSource{err: errors.New("all feeds unreachable")},
		Picker:  &stubPicker{},
		Fetcher: stubFetcher{},
		Writer:  &stubWriter{score: 800},
		Checker: &stubChecker{},
		Archive: archive,
	})

	rec, err := o.Execute(context.Background(), Options{})
	if err == nil {
		t.Fatal("Expected error when feeds are down")
	}
	if rec.Status != core.ExecutionFailed {
		t.Errorf("Expected FAILED, got %s", rec.Status)
	}
	if len(archive.finished) != 1 {
		t.Error("Expected the record finished even on early failure")
	}
}

func TestExecuteRejectsConcurrentRuns(t *testing.T) {
	archive := &memArchive{}
	block := make(chan struct{})
	o := New(Config{
		Source:  &stubSource{block: block, candidates: []core.Candidate{{Title: "x"}}},
		Picker:  &stubPicker{selections: selections("Held Story Waits")},
		Fetcher: stubFetcher{},
		Writer:  &stubWriter{score: 800},
		Checker: &stubChecker{},
		Archive: archive,
	})

	firstDone := make(chan struct{})
	go func() {
		o.Execute(context.Background(), Options{})
		close(firstDone)
	}()

	// Wait for the first run to take the slot.
	deadline := time.After(time.Second)
	for !o.Running() {
		select {
		case <-deadline:
			t.Fatal("First run never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if _, err := o.Execute(context.Background(), Options{}); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}

	close(block)
	<-firstDone

	if _, err := o.Execute(context.Background(), Options{}); errors.Is(err, ErrAlreadyRunning) {
		t.Error("Slot not released after the first run finished")
	}
}

func TestExecuteFinishesRecordOnPanic(t *testing.T) {
	archive := &memArchive{}
	o := newTestOrchestrator(archive, &stubPicker{panics: true}, &stubWriter{score: 800}, &stubChecker{})

	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("Panic escaped Execute: %v", r)
			}
		}()
		rec, _ := o.Execute(context.Background(), Options{})
		if rec.Status != core.ExecutionFailed {
			t.Errorf("Expected FAILED after panic, got %s", rec.Status)
		}
	}()

	if len(archive.finished) != 1 {
		t.Fatal("Expected the record finished after a panic")
	}
	if archive.finished[0].Status != core.ExecutionFailed {
		t.Errorf("Expected FAILED persisted, got %s", archive.finished[0].Status)
	}
	if o.Running() {
		t.Error("Run slot not released after a panic")
	}
}

func TestExecuteSkipsDuplicateAfterRewrite(t *testing.T) {
	archive := &memArchive{}
	o := newTestOrchestrator(archive,
		&stubPicker{selections: selections("Fresh Story Arrives", "Stale Story Returns")},
		&stubWriter{score: 800},
		&stubChecker{dupFor: "Stale Story"})

	rec, err := o.Execute(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if rec.Published != 1 {
		t.Errorf("Expected the duplicate skipped, got %d published", rec.Published)
	}
	if rec.Status != core.ExecutionPartial {
		t.Errorf("Expected PARTIAL when one item was a duplicate, got %s", rec.Status)
	}
}

func TestExecuteReschedulesAndNotifies(t *testing.T) {
	archive := &memArchive{}
	resched := &stubRescheduler{}
	notifier := &stubNotifier{}
	o := New(Config{
		Source:      &stubSource{candidates: []core.Candidate{{Title: "x"}}},
		Picker:      &stubPicker{selections: selections("Reported Story Ships")},
		Fetcher:     stubFetcher{},
		Writer:      &stubWriter{score: 800},
		Checker:     &stubChecker{},
		Archive:     archive,
		Rescheduler: resched,
		Notifier:    notifier,
	})

	rec, err := o.Execute(context.Background(), Options{Trigger: "queue"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if resched.calls != 1 {
		t.Errorf("Expected 1 reschedule after the run, got %d", resched.calls)
	}
	if len(notifier.reports) != 1 {
		t.Fatalf("Expected 1 report, got %d", len(notifier.reports))
	}
	report := notifier.reports[0]
	if report.ExecutionID != rec.ID || report.Status != core.ExecutionSuccess {
		t.Errorf("Report does not match the run: %+v", report)
	}
	if len(report.Items) != 1 || report.Items[0].Slug == "" {
		t.Errorf("Expected the published item in the report, got %+v", report.Items)
	}
}

func TestExecutePublishesEventWithRenditions(t *testing.T) {
	archive := &memArchive{}
	bus := &stubBus{}
	o := New(Config{
		Source:  &stubSource{candidates: []core.Candidate{{Title: "x"}}},
		Picker:  &stubPicker{selections: selections("Illustrated Story Ships")},
		Fetcher: stubFetcher{},
		Writer:  &stubWriter{score: 800},
		Images:  &stubImages{},
		Checker: &stubChecker{},
		Archive: archive,
		Bus:     bus,
	})

	rec, err := o.Execute(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(bus.events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(bus.events))
	}
	evt := bus.events[0]
	if evt.ExecutionID != rec.ID {
		t.Errorf("Event not tied to execution: %+v", evt)
	}
	if evt.Item.ImageURL == "" {
		t.Error("Expected cover image URL on the event")
	}
	for _, tier := range []string{"hero", "card", "thumb"} {
		if evt.Renditions[tier] == "" {
			t.Errorf("Expected %s rendition on the event, got %v", tier, evt.Renditions)
		}
	}
}

func TestExecuteSurvivesImageFailure(t *testing.T) {
	archive := &memArchive{}
	o := New(Config{
		Source:  &stubSource{candidates: []core.Candidate{{Title: "x"}}},
		Picker:  &stubPicker{selections: selections("Pictureless Story Runs")},
		Fetcher: stubFetcher{},
		Writer:  &stubWriter{score: 800},
		Images:  &stubImages{err: errors.New("image service down")},
		Checker: &stubChecker{},
		Archive: archive,
	})

	rec, err := o.Execute(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if rec.Status != core.ExecutionSuccess {
		t.Errorf("Image failure must not fail the run, got %s", rec.Status)
	}
	if archive.items[0].ImageURL != "" {
		t.Errorf("Expected empty image URL, got %q", archive.items[0].ImageURL)
	}
}
