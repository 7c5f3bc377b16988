package core

import "time"

// ExecutionStatus tracks the lifecycle of a single agent run.
type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "RUNNING"
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionPartial ExecutionStatus = "PARTIAL"
	ExecutionFailed  ExecutionStatus = "FAILED"
)

// ItemStatus is the publication state of an archived item.
type ItemStatus string

const (
	ItemDraft     ItemStatus = "DRAFT"
	ItemPublished ItemStatus = "PUBLISHED"
)

// PublishThreshold is the minimum quality score (0-1000) an item needs
// to go live without editorial review. Anything below lands as a draft.
const PublishThreshold = 750

// Candidate represents a raw headline discovered from a feed, before
// any ranking or selection. Candidates are ephemeral and never persisted.
type Candidate struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	TrendScore  float64   `json:"trend_score"` // Composite trend score, filled by the ranker
}

// Selection is a candidate chosen for publication, with the category
// and rationale assigned during selection.
type Selection struct {
	Candidate Candidate `json:"candidate"`
	Category  string    `json:"category"`
	Reason    string    `json:"reason"`
}

// RewrittenArticle is the editorial output produced for one selection.
type RewrittenArticle struct {
	Title           string   `json:"title"`
	Excerpt         string   `json:"excerpt"`
	Content         string   `json:"content"`
	Keywords        []string `json:"keywords"`
	MetaDescription string   `json:"metaDescription"`
	Score           int      `json:"score"` // Quality score, 0-1000
}

// PublishedItem represents an article written to the archive.
type PublishedItem struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Slug            string     `json:"slug"`
	Excerpt         string     `json:"excerpt"`
	Content         string     `json:"content"`
	ImageURL        string     `json:"image_url"`
	SourceURL       string     `json:"source_url"` // Normalized origin URL, unique per item
	Category        string     `json:"category"`
	Topic           string     `json:"topic"` // Coarse topic tag used for repetition checks
	Score           int        `json:"score"`
	Status          ItemStatus `json:"status"`
	ExecutionID     string     `json:"execution_id"`
	MetaDescription string     `json:"meta_description"`
	Keywords        []string   `json:"keywords"`
	PublishedAt     time.Time  `json:"published_at"`
}

// ExecutionRecord is the durable audit trail of one agent run. A record
// is created in RUNNING state before any work starts and always ends in
// one of the terminal states, even when the run dies mid-flight.
type ExecutionRecord struct {
	ID         string            `json:"id"`
	Status     ExecutionStatus   `json:"status"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Duration   time.Duration     `json:"duration"`
	Scraped    int               `json:"scraped"`   // Candidates discovered
	Published  int               `json:"published"` // Items written to the archive
	Errors     []string          `json:"errors"`
	Metadata   map[string]string `json:"metadata"` // Trigger source, forced category, etc.
}

// Terminal reports whether the record has reached a final state.
func (r *ExecutionRecord) Terminal() bool {
	return r.Status == ExecutionSuccess || r.Status == ExecutionPartial || r.Status == ExecutionFailed
}

// ScheduleState holds the persisted scheduling configuration and the
// bookkeeping around the last and next run.
type ScheduleState struct {
	Enabled       bool      `json:"enabled"`
	IntervalHours int       `json:"interval_hours"`
	LastRun       time.Time `json:"last_run"`
	NextRun       time.Time `json:"next_run"`
}

// ExecutionReport is the notification payload emitted after a run
// reaches a terminal state.
type ExecutionReport struct {
	ExecutionID string          `json:"execution_id"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration"`
	Scraped     int             `json:"scraped"`
	Published   int             `json:"published"`
	Errors      []string        `json:"errors"`
	Items       []ReportItem    `json:"items"`
}

// ReportItem is a single published article referenced in a report.
type ReportItem struct {
	Title  string     `json:"title"`
	Slug   string     `json:"slug"`
	Status ItemStatus `json:"status"`
}

// ItemPublishedEvent is emitted on the bus after an item lands in the
// archive. Subscribers handle side effects and own their failures.
// Renditions maps size-tier names to image URLs sharing the cover's
// seed, so downstream consumers can pick a fitting variant.
type ItemPublishedEvent struct {
	Item        PublishedItem     `json:"item"`
	ExecutionID string            `json:"execution_id"`
	Renditions  map[string]string `json:"renditions,omitempty"`
}
