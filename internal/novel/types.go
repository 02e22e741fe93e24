// Package novel defines core types shared across subsystems.
package novel

import "time"

// PlaceholderContent is persisted as chapter content when the provider
// returns nothing or fails. Failed fetches still reach the file store so a
// run leaves an audit trail.
const PlaceholderContent = "Error retrieving content..."

// ChapterStatus represents the lifecycle state of a single chapter.
type ChapterStatus string

// Chapter status values. A chapter moves pending -> crawling -> success|error
// and never leaves a terminal status.
const (
	ChapterPending  ChapterStatus = "pending"
	ChapterCrawling ChapterStatus = "crawling"
	ChapterSuccess  ChapterStatus = "success"
	ChapterError    ChapterStatus = "error"
)

// Terminal reports whether the status is final.
func (s ChapterStatus) Terminal() bool {
	return s == ChapterSuccess || s == ChapterError
}

// SessionState represents the lifecycle state of an archive session.
type SessionState string

// Session state values.
const (
	SessionIdle     SessionState = "idle"
	SessionRunning  SessionState = "running"
	SessionFinished SessionState = "finished"
)

// Metadata describes a novel as discovered by the provider. It is immutable
// for the lifetime of a session; a new search replaces it wholesale.
type Metadata struct {
	Title                 string   `json:"title"`
	Author                string   `json:"author"`
	Description           string   `json:"description"`
	TotalChaptersEstimate int      `json:"total_chapters_estimate"`
	ChapterTitles         []string `json:"chapter_titles"`
	Sources               []string `json:"sources,omitempty"`
}

// Chapter is one unit of crawl work. Seq is 1-based, assigned once at queue
// initialization in discovery order, and never reused. Title is immutable;
// Status, Content and Error are mutated only by the controller.
type Chapter struct {
	Seq     int           `json:"seq"`
	Title   string        `json:"title"`
	Status  ChapterStatus `json:"status"`
	Content string        `json:"content,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Session aggregates the metadata and chapter queue for one archive run.
type Session struct {
	ID       string       `json:"id"`
	Metadata Metadata     `json:"metadata"`
	Chapters []Chapter    `json:"chapters"`
	State    SessionState `json:"state"`
	Created  time.Time    `json:"created_at"`
	Updated  time.Time    `json:"updated_at"`
}

// Progress returns the completed fraction: terminal chapters over total.
// An empty queue reports 0.
func (s Session) Progress() float64 {
	if len(s.Chapters) == 0 {
		return 0
	}
	done := 0
	for _, ch := range s.Chapters {
		if ch.Status.Terminal() {
			done++
		}
	}
	return float64(done) / float64(len(s.Chapters))
}

// NextPending returns the first chapter in queue order still pending.
func (s Session) NextPending() (Chapter, bool) {
	for _, ch := range s.Chapters {
		if ch.Status == ChapterPending {
			return ch, true
		}
	}
	return Chapter{}, false
}

// Clone returns a deep copy safe to hand to readers while the controller
// keeps mutating the original.
func (s Session) Clone() Session {
	cp := s
	cp.Chapters = make([]Chapter, len(s.Chapters))
	copy(cp.Chapters, s.Chapters)
	cp.Metadata.ChapterTitles = append([]string(nil), s.Metadata.ChapterTitles...)
	cp.Metadata.Sources = append([]string(nil), s.Metadata.Sources...)
	return cp
}

// NewSession builds a session with a freshly initialized chapter queue. Every
// chapter starts pending, sequence numbers follow discovery order.
func NewSession(id string, meta Metadata, now time.Time) Session {
	chapters := make([]Chapter, 0, len(meta.ChapterTitles))
	for i, title := range meta.ChapterTitles {
		chapters = append(chapters, Chapter{
			Seq:    i + 1,
			Title:  title,
			Status: ChapterPending,
		})
	}
	return Session{
		ID:       id,
		Metadata: meta,
		Chapters: chapters,
		State:    SessionIdle,
		Created:  now,
		Updated:  now,
	}
}
