package observer

import (
	"sync"
	"time"

	"github.com/userfhy/SSLProxyManager-Tauri/internal/httpproxy"
)

// LogSink is a bounded, most-recent-wins ring of completed Records,
// implementing Sink to back the admin API's query_request_logs,
// get_logs, and clear_logs operations (§6).
type LogSink struct {
	mu      sync.Mutex
	records []httpproxy.Record
	cap     int
}

// NewLogSink builds a LogSink holding at most capacity records; older
// entries are dropped once it fills. capacity <= 0 defaults to 4096.
func NewLogSink(capacity int) *LogSink {
	if capacity <= 0 {
		capacity = 4096
	}
	return &LogSink{cap: capacity}
}

// Flush implements Sink: it appends batch and trims from the front once
// the ring exceeds its capacity.
func (s *LogSink) Flush(batch []httpproxy.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, batch...)
	if excess := len(s.records) - s.cap; excess > 0 {
		s.records = append([]httpproxy.Record(nil), s.records[excess:]...)
	}
}

// Clear implements clear_logs: it discards every retained record.
func (s *LogSink) Clear() {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
}

// LogFilter narrows a query_request_logs call. A zero value for any
// field means "don't filter on this dimension"; Page is 1-indexed and
// PageSize <= 0 defaults to 100.
type LogFilter struct {
	Since, Until time.Time
	Listener     string
	ClientIP     string
	Path         string
	Status       int
	Upstream     string
	Page         int
	PageSize     int
}

// Query returns the records matching f, most recent first, paginated.
func (s *LogSink) Query(f LogFilter) (records []httpproxy.Record, total int) {
	s.mu.Lock()
	all := append([]httpproxy.Record(nil), s.records...)
	s.mu.Unlock()

	matched := make([]httpproxy.Record, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		rec := all[i]
		if !f.Since.IsZero() && rec.Started.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && rec.Started.After(f.Until) {
			continue
		}
		if f.Listener != "" && rec.Listener != f.Listener {
			continue
		}
		if f.ClientIP != "" && rec.ClientIP != f.ClientIP {
			continue
		}
		if f.Path != "" && rec.Path != f.Path {
			continue
		}
		if f.Status != 0 && rec.Status != f.Status {
			continue
		}
		if f.Upstream != "" && rec.Upstream != f.Upstream {
			continue
		}
		matched = append(matched, rec)
	}

	total = len(matched)
	page := f.Page
	if page < 1 {
		page = 1
	}
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return []httpproxy.Record{}, total
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total
}
