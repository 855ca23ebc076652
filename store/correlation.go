package store

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"
)

var labelPattern = regexp.MustCompile(`job_([^_/\s]+)_segment_(\d+)`)

// Correlation is where a provider token points.
type Correlation struct {
	JobID        string
	SegmentIndex int
	RecordedAt   time.Time
}

// CorrelationTable maps provider correlation tokens back to job segments.
// Entries are written once per submission and live for the whole process.
type CorrelationTable struct {
	mu      sync.RWMutex
	entries map[string]Correlation
}

// NewCorrelationTable creates an empty table.
func NewCorrelationTable() *CorrelationTable {
	return &CorrelationTable{entries: make(map[string]Correlation)}
}

// Record associates token with a job segment. A reused token is overwritten.
func (c *CorrelationTable) Record(token, jobID string, segmentIndex int) {
	if token == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[token] = Correlation{JobID: jobID, SegmentIndex: segmentIndex, RecordedAt: time.Now()}
}

// Resolve looks up a token.
func (c *CorrelationTable) Resolve(token string) (Correlation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	corr, ok := c.entries[token]
	return corr, ok
}

// Len returns the number of recorded tokens.
func (c *CorrelationTable) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Label is the opaque name sent to the provider with a segment. It embeds
// the job id and segment index so a callback can be resolved without the table.
func Label(jobID string, segmentIndex int) string {
	return fmt.Sprintf("job_%s_segment_%d", jobID, segmentIndex)
}

// ParseLabel extracts the job id and segment index embedded by Label from
// any string containing it, such as a filename or a request id.
func ParseLabel(s string) (string, int, bool) {
	m := labelPattern.FindStringSubmatch(s)
	if m == nil {
		return "", 0, false
	}
	index, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], index, true
}
