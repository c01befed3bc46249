// Package metrics keeps per-job match diagnostics: a bounded log of recent
// match decisions, running aggregates that survive log eviction, and a
// bounded review list of the weakest results.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"boqmatch/internal/boq"
)

const bucketWidth = 0.2

// Config bounds the recorder.
type Config struct {
	LogCapacity            int
	ReviewCapacity         int
	FinishedJobs           int
	LowConfidenceThreshold float64
}

// DefaultConfig returns the default bounds.
func DefaultConfig() Config {
	return Config{
		LogCapacity:            1000,
		ReviewCapacity:         50,
		FinishedJobs:           64,
		LowConfidenceThreshold: 0.5,
	}
}

// Entry is one logged match decision.
type Entry struct {
	RowNumber      int                `json:"row_number"`
	Description    string             `json:"description"`
	Result         boq.MatchResult    `json:"result"`
	Breakdown      boq.ScoreBreakdown `json:"breakdown"`
	ProcessingTime time.Duration      `json:"processing_time"`
	CacheHit       bool               `json:"cache_hit"`
	APICalls       int                `json:"api_calls"`
	LoggedAt       time.Time          `json:"logged_at"`
	Flagged        bool               `json:"flagged"`
}

// Bucket is one confidence histogram range. Upper is exclusive except for the
// last bucket.
type Bucket struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// Stats aggregates every match logged for a job.
type Stats struct {
	JobID             string        `json:"job_id"`
	Matches           int           `json:"matches"`
	Matched           int           `json:"matched"`
	Errors            int           `json:"errors"`
	LowConfidence     int           `json:"low_confidence"`
	AvgConfidence     float64       `json:"avg_confidence"`
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
	CacheHitRate      float64       `json:"cache_hit_rate"`
	APICalls          int           `json:"api_calls"`
	Batches           int           `json:"batches"`
	AvgBatchDuration  time.Duration `json:"avg_batch_duration"`
	Histogram         []Bucket      `json:"histogram"`
	Finished          bool          `json:"finished"`
}

type aggregate struct {
	matches, matched, errors, low int
	confidenceSum                 float64
	processing                    time.Duration
	cacheHits                     int
	apiCalls                      int
	batches                       int
	batchDuration                 time.Duration
	histogram                     [5]int
}

type jobLog struct {
	entries []Entry
	next    int
	full    bool
	review  []Entry
	agg     aggregate
}

type snapshot struct {
	stats  Stats
	review []Entry
}

// Recorder is safe for concurrent use.
type Recorder struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	jobs     map[string]*jobLog
	finished *lru.Cache[string, snapshot]
}

// NewRecorder returns a Recorder; non-positive capacities use the defaults.
func NewRecorder(cfg Config) (*Recorder, error) {
	d := DefaultConfig()
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = d.LogCapacity
	}
	if cfg.ReviewCapacity <= 0 {
		cfg.ReviewCapacity = d.ReviewCapacity
	}
	if cfg.FinishedJobs <= 0 {
		cfg.FinishedJobs = d.FinishedJobs
	}
	finished, err := lru.New[string, snapshot](cfg.FinishedJobs)
	if err != nil {
		return nil, err
	}
	return &Recorder{
		cfg:      cfg,
		now:      time.Now,
		jobs:     make(map[string]*jobLog),
		finished: finished,
	}, nil
}

// LogMatch appends a decision for jobID. The oldest entry is evicted beyond
// the log capacity; aggregates keep counting evicted entries.
func (r *Recorder) LogMatch(jobID string, e Entry) {
	if e.LoggedAt.IsZero() {
		e.LoggedAt = r.now()
	}
	e.Flagged = e.Result.ErrorNote != "" || e.Result.Confidence < r.cfg.LowConfidenceThreshold

	r.mu.Lock()
	defer r.mu.Unlock()
	log := r.jobLocked(jobID)
	if len(log.entries) < r.cfg.LogCapacity {
		log.entries = append(log.entries, e)
	} else {
		log.entries[log.next] = e
		log.full = true
	}
	log.next = (log.next + 1) % r.cfg.LogCapacity

	a := &log.agg
	a.matches++
	if e.Result.Matched() {
		a.matched++
	}
	if e.Result.ErrorNote != "" {
		a.errors++
	}
	if e.Flagged {
		a.low++
		log.addReview(e, r.cfg.ReviewCapacity)
	}
	a.confidenceSum += e.Result.Confidence
	a.processing += e.ProcessingTime
	if e.CacheHit {
		a.cacheHits++
	}
	a.apiCalls += e.APICalls
	a.histogram[bucketIndex(e.Result.Confidence)]++
}

// RecordBatch counts one completed wave.
func (r *Recorder) RecordBatch(jobID string, size int, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	log := r.jobLocked(jobID)
	log.agg.batches++
	log.agg.batchDuration += duration
}

// JobStats returns the aggregates for a live or recently finished job.
func (r *Recorder) JobStats(jobID string) (Stats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if log, ok := r.jobs[jobID]; ok {
		return log.stats(jobID), true
	}
	if snap, ok := r.finished.Get(jobID); ok {
		return snap.stats, true
	}
	return Stats{}, false
}

// Review returns the flagged entries, lowest confidence first.
func (r *Recorder) Review(jobID string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if log, ok := r.jobs[jobID]; ok {
		return append([]Entry(nil), log.review...)
	}
	if snap, ok := r.finished.Get(jobID); ok {
		return append([]Entry(nil), snap.review...)
	}
	return nil
}

// Recent returns up to limit of the newest log entries, oldest first. The log
// is dropped when a job is finalized.
func (r *Recorder) Recent(jobID string, limit int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	log, ok := r.jobs[jobID]
	if !ok {
		return nil
	}
	ordered := log.ordered()
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

// Finalize releases the per-item log of jobID and keeps a compact snapshot
// in the bounded finished-job cache.
func (r *Recorder) Finalize(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	log, ok := r.jobs[jobID]
	if !ok {
		return
	}
	stats := log.stats(jobID)
	stats.Finished = true
	r.finished.Add(jobID, snapshot{stats: stats, review: log.review})
	delete(r.jobs, jobID)
}

// Active returns the number of jobs with a live log.
func (r *Recorder) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *Recorder) jobLocked(jobID string) *jobLog {
	log, ok := r.jobs[jobID]
	if !ok {
		log = &jobLog{}
		r.jobs[jobID] = log
	}
	return log
}

func (l *jobLog) ordered() []Entry {
	if !l.full {
		return append([]Entry(nil), l.entries...)
	}
	out := make([]Entry, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	return append(out, l.entries[:l.next]...)
}

// addReview keeps the capacity lowest-confidence entries. Ties order by row.
func (l *jobLog) addReview(e Entry, capacity int) {
	less := func(a, b Entry) bool {
		if a.Result.Confidence != b.Result.Confidence {
			return a.Result.Confidence < b.Result.Confidence
		}
		return a.RowNumber < b.RowNumber
	}
	if len(l.review) >= capacity {
		if !less(e, l.review[len(l.review)-1]) {
			return
		}
		l.review = l.review[:len(l.review)-1]
	}
	idx := sort.Search(len(l.review), func(i int) bool { return less(e, l.review[i]) })
	l.review = append(l.review, Entry{})
	copy(l.review[idx+1:], l.review[idx:])
	l.review[idx] = e
}

func (l *jobLog) stats(jobID string) Stats {
	a := l.agg
	s := Stats{
		JobID:         jobID,
		Matches:       a.matches,
		Matched:       a.matched,
		Errors:        a.errors,
		LowConfidence: a.low,
		APICalls:      a.apiCalls,
		Batches:       a.batches,
		Histogram:     make([]Bucket, len(a.histogram)),
	}
	if a.matches > 0 {
		s.AvgConfidence = a.confidenceSum / float64(a.matches)
		s.AvgProcessingTime = a.processing / time.Duration(a.matches)
		s.CacheHitRate = float64(a.cacheHits) / float64(a.matches)
	}
	if a.batches > 0 {
		s.AvgBatchDuration = a.batchDuration / time.Duration(a.batches)
	}
	for i, count := range a.histogram {
		s.Histogram[i] = Bucket{
			Lower: float64(i) * bucketWidth,
			Upper: float64(i+1) * bucketWidth,
			Count: count,
		}
	}
	return s
}

func bucketIndex(confidence float64) int {
	switch {
	case confidence <= 0:
		return 0
	case confidence >= 1:
		return 4
	}
	// 0.6/0.2 is 2.999... in floating point; the epsilon keeps lower
	// bounds inclusive.
	idx := int(math.Floor(confidence/bucketWidth + 1e-9))
	return min(idx, 4)
}
