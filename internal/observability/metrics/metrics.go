package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP
// requests, upload activity, and transcode pipeline outcomes. Writers are
// coordinated with a RWMutex; the active transcode gauge is atomic.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	uploadEvents    map[string]uint64
	jobEvents       map[string]uint64
	jobFailures     map[string]uint64
	activeJobs      atomic.Int64
	queueDepth      atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		uploadEvents:    make(map[string]uint64),
		jobEvents:       make(map[string]uint64),
		jobFailures:     make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation.
func Default() *Recorder {
	return defaultRecorder
}

// SetDefault swaps the process-wide recorder used by the package helpers.
func SetDefault(r *Recorder) {
	if r != nil {
		defaultRecorder = r
	}
}

// Registry bundles a Recorder for callers that prefer explicit wiring over
// the package-level default.
type Registry struct {
	Recorder *Recorder
}

// NewRegistry constructs a registry with a fresh Recorder and installs it as
// the package default so helper functions and explicit callers agree.
func NewRegistry() *Registry {
	recorder := New()
	SetDefault(recorder)
	return &Registry{Recorder: recorder}
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveUploadEvent records upload activity keyed by event name, e.g.
// "session_init", "chunk", "merge", or "direct".
func (r *Recorder) ObserveUploadEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.uploadEvents[normalized]++
	r.mu.Unlock()
}

// JobStarted records the beginning of a transcode job and increments the
// active transcode gauge. With a single sequential worker the gauge only ever
// reads 0 or 1.
func (r *Recorder) JobStarted() {
	r.incrementJobEvent("started")
	r.activeJobs.Add(1)
}

// JobCompleted records a successful transcode and decrements the active
// gauge.
func (r *Recorder) JobCompleted() {
	r.incrementJobEvent("completed")
	r.decrementGauge(&r.activeJobs)
}

// JobFailed records a failed transcode keyed by failure reason (e.g.
// "probe_failed", "encode_failed") and decrements the active gauge.
func (r *Recorder) JobFailed(reason string) {
	r.incrementJobEvent("failed")
	normalized := normalizeName(reason)
	r.mu.Lock()
	r.jobFailures[normalized]++
	r.mu.Unlock()
	r.decrementGauge(&r.activeJobs)
}

func (r *Recorder) incrementJobEvent(event string) {
	r.mu.Lock()
	r.jobEvents[event]++
	r.mu.Unlock()
}

// SetQueueDepth publishes the latest observed queue length.
func (r *Recorder) SetQueueDepth(depth int64) {
	r.queueDepth.Store(depth)
}

// ActiveJobs exposes the current gauge of running transcodes.
func (r *Recorder) ActiveJobs() int64 {
	return r.activeJobs.Load()
}

// QueueDepth exposes the last published queue length.
func (r *Recorder) QueueDepth() int64 {
	return r.queueDepth.Load()
}

// JobCounts returns copies of the job event and failure counters for testing
// and reporting purposes.
func (r *Recorder) JobCounts() (events map[string]uint64, failures map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events = make(map[string]uint64, len(r.jobEvents))
	for k, v := range r.jobEvents {
		events[k] = v
	}
	failures = make(map[string]uint64, len(r.jobFailures))
	for k, v := range r.jobFailures {
		failures[k] = v
	}
	return events, failures
}

// UploadCounts returns a copy of the upload event counters.
func (r *Recorder) UploadCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make(map[string]uint64, len(r.uploadEvents))
	for k, v := range r.uploadEvents {
		events[k] = v
	}
	return events
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.uploadEvents = make(map[string]uint64)
	r.jobEvents = make(map[string]uint64)
	r.jobFailures = make(map[string]uint64)
	r.activeJobs.Store(0)
	r.queueDepth.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	uploadEvents := sortedKeys(r.uploadEvents)
	jobEvents := sortedKeys(r.jobEvents)
	jobFailures := sortedKeys(r.jobFailures)

	fmt.Fprintln(w, "# HELP vodforge_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE vodforge_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "vodforge_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP vodforge_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE vodforge_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "vodforge_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP vodforge_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE vodforge_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "vodforge_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP vodforge_upload_events_total Upload activity by event type")
	fmt.Fprintln(w, "# TYPE vodforge_upload_events_total counter")
	for _, event := range uploadEvents {
		fmt.Fprintf(w, "vodforge_upload_events_total{event=\"%s\"} %d\n", event, r.uploadEvents[event])
	}

	fmt.Fprintln(w, "# HELP vodforge_pipeline_jobs_total Transcode pipeline job events by status")
	fmt.Fprintln(w, "# TYPE vodforge_pipeline_jobs_total counter")
	for _, event := range jobEvents {
		fmt.Fprintf(w, "vodforge_pipeline_jobs_total{status=\"%s\"} %d\n", event, r.jobEvents[event])
	}

	fmt.Fprintln(w, "# HELP vodforge_pipeline_failures_total Transcode pipeline failures by reason")
	fmt.Fprintln(w, "# TYPE vodforge_pipeline_failures_total counter")
	for _, reason := range jobFailures {
		fmt.Fprintf(w, "vodforge_pipeline_failures_total{reason=\"%s\"} %d\n", reason, r.jobFailures[reason])
	}

	fmt.Fprintln(w, "# HELP vodforge_active_transcodes Current number of running transcode jobs")
	fmt.Fprintln(w, "# TYPE vodforge_active_transcodes gauge")
	fmt.Fprintf(w, "vodforge_active_transcodes %d\n", r.activeJobs.Load())

	fmt.Fprintln(w, "# HELP vodforge_queue_depth Last observed length of the transcode queue")
	fmt.Fprintln(w, "# TYPE vodforge_queue_depth gauge")
	fmt.Fprintf(w, "vodforge_queue_depth %d\n", r.queueDepth.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveUploadEvent records upload activity on the default recorder.
func ObserveUploadEvent(event string) {
	defaultRecorder.ObserveUploadEvent(event)
}

// JobStarted records a job start on the default recorder.
func JobStarted() {
	defaultRecorder.JobStarted()
}

// JobCompleted records a job completion on the default recorder.
func JobCompleted() {
	defaultRecorder.JobCompleted()
}

// JobFailed records a job failure on the default recorder.
func JobFailed(reason string) {
	defaultRecorder.JobFailed(reason)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
