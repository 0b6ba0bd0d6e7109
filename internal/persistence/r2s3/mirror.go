package r2s3

import (
	"context"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Uploader is the part of Client the mirror needs.
type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	Enqueued      uint64
	Dropped       uint64
	Uploaded      uint64
	Failed        uint64
}

type MirrorOptions struct {
	Workers       int
	QueueCapacity int
	// EnqueueWait bounds how long Enqueue blocks on a full queue.
	EnqueueWait time.Duration
	Attempts    int
	Backoff     time.Duration
}

// Mirror uploads files under root in the background, keyed by their path
// relative to root under prefix. Enqueue never stalls the caller for longer
// than EnqueueWait.
type Mirror struct {
	up     Uploader
	root   string
	prefix string
	log    *log.Logger
	opts   MirrorOptions

	jobs   chan string
	wg     sync.WaitGroup
	closed atomic.Bool

	enqueued atomic.Uint64
	dropped  atomic.Uint64
	uploaded atomic.Uint64
	failed   atomic.Uint64

	descQueue, descEnqueued, descDropped, descUploaded, descFailed *prometheus.Desc
}

func NewMirror(up Uploader, root, prefix string, opts MirrorOptions, logger *log.Logger) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 256
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = 25 * time.Millisecond
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 4
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	m := &Mirror{
		up:     up,
		root:   root,
		prefix: strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		log:    logger,
		opts:   opts,
		jobs:   make(chan string, opts.QueueCapacity),

		descQueue:    prometheus.NewDesc("campsite_mirror_queue_depth", "Files waiting for upload", nil, nil),
		descEnqueued: prometheus.NewDesc("campsite_mirror_enqueued_total", "Files handed to the mirror", nil, nil),
		descDropped:  prometheus.NewDesc("campsite_mirror_dropped_total", "Files dropped on a saturated queue", nil, nil),
		descUploaded: prometheus.NewDesc("campsite_mirror_uploaded_total", "Files uploaded", nil, nil),
		descFailed:   prometheus.NewDesc("campsite_mirror_failed_total", "Files that failed every attempt", nil, nil),
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.closed.Load() {
		return
	}
	m.enqueued.Add(1)
	select {
	case m.jobs <- localPath:
		return
	default:
	}
	t := time.NewTimer(m.opts.EnqueueWait)
	defer t.Stop()
	select {
	case m.jobs <- localPath:
	case <-t.C:
		n := m.dropped.Add(1)
		m.printf("mirror drop %s (queue full, dropped=%d)", localPath, n)
	}
}

// Close stops accepting files and waits for queued uploads.
func (m *Mirror) Close() {
	if m == nil || !m.closed.CompareAndSwap(false, true) {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	return Stats{
		QueueDepth:    len(m.jobs),
		QueueCapacity: cap(m.jobs),
		Enqueued:      m.enqueued.Load(),
		Dropped:       m.dropped.Load(),
		Uploaded:      m.uploaded.Load(),
		Failed:        m.failed.Load(),
	}
}

func (m *Mirror) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.descQueue
	ch <- m.descEnqueued
	ch <- m.descDropped
	ch <- m.descUploaded
	ch <- m.descFailed
}

func (m *Mirror) Collect(ch chan<- prometheus.Metric) {
	st := m.Stats()
	ch <- prometheus.MustNewConstMetric(m.descQueue, prometheus.GaugeValue, float64(st.QueueDepth))
	ch <- prometheus.MustNewConstMetric(m.descEnqueued, prometheus.CounterValue, float64(st.Enqueued))
	ch <- prometheus.MustNewConstMetric(m.descDropped, prometheus.CounterValue, float64(st.Dropped))
	ch <- prometheus.MustNewConstMetric(m.descUploaded, prometheus.CounterValue, float64(st.Uploaded))
	ch <- prometheus.MustNewConstMetric(m.descFailed, prometheus.CounterValue, float64(st.Failed))
}

func (m *Mirror) upload(localPath string) {
	key, err := m.key(localPath)
	if err != nil {
		m.failed.Add(1)
		m.printf("mirror skip %s: %v", localPath, err)
		return
	}
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			m.uploaded.Add(1)
			return
		}
		if attempt == m.opts.Attempts {
			break
		}
		time.Sleep(time.Duration(attempt*attempt) * m.opts.Backoff)
	}
	m.failed.Add(1)
	m.printf("mirror upload %s failed: %v", key, err)
}

// key maps a file under root to its object key.
func (m *Mirror) key(localPath string) (string, error) {
	root, err := filepath.Abs(m.root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", abs, root)
	}
	if m.prefix != "" {
		rel = path.Join(m.prefix, rel)
	}
	return rel, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.log != nil {
		m.log.Printf(format, args...)
	}
}
