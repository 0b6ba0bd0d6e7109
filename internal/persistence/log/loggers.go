package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"campsite.sim/internal/sim/site"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	// onClosed, when set, receives each hourly file after it is finalized.
	onClosed func(path string)

	mu      sync.Mutex
	curHour string
	curPath string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

// OnFileClosed registers fn for finalized files. Call before the first Write.
func (w *JSONLZstdWriter) OnFileClosed(fn func(path string)) { w.onClosed = fn }

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	w.curPath = path
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
		if w.onClosed != nil {
			w.onClosed(w.curPath)
		}
	}
	w.w = nil
	w.curHour = ""
	w.curPath = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// TickLogger writes one JSONL entry per tick (compressed).
type TickLogger struct{ w *JSONLZstdWriter }

func NewTickLogger(siteDir string) *TickLogger {
	return &TickLogger{w: NewJSONLZstdWriter(filepath.Join(siteDir, "events"), "events")}
}

func (l *TickLogger) WriteTick(v site.TickLogEntry) error { return l.w.Write(v) }
func (l *TickLogger) Close() error                        { return l.w.Close() }
func (l *TickLogger) OnFileClosed(fn func(path string))   { l.w.OnFileClosed(fn) }

// AuditLogger writes audit JSONL entries (compressed).
type AuditLogger struct{ w *JSONLZstdWriter }

func NewAuditLogger(siteDir string) *AuditLogger {
	return &AuditLogger{w: NewJSONLZstdWriter(filepath.Join(siteDir, "audit"), "audit")}
}

func (l *AuditLogger) WriteAudit(v site.AuditEntry) error { return l.w.Write(v) }
func (l *AuditLogger) Close() error                       { return l.w.Close() }
func (l *AuditLogger) OnFileClosed(fn func(path string))  { l.w.OnFileClosed(fn) }

// ListFiles returns dir's <prefix>-*.jsonl.zst files in name (and so time)
// order.
func ListFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ScanFile decodes each line of a .jsonl.zst file into a fresh T and hands
// it to fn. It stops at the first error fn returns.
func ScanFile[T any](path string, fn func(T) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return sc.Err()
}

// ScanTicks walks every tick entry under siteDir/events in order.
func ScanTicks(siteDir string, fn func(site.TickLogEntry) error) error {
	files, err := ListFiles(filepath.Join(siteDir, "events"), "events")
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := ScanFile(path, fn); err != nil {
			return err
		}
	}
	return nil
}
