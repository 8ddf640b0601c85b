package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	logger         = newSimpleLogger()
	debugLogging   bool
	verboseLogging bool
	quietMode      bool
)

const (
	logLevelDebug logLevel = iota
	logLevelInfo
	logLevelWarn
	logLevelError
	// logLevelRaw carries worker console output verbatim.
	logLevelRaw
)

const logRetentionDays = 7

var levelNames = []string{
	"DEBUG",
	"INFO",
	"WARN",
	"ERROR",
}

type logLevel int

type logEvent struct {
	level logLevel
	msg   string
	attrs []any
}

type simpleLogger struct {
	level     logLevel
	queue     chan logEvent
	done      chan struct{}
	writerMu  sync.RWMutex
	console   io.Writer
	errWriter io.Writer
	file      io.Writer
	wg        sync.WaitGroup
	stopOnce  sync.Once
	closing   atomic.Bool
}

func newSimpleLogger() *simpleLogger {
	l := &simpleLogger{
		level:     logLevelInfo,
		queue:     make(chan logEvent, 4096),
		done:      make(chan struct{}),
		console:   os.Stdout,
		errWriter: os.Stderr,
		file:      io.Discard,
	}
	l.wg.Add(1)
	go l.run()
	return l
}

func (l *simpleLogger) run() {
	defer l.wg.Done()
	for {
		select {
		case evt := <-l.queue:
			l.writeEntry(evt)
		case <-l.done:
			for {
				select {
				case evt := <-l.queue:
					l.writeEntry(evt)
				default:
					return
				}
			}
		}
	}
}

func (l *simpleLogger) log(level logLevel, msg string, attrs ...any) {
	if level < l.level {
		return
	}
	if l.closing.Load() {
		return
	}
	select {
	case l.queue <- logEvent{level: level, msg: msg, attrs: append([]any(nil), attrs...)}:
	case <-l.done:
	}
}

func (l *simpleLogger) Info(msg string, attrs ...any) {
	l.log(logLevelInfo, msg, attrs...)
}

func (l *simpleLogger) Warn(msg string, attrs ...any) {
	l.log(logLevelWarn, msg, attrs...)
}

func (l *simpleLogger) Error(msg string, attrs ...any) {
	l.log(logLevelError, msg, attrs...)
}

func (l *simpleLogger) Debug(msg string, attrs ...any) {
	l.log(logLevelDebug, msg, attrs...)
}

// Raw queues a line of worker output. It goes through the same queue as log
// entries so worker output and proxy messages keep their relative order.
func (l *simpleLogger) Raw(line string) {
	if l.closing.Load() {
		return
	}
	select {
	case l.queue <- logEvent{level: logLevelRaw, msg: line}:
	case <-l.done:
	}
}

func (l *simpleLogger) setLevel(level logLevel) {
	l.level = level
}

func (l *simpleLogger) configureWriters(console, errWriter, file io.Writer) {
	if console == nil {
		console = io.Discard
	}
	if errWriter == nil {
		errWriter = console
	}
	if file == nil {
		file = io.Discard
	}
	l.writerMu.Lock()
	l.console = console
	l.errWriter = errWriter
	l.file = file
	l.writerMu.Unlock()
}

func (l *simpleLogger) Stop() {
	l.stopOnce.Do(func() {
		l.closing.Store(true)
		close(l.done)
		l.wg.Wait()
		l.writerMu.Lock()
		closeWriter(l.file)
		l.file = io.Discard
		l.writerMu.Unlock()
	})
}

func closeWriter(w io.Writer) {
	if closer, ok := w.(io.Closer); ok {
		_ = closer.Close()
	}
}

func (l *simpleLogger) writeEntry(evt logEvent) {
	l.writerMu.RLock()
	console := l.console
	errWriter := l.errWriter
	file := l.file
	l.writerMu.RUnlock()

	if evt.level == logLevelRaw {
		line := evt.msg
		if !strings.HasSuffix(line, "\n") {
			line += "\n"
		}
		_, _ = io.WriteString(console, line)
		_, _ = io.WriteString(file, line)
		return
	}

	line := formatEntry(time.Now(), evt)
	if evt.level >= logLevelError {
		_, _ = io.WriteString(errWriter, line)
	} else {
		_, _ = io.WriteString(console, line)
	}
	_, _ = io.WriteString(file, line)
}

func formatEntry(now time.Time, evt logEvent) string {
	attrs := formatAttrs(evt.attrs)
	levelName := "UNKNOWN"
	if int(evt.level) >= 0 && int(evt.level) < len(levelNames) {
		levelName = levelNames[evt.level]
	}
	var entry strings.Builder
	entry.WriteString(now.UTC().Format(time.RFC3339Nano))
	entry.WriteString(" [")
	entry.WriteString(levelName)
	entry.WriteString("] ")
	entry.WriteString(evt.msg)
	if attrs != "" {
		entry.WriteString(" ")
		entry.WriteString(attrs)
	}
	entry.WriteByte('\n')
	return entry.String()
}

func formatAttrs(attrs []any) string {
	if len(attrs) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(attrs); i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		key := fmt.Sprint(attrs[i])
		if i+1 < len(attrs) {
			value := fmt.Sprint(attrs[i+1])
			b.WriteString(key)
			b.WriteByte('=')
			if strings.ContainsAny(value, " \t\"") {
				b.WriteString(fmt.Sprintf("%q", value))
			} else {
				b.WriteString(value)
			}
			i++
		} else {
			b.WriteString(key)
		}
	}
	return b.String()
}

func newDailyRollingFileWriter(path string) io.Writer {
	if path == "" {
		return io.Discard
	}
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return &dailyRollingFileWriter{
		dir:  dir,
		name: name,
		ext:  ext,
	}
}

type dailyRollingFileWriter struct {
	dir         string
	name        string
	ext         string
	mu          sync.Mutex
	f           *os.File
	currentDate string
}

func (w *dailyRollingFileWriter) ensureFile(now time.Time) error {
	if w.name == "" || w.dir == "" {
		return fmt.Errorf("invalid log path")
	}
	date := now.UTC().Format("2006-01-02")
	if w.f != nil && w.currentDate == date {
		return nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	filename := fmt.Sprintf("%s-%s%s", w.name, date, w.ext)
	target := filepath.Join(w.dir, filename)
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	w.currentDate = date
	w.cleanupOldLogs(now)
	return nil
}

func (w *dailyRollingFileWriter) cleanupOldLogs(now time.Time) {
	if logRetentionDays <= 0 {
		return
	}
	cutoff := now.UTC().AddDate(0, 0, -(logRetentionDays - 1))
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	prefix := w.name + "-"
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, w.ext) {
			continue
		}
		dateStr := name[len(prefix) : len(name)-len(w.ext)]
		if len(dateStr) != len("2006-01-02") {
			continue
		}
		ts, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if ts.Before(cutoff) {
			_ = os.Remove(filepath.Join(w.dir, name))
		}
	}
}

func (w *dailyRollingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureFile(time.Now()); err != nil {
		return 0, err
	}
	return w.f.Write(p)
}

func (w *dailyRollingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func setLogLevel(level logLevel) {
	logger.setLevel(level)
}

func configureLogging(logFile string) {
	logger.configureWriters(os.Stdout, os.Stderr, newDailyRollingFileWriter(logFile))
}

// printWorkerOutput echoes a worker console line. Calibration output honours
// quiet mode; steady-state output is always shown.
func printWorkerOutput(line string, always bool) {
	if !always && quietMode {
		return
	}
	logger.Raw(line)
}

func fatal(msg string, err error, attrs ...any) {
	attrPairs := append(attrs, "error", err)
	logger.Error("[FATAL] "+msg, attrPairs...)
	logger.Stop()
	os.Exit(1)
}
