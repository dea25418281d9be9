// Package logx provides structured logging with domain-filtered debug output.
package logx

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger writes leveled, component-tagged log lines to stderr.
type Logger struct {
	component string
	logger    *log.Logger
}

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// DebugConfig controls debug logging behavior.
type DebugConfig struct {
	Enabled bool
	Domains map[string]bool // Which domains to enable debug for (nil = all)
}

// Entry is a structured log entry kept in the in-memory ring buffer.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Domain    string `json:"domain,omitempty"`
}

// ringBuffer stores recent log entries for post-run inspection.
type ringBuffer struct {
	entries []Entry
	mu      sync.RWMutex
	maxSize int
}

//nolint:gochecknoglobals // Package-level debug configuration and buffer
var (
	debugConfig = &DebugConfig{}
	debugMu     sync.RWMutex

	buffer = &ringBuffer{maxSize: 1000}
)

//nolint:gochecknoinits // Required for env var initialization
func init() {
	initDebugFromEnv()
}

func initDebugFromEnv() {
	debugMu.Lock()
	defer debugMu.Unlock()

	if debug := os.Getenv("DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		debugConfig.Enabled = true
	}

	// DEBUG_DOMAINS=categorizer,workflow,retrieval limits debug to named domains.
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugConfig.Domains = make(map[string]bool)
		for _, domain := range strings.Split(domains, ",") {
			debugConfig.Domains[strings.TrimSpace(domain)] = true
		}
	}
}

// NewLogger creates a logger tagged with the given component name.
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(os.Stderr, "", 0), // stderr keeps stdout clean for artifacts
	}
}

// SetDebug configures global debug logging.
func SetDebug(enabled bool, domains []string) {
	debugMu.Lock()
	defer debugMu.Unlock()

	debugConfig.Enabled = enabled
	if len(domains) == 0 {
		debugConfig.Domains = nil
	} else {
		debugConfig.Domains = make(map[string]bool)
		for _, domain := range domains {
			debugConfig.Domains[strings.TrimSpace(domain)] = true
		}
	}
}

// IsDebugEnabled reports whether debug logging is enabled at all.
func IsDebugEnabled() bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	return debugConfig.Enabled
}

// IsDebugEnabledForDomain reports whether debug logging is enabled for a domain.
func IsDebugEnabledForDomain(domain string) bool {
	debugMu.RLock()
	defer debugMu.RUnlock()

	if !debugConfig.Enabled {
		return false
	}
	if debugConfig.Domains == nil {
		return true
	}
	return debugConfig.Domains[domain]
}

func (b *ringBuffer) add(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, entry)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

func (b *ringBuffer) snapshot(domain string, since time.Time) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	filtered := make([]Entry, 0, len(b.entries))
	for i := range b.entries {
		entry := &b.entries[i]
		if domain != "" && entry.Domain != "" && !strings.EqualFold(entry.Domain, domain) {
			continue
		}
		if !since.IsZero() {
			ts, err := time.Parse(timestampLayout, entry.Timestamp)
			if err != nil || ts.Before(since) {
				continue
			}
		}
		filtered = append(filtered, *entry)
	}
	return filtered
}

// RecentEntries returns buffered log entries, optionally filtered by domain and time.
func RecentEntries(domain string, since time.Time) []Entry {
	return buffer.snapshot(domain, since)
}

const timestampLayout = "2006-01-02T15:04:05.000Z"

func (l *Logger) log(level Level, format string, args ...any) {
	timestamp := time.Now().UTC().Format(timestampLayout)
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] [%s] %s: %s", timestamp, l.component, level, message)

	buffer.add(Entry{
		Timestamp: timestamp,
		Component: l.component,
		Level:     string(level),
		Message:   message,
	})
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// GetComponent returns the component tag of this logger.
func (l *Logger) GetComponent() string {
	return l.component
}

// Debug logs a debug message under a domain, subject to DEBUG_DOMAINS filtering.
//
// Usage examples:
//
//	logx.Debug("categorizer", "indicator score: %0.2f", score)
//	logx.Debug("workflow", "transition %s -> %s", from, to)
func Debug(domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}

	timestamp := time.Now().UTC().Format(timestampLayout)
	message := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "[%s] [%s] %s: %s\n", timestamp, domain, LevelDebug, message)

	buffer.add(Entry{
		Timestamp: timestamp,
		Component: domain,
		Level:     string(LevelDebug),
		Message:   message,
		Domain:    domain,
	})
}

// Package-level convenience logger.
//
//nolint:gochecknoglobals // Default logger for package-level helpers
var defaultLogger = NewLogger("system")

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
// Use this when you need both logging and error returning:
//
//	err := logx.Errorf("setup failed: %w", err).
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err.Error() and returns fmt.Errorf("%s: %w", msg, err).
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}

// EnsureDir creates dir (and parents) if missing. Small helper shared by
// components that write artifacts.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(filepath.Clean(dir), 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
