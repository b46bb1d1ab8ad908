package logx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// JournalConfig controls the optional systemd journal sink.
type JournalConfig struct {
	Enabled    bool
	MinLevel   string // default warn
	RatePerSec int    // default 20
}

// Overridden in tests.
var (
	journalAvailable = journal.Enabled
	journalSend      = journal.Send
)

// journalWriter forwards zerolog JSON lines to journald with structured
// fields. Lines under minLevel or over the rate limit are dropped, never
// blocking the caller.
type journalWriter struct {
	minLevel zerolog.Level
	limiter  *rate.Limiter
	dropped  atomic.Uint64
}

func newJournalWriter(cfg JournalConfig) *journalWriter {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 20
	}
	return &journalWriter{
		minLevel: parseLevel(cfg.MinLevel, zerolog.WarnLevel),
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
	}
}

func (w *journalWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *journalWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < w.minLevel {
		return len(p), nil
	}
	if !w.limiter.Allow() {
		w.dropped.Add(1)
		return len(p), nil
	}
	msg, vars := journalFields(p)
	if n := w.dropped.Swap(0); n > 0 {
		vars["DROPPED"] = fmt.Sprint(n)
	}
	// A failed send must not fail the other sinks.
	_ = journalSend(msg, journalPriority(level), vars)
	return len(p), nil
}

// journalFields splits a zerolog JSON line into the message and journal
// variables. Non-JSON input is sent as the message unchanged.
func journalFields(p []byte) (string, map[string]string) {
	vars := map[string]string{}
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &m); err != nil {
		return strings.TrimSpace(string(p)), vars
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	for k, v := range m {
		switch k {
		case zerolog.MessageFieldName, zerolog.LevelFieldName, zerolog.TimestampFieldName:
			continue
		}
		key := journalKey(k)
		if key == "" {
			continue
		}
		if s, ok := v.(string); ok {
			vars[key] = s
		} else {
			vars[key] = fmt.Sprint(v)
		}
	}
	return msg, vars
}

// journalKey maps a field name onto the journal variable charset
// [A-Z0-9_]; it may not start with an underscore.
func journalKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(k) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.TrimLeft(b.String(), "_")
}

func journalPriority(level zerolog.Level) journal.Priority {
	switch level {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return journal.PriDebug
	case zerolog.InfoLevel:
		return journal.PriInfo
	case zerolog.WarnLevel:
		return journal.PriWarning
	case zerolog.ErrorLevel:
		return journal.PriErr
	case zerolog.FatalLevel:
		return journal.PriCrit
	case zerolog.PanicLevel:
		return journal.PriEmerg
	default:
		return journal.PriNotice
	}
}
