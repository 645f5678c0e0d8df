package httpapi

import (
	"bytes"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// zlog is the HTTP layer logger. While nil, output goes through the standard
// log package.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

// eventTap copies each complete NDJSON line of an /events response to the log.
type eventTap struct {
	pending []byte
}

func (t *eventTap) Write(p []byte) (int, error) {
	t.pending = append(t.pending, p...)
	for {
		i := bytes.IndexByte(t.pending, '\n')
		if i < 0 {
			return len(p), nil
		}
		if i > 0 {
			logEventLine(string(t.pending[:i]))
		}
		t.pending = t.pending[i+1:]
	}
}

func logEventLine(line string) {
	if zlog != nil {
		zlog.Debug().Str("line", line).Msg("events>")
		return
	}
	log.Printf("events> %s", line)
}

// LogLevel controls per-request logging.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return LevelOff
	case "error", "warn":
		return LevelError
	case "info":
		return LevelInfo
	case "debug", "1", "true":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// defaultLogLevel applies to requests without an override.
var defaultLogLevel = parseLevel(os.Getenv("LLAMACHAT_HTTP_LOG_LEVEL"))

// requestLogLevel honours ?log= first, then the X-Log-Level header.
func requestLogLevel(r *http.Request) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}
