package logutil

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"
)

var jsonMode atomic.Bool

func init() {
	if os.Getenv("COREMEMBER_LOG_JSON") == "1" || os.Getenv("COREMEMBER_LOG_FORMAT") == "json" {
		jsonMode.Store(true)
	}
}

// SetJSON switches between prefixed text lines and one JSON object per line.
func SetJSON(enabled bool) { jsonMode.Store(enabled) }

func Infof(l *log.Logger, f string, args ...any)  { logf(l, "info", f, args...) }
func Warnf(l *log.Logger, f string, args ...any)  { logf(l, "warn", f, args...) }
func Errorf(l *log.Logger, f string, args ...any) { logf(l, "error", f, args...) }

var prefixes = map[string]string{"info": "INFO ", "warn": "WARN ", "error": "ERROR "}

func logf(l *log.Logger, level, f string, args ...any) {
	if l == nil {
		l = log.Default()
	}
	msg := fmt.Sprintf(f, args...)
	if jsonMode.Load() {
		b, _ := json.Marshal(map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": level,
			"msg":   msg,
		})
		l.Println(string(b))
		return
	}
	l.Println(prefixes[level] + msg)
}
