package web

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/render"
)

// LogBuffer keeps the most recent log lines in memory. It is an io.Writer so
// it can sit behind log.SetOutput next to stderr.
type LogBuffer struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial []byte
	dropped uint64
}

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &LogBuffer{max: maxLines}
}

// Write splits p on newlines; a trailing fragment waits for the next Write.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := append(b.partial, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		b.appendLocked(string(data[:i]))
		data = data[i+1:]
	}
	b.partial = append([]byte(nil), data...)
	return len(p), nil
}

func (b *LogBuffer) appendLocked(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	b.lines = append(b.lines, line)
	if over := len(b.lines) - b.max; over > 0 {
		b.lines = append(b.lines[:0:0], b.lines[over:]...)
		b.dropped += uint64(over)
	}
}

// Tail returns up to n of the newest lines and the count evicted so far.
func (b *LogBuffer) Tail(n int) (lines []string, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.lines) {
		n = len(b.lines)
	}
	return append([]string(nil), b.lines[len(b.lines)-n:]...), b.dropped
}

type LogsResponse struct {
	NowUTC  string   `json:"now_utc"`
	Dropped uint64   `json:"dropped"`
	Lines   []string `json:"lines"`
}

func (b *LogBuffer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tail := 200
	if s := strings.TrimSpace(r.URL.Query().Get("tail")); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > 5000 {
			_ = render.Render(w, r, &ErrResponse{
				HTTPStatusCode: http.StatusBadRequest,
				StatusText:     "bad request",
				ErrorText:      "tail must be an integer in [1,5000]",
			})
			return
		}
		tail = v
	}

	lines, dropped := b.Tail(tail)
	w.Header().Set("Cache-Control", "no-store")

	if strings.EqualFold(r.URL.Query().Get("format"), "text") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if dropped > 0 {
			_, _ = fmt.Fprintf(w, "[dropped=%d]\n", dropped)
		}
		for _, line := range lines {
			_, _ = fmt.Fprintln(w, line)
		}
		return
	}

	render.JSON(w, r, LogsResponse{
		NowUTC:  time.Now().UTC().Format(time.RFC3339Nano),
		Dropped: dropped,
		Lines:   lines,
	})
}
