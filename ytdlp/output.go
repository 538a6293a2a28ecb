package ytdlp

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"sync"
)

// tail keeps the last lines written to it, up to max bytes in total.
type tail struct {
	mu    sync.Mutex
	max   int
	size  int
	lines []string
}

func newTail(max int) *tail {
	return &tail{max: max}
}

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	t.size += len(line) + 1
	for t.size > t.max && len(t.lines) > 1 {
		t.size -= len(t.lines[0]) + 1
		t.lines = t.lines[1:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}

// scanLines is bufio.ScanLines that also ends a line at a carriage return,
// which yt-dlp uses to redraw its progress bar.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// drain reads r line by line until EOF, logging every non-empty line and
// keeping it in out. After a scan error the rest of r is discarded so the
// writer never blocks.
func drain(r io.Reader, out *tail, log func(line string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(scanLines)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		log(line)
		out.add(line)
	}
	if err := sc.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}
