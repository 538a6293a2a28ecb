package task

import (
	"fmt"
	"strings"
)

const (
	// MaxMessageLen is the longest text a single chat message may carry.
	MaxMessageLen = 4096
	// maxReportLen caps how much text is split into messages before it is
	// replaced by a pointer to the logs.
	maxReportLen = 10 * MaxMessageLen
)

// SplitText breaks text into chunks of at most MaxMessageLen UTF-16 code
// units, the unit chat message limits are counted in. Runes are never split.
// Empty text yields no chunks.
func SplitText(text string) []string {
	var (
		chunks []string
		b      strings.Builder
		n      int
	)
	for _, r := range text {
		w := utf16Len(r)
		if n+w > MaxMessageLen {
			chunks = append(chunks, b.String())
			b.Reset()
			n = 0
		}
		b.WriteRune(r)
		n += w
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

// textLen is the length of text in UTF-16 code units.
func textLen(text string) int {
	n := 0
	for _, r := range text {
		n += utf16Len(r)
	}
	return n
}

// utf16Len reports how many UTF-16 code units encode r. Runes outside the
// Basic Multilingual Plane take a surrogate pair.
func utf16Len(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}

// reportChunks prepares text for sending on behalf of task id.
func reportChunks(id TaskID, text string) []string {
	if textLen(text) > maxReportLen {
		return []string{fmt.Sprintf("The output is too long to show here. See the logs of task %s.", id)}
	}
	return SplitText(text)
}
