package ytdlp

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"fetchbot/task"
)

// Collected lists the files of a finished download.
type Collected struct {
	Files   []string
	Skipped []string
}

// Collect picks the files in dir produced for mt, in name order. Files of
// maxSize bytes or more are skipped. Voice output is renamed to
// audio_<timestamp>.ogg.
func Collect(dir string, mt task.MediaType, maxSize int64, now time.Time) (*Collected, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read working directory: %w", err)
	}

	c := &Collected{}
	for _, e := range entries {
		if e.IsDir() || !mt.Matches(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}

		path := filepath.Join(dir, e.Name())
		if info.Size() >= maxSize {
			slog.Warn("Skipping file above the size limit", "file", path, "size", info.Size(), "limit", maxSize)
			c.Skipped = append(c.Skipped, path)
			continue
		}
		if mt == task.VoiceNote {
			if path, err = renameVoice(path, now); err != nil {
				return nil, err
			}
		}
		c.Files = append(c.Files, path)
	}
	return c, nil
}

// voiceTimestamp formats t as 2006-01-02_15-04-05 in UTC.
func voiceTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02_15-04-05")
}

func renameVoice(path string, now time.Time) (string, error) {
	dir := filepath.Dir(path)
	base := "audio_" + voiceTimestamp(now)

	target := filepath.Join(dir, base+".ogg")
	for n := 2; ; n++ {
		if _, err := os.Stat(target); os.IsNotExist(err) {
			break
		}
		target = filepath.Join(dir, base+"_"+strconv.Itoa(n)+".ogg")
	}

	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("rename voice file: %w", err)
	}
	return target, nil
}
