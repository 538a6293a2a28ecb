// Package media inspects and prepares downloaded files for delivery.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
)

// VideoMeta holds the attributes sent along with a video. Zero values mean
// unknown.
type VideoMeta struct {
	Width    int
	Height   int
	Duration int // seconds
}

// Prober reads video metadata with ffprobe.
type Prober struct {
	bin string
}

func NewProber(bin string) *Prober {
	return &Prober{bin: bin}
}

// Probe returns the metadata of the first video stream of path. Failures are
// logged and yield zero metadata.
func (p *Prober) Probe(ctx context.Context, path string) VideoMeta {
	meta, err := p.probe(ctx, path)
	if err != nil {
		slog.Warn("Could not probe video metadata", "file", path, "error", err)
		return VideoMeta{}
	}
	return meta
}

func (p *Prober) probe(ctx context.Context, path string) (VideoMeta, error) {
	cmd := exec.CommandContext(ctx, p.bin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "json",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return VideoMeta{}, fmt.Errorf("ffprobe failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return parseProbe(out)
}

type probeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbe(data []byte) (VideoMeta, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return VideoMeta{}, fmt.Errorf("decode ffprobe output: %w", err)
	}

	var meta VideoMeta
	if len(out.Streams) > 0 {
		meta.Width = out.Streams[0].Width
		meta.Height = out.Streams[0].Height
	}
	if out.Format.Duration != "" {
		d, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return VideoMeta{}, fmt.Errorf("parse duration %q: %w", out.Format.Duration, err)
		}
		meta.Duration = int(math.Round(d))
	}
	return meta, nil
}
