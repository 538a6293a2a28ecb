package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"fetchbot/config"
	"fetchbot/task"

	"github.com/c2h5oh/datasize"
	"golang.org/x/sync/errgroup"
)

// maxOutput bounds the downloader output kept for error reports.
const maxOutput = 64 * 1024

// Runner supervises yt-dlp processes, one per task working directory.
type Runner struct {
	cfg       *config.Config
	bin       string
	extraArgs []string
	now       func() time.Time
}

func NewRunner(cfg *config.Config) (*Runner, error) {
	bin, err := exec.LookPath(cfg.YtdlpBin)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp binary not found or not in PATH: %s", cfg.YtdlpBin)
	}

	extra, err := SplitArgs(cfg.YtdlpExtraArgs)
	if err != nil {
		return nil, err
	}
	if err := SanitizeArgs(extra); err != nil {
		return nil, fmt.Errorf("invalid YTDLP_EXTRA_ARGS: %w", err)
	}

	if err := os.MkdirAll(cfg.DownloadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create downloads directory: %w", err)
	}
	slog.Info("Using downloads directory", "dir", cfg.DownloadsDir, "yt_dlp", bin)

	return &Runner{
		cfg:       cfg,
		bin:       bin,
		extraArgs: extra,
		now:       time.Now,
	}, nil
}

// WorkDir is the directory all files of task id are written to.
func (r *Runner) WorkDir(id task.TaskID) string {
	return filepath.Join(r.cfg.DownloadsDir, id.String())
}

// Download runs yt-dlp for url and returns the files ready for delivery.
// The working directory is removed on every error. Cancellation of ctx kills
// the process and yields task.ErrCanceled.
func (r *Runner) Download(ctx context.Context, id task.TaskID, mt task.MediaType, url string) (*task.Downloads, error) {
	log := slog.With("task_id", id.String())

	if err := r.checkResources(); err != nil {
		return nil, fmt.Errorf("insufficient system resources: %w", err)
	}

	dir := r.WorkDir(id)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clear working directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}

	output, runErr := r.supervise(ctx, dir, Profile(mt, r.extraArgs, url), log)
	if errors.Is(runErr, task.ErrCanceled) {
		r.discard(dir, log)
		return nil, runErr
	}

	collected, err := Collect(dir, mt, r.cfg.MaxFileSize, r.now())
	if err != nil {
		r.discard(dir, log)
		return nil, err
	}

	if len(collected.Files) == 0 {
		r.discard(dir, log)
		switch {
		case len(collected.Skipped) > 0:
			limit := datasize.ByteSize(r.cfg.MaxFileSize).HR()
			return nil, withOutput(fmt.Errorf("%w (limit %s)", task.ErrTooLarge, limit), output)
		case runErr != nil:
			return nil, withOutput(runErr, output)
		default:
			return nil, withOutput(task.ErrNoFiles, output)
		}
	}

	if runErr != nil {
		log.Warn("yt-dlp reported errors, delivering what was downloaded", "error", runErr, "files", len(collected.Files))
	}
	return &task.Downloads{WorkDir: dir, Files: collected.Files}, nil
}

// supervise runs yt-dlp in dir until it exits or ctx is canceled. Both output
// streams are drained concurrently with waiting for the exit.
func (r *Runner) supervise(ctx context.Context, dir string, args []string, log *slog.Logger) (string, error) {
	cmd := exec.Command(r.bin, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "LC_ALL=en_US.UTF-8")
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("yt-dlp stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("yt-dlp stderr: %w", err)
	}

	log.Info("Executing yt-dlp", "args", strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start yt-dlp: %w", err)
	}

	out := newTail(maxOutput)
	var g errgroup.Group
	g.Go(func() error {
		return drain(stdout, out, func(line string) { log.Debug("yt-dlp", "stdout", line) })
	})
	g.Go(func() error {
		return drain(stderr, out, func(line string) { log.Warn("yt-dlp", "stderr", line) })
	})

	// Wait may only be called once both pipes are drained.
	exited := make(chan error, 1)
	go func() {
		// Output is diagnostic only and never decides the outcome.
		if err := g.Wait(); err != nil {
			log.Warn("Stopped reading yt-dlp output", "error", err)
		}
		exited <- cmd.Wait()
	}()

	select {
	case err := <-exited:
		if err != nil {
			return out.String(), fmt.Errorf("yt-dlp execution failed: %w", err)
		}
		return out.String(), nil
	case <-ctx.Done():
		if err := killProcess(cmd); err != nil {
			log.Warn("Failed to kill yt-dlp", "error", err)
		}
		<-exited
		log.Info("yt-dlp was stopped")
		return out.String(), task.ErrCanceled
	}
}

func (r *Runner) discard(dir string, log *slog.Logger) {
	if err := os.RemoveAll(dir); err != nil {
		log.Warn("Could not remove working directory", "dir", dir, "error", err)
	}
}

func withOutput(err error, output string) error {
	output = strings.TrimSpace(output)
	if output == "" {
		return err
	}
	return fmt.Errorf("%w\n\n%s", err, output)
}
