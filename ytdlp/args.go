package ytdlp

import (
	"fmt"
	"strings"

	"fetchbot/task"

	"github.com/google/shlex"
)

var commonArgs = []string{
	"--concurrent-fragments", "1",
	"--skip-playlist-after-errors", "5000",
	"--windows-filenames",
	"--no-write-info-json",
	"--no-embed-metadata",
	"--write-thumbnail",
	"--convert-thumbnails", "jpg",
	"--newline",
}

// Profile returns the yt-dlp arguments for mt. extra is inserted before the
// URL, which always comes last.
func Profile(mt task.MediaType, extra []string, url string) []string {
	args := append([]string(nil), commonArgs...)
	switch mt {
	case task.Audio:
		args = append(args,
			"--output", "%(title)s.mp3",
			"--extract-audio",
			"--audio-format", "mp3",
			"--audio-quality", "0",
		)
	case task.Video:
		args = append(args,
			"--max-filesize", "2000M",
			"--output", "%(title)s.mp4",
			"--format", "bv*[ext=mp4]+ba[ext=m4a]/b[ext=mp4]",
		)
	case task.VoiceNote:
		args = append(args,
			"--extract-audio",
			"--audio-format", "opus",
			"--audio-quality", "64K",
		)
	}
	args = append(args, extra...)
	return append(args, url)
}

// SplitArgs splits an operator supplied argument string without a shell.
func SplitArgs(s string) ([]string, error) {
	args, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("invalid argument syntax: %w", err)
	}
	return args, nil
}

// Options that would move output out of the working directory or run
// arbitrary commands.
var disallowedOptions = []string{
	"-o", "--output",
	"-P", "--paths",
	"--exec", "--exec-before-download",
	"-a", "--batch-file",
	"--config-locations",
}

// SanitizeArgs checks extra yt-dlp arguments for options the supervisor must
// control itself.
func SanitizeArgs(args []string) error {
	for _, arg := range args {
		if strings.ContainsAny(arg, "|&;`$<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
		name, _, _ := strings.Cut(arg, "=")
		for _, opt := range disallowedOptions {
			if name == opt {
				return fmt.Errorf("disallowed option: %s", name)
			}
		}
	}
	return nil
}
