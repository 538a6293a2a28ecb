//go:build unix

package ytdlp

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts the child in its own process group so the ffmpeg
// processes yt-dlp spawns can be killed with it.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcess(cmd *exec.Cmd) error {
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
