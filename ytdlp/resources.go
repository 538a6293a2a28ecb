package ytdlp

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// checkResources verifies that the host can take another download. Zero
// thresholds disable the corresponding check.
func (r *Runner) checkResources() error {
	if r.cfg.ThrottleCPU > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			slog.Warn("Could not get CPU usage", "error", err)
		} else if len(p) > 0 && p[0] > 100.0-r.cfg.ThrottleCPU {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, idle threshold: %.2f%%", p[0], r.cfg.ThrottleCPU)
		}
	}

	if r.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			slog.Warn("Could not get memory usage", "error", err)
		} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory. Available: %s, required: %s",
				datasize.ByteSize(vm.Available).HR(), datasize.ByteSize(r.cfg.ThrottleFreeMem).HR())
		}
	}

	if r.cfg.ThrottleFreeDisk > 0 {
		d, err := disk.Usage(r.cfg.DownloadsDir)
		if err != nil {
			slog.Warn("Could not get disk usage", "dir", r.cfg.DownloadsDir, "error", err)
		} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %s, required: %s",
				datasize.ByteSize(d.Free).HR(), datasize.ByteSize(r.cfg.ThrottleFreeDisk).HR())
		}
	}
	return nil
}
