package health

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// osResourceProbe is the default probe: statfs on the filesystem root and
// MemAvailable from /proc/meminfo.
func osResourceProbe() (int64, int64, error) {
	return OSProbe("/")()
}

// OSProbe probes free disk space under path and available system memory.
func OSProbe(path string) ResourceProbe {
	return func() (int64, int64, error) {
		var fs syscall.Statfs_t
		if err := syscall.Statfs(path, &fs); err != nil {
			return 0, 0, fmt.Errorf("statfs %s: %w", path, err)
		}
		diskFree := int64(fs.Bavail) * int64(fs.Bsize)

		memFree, err := memAvailable()
		if err != nil {
			return 0, 0, err
		}
		return diskFree, memFree, nil
	}
}

func memAvailable() (int64, error) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, fmt.Errorf("reading meminfo: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing meminfo: %w", err)
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("meminfo missing MemAvailable")
}
