// Package hostinfo reports the hardware identity string attached to diagnostics.
package hostinfo

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"
)

// Unknown is returned when the CPU model cannot be determined.
const Unknown = "unknown cpu"

var (
	cpuOnce  sync.Once
	cpuModel string
)

// CPUModel returns the first "model name" from /proc/cpuinfo. The file is
// read once per process.
func CPUModel() string {
	cpuOnce.Do(func() {
		cpuModel = readCPUModel("/proc/cpuinfo")
	})
	return cpuModel
}

func readCPUModel(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return Unknown
	}
	defer f.Close()
	return ParseCPUModel(f)
}

// ParseCPUModel extracts the CPU model from cpuinfo-formatted text.
func ParseCPUModel(r io.Reader) string {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(key) == "model name" {
			if v := strings.TrimSpace(value); v != "" {
				return v
			}
		}
	}
	return Unknown
}
