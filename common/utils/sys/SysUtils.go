package sys

import (
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"autolevel/common/logger"

	"github.com/petermattis/goid"
)

func GetGID() uint64 {
	id := goid.Get()
	return uint64(id)
}

func GetCpuInfo() string {
	cpuInfoFilebytes, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return "?"
	}

	var coreCount int
	var modelName string
	cpuInfoLines := strings.Split(string(cpuInfoFilebytes), "\n")
	for _, line := range cpuInfoLines {
		if !strings.Contains(line, ":") {
			continue
		}
		lines := strings.SplitN(line, ":", 2)
		fieldName := strings.TrimSpace(lines[0])
		if fieldName == "processor" {
			coreCount++
		} else if fieldName == "model name" {
			modelName = strings.TrimSpace(lines[1])
		}
	}
	return fmt.Sprintf("%d core %s", coreCount, modelName)
}

// CatchPanic is deferred at the top of long lived goroutines. It logs the
// panic with the goroutine id and stack, then lets the goroutine end.
func CatchPanic(name string) {
	if err := recover(); err != nil {
		logger.Errorf("panic in %s (goroutine %d): %v\n%s", name, GetGID(), err, debug.Stack())
	}
}

// Go runs fn on a new goroutine guarded by CatchPanic.
func Go(name string, fn func()) {
	go func() {
		defer CatchPanic(name)
		logger.Debugf("%s running on goroutine %d", name, GetGID())
		fn()
	}()
}
