package project

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"autolevel/common/utils/maths"
)

// ProbeAccumulator collects the samples of one planned probe run into the
// mesh and tracks completion.
type ProbeAccumulator struct {
	mesh    *SurfaceMesh
	planned int
	heights []float64
}

func NewProbeAccumulator(mesh *SurfaceMesh, planned int) *ProbeAccumulator {
	return &ProbeAccumulator{mesh: mesh, planned: planned}
}

// AddSample stores p and reports whether the run is now complete. Samples
// past the planned count are ignored.
func (self *ProbeAccumulator) AddSample(p Point3) bool {
	if self.IsComplete() {
		return true
	}
	self.mesh.AddSample(p)
	self.heights = append(self.heights, p.Z)
	return self.IsComplete()
}

func (self *ProbeAccumulator) IsComplete() bool {
	return len(self.heights) >= self.planned
}

func (self *ProbeAccumulator) Progress() (int, int) {
	return len(self.heights), self.planned
}

func (self *ProbeAccumulator) Stats() maths.Summary {
	return maths.Summarize(self.heights)
}

// ProbeLog appends every probed point to a text file, one
// "x y z 0 0 0 0 0 0" line per point, so the mesh survives a restart.
type ProbeLog struct {
	path string
	f    *os.File
	w    *bufio.Writer
}

// OpenProbeLog truncates path and starts a new recording.
func OpenProbeLog(path string) (*ProbeLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &ProbeLog{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

func (self *ProbeLog) Path() string {
	return self.path
}

func (self *ProbeLog) Record(p Point3) error {
	line := fmt.Sprintf("%s %s %s 0 0 0 0 0 0\n", formatNumber(p.X), formatNumber(p.Y), formatNumber(p.Z))
	if _, err := self.w.WriteString(line); err != nil {
		return err
	}
	return self.w.Flush()
}

func (self *ProbeLog) Close() error {
	if self.f == nil {
		return nil
	}
	err := self.w.Flush()
	if cerr := self.f.Close(); err == nil {
		err = cerr
	}
	self.f = nil
	return err
}

// LoadProbeFile reads a recording written by ProbeLog. A missing file is
// not an error. Lines with fewer than three numbers are skipped.
func LoadProbeFile(path string) ([]Point3, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pts []Point3
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		var v [3]float64
		ok := true
		for i := 0; i < 3 && ok; i++ {
			v[i], err = strconv.ParseFloat(fields[i], 64)
			ok = err == nil && isFinite(v[i])
		}
		if ok {
			pts = append(pts, Point3{X: v[0], Y: v[1], Z: v[2]})
		}
	}
	return pts, scanner.Err()
}

// TruncateProbeFile empties an existing recording.
func TruncateProbeFile(path string) error {
	err := os.Truncate(path, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
