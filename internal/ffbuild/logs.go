package ffbuild

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/ulikunitz/xz"
)

const failureTailLines = 40

// LogStore lays out per-run build logs as <dir>/<run-id>/<arch>/<name>.log.
type LogStore struct {
	Dir     string
	RunID   string
	Verbose bool
}

func NewLogStore(dir string, verbose bool) *LogStore {
	return &LogStore{Dir: dir, RunID: uuid.NewString(), Verbose: verbose}
}

// RunDir is where this run's logs live.
func (s *LogStore) RunDir() string {
	return filepath.Join(s.Dir, s.RunID)
}

// Open creates the log for one build step. With Verbose set, output is
// also echoed to the terminal.
func (s *LogStore) Open(arch, name string) (*BuildLog, error) {
	dir := filepath.Join(s.RunDir(), arch)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	p := filepath.Join(dir, name+".log")
	f, err := os.Create(p)
	if err != nil {
		return nil, fmt.Errorf("create log: %w", err)
	}
	l := &BuildLog{Path: p, file: f, w: f}
	if s.Verbose {
		l.w = io.MultiWriter(f, os.Stdout)
	}
	return l, nil
}

// BuildLog captures the output of the native build tools.
type BuildLog struct {
	Path string
	file *os.File
	w    io.Writer
}

func (l *BuildLog) Write(p []byte) (int, error) {
	return l.w.Write(p)
}

// Finish closes the log. A successful log is replaced by Path+".xz"; a
// failed one stays plain so it can be read without tools.
func (l *BuildLog) Finish(success bool) error {
	if err := l.file.Close(); err != nil {
		return err
	}
	if !success {
		return nil
	}
	if err := compressXZ(l.Path, l.Path+".xz"); err != nil {
		return fmt.Errorf("compress log: %w", err)
	}
	return os.Remove(l.Path)
}

func compressXZ(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dest.Close()

	w, err := xz.NewWriter(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// tailLines returns at most n trailing lines of the file at path.
func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, sc.Text())
	}
	return ring, sc.Err()
}

// printLogTail shows the end of a failed build log.
func printLogTail(path string) {
	lines, err := tailLines(path, failureTailLines)
	if err != nil {
		debugf("=> Cannot read log %s: %v\n", path, err)
		return
	}
	colArrow.Print("-> ")
	colWarn.Printf("Last %d lines of %s:\n", len(lines), path)
	for _, line := range lines {
		fmt.Println("   " + line)
	}
}
