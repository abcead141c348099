package ffbuild

import (
	"archive/tar"
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/require"
)

// recordedCmd is one command seen by fakeRunner.
type recordedCmd struct {
	Dir  string
	Args []string
	Env  []string
}

func (c recordedCmd) String() string { return strings.Join(c.Args, " ") }

func (c recordedCmd) env(key string) string {
	for _, e := range c.Env {
		if v, ok := strings.CutPrefix(e, key+"="); ok {
			return v
		}
	}
	return ""
}

// fakeRunner records commands instead of running them. hook, when set,
// may simulate side effects or fail a command.
type fakeRunner struct {
	mu    sync.Mutex
	cmds  []recordedCmd
	archs map[string]string // lipo -archs output per file
	hook  func(c recordedCmd) error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{archs: make(map[string]string)}
}

func (f *fakeRunner) Run(cmd *exec.Cmd) error {
	c := recordedCmd{Dir: cmd.Dir, Args: append([]string{}, cmd.Args...), Env: cmd.Env}
	f.mu.Lock()
	f.cmds = append(f.cmds, c)
	f.mu.Unlock()

	if f.hook != nil {
		if err := f.hook(c); err != nil {
			return err
		}
	}

	if len(c.Args) > 1 && c.Args[0] == "lipo" {
		switch c.Args[1] {
		case "-create":
			out := c.Args[len(c.Args)-1]
			if err := os.WriteFile(out, []byte("universal"), 0o644); err != nil {
				return err
			}
			if _, ok := f.archs[out]; !ok {
				f.archs[out] = strings.Join(sortedArchs(c.Args[2:len(c.Args)-2]), " ")
			}
		case "-archs":
			fmt.Fprintln(cmd.Stdout, f.archs[c.Args[2]])
		}
	}
	return nil
}

func (f *fakeRunner) commands() []recordedCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCmd{}, f.cmds...)
}

// matching returns the commands whose argv starts with prefix.
func (f *fakeRunner) matching(prefix ...string) []recordedCmd {
	var out []recordedCmd
	for _, c := range f.commands() {
		if len(c.Args) >= len(prefix) && slicesHasPrefix(c.Args, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func slicesHasPrefix(s, prefix []string) bool {
	for i := range prefix {
		if s[i] != prefix[i] {
			return false
		}
	}
	return true
}

// sortedArchs guesses architectures from prefix paths like install-arm64/bin/ffmpeg.
func sortedArchs(inputs []string) []string {
	var archs []string
	for _, in := range inputs {
		for _, part := range strings.Split(filepath.ToSlash(in), "/") {
			if a, ok := strings.CutPrefix(part, "install-"); ok {
				archs = append(archs, a)
			}
		}
	}
	sort.Strings(archs)
	return archs
}

// tarGz builds a .tar.gz whose entries all live under top/.
func tarGz(t *testing.T, top string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	if top != "" {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: top + "/", Typeflag: tar.TypeDir, Mode: 0o755}))
	}
	for _, name := range names {
		full := name
		if top != "" {
			full = top + "/" + name
		}
		body := files[name]
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: full, Typeflag: tar.TypeReg, Mode: 0o755, Size: int64(len(body)),
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// sourceServer serves fixed bodies by path and counts requests per path.
type sourceServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies map[string][]byte
	hits   map[string]int
}

func newSourceServer(t *testing.T) *sourceServer {
	t.Helper()
	s := &sourceServer{bodies: make(map[string][]byte), hits: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		body, ok := s.bodies[r.URL.Path]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *sourceServer) set(path string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[path] = body
}

func (s *sourceServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func testCache(dir string) *Cache {
	c := NewCache(dir)
	c.Quiet = true
	return c
}
