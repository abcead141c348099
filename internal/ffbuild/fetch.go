package ffbuild

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Cache stores one file per downloaded archive, named by its canonical
// filename. Entries are only ever replaced whole, via rename. Download
// locks live apart from the entries, under .locks/.
type Cache struct {
	Dir    string
	Client *http.Client
	Mirror sourceMirror
	Quiet  bool
}

func NewCache(dir string) *Cache {
	return &Cache{
		Dir:    dir,
		Client: &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		Quiet:  !term.IsTerminal(int(os.Stdout.Fd())),
	}
}

const lockDirName = ".locks"

// Path is where the entry for filename lives.
func (c *Cache) Path(filename string) string {
	return filepath.Join(c.Dir, filename)
}

// Get returns the cache entry for filename, downloading url first when the
// entry is missing or force is set. fetched reports whether the network
// (or the mirror) was used.
func (c *Cache) Get(ctx context.Context, url, filename string, force bool) (string, bool, error) {
	lockDir := filepath.Join(c.Dir, lockDirName)
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return "", false, fmt.Errorf("create cache dir %s: %w", c.Dir, err)
	}
	dest := c.Path(filename)

	lock := flock.New(filepath.Join(lockDir, filename+".lock"))
	if _, err := lock.TryLockContext(ctx, 250*time.Millisecond); err != nil {
		return "", false, fmt.Errorf("lock cache entry %s: %w", filename, err)
	}
	defer lock.Unlock()

	if !force {
		if _, err := os.Stat(dest); err == nil {
			debugf("=> Cache hit %s\n", dest)
			return dest, false, nil
		}
	}

	if !force && c.Mirror != nil {
		err := c.writeAtomic(dest, func(w io.Writer) error {
			return c.Mirror.Fetch(ctx, filename, w)
		})
		if err == nil {
			stepf("Fetched %s from mirror", filename)
			return dest, true, nil
		}
		debugf("=> Mirror miss for %s: %v\n", filename, err)
	}

	err := c.writeAtomic(dest, func(w io.Writer) error {
		return c.download(ctx, url, filename, w)
	})
	if err != nil {
		return "", false, err
	}

	if c.Mirror != nil && c.Mirror.PushEnabled() {
		if err := c.Mirror.Upload(ctx, filename, dest); err != nil {
			warnf("Could not push %s to mirror: %v", filename, err)
		}
	}
	return dest, true, nil
}

// writeAtomic fills a temp file in the cache dir and renames it over dest
// once fill succeeds and the data is on disk.
func (c *Cache) writeAtomic(dest string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(c.Dir, "."+filepath.Base(dest)+".part-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := fill(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return err
	}
	committed = true
	return nil
}

func (c *Cache) download(ctx context.Context, url, filename string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("download %s: status %s", url, resp.Status)
	}

	start := time.Now()
	var n int64
	if c.Quiet {
		n, err = io.Copy(w, resp.Body)
	} else {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(filename),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
		n, err = io.Copy(io.MultiWriter(w, bar), resp.Body)
		_ = bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return fmt.Errorf("download %s: short body (%d of %d bytes)", url, n, resp.ContentLength)
	}
	stepf("Downloaded %s (%s in %s)", filename, humanize.Bytes(uint64(n)), time.Since(start).Round(time.Millisecond))
	return nil
}

// Stage copies a cache entry into dir so later steps work on a mutable
// copy. The copy is verified against the entry's digest.
func (c *Cache) Stage(entry, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, filepath.Base(entry))

	want, err := fileDigest(entry)
	if err != nil {
		return "", fmt.Errorf("read cache entry: %w", err)
	}
	if got, err := fileDigest(dest); err == nil && got == want {
		return dest, nil
	}

	src, err := os.Open(entry)
	if err != nil {
		return "", err
	}
	defer src.Close()
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}

	got, err := fileDigest(dest)
	if err != nil {
		return "", err
	}
	if got != want {
		return "", fmt.Errorf("staged copy of %s does not match cache entry", filepath.Base(entry))
	}
	return dest, nil
}

// cloneGit shallow-clones repo at branch into dest.
func cloneGit(r Runner, repo, branch, dest string, out io.Writer) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	cmd := command(filepath.Dir(dest), os.Environ(), out, "git", "clone", "--depth", "1", "--branch", branch, repo, dest)
	if err := r.Run(cmd); err != nil {
		return fmt.Errorf("git clone %s: %w", repo, err)
	}
	return nil
}
