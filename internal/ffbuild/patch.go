package ffbuild

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// Patch rewrites one file of an unpacked source tree. Apply always receives
// the file as shipped upstream, never a previously patched copy, so running
// a patch twice yields the same tree.
type Patch struct {
	Name  string
	Path  string // relative to the source root
	Apply func([]byte) ([]byte, error)
}

// pristineReader returns the upstream bytes of a file in the source tree.
type pristineReader func(rel string) ([]byte, error)

// x265 3.x pins policies that current cmake refuses to set to OLD.
var x265PolicyPatch = Patch{
	Name:  "x265-drop-old-policies",
	Path:  "source/CMakeLists.txt",
	Apply: dropLines(`cmake_policy\s*\(\s*SET\s+CMP0025\s+OLD\s*\)`, `cmake_policy\s*\(\s*SET\s+CMP0054\s+OLD\s*\)`),
}

// dropLines removes every line matching one of the expressions. A file in
// which nothing matches is an error: the patch no longer fits the source.
func dropLines(exprs ...string) func([]byte) ([]byte, error) {
	res := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		res[i] = regexp.MustCompile(e)
	}
	return func(in []byte) ([]byte, error) {
		lines := bytes.SplitAfter(in, []byte("\n"))
		out := make([]byte, 0, len(in))
		dropped := 0
		for _, line := range lines {
			matched := false
			for _, re := range res {
				if re.Match(line) {
					matched = true
					break
				}
			}
			if matched {
				dropped++
				continue
			}
			out = append(out, line...)
		}
		if dropped == 0 {
			return nil, errors.New("no matching lines")
		}
		return out, nil
	}
}

// applyPatches rewrites each patched file from its pristine bytes.
func applyPatches(patches []Patch, srcDir string, pristine pristineReader) error {
	for _, p := range patches {
		orig, err := pristine(p.Path)
		if err != nil {
			return fmt.Errorf("patch %s: read %s: %w", p.Name, p.Path, err)
		}
		patched, err := p.Apply(orig)
		if err != nil {
			return fmt.Errorf("patch %s: %s: %w", p.Name, p.Path, err)
		}
		target := filepath.Join(srcDir, filepath.FromSlash(p.Path))
		mode := os.FileMode(0o644)
		if fi, err := os.Stat(target); err == nil {
			mode = fi.Mode().Perm()
		}
		if err := os.WriteFile(target, patched, mode); err != nil {
			return fmt.Errorf("patch %s: %w", p.Name, err)
		}
		debugf("=> Patched %s (%s)\n", p.Path, p.Name)
	}
	return nil
}

// archivePristine reads upstream bytes from the cached archive.
func archivePristine(archivePath string) pristineReader {
	return func(rel string) ([]byte, error) {
		return readArchiveFile(archivePath, rel)
	}
}

// checkoutPristine keeps a .orig copy next to each patched file of a
// checkout, taken the first time the file is patched.
func checkoutPristine(srcDir string) pristineReader {
	return func(rel string) ([]byte, error) {
		target := filepath.Join(srcDir, filepath.FromSlash(rel))
		orig := target + ".orig"
		if data, err := os.ReadFile(orig); err == nil {
			return data, nil
		}
		data, err := os.ReadFile(target)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(orig, data, 0o644); err != nil {
			return nil, err
		}
		return data, nil
	}
}
