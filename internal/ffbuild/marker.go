package ffbuild

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Completion markers live inside the prefix they describe, so wiping a
// prefix also forgets what was built into it.
const markerDirName = ".ffbuild"

func markerPath(prefix, name string) string {
	return filepath.Join(prefix, markerDirName, name+".done")
}

// readMarker returns the stored fingerprint, or "" when there is none.
func readMarker(prefix, name string) string {
	data, err := os.ReadFile(markerPath(prefix, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func writeMarker(prefix, name, fp string) error {
	p := markerPath(prefix, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, []byte(fp+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func removeMarker(prefix, name string) error {
	err := os.Remove(markerPath(prefix, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// libraryFingerprint identifies everything that shapes a library's
// installed output for t. revision is the checked-out commit for
// source-control libraries and empty otherwise. depFPs are the
// fingerprints of the libraries it depends on, in declaration order.
func libraryFingerprint(lib Library, t Target, revision string, depFPs []string) string {
	parts := []string{
		"name", lib.Name,
		"version", lib.Version,
		"branch", lib.Branch,
		"revision", revision,
		"kind", string(lib.Kind),
		"policy", lib.PolicyMinimum,
		"subdir", lib.SourceSubdir,
		"flags", strings.Join(expandFlags(lib.Flags, t), "\x00"),
		"target", t.Name, t.Triple, t.MinOS, t.Prefix,
	}
	if lib.Autogen {
		parts = append(parts, "autogen")
	}
	for _, p := range lib.Patches {
		parts = append(parts, "patch", p.Name, p.Path)
	}
	for _, fp := range depFPs {
		parts = append(parts, "dep", fp)
	}
	return fingerprint(parts...)
}
