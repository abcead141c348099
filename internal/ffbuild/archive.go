package ffbuild

import (
	"archive/tar"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

var errUnsupportedArchive = errors.New("unsupported archive format")

// openTarStream wraps f in the decompressor its name calls for.
func openTarStream(name string, f io.Reader) (io.Reader, func(), error) {
	noop := func() {}
	switch {
	case strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz"):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, noop, fmt.Errorf("gzip reader: %w", err)
		}
		return gz, func() { gz.Close() }, nil
	case strings.HasSuffix(name, ".tar.bz2"):
		return bzip2.NewReader(f), noop, nil
	case strings.HasSuffix(name, ".tar.xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, noop, fmt.Errorf("xz reader: %w", err)
		}
		return xr, noop, nil
	case strings.HasSuffix(name, ".tar.zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, noop, fmt.Errorf("zstd reader: %w", err)
		}
		return zr, zr.Close, nil
	case strings.HasSuffix(name, ".tar"):
		return f, noop, nil
	}
	return nil, noop, fmt.Errorf("%w: %s", errUnsupportedArchive, name)
}

// safeJoin joins name under root and refuses entries escaping it.
func safeJoin(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal path in archive: %s", name)
	}
	return target, nil
}

// extractArchive unpacks archivePath into dest. An archive whose entries
// share one top-level directory is unpacked without it. dest must not
// exist; a partial extraction never leaves dest behind.
func extractArchive(archivePath, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".extract-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	if strings.HasSuffix(archivePath, ".zip") {
		err = unzipTo(archivePath, tmp)
	} else {
		err = untarTo(archivePath, tmp)
	}
	if err != nil {
		return fmt.Errorf("extract %s: %w", filepath.Base(archivePath), err)
	}

	root := tmp
	entries, err := os.ReadDir(tmp)
	if err != nil {
		return err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		root = filepath.Join(tmp, entries[0].Name())
	}
	return os.Rename(root, dest)
}

func untarTo(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	r, closeFn, err := openTarStream(archivePath, f)
	if err != nil {
		return err
	}
	defer closeFn()

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()|0o700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
			_ = os.Chtimes(target, hdr.ModTime, hdr.ModTime)
		case tar.TypeSymlink:
			linkDest := path.Join(path.Dir(hdr.Name), hdr.Linkname)
			if path.IsAbs(hdr.Linkname) {
				return fmt.Errorf("illegal symlink in archive: %s -> %s", hdr.Name, hdr.Linkname)
			}
			if _, err := safeJoin(dest, linkDest); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil && !os.IsExist(err) {
				return err
			}
		case tar.TypeLink:
			src, err := safeJoin(dest, hdr.Linkname)
			if err != nil {
				return err
			}
			if err := os.Link(src, target); err != nil {
				return err
			}
		default:
			debugf("Skipping tar entry %s (type %c)\n", hdr.Name, hdr.Typeflag)
		}
	}
}

func unzipTo(archivePath, dest string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = writeEntry(target, rc, f.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(target string, r io.Reader, mode os.FileMode) error {
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return out.Close()
}

// stripTop drops the first path component of an archive entry name.
func stripTop(name string) string {
	name = strings.TrimPrefix(name, "./")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return ""
}

// readArchiveFile returns the bytes of rel as stored in the archive, where
// rel is relative to the unpacked source root.
func readArchiveFile(archivePath, rel string) ([]byte, error) {
	rel = path.Clean(rel)
	match := func(name string) bool {
		name = strings.TrimPrefix(name, "./")
		return name == rel || stripTop(name) == rel
	}

	if strings.HasSuffix(archivePath, ".zip") {
		zr, err := zip.OpenReader(archivePath)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		for _, f := range zr.File {
			if f.FileInfo().IsDir() || !match(f.Name) {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
		return nil, fmt.Errorf("%s: %w", rel, os.ErrNotExist)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, closeFn, err := openTarStream(archivePath, f)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("%s: %w", rel, os.ErrNotExist)
		}
		if err != nil {
			return nil, fmt.Errorf("read tar header: %w", err)
		}
		if hdr.Typeflag == tar.TypeReg && match(hdr.Name) {
			return io.ReadAll(tr)
		}
	}
}
