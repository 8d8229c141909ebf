package job

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/afero"

	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
)

// Pack writes dir as a gzipped tarball to w. Entry names are relative to dir.
// Every directory, regular file and symlink is kept with its permission bits. Entries whose base name
// matches one of the exclude glob patterns are left out, directories with everything below them.
func Pack(fs afero.Fs, dir string, w io.Writer, exclude ...string) error {
	for _, pattern := range exclude {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return dafterrors.NewValidationError(fmt.Sprintf("invalid exclude pattern %q", pattern))
		}
	}
	info, err := fs.Stat(dir)
	if err != nil {
		return dafterrors.WrapAndTrace(err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err = afero.Walk(fs, dir, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err //nolint:wrapcheck // wrapped below
		}
		if rel == "." {
			return nil
		}
		if excluded(fi.Name(), exclude) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		hdr := &tar.Header{
			Name:    filepath.ToSlash(rel),
			Mode:    int64(fi.Mode().Perm()),
			ModTime: fi.ModTime(),
		}
		switch {
		case fi.IsDir():
			hdr.Typeflag = tar.TypeDir
			hdr.Name += "/"
			return tw.WriteHeader(hdr)
		case fi.Mode()&os.ModeSymlink != 0:
			reader, ok := fs.(afero.LinkReader)
			if !ok {
				return fmt.Errorf("cannot read symlink %s", rel)
			}
			link, err := reader.ReadlinkIfPossible(p)
			if err != nil {
				return err //nolint:wrapcheck // wrapped below
			}
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = link
			return tw.WriteHeader(hdr)
		case !fi.Mode().IsRegular():
			return fmt.Errorf("%s has unsupported file mode %s; leave it out with --exclude", rel, fi.Mode())
		}
		hdr.Typeflag = tar.TypeReg
		hdr.Size = fi.Size()
		if err := tw.WriteHeader(hdr); err != nil {
			return err //nolint:wrapcheck // wrapped below
		}
		f, err := fs.Open(p)
		if err != nil {
			return err //nolint:wrapcheck // wrapped below
		}
		defer f.Close() //nolint:errcheck // read only
		_, err = io.Copy(tw, f)
		return err //nolint:wrapcheck // wrapped below
	})
	if err != nil {
		return dafterrors.WrapAndTrace(err, "packing", dir)
	}
	if err := tw.Close(); err != nil {
		return dafterrors.WrapAndTrace(err)
	}
	if err := gz.Close(); err != nil {
		return dafterrors.WrapAndTrace(err)
	}
	return nil
}

func excluded(name string, patterns []string) bool {
	return lo.SomeBy(patterns, func(pattern string) bool {
		ok, _ := filepath.Match(pattern, name)
		return ok
	})
}

// Unpack extracts a Pack archive into dest. Entries and symlink targets that would land outside dest are rejected.
func Unpack(fs afero.Fs, r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return dafterrors.WrapAndTrace(err)
	}
	defer gz.Close() //nolint:errcheck // read only
	tr := tar.NewReader(gz)

	if err := fs.MkdirAll(dest, 0o755); err != nil {
		return dafterrors.WrapAndTrace(err)
	}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return dafterrors.WrapAndTrace(err)
		}
		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		mode := os.FileMode(hdr.Mode).Perm()
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fs.MkdirAll(target, mode|0o700); err != nil {
				return dafterrors.WrapAndTrace(err)
			}
		case tar.TypeReg:
			if err := writeEntry(fs, target, mode, tr); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := writeLink(fs, target, hdr.Name, hdr.Linkname); err != nil {
				return err
			}
		}
	}
}

func writeEntry(fs afero.Fs, target string, mode os.FileMode, r io.Reader) error {
	if err := fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return dafterrors.WrapAndTrace(err)
	}
	f, err := fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return dafterrors.WrapAndTrace(err)
	}
	if _, err := io.Copy(f, r); err != nil { //nolint:gosec // archives come from Pack
		_ = f.Close()
		return dafterrors.WrapAndTrace(err)
	}
	if err := f.Close(); err != nil {
		return dafterrors.WrapAndTrace(err)
	}
	return nil
}

func writeLink(fs afero.Fs, target, name, link string) error {
	if _, err := safeJoin("", path.Join(path.Dir(filepath.ToSlash(name)), filepath.ToSlash(link))); err != nil || path.IsAbs(filepath.ToSlash(link)) {
		return fmt.Errorf("symlink %q points outside the destination (%s)", name, link)
	}
	linker, ok := fs.(afero.Linker)
	if !ok {
		return fmt.Errorf("cannot create symlink %s", name)
	}
	if err := fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return dafterrors.WrapAndTrace(err)
	}
	if err := linker.SymlinkIfPossible(link, target); err != nil {
		return dafterrors.WrapAndTrace(err)
	}
	return nil
}

func safeJoin(dest, name string) (string, error) {
	slashed := filepath.ToSlash(name)
	if path.IsAbs(slashed) {
		return "", fmt.Errorf("archive entry %q is absolute", name)
	}
	clean := path.Clean(slashed)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("archive entry %q escapes the destination", name)
	}
	return filepath.Join(dest, filepath.FromSlash(clean)), nil
}
