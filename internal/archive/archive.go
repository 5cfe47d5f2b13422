// Package archive extracts suite archives into a session directory and packs
// a repaired working copy back over the original.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"testmend/internal/logging"
)

// Format is an archive container format.
type Format int

const (
	FormatUnknown Format = iota
	FormatTarGz
	FormatTar
)

// DetectFormat infers the format from the file name.
func DetectFormat(path string) Format {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar
	}
	return FormatUnknown
}

// SuiteName is the archive's base name without its archive extension.
func SuiteName(path string) string {
	base := filepath.Base(path)
	lower := strings.ToLower(base)
	for _, ext := range []string{".tar.gz", ".tgz", ".tar"} {
		if strings.HasSuffix(lower, ext) {
			return base[:len(base)-len(ext)]
		}
	}
	return base
}

// Manifest is the set of entries an archive held when it was extracted,
// keyed by slash-separated path relative to the extraction root.
type Manifest map[string]bool

// Contains reports whether rel (OS or slash separated) was extracted.
func (m Manifest) Contains(rel string) bool {
	return m[filepath.ToSlash(rel)]
}

// Extract unpacks the archive into dest and returns the extracted entries.
// Entries escaping dest are rejected.
func Extract(archivePath, dest string) (Manifest, error) {
	timer := logging.StartTimer(logging.CategoryArchive, "Extract")
	defer timer.Stop()

	format := DetectFormat(archivePath)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unsupported archive format: %s", archivePath)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if format == FormatTarGz {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gzip.NewReader failed: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	if err := os.MkdirAll(dest, 0755); err != nil {
		return nil, fmt.Errorf("failed to create target directory %s: %w", dest, err)
	}
	cleanDest := filepath.Clean(dest)

	manifest := make(Manifest)
	tr := tar.NewReader(r)
	files := 0
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read archive %s: %w", archivePath, err)
		}
		if strings.Contains(header.Name, "pax_global_header") {
			continue
		}

		target := filepath.Join(cleanDest, filepath.FromSlash(header.Name))
		if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(filepath.Separator)) {
			return nil, fmt.Errorf("invalid file path in archive: '%s'", header.Name)
		}
		rel := strings.TrimSuffix(path.Clean(header.Name), "/")

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return nil, err
			}
			manifest.addWithParents(rel)
		case tar.TypeReg:
			if err := writeEntry(target, tr, os.FileMode(header.Mode).Perm()); err != nil {
				return nil, err
			}
			manifest.addWithParents(rel)
			files++
		default:
			logging.ArchiveDebug("skipping %s (type %c)", header.Name, header.Typeflag)
		}
	}
	logging.Archive("extracted %d files from %s into %s", files, archivePath, dest)
	return manifest, nil
}

// addWithParents records rel and the directories above it, since archives
// may omit directory entries.
func (m Manifest) addWithParents(rel string) {
	for rel != "." && rel != "/" && rel != "" {
		m[rel] = true
		rel = path.Dir(rel)
	}
}

func writeEntry(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Pack writes the contents of srcDir to archivePath in the format implied by
// its name. The archive is written to a temp file and renamed into place.
func Pack(srcDir, archivePath string) error {
	return pack(srcDir, archivePath, nil)
}

// PackManifest is Pack restricted to entries in m. Anything the build or
// run tools wrote into srcDir after extraction is left out, and entries no
// longer on disk (quarantined classes) are skipped.
func PackManifest(srcDir, archivePath string, m Manifest) error {
	if m == nil {
		return fmt.Errorf("manifest is required")
	}
	return pack(srcDir, archivePath, m)
}

func pack(srcDir, archivePath string, m Manifest) error {
	timer := logging.StartTimer(logging.CategoryArchive, "Pack")
	defer timer.Stop()

	format := DetectFormat(archivePath)
	if format == FormatUnknown {
		return fmt.Errorf("unsupported archive format: %s", archivePath)
	}

	tmp, err := os.CreateTemp(filepath.Dir(archivePath), ".testmend-pack-*")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	var w io.Writer = tmp
	var gz *gzip.Writer
	if format == FormatTarGz {
		gz = gzip.NewWriter(tmp)
		w = gz
	}
	tw := tar.NewWriter(w)

	files := 0
	walkErr := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil || rel == "." {
			return err
		}
		if m != nil && !m.Contains(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return err
		}
		files++
		return nil
	})

	if walkErr != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("pack %s: %w", srcDir, walkErr)
	}
	if err := tw.Close(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("finish tar stream: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			tmp.Close()
			cleanup()
			return fmt.Errorf("finish gzip stream: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp archive: %w", err)
	}
	if err := os.Rename(tmpName, archivePath); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", archivePath, err)
	}
	logging.Archive("packed %d files from %s into %s", files, srcDir, archivePath)
	return nil
}

// Backup copies archivePath to archivePath+suffix unless that backup already
// exists. It reports whether a new backup was written.
func Backup(archivePath, suffix string) (bool, error) {
	if suffix == "" {
		return false, fmt.Errorf("backup suffix is required")
	}
	backup := archivePath + suffix
	if _, err := os.Stat(backup); err == nil {
		logging.ArchiveDebug("backup %s already present", backup)
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat backup: %w", err)
	}

	src, err := os.Open(archivePath)
	if err != nil {
		return false, fmt.Errorf("open archive: %w", err)
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return false, fmt.Errorf("stat archive: %w", err)
	}

	dst, err := os.OpenFile(backup, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("create backup: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(backup)
		return false, fmt.Errorf("copy backup: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(backup)
		return false, fmt.Errorf("close backup: %w", err)
	}
	logging.Archive("backed up %s to %s", archivePath, backup)
	return true, nil
}
