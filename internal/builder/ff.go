package builder

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ExtractForceFields unpacks every *.ff.tar.gz archive from srcDir
// into dstDir so the engine finds the bundled force fields next to the
// topology. Entries that would escape dstDir are rejected.
func ExtractForceFields(srcDir, dstDir string) ([]string, error) {
	archives, err := filepath.Glob(filepath.Join(srcDir, "*.ff.tar.gz"))
	if err != nil {
		return nil, fmt.Errorf("force fields: %w", err)
	}
	if len(archives) == 0 {
		return nil, fmt.Errorf("force fields: no *.ff.tar.gz archives in %s", srcDir)
	}

	var names []string
	for _, archive := range archives {
		name := strings.TrimSuffix(filepath.Base(archive), ".tar.gz")
		if err := extractTarGz(archive, dstDir); err != nil {
			return nil, fmt.Errorf("force fields: %s: %w", filepath.Base(archive), err)
		}
		names = append(names, strings.TrimSuffix(name, ".ff"))
	}
	return names, nil
}

func extractTarGz(archive, dstDir string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dstDir, filepath.Clean(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(dstDir)+string(os.PathSeparator)) {
			return fmt.Errorf("entry %q escapes destination", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
}
