package files

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ZipFiles writes paths into a new archive at target. Entries are flat and
// keep each file's base name.
func ZipFiles(paths []string, target string) (err error) {
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(target)
		}
	}()

	archive := zip.NewWriter(out)
	seen := make(map[string]int)
	for _, path := range paths {
		name := filepath.Base(path)
		if n := seen[name]; n > 0 {
			ext := filepath.Ext(name)
			name = fmt.Sprintf("%s (%d)%s", name[:len(name)-len(ext)], n, ext)
		}
		seen[filepath.Base(path)]++

		if err := addToZip(archive, path, name); err != nil {
			archive.Close()
			return fmt.Errorf("zip %s: %w", path, err)
		}
	}
	return archive.Close()
}

func addToZip(archive *zip.Writer, path, name string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := archive.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, file)
	return err
}
