package files

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// FileInfo holds information about a file to be sent
type FileInfo struct {
	// Path is the absolute path to the file
	Path string

	// Name is the filename (without directory)
	Name string

	// Size is the file size in bytes
	Size int64

	// Type is the MIME type of the file (e.g., "application/pdf", "text/plain")
	Type string
}

// ValidateFiles checks that every path is a readable regular file.
// All problems are reported together.
func ValidateFiles(filePaths []string) ([]FileInfo, error) {
	if len(filePaths) == 0 {
		return nil, fmt.Errorf("no files specified")
	}

	var infos []FileInfo
	var problems []string

	for _, path := range filePaths {
		info, err := validateSingleFile(path)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		infos = append(infos, info)
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("file validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}

	return infos, nil
}

func validateSingleFile(path string) (FileInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: resolve path: %w", path, err)
	}

	stat, err := os.Stat(absPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return FileInfo{}, fmt.Errorf("%s: file does not exist", path)
	case err != nil:
		return FileInfo{}, fmt.Errorf("%s: %w", path, err)
	case stat.IsDir():
		return FileInfo{}, fmt.Errorf("%s: is a directory", path)
	case !stat.Mode().IsRegular():
		return FileInfo{}, fmt.Errorf("%s: not a regular file", path)
	}

	// Empty files are allowed; they transfer as metadata plus a completion marker.
	file, err := os.Open(absPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: cannot open file: %w", path, err)
	}
	defer file.Close()

	return FileInfo{
		Path: absPath,
		Name: filepath.Base(absPath),
		Size: stat.Size(),
		Type: detectType(absPath, file),
	}, nil
}

// DetectMimeType guesses a MIME type from the file extension.
func DetectMimeType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// detectType prefers the extension and falls back to sniffing the first
// bytes of r.
func detectType(name string, r io.Reader) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	head := make([]byte, 512)
	n, _ := io.ReadFull(r, head)
	if n == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(head[:n])
}

// GetTotalSize returns the total size of all files
func GetTotalSize(fileInfos []FileInfo) int64 {
	var total int64
	for _, file := range fileInfos {
		total += file.Size
	}
	return total
}
