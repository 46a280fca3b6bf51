package files

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateFiles(t *testing.T) {
	dir := t.TempDir()
	text := filepath.Join(dir, "a.txt")
	empty := filepath.Join(dir, "empty.bin")
	require.NoError(t, os.WriteFile(text, []byte("0123456789"), 0o644))
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	infos, err := ValidateFiles([]string{text, empty})
	require.NoError(t, err)
	require.Len(t, infos, 2)

	require.Equal(t, "a.txt", infos[0].Name)
	require.Equal(t, int64(10), infos[0].Size)
	require.NotEmpty(t, infos[0].Type)

	require.Equal(t, "empty.bin", infos[1].Name)
	require.Equal(t, "application/octet-stream", infos[1].Type)
	require.Zero(t, infos[1].Size)
	require.Equal(t, int64(10), GetTotalSize(infos))
}

func TestValidateFilesReportsEveryProblem(t *testing.T) {
	dir := t.TempDir()

	_, err := ValidateFiles([]string{filepath.Join(dir, "missing"), dir})
	require.Error(t, err)
	require.Contains(t, err.Error(), "file does not exist")
	require.Contains(t, err.Error(), "is a directory")

	_, err = ValidateFiles(nil)
	require.Error(t, err)
}

func TestSafeName(t *testing.T) {
	cases := map[string]string{
		"report.pdf":        "report.pdf",
		"../../etc/passwd":  "passwd",
		`..\..\windows.ini`: "windows.ini",
		"/abs/path/x.txt":   "x.txt",
		"..":                "download",
		"":                  "download",
	}
	for in, want := range cases {
		require.Equal(t, want, SafeName(in), "input %q", in)
	}
}

func TestGetUniqueFilename(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "a.txt")
	require.Equal(t, name, GetUniqueFilename(name))

	require.NoError(t, os.WriteFile(name, nil, 0o644))
	require.Equal(t, filepath.Join(dir, "a (1).txt"), GetUniqueFilename(name))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a (1).txt"), nil, 0o644))
	require.Equal(t, filepath.Join(dir, "a (2).txt"), GetUniqueFilename(name))
}

func TestZipFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	dup := filepath.Join(sub, "a.txt")
	require.NoError(t, os.WriteFile(a, []byte("first"), 0o644))
	require.NoError(t, os.WriteFile(dup, []byte("second"), 0o644))

	target := filepath.Join(dir, "out.zip")
	require.NoError(t, ZipFiles([]string{a, dup}, target))

	r, err := zip.OpenReader(target)
	require.NoError(t, err)
	defer r.Close()

	got := map[string]string{}
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		got[f.Name] = string(data)
	}
	require.Equal(t, map[string]string{"a.txt": "first", "a (1).txt": "second"}, got)

	// The target is never overwritten.
	require.Error(t, ZipFiles([]string{a}, target))
}

func TestZipFilesRemovesPartialArchive(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.zip")

	err := ZipFiles([]string{filepath.Join(dir, "missing.txt")}, target)
	require.Error(t, err)
	require.NoFileExists(t, target)
}

func TestValidateFilesSniffsUnknownExtensions(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "report")
	require.NoError(t, os.WriteFile(doc, []byte("%PDF-1.7\n..."), 0o644))

	infos, err := ValidateFiles([]string{doc})
	require.NoError(t, err)
	require.Equal(t, "application/pdf", infos[0].Type)
}
