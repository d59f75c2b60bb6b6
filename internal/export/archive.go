package export

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Archive member names.
const (
	BundleFile = "bundle.json"
	SumsFile   = "SHA256SUMS"
)

// WriteArchive writes b as a zip holding bundle.json and a SHA256SUMS file
// in sha256sum format. bundle.json is compact so stored metadata keeps its
// canonical bytes.
func WriteArchive(w io.Writer, b *Bundle) error {
	body, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	body = append(body, '\n')

	sum := sha256.Sum256(body)
	sums := fmt.Sprintf("%s  %s\n", hex.EncodeToString(sum[:]), BundleFile)

	zw := zip.NewWriter(w)
	for _, f := range []struct {
		name string
		data []byte
	}{
		{BundleFile, body},
		{SumsFile, []byte(sums)},
	} {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.name,
			Method:   zip.Deflate,
			Modified: b.ExportedAt,
		})
		if err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
		if _, err := fw.Write(f.data); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

// WriteArchiveFile writes the archive to path through a temp file in the
// same directory and renames it into place. On failure path is untouched.
func WriteArchiveFile(path string, b *Bundle) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".auditchain-export-*")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err = WriteArchive(tmp, b); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync archive: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename archive: %w", err)
	}
	return nil
}

// ReadArchive opens an archive written by WriteArchive, checks bundle.json
// against SHA256SUMS and decodes the bundle. It does not verify hashes;
// call Reverify for that.
func ReadArchive(r io.ReaderAt, size int64) (*Bundle, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	files := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		if f.Name != BundleFile && f.Name != SumsFile {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		files[f.Name] = data
	}

	body, ok := files[BundleFile]
	if !ok {
		return nil, fmt.Errorf("archive has no %s", BundleFile)
	}
	sums, ok := files[SumsFile]
	if !ok {
		return nil, fmt.Errorf("archive has no %s", SumsFile)
	}
	if err := checkSum(sums, body); err != nil {
		return nil, err
	}

	var b Bundle
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	return &b, nil
}

// ReadArchiveFile is ReadArchive on a file.
func ReadArchiveFile(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	return ReadArchive(f, info.Size())
}

func checkSum(sums, body []byte) error {
	for _, line := range strings.Split(string(sums), "\n") {
		hash, name, ok := strings.Cut(line, "  ")
		if !ok || name != BundleFile {
			continue
		}
		got := sha256.Sum256(body)
		if hex.EncodeToString(got[:]) != hash {
			return errors.New("bundle.json does not match SHA256SUMS")
		}
		return nil
	}
	return fmt.Errorf("SHA256SUMS has no entry for %s", BundleFile)
}
