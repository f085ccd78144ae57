// Package staging writes upload request bodies to files the transfer
// subsystem can read after the process that staged them has exited.
package staging

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/zerofinancial/relay/internal/record"
	"github.com/zerofinancial/relay/pkg/id"
)

const (
	extJSON = ".json"
	extGzip = ".json.gz"
)

// Row is the wire shape of one uploaded log line.
type Row struct {
	ID string `json:"id"`
	record.Payload
}

// Area owns one staging directory.
type Area struct {
	dir  string
	gzip bool
}

// Open creates dir if needed.
func Open(dir string, gzipBodies bool) (*Area, error) {
	if dir == "" {
		return nil, errors.New("staging: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("staging: create %s: %w", dir, err)
	}
	return &Area{dir: dir, gzip: gzipBodies}, nil
}

// Dir returns the staging directory.
func (a *Area) Dir() string { return a.dir }

// Gzip reports whether staged bodies are gzip-compressed.
func (a *Area) Gzip() bool { return a.gzip }

// Path returns where the body for recID is staged.
func (a *Area) Path(recID id.ID) string {
	ext := extJSON
	if a.gzip {
		ext = extGzip
	}
	return filepath.Join(a.dir, recID.String()+ext)
}

// Stage writes rec's request body, replacing any earlier copy, and returns
// its path. The file is written under a temporary name and renamed into place.
func (a *Area) Stage(rec record.LogRecord) (string, error) {
	final := a.Path(rec.ID)
	tmp, err := os.CreateTemp(a.dir, "."+rec.ID.String()+"-*")
	if err != nil {
		return "", fmt.Errorf("staging: create temp: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	if err := a.writeBody(tmp, rec); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("staging: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("staging: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		cleanup()
		return "", fmt.Errorf("staging: rename: %w", err)
	}
	return final, nil
}

func (a *Area) writeBody(w io.Writer, rec record.LogRecord) error {
	bw := bufio.NewWriter(w)
	var out io.Writer = bw
	var zw *gzip.Writer
	if a.gzip {
		zw = gzip.NewWriter(bw)
		out = zw
	}
	rows := []Row{{ID: rec.ID.String(), Payload: rec.Payload}}
	if err := json.NewEncoder(out).Encode(rows); err != nil {
		return fmt.Errorf("staging: encode body: %w", err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return fmt.Errorf("staging: gzip: %w", err)
		}
	}
	return bw.Flush()
}

// Remove deletes any staged body for recID. Missing files are ignored.
func (a *Area) Remove(recID id.ID) error {
	var errs []error
	for _, ext := range []string{extJSON, extGzip} {
		err := os.Remove(filepath.Join(a.dir, recID.String()+ext))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Purge deletes every staged body.
func (a *Area) Purge() error {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.Contains(e.Name(), extJSON) && !strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := os.Remove(filepath.Join(a.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReadBody decodes a staged body. It is used by tests and the CLI.
func ReadBody(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	}
	var rows []Row
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}
