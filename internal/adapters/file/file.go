package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"imgmerge/internal/core/domain"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog/log"
)

// Store keeps files in a single flat directory under generated names.
type Store struct {
	root   string
	prefix string
}

// NewStore creates root if needed. Every name handed out by Save starts with prefix.
func NewStore(root, prefix string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("error creating store directory %w", err)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("error resolving store directory %w", err)
	}

	return &Store{root: abs, prefix: prefix}, nil
}

func (s *Store) Root() string {
	return s.root
}

// Save writes data to a new file and returns its name.
func (s *Store) Save(ctx context.Context, data []byte, extension string) (string, error) {
	return s.Put(ctx, bytes.NewReader(data), extension)
}

// Put streams r into a new file and returns its name. The file only becomes visible once it is complete.
func (s *Store) Put(ctx context.Context, r io.Reader, extension string) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}

	if extension != "" && !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}

	name := fmt.Sprintf("%s%s%s", s.prefix, id.String(), extension)
	log.Ctx(ctx).Debug().Str("name", name).Msg("creating file")

	f, err := os.CreateTemp(s.root, ".partial-*")
	if err != nil {
		err = fmt.Errorf("error creating file %w", err)
		log.Error().Err(err).Send()
		return "", err
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		err = fmt.Errorf("error writing file %w", err)
		log.Error().Err(err).Send()
		return "", err
	}

	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("error closing file %w", err)
	}

	if err := os.Rename(f.Name(), filepath.Join(s.root, name)); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("error finalizing file %w", err)
	}

	log.Ctx(ctx).Debug().Int64("bytes", n).Str("name", name).Msg("created file")

	return name, nil
}

// Path resolves name inside the store. Names with path components are rejected.
func (s *Store) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", domain.ErrNotFound, name)
	}

	path := filepath.Join(s.root, name)

	stat, err := os.Stat(path)
	if err != nil || !stat.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %q", domain.ErrNotFound, name)
	}

	return path, nil
}

// Get returns the content of a stored file.
func (s *Store) Get(name string) ([]byte, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("error reading file %w", err)
		log.Error().Err(err).Send()
		return nil, err
	}

	return buf, nil
}

// Remove deletes a stored file and logs success or failure.
func (s *Store) Remove(name string) {
	path, err := s.Path(name)
	if err != nil {
		log.Warn().Str("name", name).Err(err).Msg("could not clean up file")
		return
	}

	if err := os.Remove(path); err != nil {
		log.Warn().Str("path", path).Err(err).Msg("could not clean up file")
		return
	}
	log.Debug().Str("path", path).Msg("cleaned up file")
}

// Sweep removes regular files whose modification time is older than maxAge.
func (s *Store) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("error listing %s %w", s.root, err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		if !entry.Type().IsRegular() {
			continue
		}

		info, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(s.root, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}

		removed++
	}

	log.Debug().Str("root", s.root).Int("removed", removed).Dur("maxAge", maxAge).Msg("swept store")

	return removed, errors.Join(errs...)
}

// DownloadFile returns the byte content of a file on a provided URL, reading at most limit bytes.
func DownloadFile(ctx context.Context, client *http.Client, path string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		err = fmt.Errorf("error creating request %w", err)
		log.Error().Err(err).Str("path", path).Send()
		return nil, err
	}

	res, err := client.Do(req)
	if err != nil {
		err = fmt.Errorf("error executing request %w", err)
		log.Error().Err(err).Str("path", path).Send()
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		err = fmt.Errorf("unexpected status code on download: %d", res.StatusCode)
		log.Error().Err(err).Str("path", path).Send()
		return nil, err
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		err = fmt.Errorf("error reading response %w", err)
		log.Error().Err(err).Str("path", path).Send()
		return nil, err
	}

	if int64(len(buf)) > limit {
		err = fmt.Errorf("download exceeds %d bytes", limit)
		log.Error().Err(err).Str("path", path).Send()
		return nil, err
	}

	return buf, nil
}
