// Package media is the blob store behind profile media uploads. Blobs are
// written under a single directory with opaque generated names and served
// back by URL path; the directory store keeps the URLs, never the bytes.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/xid"
	"go.uber.org/zap"
)

const urlPrefix = "/media/"

var (
	ErrEmptyBlob = errors.New("empty upload")
	ErrTooLarge  = errors.New("upload exceeds size limit")
	ErrNotFound  = errors.New("media not found")
)

// Config defines fields used for configuring the media Store, parsed from
// environment variables
type Config struct {
	Dir     string `env:"MEDIA_DIR" envDefault:"./media"`
	MaxSize int64  `env:"MEDIA_MAX_BYTES" envDefault:"10485760"`
}

// Store persists uploaded blobs on disk.
type Store struct {
	logger  *zap.SugaredLogger
	dir     string
	maxSize int64
}

func NewStore(logger *zap.SugaredLogger, cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating media dir: %w", err)
	}
	return &Store{logger: logger, dir: cfg.Dir, maxSize: cfg.MaxSize}, nil
}

// Put stores the blob and returns its serving URL. The write goes through a
// temp file and a rename, so a failed upload leaves nothing behind.
func (s *Store) Put(ctx context.Context, ownerID, filename string, r io.Reader) (string, error) {
	s.logger.Debugf("Storing media for user (id: %s)", ownerID)

	name := xid.New().String() + sanitizeExt(filename)

	tmp, err := os.CreateTemp(s.dir, "upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	// One byte past the cap so an oversize upload is detected instead of
	// being cut at the limit.
	n, err := io.Copy(tmp, io.LimitReader(r, s.maxSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", ErrEmptyBlob
	}
	if n > s.maxSize {
		return "", ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", err
	}

	s.logger.Debugf("Stored media %s (%d bytes)", name, n)

	return urlPrefix + name, nil
}

// Open returns a reader for a previously stored blob addressed by its URL
// path.
func (s *Store) Open(urlPath string) (io.ReadCloser, error) {
	name := strings.TrimPrefix(path.Clean(urlPath), urlPrefix)
	if name == "" || strings.Contains(name, "/") {
		return nil, ErrNotFound
	}

	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// Handler serves stored blobs under the /media/ prefix.
func (s *Store) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		f, err := s.Open(r.URL.Path)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
				return
			}
			s.logger.Error(err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		defer f.Close()

		if _, err := io.Copy(w, f); err != nil {
			s.logger.Errorf("serving media: %v", err)
		}
	})
}

// sanitizeExt keeps a short, safe extension from the uploaded filename.
func sanitizeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) > 8 {
		return ""
	}
	for _, r := range ext[min(1, len(ext)):] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
