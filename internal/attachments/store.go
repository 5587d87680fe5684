package attachments

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"calentian-mail-pipeline/internal/parser"
)

// maxCollisionProbe bounds the linear search for a free "(n)" suffix
const maxCollisionProbe = 10000

// Store saves MIME attachments below a content directory
type Store struct {
	baseDir   string
	urlPrefix string
}

// NewStore creates the storage directory if needed and returns a store
// whose saved files are addressed as urlPrefix/<name>.
func NewStore(baseDir, urlPrefix string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attachments directory: %w", err)
	}
	if urlPrefix == "" {
		urlPrefix = "/attachments"
	}
	return &Store{
		baseDir:   baseDir,
		urlPrefix: "/" + strings.Trim(urlPrefix, "/"),
	}, nil
}

// URLPrefix returns the path prefix under which stored files are served
func (s *Store) URLPrefix() string {
	return s.urlPrefix
}

// Save writes each attachment and returns the assigned paths in input order.
// messageKey names attachments that arrive without a filename. On error the
// files already written for this call are removed again.
func (s *Store) Save(messageKey string, attachments []parser.Attachment) ([]string, error) {
	paths := make([]string, 0, len(attachments))

	for i, att := range attachments {
		name := sanitizeFilename(att.Filename)
		if name == "" {
			name = synthesizeFilename(messageKey, i+1, att.ContentType)
		}

		stored, err := s.writeUnique(name, att.Data)
		if err != nil {
			if rmErr := s.Remove(paths); rmErr != nil {
				logrus.WithError(rmErr).WithField("message", messageKey).Warn("Failed to clean up partial attachments")
			}
			return nil, fmt.Errorf("failed to save attachment %q: %w", name, err)
		}

		logrus.WithFields(logrus.Fields{
			"message": messageKey,
			"file":    stored,
			"size":    len(att.Data),
		}).Debug("Stored attachment")

		paths = append(paths, path.Join(s.urlPrefix, stored))
	}

	return paths, nil
}

// Remove deletes stored files by the paths Save returned. Paths outside
// the store's prefix are ignored; files already gone are not an error.
func (s *Store) Remove(paths []string) error {
	var errs []error
	for _, p := range paths {
		if !strings.HasPrefix(p, s.urlPrefix+"/") {
			continue
		}
		name := path.Base(p)
		if err := os.Remove(filepath.Join(s.baseDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// writeUnique claims the lowest free name of name, name(1), name(2), ...
func (s *Store) writeUnique(name string, data []byte) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for n := 0; n < maxCollisionProbe; n++ {
		candidate := name
		if n > 0 {
			candidate = fmt.Sprintf("%s(%d)%s", stem, n, ext)
		}

		f, err := os.OpenFile(filepath.Join(s.baseDir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}

		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", err
		}
		if err := f.Close(); err != nil {
			os.Remove(f.Name())
			return "", err
		}
		return candidate, nil
	}

	return "", fmt.Errorf("no free filename for %q after %d attempts", name, maxCollisionProbe)
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

func synthesizeFilename(messageKey string, index int, contentType string) string {
	ext := ""
	if contentType != "" {
		if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	return fmt.Sprintf("message-%s-%d%s", sanitizeKey(messageKey), index, ext)
}

func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
}
