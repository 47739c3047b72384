package fileio

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fairyhunter13/querypanda/internal/domain"
)

// DetectFormat resolves the table encoding of path from its extension and
// falls back to sniffing the content when the extension is unknown.
func DetectFormat(path string) (domain.Format, error) {
	if f, err := domain.ParseFormat(filepath.Ext(path)); err == nil {
		return f, nil
	}
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("op=fileio.DetectFormat: %w", err)
	}
	f, err := domain.ParseFormat(m.Extension())
	if err != nil {
		return "", fmt.Errorf("op=fileio.DetectFormat: %s: %w", m.String(), err)
	}
	return f, nil
}

// readable reports whether files of format f can be loaded back.
func readable(f domain.Format) bool {
	return f != domain.FormatParquet
}

func isUnsupported(err error) bool {
	return errors.Is(err, domain.ErrUnsupportedFormat)
}
