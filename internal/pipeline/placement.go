package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/trobanga/pacsbatch/internal/dimse"
	"github.com/trobanga/pacsbatch/internal/lib"
)

// FileExtension is appended to the resolved filename of every placed payload
const FileExtension = ".dcm"

// Layout computes where a received payload is stored:
// <root>/<dir value>/.../<filename value>.dcm
type Layout struct {
	root     string
	dirs     []dimse.ElementPath
	filename dimse.ElementPath
}

// NewLayout parses a "/"-separated list of attribute paths and a filename attribute path.
// Empty components of structure are skipped.
func NewLayout(root, structure, filename string) (Layout, error) {
	l := Layout{root: root}
	for _, component := range strings.Split(structure, "/") {
		if component == "" {
			continue
		}
		p, err := dimse.ParsePath(component)
		if err != nil {
			return Layout{}, lib.ErrUnresolvablePath(component, err)
		}
		l.dirs = append(l.dirs, p)
	}

	p, err := dimse.ParsePath(filename)
	if err != nil {
		return Layout{}, lib.ErrUnresolvablePath(filename, err)
	}
	l.filename = p
	return l, nil
}

// Path resolves the final location of ds
func (l Layout) Path(ds *dimse.Dataset) (string, error) {
	parts := make([]string, 0, len(l.dirs)+2)
	parts = append(parts, l.root)
	for _, p := range l.dirs {
		v, err := resolveComponent(p, ds)
		if err != nil {
			return "", err
		}
		parts = append(parts, v)
	}

	name, err := resolveComponent(l.filename, ds)
	if err != nil {
		return "", err
	}
	parts = append(parts, name+FileExtension)
	return filepath.Join(parts...), nil
}

func resolveComponent(p dimse.ElementPath, ds *dimse.Dataset) (string, error) {
	v, ok := p.Resolve(ds)
	if !ok {
		return "", fmt.Errorf("payload has no %s", p.Keyword())
	}
	v = sanitizeComponent(v)
	if v == "" {
		return "", fmt.Errorf("payload has an empty %s", p.Keyword())
	}
	return v, nil
}

// sanitizeComponent keeps an attribute value from escaping its directory
func sanitizeComponent(v string) string {
	v = strings.TrimSpace(strings.TrimRight(v, "\x00"))
	v = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, v)
	if v == "." || v == ".." {
		return strings.Repeat("_", len(v))
	}
	return v
}

// place finalizes one staged payload: de-identify, decompress, relocate
func (i *Ingest) place(ctx context.Context, item stagedPayload) error {
	ds := item.dataset

	if i.anonymizer != nil {
		if err := i.anonymizer.Anonymize(ctx, item.path); err != nil {
			return err
		}
		// Layout values come from the de-identified file
		reread, err := i.codec.ReadFile(item.path)
		if err != nil {
			return lib.ErrIngestDecode(err)
		}
		ds = reread
	}

	if i.decompress {
		if err := i.codec.Decompress(item.path); err != nil {
			return lib.ErrIngestIO(item.path, err)
		}
	}

	dest, err := i.layout.Path(ds)
	if err != nil {
		return lib.ErrIngestDecode(err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return lib.ErrIngestIO(filepath.Dir(dest), err)
	}
	if err := os.Rename(item.path, dest); err != nil {
		return lib.ErrIngestIO(dest, err)
	}

	i.logger.Debug("Placed payload", "path", dest)
	return nil
}
