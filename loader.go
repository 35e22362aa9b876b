package schemarev

import (
	"bufio"
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

type Loader interface {
	Load(context.Context) ([]*Revision, error)
}

// GlobLoader loads every Lua script on disk matching Pattern.
type GlobLoader struct {
	Pattern string
}

func (l GlobLoader) Load(ctx context.Context) ([]*Revision, error) {
	matches, err := filepath.Glob(l.Pattern)
	if err != nil {
		return nil, err
	}

	revisions := make([]*Revision, 0, len(matches))
	for _, p := range matches {
		rev, err := loadFile(ctx, os.DirFS(filepath.Dir(p)), filepath.Base(p))
		if err != nil {
			return nil, err
		}
		revisions = append(revisions, rev)
	}
	return revisions, nil
}

// FSLoader loads every Lua script in FS matching Pattern, for scripts
// shipped with go:embed.
type FSLoader struct {
	FS      fs.FS
	Pattern string
}

func (l FSLoader) Load(ctx context.Context) ([]*Revision, error) {
	matches, err := fs.Glob(l.FS, l.Pattern)
	if err != nil {
		return nil, err
	}

	revisions := make([]*Revision, 0, len(matches))
	for _, p := range matches {
		rev, err := loadFile(ctx, l.FS, p)
		if err != nil {
			return nil, err
		}
		revisions = append(revisions, rev)
	}
	return revisions, nil
}

func loadFile(ctx context.Context, fsys fs.FS, name string) (*Revision, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Parse(ctx, bufio.NewReader(f), path.Base(name))
}
