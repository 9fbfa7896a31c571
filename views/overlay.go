package views

import (
	"errors"
	"io/fs"
	"sort"
)

// overlay reads from top first and from bottom when top does not have
// the file.
type overlay struct {
	top    fs.FS
	bottom fs.FS
}

func (o overlay) Open(name string) (fs.File, error) {
	f, err := o.top.Open(name)
	if err == nil {
		return f, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return o.bottom.Open(name)
}

func (o overlay) Glob(pattern string) ([]string, error) {
	seen := map[string]bool{}
	for _, fsys := range []fs.FS{o.top, o.bottom} {
		names, err := fs.Glob(fsys, pattern)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			seen[n] = true
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}
