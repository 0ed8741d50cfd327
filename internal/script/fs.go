package script

import (
	"io/fs"
)

// layeredFS resolves a name against each layer in order; the first layer
// that has it wins. An empty layeredFS contains nothing, which keeps the
// interpreter from falling back to the host filesystem.
type layeredFS []fs.FS

// Open implements fs.FS.
func (l layeredFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	for _, layer := range l {
		f, err := layer.Open(name)
		if err == nil {
			return f, nil
		}
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}
