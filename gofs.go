package fat

import (
	"io/fs"
	"os"
)

// GoFS wraps the afero FAT implementation to be compatible with fs.FS.
type GoFS struct {
	afs *AferoFS
}

var _ fs.FS = (*GoFS)(nil)

// NewGoFS exposes a mounted Volume as an fs.FS compatible filesystem.
func NewGoFS(vol *Volume) *GoFS {
	return &GoFS{afs: NewAferoFS(vol)}
}

func (g *GoFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if name == "." {
		name = "/"
	}
	file, err := g.afs.Open(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return GoFile{file.(*aferoFile)}, nil
}

// GoFile adapts an open FAT file to fs.File and fs.ReadDirFile.
type GoFile struct {
	*aferoFile
}

var _ fs.ReadDirFile = GoFile{}

func (g GoFile) Stat() (fs.FileInfo, error) {
	return g.aferoFile.Stat()
}

func (g GoFile) ReadDir(n int) ([]fs.DirEntry, error) {
	entries, err := g.aferoFile.Readdir(n)
	goEntries := make([]fs.DirEntry, len(entries))
	for i, e := range entries {
		goEntries[i] = GoDirEntry{e}
	}
	return goEntries, err
}

// GoDirEntry adapts an os.FileInfo to fs.DirEntry.
type GoDirEntry struct {
	os.FileInfo
}

func (g GoDirEntry) Type() fs.FileMode { return g.FileInfo.Mode().Type() }

func (g GoDirEntry) Info() (fs.FileInfo, error) { return g.FileInfo, nil }
