package fat

import (
	"errors"
	"io"
	"os"
	"path"
	"syscall"
	"time"

	"github.com/spf13/afero"
)

// AferoFS exposes a Volume through the afero.Fs interface so the FAT
// filesystem plugs into code written against afero.
type AferoFS struct {
	vol *Volume
}

var _ afero.Fs = (*AferoFS)(nil)

// NewAferoFS wraps a mounted Volume as an afero.Fs.
func NewAferoFS(vol *Volume) *AferoFS { return &AferoFS{vol: vol} }

func (a *AferoFS) Name() string { return "fat" }

func toOFlag(flag int) (OFlag, error) {
	var of OFlag
	switch flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR) {
	case os.O_RDONLY:
		of = ORead
	case os.O_WRONLY:
		of = OWrite
	case os.O_RDWR:
		of = ORdWr
	default:
		return 0, errInvalidParameter
	}
	if flag&os.O_APPEND != 0 {
		of |= OAppend | OAtEnd
	}
	if flag&os.O_CREATE != 0 {
		of |= OCreat
	}
	if flag&os.O_EXCL != 0 {
		of |= OExcl
	}
	if flag&os.O_TRUNC != 0 {
		of |= OTrunc
	}
	if flag&os.O_SYNC != 0 {
		of |= OSync
	}
	return of, nil
}

func (a *AferoFS) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	of, err := toOFlag(flag)
	if err != nil {
		return nil, err
	}
	af := &aferoFile{fs: a, name: name}
	if err := a.vol.Open(&af.file, name, of); err != nil {
		return nil, err
	}
	return af, nil
}

func (a *AferoFS) Open(name string) (afero.File, error) {
	return a.OpenFile(name, os.O_RDONLY, 0)
}

func (a *AferoFS) Create(name string) (afero.File, error) {
	return a.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0)
}

func (a *AferoFS) Mkdir(name string, perm os.FileMode) error {
	return a.vol.Mkdir(name, false)
}

func (a *AferoFS) MkdirAll(p string, perm os.FileMode) error {
	return a.vol.Mkdir(p, true)
}

func (a *AferoFS) Remove(name string) error {
	var f File
	if err := a.vol.Open(&f, name, ORead); err != nil {
		return err
	}
	if f.isSubDir() {
		return f.Rmdir()
	}
	f.flags |= uint8(OWrite)
	return f.Remove()
}

func (a *AferoFS) RemoveAll(p string) error {
	var f File
	if err := a.vol.Open(&f, p, ORead); err != nil {
		if errors.Is(err, errNoFile) {
			return nil
		}
		return err
	}
	if f.isDir() {
		return f.RmRfStar()
	}
	f.flags |= uint8(OWrite)
	return f.Remove()
}

func (a *AferoFS) Rename(oldname, newname string) error {
	return a.vol.Rename(oldname, newname)
}

func (a *AferoFS) Stat(name string) (os.FileInfo, error) {
	var f File
	if err := a.vol.Open(&f, name, ORead); err != nil {
		return nil, err
	}
	defer f.Close()
	return statFile(&f, path.Base(name))
}

// Chmod maps the owner write bit onto the FAT read-only attribute; other
// mode bits have no FAT representation.
func (a *AferoFS) Chmod(name string, mode os.FileMode) error {
	var f File
	if err := a.vol.Open(&f, name, ORead); err != nil {
		return err
	}
	defer f.Close()
	if f.isRoot() {
		return errInvalidParameter
	}
	slot, err := f.cacheDirEntry(cacheForWrite)
	if err != nil {
		return err
	}
	if mode&0o200 == 0 {
		slot.data[dirAttrOff] |= amRDO
	} else {
		slot.data[dirAttrOff] &^= amRDO
	}
	return f.fsys.cacheSync()
}

func (a *AferoFS) Chown(name string, uid, gid int) error {
	return syscall.EPERM // FAT has no ownership.
}

func (a *AferoFS) Chtimes(name string, atime time.Time, mtime time.Time) error {
	var f File
	if err := a.vol.Open(&f, name, ORead); err != nil {
		return err
	}
	defer f.Close()
	if f.isRoot() {
		return errInvalidParameter
	}
	md, mt := TimeToFATStamps(mtime)
	slot, err := f.cacheDirEntry(cacheForWrite)
	if err != nil {
		return err
	}
	slot.setModify(datetime{date: md, time: mt})
	ad, _ := TimeToFATStamps(atime)
	slot.setAccessDate(ad)
	return f.fsys.cacheSync()
}

// aferoFile adapts File to afero.File.
type aferoFile struct {
	fs   *AferoFS
	file File
	name string
}

var _ afero.File = (*aferoFile)(nil)

func (af *aferoFile) Name() string { return af.name }

func (af *aferoFile) Read(p []byte) (int, error) { return af.file.Read(p) }

func (af *aferoFile) ReadAt(p []byte, off int64) (int, error) {
	pos := af.file.fgetpos()
	defer af.file.fsetpos(pos)
	if err := af.seekTo(off); err != nil {
		return 0, err
	}
	n, err := af.file.read(p)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (af *aferoFile) Write(p []byte) (int, error) { return af.file.Write(p) }

func (af *aferoFile) WriteAt(p []byte, off int64) (int, error) {
	pos := af.file.fgetpos()
	defer af.file.fsetpos(pos)
	if err := af.seekTo(off); err != nil {
		return 0, err
	}
	return af.file.Write(p)
}

func (af *aferoFile) seekTo(off int64) error {
	if off < 0 || off > int64(^uint32(0)) {
		return afero.ErrOutOfRange
	}
	return af.file.SeekSet(uint32(off))
}

func (af *aferoFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(af.file.Position()) + offset
	case io.SeekEnd:
		abs = int64(af.file.Size()) + offset
	default:
		return 0, syscall.EINVAL
	}
	if err := af.seekTo(abs); err != nil {
		return 0, err
	}
	return abs, nil
}

func (af *aferoFile) Close() error { return af.file.Close() }

func (af *aferoFile) Sync() error { return af.file.Sync() }

// Truncate cuts the file to size bytes. Growing a file is not supported.
func (af *aferoFile) Truncate(size int64) error {
	pos := af.file.fgetpos()
	if err := af.seekTo(size); err != nil {
		return err
	}
	err := af.file.Truncate()
	if pos.position <= af.file.Size() {
		af.file.fsetpos(pos)
	}
	return err
}

func (af *aferoFile) WriteString(s string) (int, error) {
	return af.file.WriteString(s)
}

func (af *aferoFile) Stat() (os.FileInfo, error) {
	return statFile(&af.file, path.Base(af.name))
}

func (af *aferoFile) Readdir(count int) ([]os.FileInfo, error) {
	if !af.file.isDir() {
		return nil, syscall.ENOTDIR
	}
	var out []os.FileInfo
	var info FileInfo
	for count <= 0 || len(out) < count {
		err := af.file.ReadDirInfo(&info)
		if err == io.EOF {
			if count > 0 && len(out) == 0 {
				return out, io.EOF
			}
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, newFileStat(&info))
	}
	return out, nil
}

func (af *aferoFile) Readdirnames(n int) ([]string, error) {
	infos, err := af.Readdir(n)
	names := make([]string, len(infos))
	for i, fi := range infos {
		names[i] = fi.Name()
	}
	return names, err
}

// fileStat implements os.FileInfo over a decoded directory entry.
type fileStat struct {
	name    string
	size    int64
	modTime time.Time
	isDir   bool
	rdOnly  bool
}

func newFileStat(info *FileInfo) *fileStat {
	return &fileStat{
		name:    info.Name(),
		size:    info.Size(),
		modTime: info.ModTime(),
		isDir:   info.IsDir(),
		rdOnly:  info.IsReadOnly(),
	}
}

func statFile(f *File, name string) (os.FileInfo, error) {
	st := &fileStat{
		name:   name,
		size:   int64(f.Size()),
		isDir:  f.isDir(),
		rdOnly: f.isReadOnly(),
	}
	if !f.isRoot() {
		var de DirEntry
		if err := f.DirEntry(&de); err != nil {
			return nil, err
		}
		st.modTime = datetime{date: de.ModifyDate, time: de.ModifyTime}.Time()
	}
	return st, nil
}

func (st *fileStat) Name() string { return st.name }
func (st *fileStat) Size() int64  { return st.size }
func (st *fileStat) Mode() os.FileMode {
	mode := os.FileMode(0o644)
	if st.rdOnly {
		mode = 0o444
	}
	if st.isDir {
		return os.ModeDir | 0o755
	}
	return mode
}
func (st *fileStat) ModTime() time.Time { return st.modTime }
func (st *fileStat) IsDir() bool        { return st.isDir }
func (st *fileStat) Sys() interface{}   { return nil }
