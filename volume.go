package fat

import (
	"fmt"
	"io"
)

// Volume binds a Partition to whole-path convenience operations. All
// methods resolve paths against the volume root.
type Volume struct {
	FS
}

// cwv is the process-wide current working volume, installed by Begin and
// Chvol. It is not synchronized; multithreaded embedders serialize
// externally or pass Volumes explicitly.
var cwv *Volume

// CWV returns the current working volume, nil before any Begin.
func CWV() *Volume { return cwv }

// Chvol makes this the current working volume.
func (v *Volume) Chvol() { cwv = v }

// Begin mounts partition part of the device read-write and installs the
// volume as the current working volume. With part == 0 it tries the
// first MBR partition, then the whole device (superfloppy layout).
func (v *Volume) Begin(dev BlockDevice, blockSize int, part uint8) error {
	var err error
	if part != 0 {
		err = v.MountPartition(dev, blockSize, ModeRW, part)
	} else {
		err = v.MountPartition(dev, blockSize, ModeRW, 1)
		if err != nil {
			err = v.MountPartition(dev, blockSize, ModeRW, 0)
		}
	}
	if err != nil {
		return err
	}
	cwv = v
	return nil
}

// Open opens the file or directory at path into dst.
func (v *Volume) Open(dst *File, path string, oflag OFlag) error {
	var root File
	if err := root.OpenRoot(&v.FS); err != nil {
		return err
	}
	return dst.Open(&root, path, oflag)
}

// Exists tests for the existence of a file or directory.
func (v *Volume) Exists(path string) bool {
	var tmp File
	if err := v.Open(&tmp, path, ORead); err != nil {
		return false
	}
	tmp.Close()
	return true
}

// Mkdir creates a directory, with missing parents when pFlag is set.
func (v *Volume) Mkdir(path string, pFlag bool) error {
	var root, sub File
	if err := root.OpenRoot(&v.FS); err != nil {
		return err
	}
	if err := sub.Mkdir(&root, path, pFlag); err != nil {
		return err
	}
	return sub.Close()
}

// Remove deletes the regular file at path.
func (v *Volume) Remove(path string) error {
	var tmp File
	if err := v.Open(&tmp, path, OWrite); err != nil {
		return err
	}
	return tmp.Remove()
}

// Rmdir removes the empty directory at path.
func (v *Volume) Rmdir(path string) error {
	var sub File
	if err := v.Open(&sub, path, ORead); err != nil {
		return err
	}
	return sub.Rmdir()
}

// RmRfStar recursively removes the directory at path and its contents.
func (v *Volume) RmRfStar(path string) error {
	var dir File
	if err := v.Open(&dir, path, ORead); err != nil {
		return err
	}
	return dir.RmRfStar()
}

// Rename moves oldPath to newPath. newPath must not exist.
func (v *Volume) Rename(oldPath, newPath string) error {
	var root, file File
	if err := root.OpenRoot(&v.FS); err != nil {
		return err
	}
	if err := v.Open(&file, oldPath, ORead); err != nil {
		return err
	}
	return file.Rename(&root, newPath)
}

// Truncate cuts the file at path to length bytes. Growing is not
// supported; length beyond the file size fails.
func (v *Volume) Truncate(path string, length uint32) error {
	var file File
	if err := v.Open(&file, path, OWrite); err != nil {
		return err
	}
	if err := file.SeekSet(length); err != nil {
		file.Close()
		return err
	}
	if err := file.Truncate(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Ls writes a listing of the directory at path. Flags are a combination
// of LsDate, LsSize and LsR.
func (v *Volume) Ls(w io.Writer, path string, flags uint8) error {
	var dir File
	if err := v.Open(&dir, path, ORead); err != nil {
		return err
	}
	err := dir.ls(w, flags, 0)
	dir.Close()
	return err
}

func (dp *File) ls(w io.Writer, flags uint8, indent int) error {
	if !dp.isDir() {
		return errNotDir
	}
	dp.Rewind()
	var info FileInfo
	for {
		err := dp.ReadDirInfo(&info)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if info.IsHidden() {
			continue
		}
		for i := 0; i < indent; i++ {
			if _, err := fmt.Fprint(w, "  "); err != nil {
				return err
			}
		}
		if flags&LsDate != 0 {
			if _, err := fmt.Fprintf(w, "%s ", info.ModTime().Format("2006-01-02 15:04")); err != nil {
				return err
			}
		}
		if flags&LsSize != 0 && !info.IsDir() {
			if _, err := fmt.Fprintf(w, "%d ", info.Size()); err != nil {
				return err
			}
		}
		name := info.Name()
		if info.IsDir() {
			name += "/"
		}
		if _, err := fmt.Fprintln(w, name); err != nil {
			return err
		}
		if flags&LsR != 0 && info.IsDir() {
			pos := dp.fgetpos()
			var sub File
			if err := sub.OpenIndex(dp, info.Index(), ORead); err != nil {
				return err
			}
			if err := sub.ls(w, flags, indent+1); err != nil {
				sub.Close()
				return err
			}
			sub.Close()
			// Listing the subdirectory may have moved the shared cache;
			// only this File's own position needs restoring.
			dp.fsetpos(pos)
		}
	}
}
