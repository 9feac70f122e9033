package fat

import (
	"errors"
	"io"
)

// Mkdir creates the directory at path under the parent directory,
// creating missing intermediate components when pFlag is set. On success
// f is the new directory, open read-only.
func (f *File) Mkdir(parent *File, path string, pFlag bool) error {
	if f.isOpen() {
		return errIsOpen
	}
	if !parent.isDir() {
		return errNotDir
	}
	if len(path) > 0 && isDirSeparator(path[0]) {
		path = trimSeparatorPrefix(path)
		var root File
		if err := root.OpenRoot(parent.fsys); err != nil {
			return err
		}
		parent = &root
	}
	var tmpDir File
	for {
		fn, rest, err := parsePathName(path)
		if err != nil {
			return err
		}
		if rest == "" {
			return f.mkdirFname(parent, &fn)
		}
		path = rest
		if err := f.openByName(parent, &fn, ORead); err != nil {
			if !pFlag {
				return err
			}
			if err := f.mkdirFname(parent, &fn); err != nil {
				return err
			}
		}
		tmpDir = *f
		parent = &tmpDir
		f.attr = attrClosed
	}
}

// mkdirFname creates one subdirectory entry: a fresh file entry morphed
// into a directory with a zeroed first cluster holding . and ..
func (f *File) mkdirFname(parent *File, fn *fname) error {
	if !parent.isDir() {
		return errNotDir
	}
	fsys := parent.fsys
	// Create a normal file.
	if err := f.openByName(parent, fn, OCreat|OExcl|ORdWr); err != nil {
		return err
	}
	// Convert the file to a directory.
	f.flags = uint8(ORead)
	f.attr = attrSubdir

	// Allocate and zero the first cluster.
	if err := f.addDirCluster(); err != nil {
		return err
	}
	f.firstCluster = f.curCluster
	// Set to start of dir.
	f.Rewind()
	// Force the entry to the device.
	if err := f.Sync(); err != nil {
		return err
	}
	// The entry is cache-resident after sync.
	slot, err := f.cacheDirEntry(cacheForWrite)
	if err != nil {
		return err
	}
	slot.data[dirAttrOff] = amDIR

	// Template the dot entries from the directory's own entry.
	var dot [sizeDirEntry]byte
	copy(dot[:], slot.data)
	dot[0] = '.'
	for i := 1; i < 11; i++ {
		dot[i] = ' '
	}
	sector := fsys.clusterStartSector(f.firstCluster)
	buf, err := fsys.cacheFetchData(sector, cacheForWrite)
	if err != nil {
		return err
	}
	// '.' in slot 0.
	copy(buf[0:sizeDirEntry], dot[:])
	// '..' in slot 1, pointing at the parent (0 when the parent is root).
	dot[1] = '.'
	ds := dirSlot{data: dot[:]}
	ds.setFirstCluster(parent.firstCluster)
	copy(buf[sizeDirEntry:2*sizeDirEntry], dot[:])
	return fsys.cacheSync()
}

// Remove deletes a regular file: its cluster chain, its short entry, and
// any long-name slots. The handle transitions to closed.
func (f *File) Remove() error {
	if !f.isFile() {
		return errNotFile
	}
	if f.flags&uint8(OWrite) == 0 {
		return errAccessDenied
	}
	fsys := f.fsys
	if f.firstCluster != 0 {
		if err := fsys.freeChain(f.firstCluster); err != nil {
			return err
		}
	}
	slot, err := f.cacheDirEntry(cacheForWrite)
	if err != nil {
		return err
	}
	chksum := lfnChecksum(slot.name())
	slot.markDeleted()
	if f.lfnOrd > 0 {
		dir, err := f.containingDir()
		if err != nil {
			return err
		}
		for ord := uint8(1); ord <= f.lfnOrd; ord++ {
			ds, err := dir.writeDirSlot(f.dirIndex - uint16(ord))
			if err != nil {
				return err
			}
			// Stop at the first slot that is not this entry's next long-name slot.
			ls := lfnSlot{data: ds.data}
			if !ds.isLongName() || ls.sequence() != int(ord) || ls.checksum() != chksum {
				break
			}
			ds.markDeleted()
			if ls.isLast() {
				break
			}
		}
	}
	if err := fsys.cacheSync(); err != nil {
		return err
	}
	f.attr = attrClosed
	return nil
}

// containingDir synthesizes a read handle for the directory holding this
// File's entry, using the recorded first cluster of that directory.
func (f *File) containingDir() (File, error) {
	dir := File{fsys: f.fsys, flags: uint8(ORead)}
	if f.dirCluster == 0 {
		if err := dir.OpenRoot(f.fsys); err != nil {
			return dir, err
		}
		return dir, nil
	}
	dir.attr = attrSubdir
	dir.firstCluster = f.dirCluster
	return dir, nil
}

// Rmdir removes an empty subdirectory. Any live entry besides the dot
// pair makes it fail.
func (f *File) Rmdir() error {
	if !f.isSubDir() {
		return errNotDir
	}
	f.Rewind()
	// Make sure the directory is empty.
	for {
		slot, err := f.readDirCache(true)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		// Done if past the last used entry.
		if slot.isFree() {
			break
		}
		// Skip deleted slots and the dot pair.
		if slot.isDeleted() || slot.isDot() {
			continue
		}
		if slot.isFileOrSubdir() {
			return errDirNotEmpty
		}
	}
	// Convert the empty directory to a normal file so Remove frees its
	// cluster chain.
	f.attr = attrFile
	f.flags |= uint8(OWrite)
	return f.Remove()
}

// RmRfStar recursively removes every entry of the directory, then the
// directory itself unless it is the root.
func (f *File) RmRfStar() error {
	if !f.isDir() {
		return errNotDir
	}
	f.Rewind()
	for {
		// Remember position.
		index := uint16(f.curPosition / sizeDirEntry)
		slot, err := f.readDirCache(false)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		// Done if past the last entry.
		if slot.isFree() {
			break
		}
		// Skip deleted slots and the dot pair.
		if slot.isDeleted() || slot.isDot() {
			continue
		}
		// Skip long-name fragments and volume labels.
		if !slot.isFileOrSubdir() {
			continue
		}
		var child File
		if err := child.OpenIndex(f, index, ORead); err != nil {
			return err
		}
		if child.isSubDir() {
			// Recursively delete.
			if err := child.RmRfStar(); err != nil {
				return err
			}
		} else {
			// Ignore read-only.
			child.flags |= uint8(OWrite)
			if err := child.Remove(); err != nil {
				return err
			}
		}
		// Position to the next entry if required.
		if f.curPosition != sizeDirEntry*uint32(index+1) {
			if err := f.seekSet(sizeDirEntry * uint32(index+1)); err != nil {
				return err
			}
		}
	}
	// Don't try to delete the root.
	if !f.isRoot() {
		if err := f.Rmdir(); err != nil {
			return err
		}
	}
	return nil
}

// Rename moves the File's entry to newPath under dirFile, which must be
// on the same volume. The destination must not exist. Directory renames
// carry the original cluster chain and rewrite its .. entry.
func (f *File) Rename(dirFile *File, newPath string) error {
	// Must be an open file or subdirectory.
	if !f.isFile() && !f.isSubDir() {
		return errInvalidParameter
	}
	// Can't move a file to a new volume.
	if f.fsys != dirFile.fsys {
		return errCrossVolume
	}
	fsys := f.fsys
	if err := f.Sync(); err != nil {
		return err
	}
	oldFile := *f
	slot, err := f.cacheDirEntry(cacheForRead)
	if err != nil {
		return err
	}
	// Snapshot the current entry.
	var entry [sizeDirEntry]byte
	copy(entry[:], slot.data)

	// Make the directory entry for the new path.
	var file File
	var dirCluster uint32
	if f.isFile() {
		if err := file.Open(dirFile, newPath, OCreat|OExcl|OWrite); err != nil {
			return err
		}
	} else {
		// Don't create missing path prefix components.
		if err := file.Mkdir(dirFile, newPath, false); err != nil {
			return err
		}
		// Save the cluster containing the new dot dot.
		dirCluster = file.firstCluster
	}
	// Change to the new directory entry.
	f.dirSector = file.dirSector
	f.dirIndex = file.dirIndex
	f.lfnOrd = file.lfnOrd
	f.dirCluster = file.dirCluster
	// Mark closed to avoid a stray sync of the temporary.
	file.attr = attrClosed

	slot, err = f.cacheDirEntry(cacheForWrite)
	if err != nil {
		return err
	}
	// Copy the snapshot from the creation-time byte to the end of the
	// entry; the new name and NT reserved byte stay as created, and the
	// attributes come over verbatim.
	copy(slot.data[dirCrtTime10Off:], entry[dirCrtTime10Off:])
	slot.data[dirAttrOff] = entry[dirAttrOff]

	// Update dot dot if directory.
	if dirCluster != 0 {
		// Get the new dot dot from the cluster mkdir built.
		sector := fsys.clusterStartSector(dirCluster)
		buf, err := fsys.cacheFetchData(sector, cacheForRead)
		if err != nil {
			return err
		}
		copy(entry[:], buf[sizeDirEntry:2*sizeDirEntry])
		// Free the unused cluster.
		if err := fsys.freeChain(dirCluster); err != nil {
			return err
		}
		// Store the new dot dot in the renamed directory's own cluster.
		sector = fsys.clusterStartSector(f.firstCluster)
		buf, err = fsys.cacheFetchData(sector, cacheForWrite)
		if err != nil {
			return err
		}
		copy(buf[sizeDirEntry:2*sizeDirEntry], entry[:])
	}
	// Remove the old entry without touching the (shared) cluster chain.
	oldFile.firstCluster = 0
	oldFile.flags = uint8(OWrite)
	oldFile.attr = attrFile
	if err := oldFile.Remove(); err != nil {
		return err
	}
	return fsys.cacheSync()
}
