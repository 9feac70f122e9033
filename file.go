package fat

import (
	"errors"
	"io"
)

// File is an open file, subdirectory, or root directory on a FAT
// partition. The zero value is a closed File; open it with OpenRoot,
// Open, OpenIndex, OpenNext or Mkdir. A File holds a non-owning
// reference to its FS and must not outlive it.
type File struct {
	fsys *FS

	attr   uint8 // variant bits, attrClosed when not open
	flags  uint8 // stored open flags plus flagDirDirty
	err    uint8 // sticky ReadError/WriteError bits
	lfnOrd uint8 // count of long-name slots preceding the short entry

	dirIndex   uint16 // slot index of the short entry within its directory
	dirSector  lba    // device sector holding the short entry
	dirCluster uint32 // first cluster of the containing directory, 0 for fixed root

	firstCluster uint32
	fileSize     uint32
	curCluster   uint32 // cluster holding byte curPosition-1; 0 only at position 0
	curPosition  uint32
}

// State predicates.

// IsOpen reports whether the File is attached to an entry or root.
func (f *File) IsOpen() bool      { return f.attr != attrClosed }
func (f *File) isOpen() bool      { return f.attr != attrClosed }
func (f *File) isFile() bool      { return f.attr&attrFile != 0 }
func (f *File) isDir() bool       { return f.attr&attrDirMask != 0 }
func (f *File) isSubDir() bool    { return f.attr&attrSubdir != 0 }
func (f *File) isRoot() bool      { return f.attr&attrRootMask != 0 }
func (f *File) isRootFixed() bool { return f.attr&attrRootFixed != 0 }
func (f *File) isRoot32() bool    { return f.attr&attrRoot32 != 0 }
func (f *File) isReadOnly() bool  { return f.attr&attrReadOnly != 0 }

// IsDir reports whether the File is a directory of any kind.
func (f *File) IsDir() bool { return f.isDir() }

// IsHidden reports the hidden attribute.
func (f *File) IsHidden() bool { return f.attr&attrHidden != 0 }

// Size returns the file size in bytes. Directories report zero.
func (f *File) Size() uint32 { return f.fileSize }

// Position returns the current logical byte offset.
func (f *File) Position() uint32 { return f.curPosition }

// FirstCluster returns the file's first data cluster, zero when empty.
func (f *File) FirstCluster() uint32 { return f.firstCluster }

// GetError returns the sticky ReadError/WriteError bits.
func (f *File) GetError() uint8 { return f.err }

// ClearError clears the sticky error bits.
func (f *File) ClearError() { f.err = 0 }

// fspos is a saved read position, restorable with fsetpos.
type fspos struct {
	position uint32
	cluster  uint32
}

func (f *File) fgetpos() fspos { return fspos{position: f.curPosition, cluster: f.curCluster} }
func (f *File) fsetpos(p fspos) {
	f.curPosition = p.position
	f.curCluster = p.cluster
}

// OpenRoot opens the volume root directory. FAT12/16 roots live in a
// fixed region; the FAT32 root is a cluster chain.
func (f *File) OpenRoot(fsys *FS) error {
	if f.isOpen() {
		return errIsOpen
	}
	*f = File{fsys: fsys}
	switch fsys.fatType {
	case 12, 16:
		f.attr = attrRootFixed
	case 32:
		f.attr = attrRoot32
	default:
		return errNoFilesystem
	}
	f.flags = uint8(ORead)
	return nil
}

// Open opens the file or directory at path relative to the parent
// directory. A leading separator makes the path absolute: resolution
// restarts at the volume root, and a path of only separators opens the
// root itself. Intermediate components are opened read-only.
func (f *File) Open(parent *File, path string, oflag OFlag) error {
	if f.isOpen() {
		return errIsOpen
	}
	if !parent.isDir() {
		return errNotDir
	}
	if len(path) > 0 && isDirSeparator(path[0]) {
		path = trimSeparatorPrefix(path)
		if path == "" {
			return f.OpenRoot(parent.fsys)
		}
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
			return f.openByName(parent, &fn, oflag)
		}
		path = rest
		if err := f.openByName(parent, &fn, ORead); err != nil {
			return err
		}
		tmpDir = *f
		parent = &tmpDir
		f.attr = attrClosed
	}
}

// OpenIndex opens the entry in the index'th 32-byte slot of the parent
// directory. Long-name state is validated against the slot immediately
// preceding the entry.
func (f *File) OpenIndex(parent *File, index uint16, oflag OFlag) error {
	if f.isOpen() {
		return errIsOpen
	}
	if !parent.isDir() {
		return errNotDir
	}
	// Opening an existing slot with OExcl is a caller error.
	if oflag&OExcl != 0 {
		return errInvalidParameter
	}
	var (
		checksum byte
		lfnOrd   uint8
	)
	if index > 0 {
		if err := parent.seekSet(32 * uint32(index-1)); err != nil {
			return err
		}
		prev, err := parent.readDirCache(false)
		if err != nil {
			return err
		}
		if prev.isLongName() {
			ls := lfnSlot{data: prev.data}
			if ls.sequence() == 1 {
				checksum = ls.checksum()
				// Use largest possible number.
				lfnOrd = uint8(min(int(index), lfnMaxSlots))
			}
		}
	} else {
		parent.Rewind()
	}
	slot, err := parent.readDirCache(false)
	if err != nil {
		return err
	}
	if slot.isFree() || slot.isDeleted() || slot.isDot() {
		return errNoFile
	}
	if lfnOrd != 0 && checksum != lfnChecksum(slot.name()) {
		return errChecksumMismatch
	}
	return f.openCachedEntry(parent, index, oflag, lfnOrd)
}

// OpenNext opens the next file or subdirectory of the parent directory
// at its current position.
func (f *File) OpenNext(parent *File, oflag OFlag) error {
	if f.isOpen() {
		return errIsOpen
	}
	if !parent.isDir() || parent.curPosition&0x1F != 0 {
		return errNotDir
	}
	var (
		checksum byte
		lfnOrd   uint8
	)
	for {
		index := uint16(parent.curPosition / sizeDirEntry)
		slot, err := parent.readDirCache(false)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errNoFile
			}
			return err
		}
		switch {
		case slot.isFree():
			return errNoFile // Last entry.
		case slot.isDot() || slot.isDeleted():
			lfnOrd = 0
		case slot.isFileOrSubdir():
			if lfnOrd != 0 && checksum != lfnChecksum(slot.name()) {
				return errChecksumMismatch
			}
			return f.openCachedEntry(parent, index, oflag, lfnOrd)
		case slot.isLongName():
			ls := lfnSlot{data: slot.data}
			if ls.isLast() {
				lfnOrd = uint8(ls.sequence())
				checksum = ls.checksum()
			}
		default:
			lfnOrd = 0
		}
	}
}

// openByName locates the named entry in the parent directory and opens
// it, creating the entry first when oflag requests it.
func (f *File) openByName(parent *File, fn *fname, oflag OFlag) error {
	if f.isOpen() {
		return errIsOpen
	}
	if !parent.isDir() {
		return errNotDir
	}
	need := 1 + fn.lfnSlotCount()
	var (
		asm       lfnAssembly
		freeIndex = -1
		freeFound int
	)
	parent.Rewind()
	for {
		index := int(parent.curPosition / sizeDirEntry)
		slot, err := parent.readDirCache(false)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break // Directory chain or fixed region exhausted.
			}
			return err
		}
		if slot.isFree() || slot.isDeleted() {
			if freeFound == 0 {
				freeIndex = index
			}
			freeFound++
			if slot.isFree() {
				break // Terminator: nothing further exists.
			}
			continue
		}
		if freeFound < need {
			freeIndex = -1
			freeFound = 0
		}
		switch {
		case slot.isDot():
			asm.reset()
		case slot.isLongName():
			asm.add(lfnSlot{data: slot.data})
		case slot.isFileOrSubdir():
			entryOrd := asm.ordFor(slot.name())
			var match bool
			if fn.isLFN() {
				match = entryOrd > 0 && lfnEqual(asm.units(), fn.lfn)
				if !match && fn.flags&fnameLossy == 0 {
					// The name has an exact 8.3 form: match it case-insensitively.
					match = slot.name() == fn.sfn
				}
			} else {
				match = slot.name() == fn.sfn
			}
			if match {
				if oflag&(OCreat|OExcl) == OCreat|OExcl {
					return errExist
				}
				return f.openCachedEntry(parent, uint16(index), oflag, entryOrd)
			}
			asm.reset()
		default:
			asm.reset() // Volume label.
		}
	}
	// Not found.
	if oflag&OCreat == 0 || oflag&OWrite == 0 {
		return errNoFile
	}
	if freeIndex < 0 {
		freeIndex = int(parent.curPosition / sizeDirEntry)
	}
	return f.createEntry(parent, fn, oflag, freeIndex, need)
}

// createEntry writes the long-name slots and short entry for fn starting
// at slot freeIndex, growing the directory as required, then opens the
// new entry.
func (f *File) createEntry(parent *File, fn *fname, oflag OFlag, freeIndex, need int) error {
	fsys := parent.fsys
	needEnd := uint32(freeIndex+need) * sizeDirEntry
	if needEnd > maxDirBytes {
		return errDirFull
	}
	if parent.isRootFixed() {
		if needEnd > sizeDirEntry*uint32(fsys.rootDirEntryCount()) {
			return errDirFull
		}
	} else {
		end, err := parent.dirSize()
		if err != nil {
			return err
		}
		for end < needEnd {
			if err := parent.seekSet(end); err != nil {
				return err
			}
			if err := parent.addDirCluster(); err != nil {
				return err
			}
			end += fsys.bytesPerCluster()
		}
	}
	sfn := fn.sfn
	if fn.flags&fnameLossy != 0 {
		var err error
		sfn, err = parent.uniqueSFN(fn)
		if err != nil {
			return err
		}
	}
	chk := lfnChecksum(sfn)
	nSlots := fn.lfnSlotCount()
	for i := 0; i < nSlots; i++ {
		seq := nSlots - i
		slot, err := parent.writeDirSlot(uint16(freeIndex + i))
		if err != nil {
			return err
		}
		lfnSlot{data: slot.data}.write(seq, seq == nSlots, chk, fn.lfn)
	}
	shortIndex := uint16(freeIndex + nSlots)
	slot, err := parent.writeDirSlot(shortIndex)
	if err != nil {
		return err
	}
	clear(slot.data)
	slot.setName(sfn)
	if dateTimeCallback != nil {
		date, tm := dateTimeCallback()
		slot.setCreate(datetime{date: date, time: tm})
		slot.setModify(datetime{date: date, time: tm})
		slot.setAccessDate(date)
	}
	return f.openCachedEntry(parent, shortIndex, oflag, uint8(nSlots))
}

// uniqueSFN picks a ~N alias tail that collides with no live entry.
func (dp *File) uniqueSFN(fn *fname) ([11]byte, error) {
	for n := 1; n < 1000; n++ {
		cand := sfnWithTail(fn.sfn, n)
		exists, err := dp.sfnExists(cand)
		if err != nil {
			return cand, err
		}
		if !exists {
			return cand, nil
		}
	}
	return fn.sfn, errDirFull
}

func (dp *File) sfnExists(sfn [11]byte) (bool, error) {
	dp.Rewind()
	for {
		slot, err := dp.readDirCache(false)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			return false, err
		}
		if slot.isFree() {
			return false, nil
		}
		if slot.isFileOrSubdir() && !slot.isDot() && slot.name() == sfn {
			return true, nil
		}
	}
}

// writeDirSlot positions the directory at slot index and returns a
// writable view of it inside the cache line.
func (dp *File) writeDirSlot(index uint16) (dirSlot, error) {
	if err := dp.seekSet(sizeDirEntry * uint32(index)); err != nil {
		return dirSlot{}, err
	}
	slot, err := dp.readDirCache(false)
	if err != nil {
		return dirSlot{}, err
	}
	// The slot's sector is resident; mark it dirty.
	if _, err := dp.fsys.cacheFetchData(dp.fsys.cacheSectorNumber(), cacheForWrite); err != nil {
		return dirSlot{}, err
	}
	return slot, nil
}

// dirSize returns the directory's allocated size in bytes by walking its
// cluster chain.
func (dp *File) dirSize() (uint32, error) {
	fsys := dp.fsys
	if dp.isRootFixed() {
		return sizeDirEntry * uint32(fsys.rootDirEntryCount()), nil
	}
	clst := dp.firstCluster
	if dp.isRoot32() {
		clst = fsys.rootDirStart()
	}
	var n uint32
	for clst != 0 {
		n++
		if n > maxDirBytes/512 {
			return 0, errChainBroken
		}
		next, fg := fsys.fatGet(clst)
		if fg < 0 {
			return 0, errDiskIO
		}
		if fg == 0 {
			break
		}
		clst = next
	}
	return n * fsys.bytesPerCluster(), nil
}

// openCachedEntry binds f to the short entry at dirIndex of the parent
// directory. The entry's sector must be resident in the cache.
func (f *File) openCachedEntry(parent *File, dirIndex uint16, oflag OFlag, lfnOrd uint8) error {
	fsys := parent.fsys
	*f = File{
		fsys:       fsys,
		dirIndex:   dirIndex,
		dirCluster: parent.firstCluster,
		lfnOrd:     lfnOrd,
	}
	fail := func(err error) error {
		f.attr = attrClosed
		return err
	}
	slot := slotOf(fsys.cacheData(), int(dirIndex))
	if !slot.isFileOrSubdir() {
		return fail(errNoFile)
	}
	f.attr = uint8(slot.attributes()) & attrCopyMask
	if slot.isFileDir() {
		f.attr |= attrFile
	}
	if oflag&(OWrite|OTrunc|OAtEnd) != 0 && (f.isSubDir() || f.isReadOnly()) {
		return fail(errAccessDenied)
	}
	f.flags = uint8(oflag & oflagStored)
	f.dirSector = fsys.cacheSectorNumber()
	firstCluster := slot.firstCluster()
	if oflag&OTrunc != 0 {
		if oflag&OWrite == 0 {
			return fail(errAccessDenied)
		}
		if firstCluster != 0 {
			if err := fsys.freeChain(firstCluster); err != nil {
				return fail(err)
			}
		}
		// Directory entry still shows the old chain and size.
		f.flags |= flagDirDirty
	} else {
		f.firstCluster = firstCluster
		f.fileSize = slot.size()
	}
	if oflag&OAtEnd != 0 {
		if err := f.seekSet(f.fileSize); err != nil {
			return fail(err)
		}
	}
	return nil
}

// Rewind positions the File at offset zero.
func (f *File) Rewind() {
	f.curPosition = 0
	f.curCluster = 0
}

// SeekSet positions the File at the absolute byte offset pos. Seeking a
// regular file beyond its size fails. Seeking never allocates.
func (f *File) SeekSet(pos uint32) error { return f.seekSet(pos) }

func (f *File) seekSet(pos uint32) error {
	if !f.isOpen() {
		return errNotOpen
	}
	// Optimize OAppend writes.
	if pos == f.curPosition {
		return nil
	}
	if pos == 0 {
		f.Rewind()
		return nil
	}
	fsys := f.fsys
	if f.isFile() {
		if pos > f.fileSize {
			return errInvalidPosition
		}
	} else if f.isRootFixed() {
		if pos > sizeDirEntry*uint32(fsys.rootDirEntryCount()) {
			return errInvalidPosition
		}
		f.curPosition = pos
		return nil
	}
	tmp := f.curCluster
	shift := fsys.bytesPerClusterShift()
	// Cluster index of the current and the target position.
	nCur := (f.curPosition - 1) >> shift
	nNew := (pos - 1) >> shift
	if nNew < nCur || f.curPosition == 0 {
		// Must follow the chain from the first cluster.
		if f.isRoot32() {
			f.curCluster = fsys.rootDirStart()
		} else {
			f.curCluster = f.firstCluster
		}
	} else {
		// Advance from the current position.
		nNew -= nCur
	}
	for ; nNew > 0; nNew-- {
		next, fg := fsys.fatGet(f.curCluster)
		if fg <= 0 {
			f.curCluster = tmp
			return errChainBroken
		}
		f.curCluster = next
	}
	f.curPosition = pos
	return nil
}

// cacheDirEntry fetches the sector holding the File's short entry and
// returns a view of the slot.
func (f *File) cacheDirEntry(opts cacheOption) (dirSlot, error) {
	buf, err := f.fsys.cacheFetchData(f.dirSector, opts)
	if err != nil {
		return dirSlot{}, err
	}
	return slotOf(buf, int(f.dirIndex)), nil
}

// Sync pushes the directory entry and any cached data to the device.
// On return the on-disk entry matches the in-memory size and chain.
func (f *File) Sync() error {
	if !f.isOpen() {
		return nil
	}
	if f.flags&flagDirDirty != 0 {
		slot, err := f.cacheDirEntry(cacheForWrite)
		if err != nil {
			f.err |= WriteError
			return err
		}
		// Check for deletion by another open file object.
		if slot.isDeleted() {
			f.err |= WriteError
			return errEntryDeleted
		}
		// Do not set file size for directories.
		if f.isFile() {
			slot.setSize(f.fileSize)
		}
		slot.setFirstCluster(f.firstCluster)
		if dateTimeCallback != nil {
			date, tm := dateTimeCallback()
			slot.setModify(datetime{date: date, time: tm})
			slot.setAccessDate(date)
		}
		f.flags &^= flagDirDirty
	}
	if err := f.fsys.cacheSync(); err != nil {
		f.err |= WriteError
		return err
	}
	return nil
}

// Close syncs and detaches the File. Closing a closed File is a no-op.
func (f *File) Close() error {
	err := f.Sync()
	f.attr = attrClosed
	return err
}

// DirEntry reads back the File's own short directory entry.
func (f *File) DirEntry(dst *DirEntry) error {
	if !f.isOpen() {
		return errNotOpen
	}
	// Make sure the on-device fields are current.
	if err := f.Sync(); err != nil {
		return err
	}
	slot, err := f.cacheDirEntry(cacheForRead)
	if err != nil {
		return err
	}
	*dst = decodeShort(slot.data)
	return nil
}

// Timestamp overwrites the chosen timestamp fields (TAccess, TCreate,
// TWrite) of a regular file's entry. Years span 1980..2107.
func (f *File) Timestamp(flags uint8, year uint16, month, day, hour, minute, second uint8) error {
	if !f.isFile() {
		return errNotFile
	}
	if year < 1980 || year > 2107 || month < 1 || month > 12 ||
		day < 1 || day > 31 || hour > 23 || minute > 59 || second > 59 {
		return errInvalidTimestamp
	}
	// Flush pending size/cluster changes before touching the entry.
	if err := f.Sync(); err != nil {
		return err
	}
	slot, err := f.cacheDirEntry(cacheForWrite)
	if err != nil {
		return err
	}
	dirDate := fsDate(year, month, day)
	dirTime := fsTime(hour, minute, second)
	if flags&TAccess != 0 {
		slot.setAccessDate(dirDate)
	}
	if flags&TCreate != 0 {
		var tenths uint8
		// Units of 1/100 second, carrying the odd second.
		if second&1 != 0 {
			tenths = 100
		}
		slot.setCreate(datetime{date: dirDate, time: dirTime, fine: tenths})
	}
	if flags&TWrite != 0 {
		slot.setModify(datetime{date: dirDate, time: dirTime})
	}
	return f.fsys.cacheSync()
}
