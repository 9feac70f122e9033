package fat

import (
	"io"
	"time"
)

// Read reads up to len(buf) bytes from the File's current position. It
// implements io.Reader: a read at end of file returns 0, io.EOF.
func (f *File) Read(buf []byte) (int, error) {
	n, err := f.read(buf)
	if err != nil {
		return 0, err
	}
	if n == 0 && len(buf) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// read transfers up to len(dst) bytes, choosing per sector between the
// shared cache, a single-sector bypass, and a multi-sector bypass. It
// returns the bytes transferred; end of file or directory is a zero
// count, not an error.
func (f *File) read(dst []byte) (int, error) {
	if !f.isOpen() || f.flags&uint8(ORead) == 0 {
		return 0, errAccessDenied
	}
	fsys := f.fsys
	nbyte := len(dst)
	if f.isFile() {
		if rem := f.fileSize - f.curPosition; uint32(nbyte) > rem {
			nbyte = int(rem)
		}
	} else if f.isRootFixed() {
		if rem := sizeDirEntry*uint32(fsys.rootDirEntryCount()) - f.curPosition; uint32(nbyte) > rem {
			nbyte = int(rem)
		}
	}
	ss := int(fsys.bytesPerSector())
	toRead := nbyte
	for toRead > 0 {
		offset := f.curPosition & fsys.sectorMask()
		var (
			sector          lba
			sectorOfCluster uint16
		)
		if f.isRootFixed() {
			sector = lba(fsys.rootDirStart()) + lba(f.curPosition>>fsys.bytesPerSectorShift())
		} else {
			sectorOfCluster = fsys.sectorOfCluster(f.curPosition)
			if offset == 0 && sectorOfCluster == 0 {
				// Start of a new cluster.
				if f.curPosition == 0 {
					if f.isRoot32() {
						f.curCluster = fsys.rootDirStart()
					} else {
						f.curCluster = f.firstCluster
					}
				} else {
					next, fg := fsys.fatGet(f.curCluster)
					if fg < 0 {
						f.err |= ReadError
						return 0, errDiskIO
					}
					if fg == 0 {
						if f.isDir() {
							break // Clean end of a directory chain.
						}
						f.err |= ReadError
						return 0, errChainBroken
					}
					f.curCluster = next
				}
			}
			sector = fsys.clusterStartSector(f.curCluster) + lba(sectorOfCluster)
		}
		var n int
		switch {
		case offset != 0 || toRead < ss || sector == fsys.cacheSectorNumber():
			n = ss - int(offset)
			if n > toRead {
				n = toRead
			}
			buf, err := fsys.cacheFetchData(sector, cacheForRead)
			if err != nil {
				f.err |= ReadError
				return 0, err
			}
			copy(dst[:n], buf[offset:int(offset)+n])
		case toRead >= 2*ss:
			ns := toRead >> fsys.bytesPerSectorShift()
			if !f.isRootFixed() {
				if mb := int(fsys.sectorsPerCluster() - sectorOfCluster); mb < ns {
					ns = mb
				}
			}
			n = ns << fsys.bytesPerSectorShift()
			// Flush the cache when it holds one of the target sectors.
			if cs := fsys.cacheSectorNumber(); cs >= sector && cs < sector+lba(ns) {
				if err := fsys.cacheSyncData(); err != nil {
					f.err |= ReadError
					return 0, err
				}
			}
			if err := fsys.readSectors(sector, dst[:n], ns); err != nil {
				f.err |= ReadError
				return 0, err
			}
		default:
			n = ss
			if err := fsys.readSector(sector, dst[:n]); err != nil {
				f.err |= ReadError
				return 0, err
			}
		}
		dst = dst[n:]
		f.curPosition += uint32(n)
		toRead -= n
	}
	return nbyte - toRead, nil
}

// Peek returns the next byte without consuming it.
func (f *File) Peek() (byte, error) {
	pos := f.fgetpos()
	var b [1]byte
	n, err := f.read(b[:])
	f.fsetpos(pos)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return b[0], nil
}

// Fgets reads a line into dst: bytes up to and including the first '\n',
// or the first byte found in delim when delim is non-empty. Carriage
// returns are dropped. Returns the number of bytes stored.
func (f *File) Fgets(dst []byte, delim []byte) (int, error) {
	n := 0
	var b [1]byte
	for n+1 < len(dst) {
		r, err := f.read(b[:])
		if err != nil {
			return -1, err
		}
		if r != 1 {
			break
		}
		ch := b[0]
		// delete CR
		if ch == '\r' {
			continue
		}
		dst[n] = ch
		n++
		if len(delim) == 0 {
			if ch == '\n' {
				break
			}
		} else if indexByte(delim, ch) >= 0 {
			break
		}
	}
	if n < len(dst) {
		dst[n] = 0
	}
	return n, nil
}

func indexByte(s []byte, c byte) int {
	for i, b := range s {
		if b == c {
			return i
		}
	}
	return -1
}

// ReadDir reads the next live file or subdirectory entry of a directory
// into dst, skipping deleted slots and the dot entries. It returns 32
// when an entry was stored and 0 at the end of the directory.
func (f *File) ReadDir(dst *DirEntry) (int, error) {
	// If not a directory file or miss-positioned return an error.
	if !f.isDir() || f.curPosition&0x1F != 0 {
		return 0, errNotDir
	}
	var raw [sizeDirEntry]byte
	for {
		n, err := f.read(raw[:])
		if err != nil {
			return 0, err
		}
		if n != sizeDirEntry {
			return 0, nil
		}
		slot := dirSlot{data: raw[:]}
		// Last entry if free.
		if slot.isFree() {
			return 0, nil
		}
		// Skip deleted entries and the entries for . and ..
		if slot.isDeleted() || slot.isDot() {
			continue
		}
		if slot.isFileOrSubdir() {
			*dst = decodeShort(raw[:])
			return n, nil
		}
	}
}

// readDirCache positions the cache on the sector holding the directory's
// current 32-byte slot and returns a view of it, advancing the position
// by one slot. When skipReadOk is set and the slot is not the first of
// its sector, the caller guarantees the sector is already resident and
// the read is skipped. Returns io.EOF at the end of the directory.
func (f *File) readDirCache(skipReadOk bool) (dirSlot, error) {
	fsys := f.fsys
	i := int(f.curPosition>>5) & (int(fsys.bytesPerSector())/sizeDirEntry - 1)
	if i == 0 || !skipReadOk {
		// One-byte read to pull the slot's sector into the cache; the
		// byte itself is discarded.
		var discard [1]byte
		n, err := f.read(discard[:])
		if err != nil {
			return dirSlot{}, err
		}
		if n != 1 {
			return dirSlot{}, io.EOF
		}
		f.curPosition += sizeDirEntry - 1
	} else {
		f.curPosition += sizeDirEntry
	}
	return slotOf(fsys.cacheData(), i), nil
}

// lfnAssembly accumulates the long-name slots preceding a short entry.
// Slots arrive in on-disk order: highest ordinal first.
type lfnAssembly struct {
	buf     [lfnMaxSlots * lfnSlotChars]uint16
	n       int   // total code units once the ordinal-1 slot arrived
	ord     uint8 // slots in the sequence, 0 when no valid chain pending
	seqNext int   // expected ordinal of the next slot
	chksum  byte
}

func (a *lfnAssembly) reset() { a.ord = 0 }

func (a *lfnAssembly) add(ls lfnSlot) {
	seq := ls.sequence()
	switch {
	case ls.isLast():
		if seq < 1 || seq > lfnMaxSlots {
			a.reset()
			return
		}
		a.ord = uint8(seq)
		a.chksum = ls.checksum()
		units := ls.readName(a.buf[lfnSlotChars*(seq-1) : lfnSlotChars*(seq-1)])
		a.n = lfnSlotChars*(seq-1) + len(units)
		a.seqNext = seq - 1
	case a.ord != 0 && seq == a.seqNext && ls.checksum() == a.chksum:
		ls.readName(a.buf[lfnSlotChars*(seq-1) : lfnSlotChars*(seq-1)])
		a.seqNext--
	default:
		a.reset()
	}
}

// ordFor validates the assembled chain against the short name that
// follows it and returns the slot count, or 0 when no valid chain ends
// here.
func (a *lfnAssembly) ordFor(shortName [11]byte) uint8 {
	if a.ord == 0 || a.seqNext != 0 || lfnChecksum(shortName) != a.chksum {
		return 0
	}
	return a.ord
}

func (a *lfnAssembly) units() []uint16 { return a.buf[:a.n] }

// FileInfo describes one directory entry as produced by ReadDirInfo and
// ForEachFile.
type FileInfo struct {
	fsize   int64
	fdate   uint16
	ftime   uint16
	fattrib fileattr
	index   uint16
	fname   string
	altname string
}

// Name returns the long name of the file when one exists, else the 8.3
// name.
func (finfo *FileInfo) Name() string {
	if finfo.fname != "" {
		return finfo.fname
	}
	return finfo.altname
}

// AlternateName returns the 8.3 name of the file.
func (finfo *FileInfo) AlternateName() string { return finfo.altname }

// Size returns the size of the file in bytes.
func (finfo *FileInfo) Size() int64 { return finfo.fsize }

// Index returns the slot index of the entry within its directory.
func (finfo *FileInfo) Index() uint16 { return finfo.index }

// IsDir returns true if the file is a directory.
func (finfo *FileInfo) IsDir() bool { return finfo.fattrib.IsSubdirectory() }

// IsHidden returns true if the entry carries the hidden attribute.
func (finfo *FileInfo) IsHidden() bool { return finfo.fattrib.IsHidden() }

// IsReadOnly returns true if the entry carries the read-only attribute.
func (finfo *FileInfo) IsReadOnly() bool { return finfo.fattrib.IsReadonly() }

// ModTime returns the modification time of the file.
func (finfo *FileInfo) ModTime() time.Time {
	return datetime{date: finfo.fdate, time: finfo.ftime}.Time()
}

// ReadDirInfo reads the next live entry of a directory into info,
// assembling any long name that precedes it. Returns io.EOF at the end.
func (f *File) ReadDirInfo(info *FileInfo) error {
	if !f.isDir() || f.curPosition&0x1F != 0 {
		return errNotDir
	}
	var asm lfnAssembly
	for {
		index := uint16(f.curPosition / sizeDirEntry)
		slot, err := f.readDirCache(false)
		if err != nil {
			return err
		}
		switch {
		case slot.isFree():
			return io.EOF
		case slot.isDot() || slot.isDeleted():
			asm.reset()
		case slot.isLongName():
			asm.add(lfnSlot{data: slot.data})
		case slot.isFileOrSubdir():
			de := decodeShort(slot.data)
			*info = FileInfo{
				fsize:   int64(de.FileSize),
				fdate:   de.ModifyDate,
				ftime:   de.ModifyTime,
				fattrib: fileattr(de.Attributes),
				index:   index,
				altname: sfnString(slot.name()),
			}
			if asm.ordFor(slot.name()) > 0 {
				info.fname = lfnToString(asm.units())
			}
			return nil
		default:
			asm.reset()
		}
	}
}

// ForEachFile rewinds the directory and calls the callback for each live
// file or subdirectory entry.
func (dp *File) ForEachFile(callback func(*FileInfo) error) error {
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
		if err := callback(&info); err != nil {
			return err
		}
	}
}
