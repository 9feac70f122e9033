package fat

// Write writes len(src) bytes at the File's current position, allocating
// clusters as the chain is outgrown. It implements io.Writer. On failure
// no partial count is reported.
func (f *File) Write(src []byte) (int, error) {
	if !f.isFile() || f.flags&uint8(OWrite) == 0 {
		return 0, errAccessDenied
	}
	fsys := f.fsys
	// Seek to end of file if append flag.
	if f.flags&uint8(OAppend) != 0 {
		if err := f.seekSet(f.fileSize); err != nil {
			f.err |= WriteError
			return 0, err
		}
	}
	nbyte := len(src)
	// Don't exceed max fileSize.
	if uint64(nbyte) > uint64(0xFFFF_FFFF-f.curPosition) {
		f.err |= WriteError
		return 0, errFileTooLarge
	}
	ss := int(fsys.bytesPerSector())
	nToWrite := nbyte
	for nToWrite > 0 {
		sectorOfCluster := fsys.sectorOfCluster(f.curPosition)
		sectorOffset := f.curPosition & fsys.sectorMask()
		if sectorOfCluster == 0 && sectorOffset == 0 {
			// Start of a new cluster.
			if f.curCluster != 0 {
				next, fg := fsys.fatGet(f.curCluster)
				if fg < 0 {
					f.err |= WriteError
					return 0, errDiskIO
				}
				if fg == 0 {
					// Add cluster if at end of chain.
					if err := f.addCluster(); err != nil {
						f.err |= WriteError
						return 0, err
					}
				} else {
					f.curCluster = next
				}
			} else {
				if f.firstCluster == 0 {
					// Allocate first cluster of file.
					if err := f.addCluster(); err != nil {
						f.err |= WriteError
						return 0, err
					}
					f.firstCluster = f.curCluster
				} else {
					f.curCluster = f.firstCluster
				}
			}
		}
		sector := fsys.clusterStartSector(f.curCluster) + lba(sectorOfCluster)
		var n int
		switch {
		case sectorOffset != 0 || nToWrite < ss:
			// Partial sector, must use the cache.
			n = ss - int(sectorOffset)
			if n > nToWrite {
				n = nToWrite
			}
			opt := cacheForWrite
			if sectorOffset == 0 && f.curPosition >= f.fileSize {
				// Start of a new sector, no read-modify-write needed.
				opt = cacheReserveForWrite
			}
			buf, err := fsys.cacheFetchData(sector, opt)
			if err != nil {
				f.err |= WriteError
				return 0, err
			}
			copy(buf[sectorOffset:], src[:n])
			if ss == n+int(sectorOffset) {
				// Force write if the sector is full - improves large writes.
				if err := fsys.cacheSyncData(); err != nil {
					f.err |= WriteError
					return 0, err
				}
			}
		case nToWrite >= 2*ss:
			// Multi-sector bypass.
			nSector := nToWrite >> fsys.bytesPerSectorShift()
			if maxSectors := int(fsys.sectorsPerCluster() - sectorOfCluster); nSector > maxSectors {
				nSector = maxSectors
			}
			n = nSector << fsys.bytesPerSectorShift()
			if cs := fsys.cacheSectorNumber(); cs >= sector && cs < sector+lba(nSector) {
				// The bulk write supersedes the cached sector; do not flush.
				fsys.cacheInvalidate()
			}
			if err := fsys.writeSectors(sector, src[:n], nSector); err != nil {
				f.err |= WriteError
				return 0, err
			}
		default:
			n = ss
			if fsys.cacheSectorNumber() == sector {
				fsys.cacheInvalidate()
			}
			if err := fsys.writeSector(sector, src[:n]); err != nil {
				f.err |= WriteError
				return 0, err
			}
		}
		f.curPosition += uint32(n)
		src = src[n:]
		nToWrite -= n
	}
	if f.curPosition > f.fileSize {
		// Update fileSize and ensure sync will update the dir entry.
		f.fileSize = f.curPosition
		f.flags |= flagDirDirty
	} else if dateTimeCallback != nil {
		// Ensure sync will update the modified date and time.
		f.flags |= flagDirDirty
	}
	if f.flags&uint8(OSync) != 0 {
		if err := f.Sync(); err != nil {
			return 0, err
		}
	}
	return nbyte, nil
}

// WriteString writes the string s to the File.
func (f *File) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

// addCluster appends one cluster to the File's chain (or starts one) and
// makes it current.
func (f *File) addCluster() error {
	clst, err := f.fsys.allocateCluster(f.curCluster)
	if err != nil {
		return err
	}
	f.curCluster = clst
	f.flags |= flagDirDirty
	return nil
}

// addDirCluster appends a zeroed cluster to a directory chain. The first
// sector of the cluster is left in the cache. curPosition advances past
// the new cluster to keep the position/cluster pairing intact even though
// no entries were appended.
func (f *File) addDirCluster() error {
	fsys := f.fsys
	if f.isRootFixed() {
		return errInvalidParameter
	}
	// Max folder size.
	if f.curPosition >= maxDirBytes {
		return errDirFull
	}
	if err := f.addCluster(); err != nil {
		return err
	}
	sector := fsys.clusterStartSector(f.curCluster)
	buf, err := fsys.cacheFetchData(sector, cacheReserveForWrite)
	if err != nil {
		return err
	}
	clear(buf)
	// Zero the rest of the cluster reusing the zeroed cache buffer.
	for i := 1; i < int(fsys.sectorsPerCluster()); i++ {
		if err := fsys.writeSector(sector+lba(i), buf); err != nil {
			return err
		}
	}
	f.curPosition += fsys.bytesPerCluster()
	return nil
}

// PreAllocate allocates a contiguous cluster run for an empty writable
// file and sets its size to length. Writes of up to length bytes then
// proceed without further allocation.
func (f *File) PreAllocate(length uint32) error {
	if length == 0 || !f.isFile() || f.flags&uint8(OWrite) == 0 || f.firstCluster != 0 {
		return errInvalidParameter
	}
	fsys := f.fsys
	need := 1 + (length-1)>>fsys.bytesPerClusterShift()
	first, err := fsys.allocContiguous(need)
	if err != nil {
		return err
	}
	f.firstCluster = first
	f.fileSize = length
	// Ensure sync() will update the dir entry.
	f.flags |= flagDirDirty
	return f.Sync()
}

// Truncate cuts the file at its current position, freeing the clusters
// beyond it.
func (f *File) Truncate() error {
	if !f.isFile() || f.flags&uint8(OWrite) == 0 {
		return errAccessDenied
	}
	fsys := f.fsys
	if f.firstCluster == 0 {
		return nil
	}
	var toFree uint32
	if f.curCluster != 0 {
		next, fg := fsys.fatGet(f.curCluster)
		if fg < 0 {
			return errDiskIO
		}
		if fg > 0 {
			// The current cluster becomes the end of the chain.
			toFree = next
			if err := fsys.fatPutEOC(f.curCluster); err != nil {
				return err
			}
		}
	} else {
		toFree = f.firstCluster
		f.firstCluster = 0
	}
	if toFree != 0 {
		if err := fsys.freeChain(toFree); err != nil {
			return err
		}
	}
	f.fileSize = f.curPosition
	// Need to update the directory entry.
	f.flags |= flagDirDirty
	return f.Sync()
}

// ContiguousRange verifies the file occupies consecutive clusters and
// returns its first and last device sectors.
func (f *File) ContiguousRange() (bgnSector, endSector uint32, err error) {
	fsys := f.fsys
	if f.firstCluster == 0 {
		return 0, 0, errNotContiguous
	}
	for c := f.firstCluster; ; c++ {
		next, fg := fsys.fatGet(c)
		if fg < 0 {
			return 0, 0, errDiskIO
		}
		// Check for contiguous.
		if fg == 0 || next != c+1 {
			// Error if not end of chain.
			if fg != 0 {
				return 0, 0, errNotContiguous
			}
			bgn := uint32(fsys.clusterStartSector(f.firstCluster))
			end := uint32(fsys.clusterStartSector(c)) + uint32(fsys.sectorsPerCluster()) - 1
			return bgn, end, nil
		}
	}
}
