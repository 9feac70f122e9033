package fat

import "log/slog"

// The partition owns a single cached sector shared by every File on the
// volume. Fetch modes say whether the line must be read-filled and whether
// the caller intends to dirty it.
type cacheOption uint8

const (
	cacheForRead cacheOption = 0
	// cacheStatusDirty marks the line as needing a flush.
	cacheStatusDirty cacheOption = 1 << 0
	// cacheOptionNoRead skips the device read when the line misses.
	cacheOptionNoRead cacheOption = 1 << 1

	cacheForWrite        = cacheStatusDirty
	cacheReserveForWrite = cacheStatusDirty | cacheOptionNoRead
	cacheForReadSkipRead = cacheOptionNoRead
)

type cacheLine struct {
	sector lba
	status cacheOption
	buf    []byte
}

// cacheFetchData returns the cached sector buffer, moving the line to
// sector first if needed. A miss flushes the old line; the read fill is
// skipped for reserve modes. On device failure the line is invalidated.
func (fsys *FS) cacheFetchData(sector lba, opts cacheOption) ([]byte, error) {
	c := &fsys.cache
	if sector == c.sector {
		c.status |= opts & cacheStatusDirty
		return c.buf, nil
	}
	if err := fsys.cacheSyncData(); err != nil {
		return nil, err
	}
	if opts&cacheOptionNoRead == 0 {
		if err := fsys.readSector(sector, c.buf); err != nil {
			fsys.logerror("cacheFetchData", slog.Uint64("sector", uint64(sector)))
			c.sector = badLBA
			c.status = 0
			return nil, err
		}
	}
	c.sector = sector
	c.status = opts & cacheStatusDirty
	return c.buf, nil
}

// cacheSyncData flushes the data in the line, leaving it resident. A dirty
// sector inside the first FAT is mirrored to the second FAT.
func (fsys *FS) cacheSyncData() error {
	c := &fsys.cache
	if c.status&cacheStatusDirty == 0 {
		return nil
	}
	if err := fsys.writeSector(c.sector, c.buf); err != nil {
		fsys.logerror("cacheSyncData", slog.Uint64("sector", uint64(c.sector)))
		return err
	}
	if fsys.nFATs == 2 && c.sector >= fsys.fatbase && c.sector-fsys.fatbase < lba(fsys.fsize) {
		// Redundancy write, ignore error.
		fsys.writeSector(c.sector+lba(fsys.fsize), c.buf)
	}
	c.status &^= cacheStatusDirty
	return nil
}

// cacheSync flushes data and, on FAT32, the FSInfo free-cluster summary.
func (fsys *FS) cacheSync() error {
	if err := fsys.cacheSyncData(); err != nil {
		return err
	}
	return fsys.syncFSInfo()
}

// cacheInvalidate discards the line without flushing. Used by the
// multi-sector bypass write path, where the impending bulk transfer
// supersedes whatever the line holds.
func (fsys *FS) cacheInvalidate() {
	fsys.cache.sector = badLBA
	fsys.cache.status = 0
}

// cacheSectorNumber returns the resident sector, or badLBA when empty.
func (fsys *FS) cacheSectorNumber() lba { return fsys.cache.sector }

// cacheData exposes the line's buffer. The pointer is only valid until the
// next operation that can move the line.
func (fsys *FS) cacheData() []byte { return fsys.cache.buf }
