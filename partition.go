package fat

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math/bits"

	"github.com/openfat/fat/internal/gpt"
	"github.com/openfat/fat/internal/mbr"
)

// FS is a mounted FAT partition: geometry decoded from the BPB, the FAT
// table service, and the single shared sector cache. Files hold a
// non-owning reference to their FS and must not outlive it.
type FS struct {
	device BlockDevice
	blk    blkIdxer

	fatType  uint8 // 12, 16 or 32.
	nFATs    uint8
	csize    uint16 // Cluster size in sectors.
	ssize    uint16 // Sector size in bytes.
	nrootdir uint16 // Number of root directory entries (FAT12/16 only).

	csizeShift uint8 // log2(csize)
	ssizeShift uint8 // log2(ssize)

	n_fatent uint32 // Number of FAT entries (= number of clusters + 2).
	fsize    uint32 // Number of sectors per FAT.

	volbase  lba // Volume base sector.
	fatbase  lba // FAT base sector.
	dirbase  lba // Root directory base sector (FAT12/16) or cluster (FAT32).
	database lba // Data base sector.

	last_clst uint32 // Last allocated cluster, scan hint.
	free_clst uint32 // Number of free clusters, 0xFFFFFFFF if unknown.
	fsi_flag  uint8  // FSInfo dirty flag. b7:disabled, b0:dirty.

	cache cacheLine
	perm  accessmode
	log   *slog.Logger
}

// SetLogger installs a structured logger for device and format errors.
// A nil logger disables logging.
func (fsys *FS) SetLogger(log *slog.Logger) { fsys.log = log }

// Mount mounts the FAT file system on the given block device and sector
// size. It invalidates previously open Files pointing at the same FS.
// Mode should be ModeRead, ModeWrite, or both.
func (fsys *FS) Mount(bd BlockDevice, blockSize int, mode Mode) error {
	if mode&^ModeRW != 0 {
		return errInvalidParameter
	}
	return fsys.mountVolume(bd, blockSize, accessmode(mode), 0)
}

// MountPartition mounts the numbered MBR/GPT partition (1-based).
// Partition 0 addresses the whole device (superfloppy layout).
func (fsys *FS) MountPartition(bd BlockDevice, blockSize int, mode Mode, part uint8) error {
	if mode&^ModeRW != 0 || part > 4 {
		return errInvalidParameter
	}
	return fsys.mountVolume(bd, blockSize, accessmode(mode), part)
}

func (fsys *FS) mountVolume(bd BlockDevice, blockSize int, mode accessmode, part uint8) error {
	fsys.fatType = 0 // Invalidate any previous mount.
	devMode := bd.Mode()
	if devMode == 0 {
		return errDiskIO
	} else if mode&devMode != mode {
		return errAccessDenied
	}
	if blockSize > maxSectorSize {
		return errInvalidParameter
	}
	blk, err := makeBlockIndexer(blockSize)
	if err != nil {
		return errInvalidParameter
	}
	fsys.device = bd
	fsys.blk = blk
	fsys.ssize = uint16(blockSize)
	fsys.ssizeShift = uint8(bits.TrailingZeros16(fsys.ssize))
	fsys.perm = mode
	if cap(fsys.cache.buf) < blockSize {
		fsys.cache.buf = make([]byte, blockSize)
	} else {
		fsys.cache.buf = fsys.cache.buf[:blockSize]
	}
	fsys.cacheInvalidate()

	base, err := fsys.findVolume(part)
	if err != nil {
		return err
	}
	return fsys.initFAT(base)
}

// findVolume locates the FAT boot sector: directly at sector 0 for
// superfloppy media, else through the MBR partition table, else through
// a GPT when the MBR is protective.
func (fsys *FS) findVolume(part uint8) (lba, error) {
	if part == 0 {
		if ok, err := fsys.checkFS(0); err != nil {
			return 0, err
		} else if ok {
			return 0, nil
		}
		return 0, errNoFilesystem
	}
	buf, err := fsys.cacheFetchData(0, cacheForRead)
	if err != nil {
		return 0, err
	}
	bs, err := mbr.ToBootSector(buf)
	if err != nil || bs.BootSignature() != mbr.BootSignature {
		return 0, errNoFilesystem
	}
	pte := bs.PartitionTable(int(part - 1))
	if pte.PartitionType() == mbr.PartitionTypeGPTProtective {
		return fsys.findGPTVolume(part)
	}
	start := pte.StartLBA()
	if pte.PartitionType() == mbr.PartitionTypeUnused || start == 0 {
		return 0, errNoFilesystem
	}
	if ok, err := fsys.checkFS(lba(start)); err != nil {
		return 0, err
	} else if !ok {
		return 0, errNoFilesystem
	}
	return lba(start), nil
}

func (fsys *FS) findGPTVolume(part uint8) (lba, error) {
	buf, err := fsys.cacheFetchData(1, cacheForRead)
	if err != nil {
		return 0, err
	}
	hdr, err := gpt.ToHeader(buf)
	if err != nil {
		return 0, errNoFilesystem
	}
	entriesStart := hdr.PartitionEntriesStartLBA()
	entrySize := hdr.PartitionEntrySize()
	if entrySize < 128 || entrySize > uint32(fsys.ssize) {
		return 0, errNoFilesystem
	}
	perSector := uint32(fsys.ssize) / entrySize
	n := hdr.NumberOfPartitionEntries()
	if uint32(part) > n {
		return 0, errNoFilesystem
	}
	idx := uint32(part - 1)
	sector := lba(entriesStart) + lba(idx/perSector)
	buf, err = fsys.cacheFetchData(sector, cacheForRead)
	if err != nil {
		return 0, err
	}
	off := (idx % perSector) * entrySize
	pe, err := gpt.ToPartitionEntry(buf[off : off+entrySize])
	if err != nil || !pe.Type().IsBasicData() {
		return 0, errNoFilesystem
	}
	start := pe.FirstLBA()
	if ok, err := fsys.checkFS(lba(start)); err != nil {
		return 0, err
	} else if !ok {
		return 0, errNoFilesystem
	}
	return lba(start), nil
}

// checkFS reads sect and reports whether it holds a plausible FAT VBR:
// a boot signature, a jump opcode, and either a "FAT" filesystem-type
// string in the FAT12/16 or FAT32 position or, failing that, a BPB sector
// size equal to the mount's and a nonzero cluster size.
func (fsys *FS) checkFS(sect lba) (bool, error) {
	buf, err := fsys.cacheFetchData(sect, cacheForRead)
	if err != nil {
		return false, err
	}
	if binary.LittleEndian.Uint16(buf[bs55AA:]) != 0xAA55 {
		return false, nil
	}
	b := buf[bsJmpBoot]
	if b != 0xEB && b != 0xE9 && b != 0xE8 {
		return false, nil
	}
	if string(buf[bsFilSysType16:bsFilSysType16+3]) == "FAT" ||
		string(buf[bsFilSysType32:bsFilSysType32+5]) == "FAT32" {
		return true, nil
	}
	// Some formatters leave the type string blank; accept when the BPB
	// geometry fields decode sanely.
	ss := binary.LittleEndian.Uint16(buf[bpbBytsPerSec:])
	return ss == fsys.ssize && buf[bpbSecPerClus] != 0, nil
}

// initFAT decodes the BPB at bsect and derives the partition geometry.
// The FAT flavor is determined solely by the data cluster count.
func (fsys *FS) initFAT(bsect lba) error {
	buf, err := fsys.cacheFetchData(bsect, cacheForRead)
	if err != nil {
		return err
	}
	bs := bootsector{data: buf}
	ss := fsys.ssize
	if bs.SectorSize() != ss {
		return errInvalidParameter
	}
	fatsize := bs.SectorsPerFAT()
	fsys.fsize = fatsize
	fsys.nFATs = bs.NumberOfFATs()
	if fsys.nFATs != 1 && fsys.nFATs != 2 {
		return errNoFilesystem
	}
	fsys.csize = bs.SectorsPerCluster()
	if fsys.csize == 0 || fsys.csize&(fsys.csize-1) != 0 {
		// Zero or not power of two.
		return errNoFilesystem
	}
	fsys.csizeShift = uint8(bits.TrailingZeros16(fsys.csize))

	fsys.nrootdir = bs.RootDirEntries()
	if fsys.nrootdir%(ss/sizeDirEntry) != 0 {
		// Is not sector aligned.
		return errNoFilesystem
	}
	totalSectors := bs.TotalSectors()
	totalReserved := bs.ReservedSectors()
	if totalReserved == 0 {
		return errNoFilesystem
	}

	// Determine the FAT subtype. RSV+FAT+DIR
	sysect := uint32(totalReserved) + fatsize*uint32(fsys.nFATs) +
		uint32(fsys.nrootdir)/(uint32(ss)/sizeDirEntry)
	if totalSectors < sysect {
		return errNoFilesystem
	}
	totalClusters := (totalSectors - sysect) / uint32(fsys.csize)
	if totalClusters == 0 {
		return errNoFilesystem
	}
	var fatType uint8 = 12
	switch {
	case totalClusters > clustMaxFAT32:
		return errNoFilesystem // Too many clusters for FAT32.
	case totalClusters > clustMaxFAT16:
		fatType = 32
	case totalClusters > clustMaxFAT12:
		fatType = 16
	}

	// Boundaries and limits.
	fsys.n_fatent = totalClusters + 2
	fsys.volbase = bsect
	fsys.fatbase = bsect + lba(totalReserved)
	fsys.database = bsect + lba(sysect)
	var sizebFAT uint32
	if fatType == 32 {
		if bs.Version() != 0 {
			return errNoFilesystem // Unsupported FAT subversion, must be 0.0.
		} else if fsys.nrootdir != 0 {
			return errNoFilesystem // Root directory entry count must be 0.
		}
		fsys.dirbase = lba(bs.RootCluster())
		sizebFAT = fsys.n_fatent * 4
	} else {
		if fsys.nrootdir == 0 {
			return errNoFilesystem // Root directory entry count must not be 0.
		}
		fsys.dirbase = fsys.fatbase + lba(fatsize)*lba(fsys.nFATs)
		if fatType == 16 {
			sizebFAT = fsys.n_fatent * 2
		} else {
			sizebFAT = fsys.n_fatent*3/2 + fsys.n_fatent&1
		}
	}
	if fsys.fsize < (sizebFAT+uint32(ss)-1)/uint32(ss) {
		return errNoFilesystem // FAT size must not be less than FAT sectors.
	}

	// Initialize cluster allocation information for write ops.
	fsys.last_clst = 0xFFFF_FFFF
	fsys.free_clst = 0xFFFF_FFFF
	fsys.fsi_flag = 1 << 7
	if fatType == 32 && bs.FSInfo() == 1 {
		fsb, err := fsys.cacheFetchData(bsect+1, cacheForRead)
		if err == nil {
			fsi := fsinfoSector{data: fsb}
			lo, mid, hi := fsi.Signatures()
			if lo == fsinfoLeadSignature && mid == fsinfoStrucSignature &&
				binary.LittleEndian.Uint16(fsb[bs55AA:]) == 0xAA55 && hi>>16 == 0xAA55 {
				fsys.fsi_flag = 0
				fsys.free_clst = fsi.FreeClusterCount()
				fsys.last_clst = fsi.LastAllocatedCluster()
				if fsys.free_clst > totalClusters {
					fsys.free_clst = 0xFFFF_FFFF
				}
				if fsys.last_clst < 2 || fsys.last_clst >= fsys.n_fatent {
					fsys.last_clst = 0xFFFF_FFFF
				}
			}
		}
	}
	fsys.fatType = fatType // Validate the filesystem.
	return nil
}

// Type returns the mounted FAT flavor: 12, 16 or 32. Zero means unmounted.
func (fsys *FS) Type() uint8 { return fsys.fatType }

// FreeClusterCount walks the FAT counting free entries. The result is
// memoized and, on FAT32, persisted to FSInfo at the next cacheSync.
func (fsys *FS) FreeClusterCount() (uint32, error) {
	if fsys.fatType == 0 {
		return 0, errNoFilesystem
	}
	if fsys.free_clst != 0xFFFF_FFFF {
		return fsys.free_clst, nil
	}
	var free uint32
	for c := uint32(2); c < fsys.n_fatent; c++ {
		next, fg := fsys.fatGet(c)
		if fg < 0 {
			return 0, errDiskIO
		}
		if fg > 0 && next == 0 {
			free++
		}
	}
	fsys.free_clst = free
	fsys.markFSInfoDirty()
	return free, nil
}

// Sector size divide and modulus.

func (fsys *FS) divSS(n uint32) uint32 { return n >> fsys.ssizeShift }
func (fsys *FS) modSS(n uint32) uint32 { return n & uint32(fsys.ssize-1) }

func (fsys *FS) bytesPerSector() uint16      { return fsys.ssize }
func (fsys *FS) bytesPerSectorShift() uint8  { return fsys.ssizeShift }
func (fsys *FS) sectorMask() uint32          { return uint32(fsys.ssize) - 1 }
func (fsys *FS) sectorsPerCluster() uint16   { return fsys.csize }
func (fsys *FS) bytesPerCluster() uint32     { return uint32(fsys.csize) << fsys.ssizeShift }
func (fsys *FS) bytesPerClusterShift() uint8 { return fsys.csizeShift + fsys.ssizeShift }
func (fsys *FS) rootDirEntryCount() uint16   { return fsys.nrootdir }

// rootDirStart returns the first root directory sector for FAT12/16 and
// the root directory cluster for FAT32.
func (fsys *FS) rootDirStart() uint32 { return uint32(fsys.dirbase) }

// sectorOfCluster returns the sector index within its cluster of the
// byte at position pos.
func (fsys *FS) sectorOfCluster(pos uint32) uint16 {
	return uint16(pos>>fsys.ssizeShift) & (fsys.csize - 1)
}

// clusterStartSector returns the first device sector of cluster clst,
// or 0 if the cluster is out of range.
func (fsys *FS) clusterStartSector(clst uint32) lba {
	clst -= 2
	if clst >= fsys.n_fatent-2 {
		return 0
	}
	return fsys.database + lba(fsys.csize)*lba(clst)
}

// Raw sector transport. All addresses are absolute device sectors.

func (fsys *FS) readSector(sector lba, dst []byte) error {
	_, err := fsys.device.ReadBlocks(dst[:fsys.ssize], int64(sector))
	if err != nil {
		fsys.logerror("readSector", slog.Uint64("sector", uint64(sector)), slog.Any("err", err))
		return errDiskIO
	}
	return nil
}

func (fsys *FS) readSectors(sector lba, dst []byte, count int) error {
	_, err := fsys.device.ReadBlocks(dst[:int(fsys.ssize)*count], int64(sector))
	if err != nil {
		fsys.logerror("readSectors", slog.Uint64("sector", uint64(sector)), slog.Int("count", count), slog.Any("err", err))
		return errDiskIO
	}
	return nil
}

func (fsys *FS) writeSector(sector lba, data []byte) error {
	_, err := fsys.device.WriteBlocks(data[:fsys.ssize], int64(sector))
	if err != nil {
		fsys.logerror("writeSector", slog.Uint64("sector", uint64(sector)), slog.Any("err", err))
		return errDiskIO
	}
	return nil
}

func (fsys *FS) writeSectors(sector lba, data []byte, count int) error {
	_, err := fsys.device.WriteBlocks(data[:int(fsys.ssize)*count], int64(sector))
	if err != nil {
		fsys.logerror("writeSectors", slog.Uint64("sector", uint64(sector)), slog.Int("count", count), slog.Any("err", err))
		return errDiskIO
	}
	return nil
}

// fatGet reads the FAT entry of cluster clst. fg follows the tri-state
// convention used throughout: -1 error, 0 end of chain, +1 the chain
// continues with next (next == 0 means the cluster is free).
func (fsys *FS) fatGet(clst uint32) (next uint32, fg int8) {
	if clst < 2 || clst >= fsys.n_fatent {
		fsys.logerror("fatGet:range", slog.Uint64("cluster", uint64(clst)))
		return 0, -1
	}
	var raw uint32
	switch fsys.fatType {
	case 32:
		sect := fsys.fatbase + lba(fsys.divSS(clst*4))
		buf, err := fsys.cacheFetchData(sect, cacheForRead)
		if err != nil {
			return 0, -1
		}
		raw = binary.LittleEndian.Uint32(buf[fsys.modSS(clst*4):]) & mask28bits
		if raw >= eocMin32 {
			return raw, 0
		}
	case 16:
		sect := fsys.fatbase + lba(fsys.divSS(clst*2))
		buf, err := fsys.cacheFetchData(sect, cacheForRead)
		if err != nil {
			return 0, -1
		}
		raw = uint32(binary.LittleEndian.Uint16(buf[fsys.modSS(clst*2):]))
		if raw >= eocMin16 {
			return raw, 0
		}
	default:
		// FAT12 entries are 12 bits and may straddle a sector boundary;
		// assemble from two single-byte cache reads.
		idx := clst + clst/2
		b0, err := fsys.fatByte(idx)
		if err != nil {
			return 0, -1
		}
		b1, err := fsys.fatByte(idx + 1)
		if err != nil {
			return 0, -1
		}
		if clst&1 != 0 {
			raw = uint32(b0)>>4 | uint32(b1)<<4
		} else {
			raw = uint32(b0) | uint32(b1&0x0F)<<8
		}
		if raw >= eocMin12 {
			return raw, 0
		}
	}
	return raw, 1
}

func (fsys *FS) fatByte(idx uint32) (byte, error) {
	sect := fsys.fatbase + lba(fsys.divSS(idx))
	buf, err := fsys.cacheFetchData(sect, cacheForRead)
	if err != nil {
		return 0, err
	}
	return buf[fsys.modSS(idx)], nil
}

func (fsys *FS) fatPutByte(idx uint32, mask, val byte) error {
	sect := fsys.fatbase + lba(fsys.divSS(idx))
	buf, err := fsys.cacheFetchData(sect, cacheForWrite)
	if err != nil {
		return err
	}
	off := fsys.modSS(idx)
	buf[off] = buf[off]&^mask | val&mask
	return nil
}

// fatPut stores value as the FAT entry of cluster clst.
func (fsys *FS) fatPut(clst, value uint32) error {
	if clst < 2 || clst >= fsys.n_fatent {
		fsys.logerror("fatPut:range", slog.Uint64("cluster", uint64(clst)))
		return errInvalidParameter
	}
	switch fsys.fatType {
	case 32:
		sect := fsys.fatbase + lba(fsys.divSS(clst*4))
		buf, err := fsys.cacheFetchData(sect, cacheForWrite)
		if err != nil {
			return err
		}
		off := fsys.modSS(clst * 4)
		// FAT32 uses 28 bits for cluster addresses, the top nibble is
		// reserved and preserved.
		old := binary.LittleEndian.Uint32(buf[off:])
		binary.LittleEndian.PutUint32(buf[off:], value&mask28bits|old&^mask28bits)
	case 16:
		sect := fsys.fatbase + lba(fsys.divSS(clst*2))
		buf, err := fsys.cacheFetchData(sect, cacheForWrite)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint16(buf[fsys.modSS(clst*2):], uint16(value))
	default:
		idx := clst + clst/2
		if clst&1 != 0 {
			if err := fsys.fatPutByte(idx, 0xF0, byte(value<<4)); err != nil {
				return err
			}
			return fsys.fatPutByte(idx+1, 0xFF, byte(value>>4))
		}
		if err := fsys.fatPutByte(idx, 0xFF, byte(value)); err != nil {
			return err
		}
		return fsys.fatPutByte(idx+1, 0x0F, byte(value>>8))
	}
	return nil
}

// fatPutEOC marks clst as the last cluster of its chain.
func (fsys *FS) fatPutEOC(clst uint32) error {
	switch fsys.fatType {
	case 32:
		return fsys.fatPut(clst, eoc32)
	case 16:
		return fsys.fatPut(clst, eoc16)
	default:
		return fsys.fatPut(clst, eoc12)
	}
}

// allocateCluster finds a free cluster, marks it end-of-chain, and links
// it after current when current is nonzero. The scan starts after current,
// or after the most recently allocated cluster when current is not a valid
// cluster, and wraps.
func (fsys *FS) allocateCluster(current uint32) (uint32, error) {
	start := current
	if start < 2 || start >= fsys.n_fatent {
		start = fsys.last_clst
		if start < 2 || start >= fsys.n_fatent {
			start = 1
		}
	}
	clst := start
	var scanned uint32
	for {
		clst++
		if clst >= fsys.n_fatent {
			clst = 2
		}
		if scanned++; scanned > fsys.n_fatent {
			return 0, errNoSpace // Scanned the whole FAT.
		}
		next, fg := fsys.fatGet(clst)
		if fg < 0 {
			return 0, errDiskIO
		}
		if fg > 0 && next == 0 {
			break // Free cluster found.
		}
	}
	if err := fsys.fatPutEOC(clst); err != nil {
		return 0, err
	}
	if current >= 2 {
		if err := fsys.fatPut(current, clst); err != nil {
			return 0, err
		}
	}
	fsys.last_clst = clst
	if fsys.free_clst != 0xFFFF_FFFF && fsys.free_clst > 0 {
		fsys.free_clst--
	}
	fsys.markFSInfoDirty()
	return clst, nil
}

// allocContiguous finds and chains count consecutive free clusters,
// returning the first. The last cluster gets an end-of-chain mark.
func (fsys *FS) allocContiguous(count uint32) (uint32, error) {
	if count == 0 {
		return 0, errInvalidParameter
	}
	var first, run uint32
	for clst := uint32(2); clst < fsys.n_fatent; clst++ {
		next, fg := fsys.fatGet(clst)
		if fg < 0 {
			return 0, errDiskIO
		}
		if fg == 0 || next != 0 {
			first, run = 0, 0
			continue
		}
		if first == 0 {
			first = clst
		}
		run++
		if run == count {
			break
		}
	}
	if run < count {
		return 0, errNoSpace
	}
	for c := first; c < first+count-1; c++ {
		if err := fsys.fatPut(c, c+1); err != nil {
			return 0, err
		}
	}
	if err := fsys.fatPutEOC(first + count - 1); err != nil {
		return 0, err
	}
	fsys.last_clst = first + count - 1
	if fsys.free_clst != 0xFFFF_FFFF && fsys.free_clst >= count {
		fsys.free_clst -= count
	}
	fsys.markFSInfoDirty()
	return first, nil
}

// freeChain releases the chain starting at clst back to the free pool.
func (fsys *FS) freeChain(clst uint32) error {
	if clst < 2 || clst >= fsys.n_fatent {
		return errInvalidParameter
	}
	for {
		next, fg := fsys.fatGet(clst)
		if fg < 0 {
			return errDiskIO
		}
		if err := fsys.fatPut(clst, 0); err != nil {
			return err
		}
		if fsys.free_clst != 0xFFFF_FFFF {
			fsys.free_clst++
		}
		if clst < fsys.last_clst {
			fsys.last_clst = clst - 1
			if fsys.last_clst < 2 {
				fsys.last_clst = 0xFFFF_FFFF
			}
		}
		if fg == 0 {
			break
		}
		clst = next
	}
	fsys.markFSInfoDirty()
	return nil
}

func (fsys *FS) markFSInfoDirty() {
	if fsys.fatType == 32 && fsys.fsi_flag&(1<<7) == 0 {
		fsys.fsi_flag |= 1
	}
}

// syncFSInfo persists the free-cluster summary on FAT32 volumes.
func (fsys *FS) syncFSInfo() error {
	if fsys.fsi_flag != 1 {
		return nil
	}
	buf, err := fsys.cacheFetchData(fsys.volbase+1, cacheForWrite)
	if err != nil {
		return err
	}
	fsi := fsinfoSector{data: buf}
	fsi.SetFreeClusterCount(fsys.free_clst)
	fsi.SetLastAllocatedCluster(fsys.last_clst)
	fsys.fsi_flag = 0
	return fsys.cacheSyncData()
}

func (fsys *FS) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if fsys.log == nil {
		return
	}
	fsys.log.LogAttrs(context.Background(), level, msg, attrs...)
}

func (fsys *FS) debug(msg string, attrs ...slog.Attr) {
	fsys.logattrs(slog.LevelDebug, msg, attrs...)
}
func (fsys *FS) warn(msg string, attrs ...slog.Attr) {
	fsys.logattrs(slog.LevelWarn, msg, attrs...)
}
func (fsys *FS) logerror(msg string, attrs ...slog.Attr) {
	fsys.logattrs(slog.LevelError, msg, attrs...)
}
