package fat

import (
	"encoding/binary"
	"strconv"
)

// Format selects a FAT flavor for the Formatter.
type Format uint8

const (
	_FormatUnknown Format = iota
	FormatFAT12
	FormatFAT16
	FormatFAT32
)

// FormatConfig parameterizes Formatter.Format. The zero value picks a
// flavor and cluster size from the volume size.
type FormatConfig struct {
	Label string
	// ClusterSize is the size of a FAT cluster in sectors, a power of 2.
	ClusterSize int
	// Format selects the FAT flavor. Zero chooses by volume size.
	Format Format
	// RootDirEntries is the fixed root capacity for FAT12/16 volumes.
	// Zero means 512. Must keep the root sector aligned.
	RootDirEntries int
	// VolumeSerialNumber is stamped into the boot sector.
	VolumeSerialNumber uint32
}

// Formatter writes a fresh FAT filesystem onto a block device in the
// superfloppy layout: the boot sector at block zero, no partition table.
type Formatter struct {
	window []byte
	bd     BlockDevice
}

// Format builds a FAT12/16/32 volume spanning fsSizeInBlocks blocks.
// The resulting cluster count must fall in the chosen flavor's legal
// range or the format aborts.
func (f *Formatter) Format(bd BlockDevice, blocksize, fsSizeInBlocks int, cfg FormatConfig) error {
	if bd == nil || blocksize < 512 || blocksize > maxSectorSize ||
		blocksize&(blocksize-1) != 0 || fsSizeInBlocks < 64 {
		return errInvalidParameter
	}
	if cfg.Format == 0 {
		switch {
		case fsSizeInBlocks >= 1<<20: // 512 MB at 512 B sectors
			cfg.Format = FormatFAT32
		case fsSizeInBlocks >= 1<<14:
			cfg.Format = FormatFAT16
		default:
			cfg.Format = FormatFAT12
		}
	}
	if cfg.ClusterSize == 0 {
		switch {
		case fsSizeInBlocks >= 1<<22:
			cfg.ClusterSize = 8
		case fsSizeInBlocks >= 1<<20:
			cfg.ClusterSize = 4
		default:
			cfg.ClusterSize = 1
		}
	}
	spc := cfg.ClusterSize
	if spc <= 0 || spc > 128 || spc&(spc-1) != 0 {
		return errInvalidParameter
	}
	if cfg.Label == "" {
		cfg.Label = "NO NAME"
	}
	if len(f.window) < blocksize {
		f.window = make([]byte, blocksize)
	}
	f.window = f.window[:blocksize]
	f.bd = bd

	ss := uint32(blocksize)
	total := uint32(fsSizeInBlocks)
	var (
		reserved    uint32
		rootEntries uint32
		rootSectors uint32
	)
	if cfg.Format == FormatFAT32 {
		reserved = 32
	} else {
		reserved = 1
		rootEntries = uint32(cfg.RootDirEntries)
		if rootEntries == 0 {
			rootEntries = 512
		}
		if rootEntries%(ss/sizeDirEntry) != 0 {
			return errInvalidParameter
		}
		rootSectors = rootEntries / (ss / sizeDirEntry)
	}
	const nFATs = 2

	// Iterate the mutually dependent FAT size and cluster count to a
	// fixed point.
	fatSize := uint32(1)
	var clusters uint32
	for i := 0; i < 8; i++ {
		sys := reserved + nFATs*fatSize + rootSectors
		if total <= sys {
			return errInvalidParameter
		}
		clusters = (total - sys) / uint32(spc)
		entries := clusters + 2
		var fatBytes uint32
		switch cfg.Format {
		case FormatFAT32:
			fatBytes = entries * 4
		case FormatFAT16:
			fatBytes = entries * 2
		default:
			fatBytes = entries*3/2 + entries&1
		}
		newSize := (fatBytes + ss - 1) / ss
		if newSize == fatSize {
			break
		}
		fatSize = newSize
	}
	// The flavor is implied by the cluster count on mount; refuse
	// geometries that would be detected as something else.
	switch cfg.Format {
	case FormatFAT12:
		if clusters > clustMaxFAT12 {
			return errInvalidParameter
		}
	case FormatFAT16:
		if clusters <= clustMaxFAT12 || clusters > clustMaxFAT16 {
			return errInvalidParameter
		}
	case FormatFAT32:
		if clusters <= clustMaxFAT16 || clusters > clustMaxFAT32 {
			return errInvalidParameter
		}
	}

	// Zero the system area: reserved sectors, FATs, fixed root or the
	// FAT32 root cluster.
	sysSectors := reserved + nFATs*fatSize + rootSectors
	if cfg.Format == FormatFAT32 {
		sysSectors += uint32(spc) // root directory cluster 2
	}
	clear(f.window)
	for s := uint32(0); s < sysSectors; s++ {
		if _, err := bd.WriteBlocks(f.window, int64(s)); err != nil {
			return errDiskIO
		}
	}

	// Boot sector.
	bs := bootsector{data: f.window}
	clear(f.window)
	copy(bs.data[bsJmpBoot:], []byte{0xEB, 0x3C, 0x90})
	bs.SetOEMName("openfat")
	bs.SetSectorSize(uint16(ss))
	bs.SetSectorsPerCluster(uint16(spc))
	bs.SetReservedSectors(uint16(reserved))
	bs.SetNumberOfFATs(nFATs)
	bs.data[bpbMedia] = 0xF8
	binary.LittleEndian.PutUint16(bs.data[bpbSecPerTrk:], 63)
	binary.LittleEndian.PutUint16(bs.data[bpbNumHeads:], 255)
	if total <= 0xFFFF && cfg.Format != FormatFAT32 {
		binary.LittleEndian.PutUint16(bs.data[bpbTotSec16:], uint16(total))
	} else {
		binary.LittleEndian.PutUint32(bs.data[bpbTotSec32:], total)
	}
	var typeLabel string
	switch cfg.Format {
	case FormatFAT32:
		typeLabel = "FAT32"
		binary.LittleEndian.PutUint32(bs.data[bpbFATSz32:], fatSize)
		bs.SetRootCluster(2)
		binary.LittleEndian.PutUint16(bs.data[bpbFSInfo32:], 1)
		binary.LittleEndian.PutUint16(bs.data[bpbBkBootSec32:], 6)
		bs.data[bsDrvNum32] = 0x80
		bs.data[bsBootSig32] = 0x29
		binary.LittleEndian.PutUint32(bs.data[bsVolID32:], cfg.VolumeSerialNumber)
		bs.setLabelAt(bsVolLab32, cfg.Label)
		bs.setLabelAt(bsFilSysType32, "FAT32   ")
	default:
		if cfg.Format == FormatFAT16 {
			typeLabel = "FAT16"
		} else {
			typeLabel = "FAT12"
		}
		binary.LittleEndian.PutUint16(bs.data[bpbFATSz16:], uint16(fatSize))
		bs.SetRootDirEntries(uint16(rootEntries))
		bs.data[bsDrvNum16] = 0x80
		bs.data[bsBootSig16] = 0x29
		binary.LittleEndian.PutUint32(bs.data[bsVolID16:], cfg.VolumeSerialNumber)
		bs.setLabelAt(bsVolLab16, cfg.Label)
		bs.setLabelAt(bsFilSysType16, typeLabel+"   ")
	}
	binary.LittleEndian.PutUint16(bs.data[bs55AA:], 0xAA55)
	if _, err := bd.WriteBlocks(f.window, 0); err != nil {
		return errDiskIO
	}
	if cfg.Format == FormatFAT32 {
		// Backup boot sector.
		if _, err := bd.WriteBlocks(f.window, 6); err != nil {
			return errDiskIO
		}
		// FSInfo and its backup.
		clear(f.window)
		fsi := fsinfoSector{data: f.window}
		fsi.SetSignatures(fsinfoLeadSignature, fsinfoStrucSignature, 0xAA55_0000)
		fsi.SetFreeClusterCount(clusters - 1) // root takes cluster 2
		fsi.SetLastAllocatedCluster(2)
		if _, err := bd.WriteBlocks(f.window, 1); err != nil {
			return errDiskIO
		}
		if _, err := bd.WriteBlocks(f.window, 7); err != nil {
			return errDiskIO
		}
	}

	// Seed both FATs: media descriptor entry, reserved EOC entry, and
	// for FAT32 the root directory chain.
	clear(f.window)
	switch cfg.Format {
	case FormatFAT32:
		binary.LittleEndian.PutUint32(f.window[0:], 0x0FFF_FFF8)
		binary.LittleEndian.PutUint32(f.window[4:], 0x0FFF_FFFF)
		binary.LittleEndian.PutUint32(f.window[8:], eoc32)
	case FormatFAT16:
		binary.LittleEndian.PutUint16(f.window[0:], 0xFFF8)
		binary.LittleEndian.PutUint16(f.window[2:], 0xFFFF)
	default:
		f.window[0] = 0xF8
		f.window[1] = 0xFF
		f.window[2] = 0xFF
	}
	for fatn := uint32(0); fatn < nFATs; fatn++ {
		if _, err := bd.WriteBlocks(f.window, int64(reserved+fatn*fatSize)); err != nil {
			return errDiskIO
		}
	}
	return nil
}

// DefaultFATByteBlocks returns a RAM block device of numBlocks 512-byte
// sectors holding a freshly formatted FAT volume.
func DefaultFATByteBlocks(numBlocks int) *BlockByteSlice {
	bd := DefaultByteBlocks(numBlocks)
	var formatter Formatter
	err := formatter.Format(bd, bd.BlockSize(), numBlocks, FormatConfig{})
	if err != nil {
		panic(err)
	}
	return bd
}

// bootsector decodes and builds the BPB of a FAT12/16/32 volume boot
// record.
type bootsector struct {
	data []byte
}

// SectorSize returns the size of a sector in bytes.
func (bs *bootsector) SectorSize() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bpbBytsPerSec:])
}

// SetSectorSize sets the size of a sector in bytes.
func (bs *bootsector) SetSectorSize(size uint16) {
	binary.LittleEndian.PutUint16(bs.data[bpbBytsPerSec:], size)
}

// SectorsPerFAT returns the number of sectors per File Allocation Table.
func (bs *bootsector) SectorsPerFAT() uint32 {
	fatsz := uint32(binary.LittleEndian.Uint16(bs.data[bpbFATSz16:]))
	if fatsz == 0 {
		fatsz = binary.LittleEndian.Uint32(bs.data[bpbFATSz32:])
	}
	return fatsz
}

// NumberOfFATs returns the number of File Allocation Tables. Should be 1 or 2.
func (bs *bootsector) NumberOfFATs() uint8 {
	return bs.data[bpbNumFATs]
}

// SetNumberOfFATs sets the number of FATs.
func (bs *bootsector) SetNumberOfFATs(nfats uint8) {
	bs.data[bpbNumFATs] = nfats
}

// SectorsPerCluster returns the number of sectors per cluster.
// Should be a power of 2 and not larger than 128.
func (bs *bootsector) SectorsPerCluster() uint16 {
	return uint16(bs.data[bpbSecPerClus])
}

// SetSectorsPerCluster sets the number of sectors per cluster. Should be power of 2.
func (bs *bootsector) SetSectorsPerCluster(spclus uint16) {
	bs.data[bpbSecPerClus] = byte(spclus)
}

// ReservedSectors returns the number of reserved sectors at the beginning
// of the volume. Should be at least 1.
func (bs *bootsector) ReservedSectors() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bpbRsvdSecCnt:])
}

// SetReservedSectors sets the number of reserved sectors at the beginning of the volume.
func (bs *bootsector) SetReservedSectors(rsvd uint16) {
	binary.LittleEndian.PutUint16(bs.data[bpbRsvdSecCnt:], rsvd)
}

// TotalSectors returns the total number of sectors in the volume that
// can be used by the filesystem.
func (bs *bootsector) TotalSectors() uint32 {
	totsec := uint32(binary.LittleEndian.Uint16(bs.data[bpbTotSec16:]))
	if totsec == 0 {
		totsec = binary.LittleEndian.Uint32(bs.data[bpbTotSec32:])
	}
	return totsec
}

// RootDirEntries returns the fixed root directory capacity in entries.
// Should be divisible by SectorSize/32.
func (bs *bootsector) RootDirEntries() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bpbRootEntCnt:])
}

// SetRootDirEntries sets the fixed root directory capacity in entries.
func (bs *bootsector) SetRootDirEntries(entries uint16) {
	binary.LittleEndian.PutUint16(bs.data[bpbRootEntCnt:], entries)
}

// RootCluster returns the first cluster of the FAT32 root directory.
func (bs *bootsector) RootCluster() uint32 {
	return binary.LittleEndian.Uint32(bs.data[bpbRootClus32:])
}

// SetRootCluster sets the first cluster of the FAT32 root directory.
func (bs *bootsector) SetRootCluster(cluster uint32) {
	binary.LittleEndian.PutUint32(bs.data[bpbRootClus32:], cluster)
}

// Version returns the FAT32 filesystem version, which must be 0.0.
func (bs *bootsector) Version() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bpbFSVer32:])
}

// FSInfo returns the sector number of the FS Information Sector.
// Expect 1 for FAT32.
func (bs *bootsector) FSInfo() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bpbFSInfo32:])
}

// OEMName returns the Original Equipment Manufacturer name at the start of the bootsector.
func (bs *bootsector) OEMName() [8]byte {
	var oemname [8]byte
	copy(oemname[:], bs.data[bsOEMName:])
	return oemname
}

// SetOEMName sets the Original Equipment Manufacturer name at the start
// of the bootsector. Will clip off any characters beyond the 8th.
func (bs *bootsector) SetOEMName(name string) {
	bs.setLabelAt(bsOEMName, name)
}

func (bs *bootsector) setLabelAt(off int, label string) {
	n := copy(bs.data[off:off+8], label)
	if off == bsVolLab16 || off == bsVolLab32 {
		n = copy(bs.data[off:off+11], label)
		for i := n; i < 11; i++ {
			bs.data[off+i] = ' '
		}
		return
	}
	for i := n; i < 8; i++ {
		bs.data[off+i] = ' '
	}
}

func (bs *bootsector) String() string {
	return string(bs.Appendf(nil, '\n'))
}

func (bs *bootsector) Appendf(dst []byte, separator byte) []byte {
	appendInt := func(name string, data uint32) {
		dst = append(dst, name...)
		dst = append(dst, ':')
		dst = strconv.AppendUint(dst, uint64(data), 10)
		dst = append(dst, separator)
	}
	oem := bs.OEMName()
	dst = append(dst, "OEM:"...)
	dst = append(dst, clipname(oem[:])...)
	dst = append(dst, separator)
	appendInt("SectorSize", uint32(bs.SectorSize()))
	appendInt("SectorsPerCluster", uint32(bs.SectorsPerCluster()))
	appendInt("ReservedSectors", uint32(bs.ReservedSectors()))
	appendInt("NumberOfFATs", uint32(bs.NumberOfFATs()))
	appendInt("RootDirEntries", uint32(bs.RootDirEntries()))
	appendInt("TotalSectors", bs.TotalSectors())
	appendInt("SectorsPerFAT", bs.SectorsPerFAT())
	appendInt("RootCluster", bs.RootCluster())
	return dst
}

// clipname trims trailing padding from a space-padded name field.
func clipname(b []byte) []byte {
	end := len(b)
	for end > 0 && (b[end-1] == ' ' || b[end-1] == 0) {
		end--
	}
	return b[:end]
}

// fsinfoSector is the FS Information Sector of FAT32 volumes.
type fsinfoSector struct {
	data []byte
}

// Signatures returns the 3 signatures at the beginning, middle and end of
// the sector. Expect 0x41615252, 0x61417272, 0xAA550000 respectively.
func (fsi *fsinfoSector) Signatures() (sigStart, sigMid, sigEnd uint32) {
	return binary.LittleEndian.Uint32(fsi.data[fsiLeadSig:]),
		binary.LittleEndian.Uint32(fsi.data[fsiStrucSig:]),
		binary.LittleEndian.Uint32(fsi.data[fsiTrailSig:])
}

// SetSignatures sets the 3 signatures at the beginning, middle and end of
// the sector. Valid values expected by most implementations:
//
//	fsi.SetSignatures(0x41615252, 0x61417272, 0xAA550000)
func (fsi *fsinfoSector) SetSignatures(sigStart, sigMid, sigEnd uint32) {
	binary.LittleEndian.PutUint32(fsi.data[fsiLeadSig:], sigStart)
	binary.LittleEndian.PutUint32(fsi.data[fsiStrucSig:], sigMid)
	binary.LittleEndian.PutUint32(fsi.data[fsiTrailSig:], sigEnd)
}

// FreeClusterCount is the last known number of free data clusters on the
// volume, or 0xFFFFFFFF if unknown. Must be sanity checked against the
// volume's cluster count before use.
func (fsi *fsinfoSector) FreeClusterCount() uint32 {
	return binary.LittleEndian.Uint32(fsi.data[fsiFree_Count:])
}

// SetFreeClusterCount sets the last known number of free data clusters on the volume.
func (fsi *fsinfoSector) SetFreeClusterCount(count uint32) {
	binary.LittleEndian.PutUint32(fsi.data[fsiFree_Count:], count)
}

// LastAllocatedCluster is the most recently allocated data cluster, or
// 0xFFFFFFFF if unknown, in which case allocation scans start at 2.
func (fsi *fsinfoSector) LastAllocatedCluster() uint32 {
	return binary.LittleEndian.Uint32(fsi.data[fsiNxt_Free:])
}

// SetLastAllocatedCluster sets the most recently allocated data cluster.
func (fsi *fsinfoSector) SetLastAllocatedCluster(cluster uint32) {
	binary.LittleEndian.PutUint32(fsi.data[fsiNxt_Free:], cluster)
}
