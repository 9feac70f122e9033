package fat

// Boot sector (BPB) byte offsets. All multi-byte fields are little-endian.
const (
	bsJmpBoot      = 0
	bsOEMName      = 3
	bpbBytsPerSec  = 11
	bpbSecPerClus  = 13
	bpbRsvdSecCnt  = 14
	bpbNumFATs     = 16
	bpbRootEntCnt  = 17
	bpbTotSec16    = 19
	bpbMedia       = 21
	bpbFATSz16     = 22
	bpbSecPerTrk   = 24
	bpbNumHeads    = 26
	bpbHiddSec     = 28
	bpbTotSec32    = 32
	bpbFATSz32     = 36
	bpbExtFlags32  = 40
	bpbFSVer32     = 42
	bpbRootClus32  = 44
	bpbFSInfo32    = 48
	bpbBkBootSec32 = 50
	bsDrvNum16     = 36
	bsBootSig16    = 38
	bsVolID16      = 39
	bsVolLab16     = 43
	bsFilSysType16 = 54
	bsDrvNum32     = 64
	bsBootSig32    = 66
	bsVolID32      = 67
	bsVolLab32     = 71
	bsFilSysType32 = 82
	bsBootCode32   = 90
	bs55AA         = 510
)

// FSInfo sector offsets (FAT32 only).
const (
	fsiLeadSig    = 0
	fsiStrucSig   = 484
	fsiFree_Count = 488
	fsiNxt_Free   = 492
	fsiTrailSig   = 508

	fsinfoLeadSignature  = 0x41615252
	fsinfoStrucSignature = 0x61417272
)

// Directory entry byte offsets within a 32-byte slot.
const (
	dirNameOff       = 0
	dirAttrOff       = 11
	dirNTResOff      = 12
	dirCrtTime10Off  = 13
	dirCrtTimeOff    = 14
	dirCrtDateOff    = 16
	dirLstAccDateOff = 18
	dirFstClusHIOff  = 20
	dirModTimeOff    = 22
	dirModDateOff    = 24
	dirFstClusLOOff  = 26
	dirFileSizeOff   = 28
)

// Long directory entry byte offsets. Shares the 32-byte slot layout.
const (
	ldirOrdOff        = 0
	ldirName1Off      = 1 // 5 UTF-16 units
	ldirAttrOff       = 11
	ldirTypeOff       = 12
	ldirChksumOff     = 13
	ldirName2Off      = 14 // 6 UTF-16 units
	ldirFstClusLO_Off = 26
	ldirName3Off      = 28 // 2 UTF-16 units

	ldirOrdLastMask = 0x40 // marks the last (highest ordinal) entry of a sequence
	ldirOrdSeqMask  = 0x1F

	// UTF-16 code units carried by one long entry.
	lfnSlotChars = 5 + 6 + 2
	// A name may span at most 20 slots (255 chars).
	lfnMaxSlots = 20
	lfnMaxChars = 255
)

// Directory entry name[0] markers.
const (
	dirNameFree    = 0x00 // this and all following slots are unused
	dirNameDeleted = 0xE5
	dirNameKanjiE5 = 0x05 // stored in place of a real leading 0xE5
)

const sizeDirEntry = 32

// On-disk attribute bits.
const (
	amRDO = 0x01
	amHID = 0x02
	amSYS = 0x04
	amVOL = 0x08
	amDIR = 0x10
	amARC = 0x20
	amLFN = amRDO | amHID | amSYS | amVOL
)

// Cluster count boundaries separating the FAT flavors, per the Microsoft
// specification: a volume's type is determined only by its cluster count.
const (
	clustMaxFAT12 = 4084
	clustMaxFAT16 = 65524
	clustMaxFAT32 = 0x0FFFFFF4
)

const (
	mask28bits = 0x0FFF_FFFF

	// End-of-chain sentinels written by fatPutEOC.
	eoc12 = 0xFFF
	eoc16 = 0xFFFF
	eoc32 = 0x0FFF_FFFF

	// Values at or above these mark end of chain when read.
	eocMin12 = 0xFF8
	eocMin16 = 0xFFF8
	eocMin32 = 0x0FFF_FFF8
)

// badLBA is an impossible sector address used to invalidate the cache line.
const badLBA = ^lba(0)

// Directories are limited to 4095 sectors of 512 bytes (65520 entries
// shy of 16) regardless of sector size, matching the historic FAT limit.
const maxDirBytes = 512 * 4095

const maxSectorSize = 4096
