package fat

// Mode represents the device access mode used in Mount.
type Mode uint8

const (
	ModeRead  Mode = Mode(deviceaccessRead)
	ModeWrite Mode = Mode(deviceaccessWrite)
	ModeRW    Mode = ModeRead | ModeWrite
)

// OFlag is the bitset of open flags accepted by the Open family.
// ORead, OWrite, OAppend and OSync persist on the open File; the rest
// only steer the open itself.
type OFlag uint16

const (
	ORead OFlag = 1 << iota
	OWrite
	OAppend
	OSync
	OTrunc
	OAtEnd
	OCreat
	OExcl

	ORdWr = ORead | OWrite
)

// oflagStored are the flags kept in File.flags after open.
const oflagStored = ORead | OWrite | OAppend | OSync

// flagDirDirty marks the in-memory firstCluster/fileSize as ahead of the
// on-disk directory entry; cleared by sync.
const flagDirDirty uint8 = 0x80

// File attribute bits. Exactly one of closed/file/subdir/rootFixed/root32
// is set on a usable handle; the low bits mirror the on-disk attributes.
const (
	attrClosed    uint8 = 0
	attrReadOnly  uint8 = amRDO
	attrHidden    uint8 = amHID
	attrSystem    uint8 = amSYS
	attrFile      uint8 = 0x08 // in-memory only, never stored to disk
	attrSubdir    uint8 = amDIR
	attrRootFixed uint8 = 0x20
	attrRoot32    uint8 = 0x40

	attrCopyMask = amRDO | amHID | amSYS | amDIR
	attrRootMask = attrRootFixed | attrRoot32
	attrDirMask  = attrSubdir | attrRootFixed | attrRoot32
)

// Timestamp field selectors for File.Timestamp.
const (
	TAccess uint8 = 1 << iota
	TCreate
	TWrite
)

// Ls output flags.
const (
	// LsDate prints the modification date.
	LsDate uint8 = 1 << iota
	// LsSize prints the file size.
	LsSize
	// LsR lists subdirectories recursively.
	LsR
)
