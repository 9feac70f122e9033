/*
package mbr implements a Master Boot Record parser and writer.
*/
package mbr

import (
	"encoding/binary"
	"errors"
)

const (
	bootstrapLen     = 440
	uniqueDiskIDOff  = bootstrapLen
	uniqueDiskIDLen  = 4
	reservedLen      = 2
	pteOffset        = bootstrapLen + uniqueDiskIDLen + reservedLen
	pteLen           = 16 // partition table entry length
	bootSignatureOff = 510
	BootSignature    = 0xAA55
)

// ToBootSector converts a byte slice to an MBR BootSector while maintaining
// a reference to the original byte slice. The byte slice must be at least
// 512 bytes long and start with the first byte of the MBR.
func ToBootSector(start []byte) (BootSector, error) {
	if len(start) < 512 {
		return BootSector{}, errors.New("boot sector too short")
	}
	return BootSector{data: start[:512:512]}, nil
}

// BootSector is a Master Boot Record: bootstrap code, four partition table
// entries and a boot signature.
type BootSector struct {
	data []byte
}

// BootSignature returns the magic number marking a valid MBR.
func (bs *BootSector) BootSignature() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bootSignatureOff:])
}

// SetBootSignature stamps the 0xAA55 magic.
func (bs *BootSector) SetBootSignature() {
	binary.LittleEndian.PutUint16(bs.data[bootSignatureOff:], BootSignature)
}

// PartitionTable returns the idx'th (0-based) partition table entry.
func (bs *BootSector) PartitionTable(idx int) PartitionTableEntry {
	if idx < 0 || idx > 3 {
		panic("invalid partition table index")
	}
	return PartitionTableEntry{
		data: [pteLen]byte(bs.data[pteOffset+idx*pteLen : pteOffset+(idx+1)*pteLen]),
	}
}

// SetPartitionTable sets the idx'th (0-based) partition table entry.
func (bs *BootSector) SetPartitionTable(idx int, pte PartitionTableEntry) {
	if idx < 0 || idx > 3 {
		panic("invalid partition table index")
	}
	copy(bs.data[pteOffset+idx*pteLen:pteOffset+(idx+1)*pteLen], pte.data[:])
}

// PartitionTableEntry is one of the four MBR slots describing a
// partition's type, location and size.
// See https://en.wikipedia.org/wiki/Master_boot_record#PTE.
type PartitionTableEntry struct {
	data [pteLen]byte
}

// MakePTE creates a partition table entry addressing [startLBA, startLBA+numLBA).
// The CHS fields are stamped with the conventional LBA-only fillers.
func MakePTE(Type PartitionType, startLBA, numLBA uint32) PartitionTableEntry {
	pte := PartitionTableEntry{}
	pte.data[4] = byte(Type)
	binary.LittleEndian.PutUint32(pte.data[8:12], startLBA)
	binary.LittleEndian.PutUint32(pte.data[12:16], numLBA)
	pte.data[1], pte.data[2], pte.data[3] = 0xFE, 0xFF, 0xFF
	pte.data[5], pte.data[6], pte.data[7] = 0xFE, 0xFF, 0xFF
	return pte
}

// PartitionType returns the filesystem type hint carried by the entry.
func (pte PartitionTableEntry) PartitionType() PartitionType {
	return PartitionType(pte.data[4])
}

// StartLBA returns the starting sector of the partition in LBA form.
func (pte PartitionTableEntry) StartLBA() uint32 {
	return binary.LittleEndian.Uint32(pte.data[8:12])
}

// NumberOfLBA returns the number of sectors in the partition.
func (pte PartitionTableEntry) NumberOfLBA() uint32 {
	return binary.LittleEndian.Uint32(pte.data[12:16])
}

// PartitionType refers to the type of partition the Partition Table Entry
// refers to.
type PartitionType byte

const (
	PartitionTypeUnused        PartitionType = 0x00
	PartitionTypeFAT12         PartitionType = 0x01
	PartitionTypeFAT16         PartitionType = 0x06
	PartitionTypeNTFS          PartitionType = 0x07 // Also includes exFAT.
	PartitionTypeFAT32CHS      PartitionType = 0x0B
	PartitionTypeFAT32LBA      PartitionType = 0x0C
	PartitionTypeGPTProtective PartitionType = 0xEE
)
