// Package gpt parses the GUID Partition Table structures needed to locate
// a FAT basic-data partition behind a protective MBR.
package gpt

import (
	"encoding/binary"
	"errors"

	"github.com/openfat/fat/internal/utf16x"
)

const (
	headerLen    = 92
	entryMinLen  = 128
	pteNameOff   = 56
	pteNameUnits = 36 // UTF-16 code units

	// "EFI PART" in little-endian.
	signature = 0x5452415020494645
)

// guidBasicData is the Microsoft basic data partition type GUID
// (EBD0A0A2-B9E5-4433-87C0-68B6B72699C7) in its on-disk mixed-endian form.
var guidBasicData = [16]byte{
	0xA2, 0xA0, 0xD0, 0xEB, 0xE5, 0xB9, 0x33, 0x44,
	0x87, 0xC0, 0x68, 0xB6, 0xB7, 0x26, 0x99, 0xC7,
}

// Header is the GPT header found at LBA 1.
type Header struct {
	data []byte
}

// ToHeader validates the signature of the sector at LBA 1 and wraps it.
func ToHeader(start []byte) (Header, error) {
	if len(start) < headerLen {
		return Header{}, errors.New("gpt header too short")
	}
	h := Header{data: start[:headerLen:headerLen]}
	if binary.LittleEndian.Uint64(h.data[0:8]) != signature {
		return Header{}, errors.New("bad gpt signature")
	}
	return h, nil
}

// PartitionEntriesStartLBA returns the first LBA of the partition entry
// array, usually 2.
func (h *Header) PartitionEntriesStartLBA() int64 {
	return int64(binary.LittleEndian.Uint64(h.data[72:80]))
}

// NumberOfPartitionEntries returns the entry count of the partition array.
func (h *Header) NumberOfPartitionEntries() uint32 {
	return binary.LittleEndian.Uint32(h.data[80:84])
}

// PartitionEntrySize returns the size in bytes of one partition entry,
// usually 128.
func (h *Header) PartitionEntrySize() uint32 {
	return binary.LittleEndian.Uint32(h.data[84:88])
}

// PartitionEntry is a single slot of the GPT partition array.
type PartitionEntry struct {
	data []byte
}

func ToPartitionEntry(start []byte) (PartitionEntry, error) {
	if len(start) < entryMinLen {
		return PartitionEntry{}, errors.New("gpt partition entry too short")
	}
	return PartitionEntry{data: start[:entryMinLen:entryMinLen]}, nil
}

// PartitionType is the partition type GUID in on-disk byte order.
type PartitionType [16]byte

// IsUnused reports the all-zero type GUID.
func (t PartitionType) IsUnused() bool { return t == PartitionType{} }

// IsBasicData reports the Microsoft basic data type used by FAT and NTFS
// filesystems on GPT disks.
func (t PartitionType) IsBasicData() bool { return t == PartitionType(guidBasicData) }

// Type returns the partition type GUID.
func (p *PartitionEntry) Type() (t PartitionType) {
	copy(t[:], p.data[0:16])
	return t
}

// SetType sets the partition type GUID. BasicDataType yields a FAT/NTFS
// data partition.
func (p *PartitionEntry) SetType(t PartitionType) {
	copy(p.data[0:16], t[:])
}

// BasicDataType returns the Microsoft basic data partition type GUID.
func BasicDataType() PartitionType { return PartitionType(guidBasicData) }

// FirstLBA returns the first LBA of the partition.
func (p *PartitionEntry) FirstLBA() int64 {
	return int64(binary.LittleEndian.Uint64(p.data[32:40]))
}

// SetFirstLBA sets the first LBA of the partition.
func (p *PartitionEntry) SetFirstLBA(lba int64) {
	binary.LittleEndian.PutUint64(p.data[32:40], uint64(lba))
}

// LastLBA returns the last LBA of the partition (inclusive).
func (p *PartitionEntry) LastLBA() int64 {
	return int64(binary.LittleEndian.Uint64(p.data[40:48]))
}

// SetLastLBA sets the last LBA of the partition (inclusive).
func (p *PartitionEntry) SetLastLBA(lba int64) {
	binary.LittleEndian.PutUint64(p.data[40:48], uint64(lba))
}

// Name decodes the partition's UTF-16 name.
func (p *PartitionEntry) Name() (string, error) {
	units := make([]uint16, 0, pteNameUnits)
	for i := 0; i < pteNameUnits; i++ {
		u := binary.LittleEndian.Uint16(p.data[pteNameOff+2*i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	b, err := utf16x.AppendUTF8(nil, units)
	return string(b), err
}

// SetName stores name as the partition's UTF-16 name, truncated to fit.
func (p *PartitionEntry) SetName(name string) error {
	units, err := utf16x.AppendUnits(nil, name)
	if err != nil {
		return err
	}
	if len(units) > pteNameUnits {
		units = units[:pteNameUnits]
	}
	for i := 0; i < pteNameUnits; i++ {
		var u uint16
		if i < len(units) {
			u = units[i]
		}
		binary.LittleEndian.PutUint16(p.data[pteNameOff+2*i:], u)
	}
	return nil
}
