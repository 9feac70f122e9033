package fat

import (
	"errors"
	"math/bits"
)

type accessmode = uint8

const (
	deviceaccessRead  accessmode = 0b01
	deviceaccessWrite accessmode = 0b10
)

// BlockDevice is the raw sector transport under a volume: an SD card, a
// flash translation layer, a disk image in memory. Reads and writes move
// whole sectors; len(dst)/len(data) must be a multiple of the block size.
type BlockDevice interface {
	ReadBlocks(dst []byte, startBlock int64) (int, error)
	WriteBlocks(data []byte, startBlock int64) (int, error)
	EraseBlocks(startBlock, numBlocks int64) error
	// Mode returns 0 for no connection/prohibited access, 1 for read-only, 3 for read-write.
	Mode() accessmode
}

// sector index type.
type lba uint32

// blkIdxer is a helper for calculating block indexes and offsets.
type blkIdxer struct {
	blockshift int64
	blockmask  int64
}

func makeBlockIndexer(blockSize int) (blkIdxer, error) {
	if blockSize <= 0 {
		return blkIdxer{}, errors.New("blockSize must be positive and non-zero")
	}
	tz := bits.TrailingZeros(uint(blockSize))
	if blockSize>>tz != 1 {
		return blkIdxer{}, errors.New("blockSize must be a power of 2")
	}
	blk := blkIdxer{
		blockshift: int64(tz),
		blockmask:  (1 << tz) - 1,
	}
	return blk, nil
}

// size returns the size of a block in bytes.
func (blk *blkIdxer) size() int64 {
	return 1 << blk.blockshift
}

// off gets the offset of the byte at byteIdx from the start of its block.
//
//go:inline
func (blk *blkIdxer) off(byteIdx int64) int64 {
	return byteIdx & blk.blockmask
}

// idx gets the block index that contains the byte at byteIdx.
//
//go:inline
func (blk *blkIdxer) idx(byteIdx int64) int64 {
	return byteIdx >> blk.blockshift
}

// BlockByteSlice is a BlockDevice backed by a byte slice in RAM. It is the
// simplest way to exercise the filesystem without hardware and doubles as
// the disk-image editor for tests.
type BlockByteSlice struct {
	blk blkIdxer
	buf []byte
}

// NewBlockByteSlice wraps buf as a BlockDevice with the given block size.
func NewBlockByteSlice(buf []byte, blockSize int) (*BlockByteSlice, error) {
	blk, err := makeBlockIndexer(blockSize)
	if err != nil {
		return nil, err
	}
	if len(buf)%blockSize != 0 {
		return nil, errors.New("buffer not a multiple of block size")
	}
	return &BlockByteSlice{blk: blk, buf: buf}, nil
}

// DefaultByteBlocks returns a zeroed RAM block device of numBlocks
// 512-byte sectors.
func DefaultByteBlocks(numBlocks int) *BlockByteSlice {
	const defaultBlockSize = 512
	blk, _ := makeBlockIndexer(defaultBlockSize)
	return &BlockByteSlice{
		blk: blk,
		buf: make([]byte, defaultBlockSize*numBlocks),
	}
}

func (b *BlockByteSlice) BlockSize() int { return int(b.blk.size()) }

// Size returns the size of the device in bytes.
func (b *BlockByteSlice) Size() int64 { return int64(len(b.buf)) }

func (b *BlockByteSlice) ReadBlocks(dst []byte, startBlock int64) (int, error) {
	if b.blk.off(int64(len(dst))) != 0 {
		return 0, errors.New("dst size not multiple of block size")
	} else if startBlock < 0 {
		return 0, errors.New("invalid startBlock")
	}
	off := startBlock * b.blk.size()
	end := off + int64(len(dst))
	if end > int64(len(b.buf)) {
		return 0, errors.New("read past end of device")
	}
	return copy(dst, b.buf[off:end]), nil
}

func (b *BlockByteSlice) WriteBlocks(data []byte, startBlock int64) (int, error) {
	if b.blk.off(int64(len(data))) != 0 {
		return 0, errors.New("data size not multiple of block size")
	} else if startBlock < 0 {
		return 0, errors.New("invalid startBlock")
	}
	off := startBlock * b.blk.size()
	end := off + int64(len(data))
	if end > int64(len(b.buf)) {
		return 0, errors.New("write past end of device")
	}
	return copy(b.buf[off:end], data), nil
}

func (b *BlockByteSlice) EraseBlocks(startBlock, numBlocks int64) error {
	if startBlock < 0 || numBlocks <= 0 {
		return errors.New("invalid erase parameters")
	}
	start := startBlock * b.blk.size()
	end := start + numBlocks*b.blk.size()
	if end > int64(len(b.buf)) {
		return errors.New("erase past end of device")
	}
	clear(b.buf[start:end])
	return nil
}

// Mode returns 0 for no connection/prohibited access, 1 for read-only, 3 for read-write.
func (b *BlockByteSlice) Mode() accessmode {
	return deviceaccessRead | deviceaccessWrite
}
