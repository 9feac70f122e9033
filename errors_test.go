package fat

import (
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
)

// faultDevice drives a MockBlockDevice that passes through to a real RAM
// image until failReads/failWrites is flipped.
type faultDevice struct {
	mock       *MockBlockDevice
	backing    *BlockByteSlice
	failReads  bool
	failWrites bool
}

var errInjected = errors.New("injected device fault")

func newFaultDevice(t *testing.T, backing *BlockByteSlice) *faultDevice {
	ctrl := gomock.NewController(t)
	fd := &faultDevice{mock: NewMockBlockDevice(ctrl), backing: backing}
	fd.mock.EXPECT().Mode().Return(accessmode(3)).AnyTimes()
	fd.mock.EXPECT().ReadBlocks(gomock.Any(), gomock.Any()).DoAndReturn(
		func(dst []byte, startBlock int64) (int, error) {
			if fd.failReads {
				return 0, errInjected
			}
			return backing.ReadBlocks(dst, startBlock)
		}).AnyTimes()
	fd.mock.EXPECT().WriteBlocks(gomock.Any(), gomock.Any()).DoAndReturn(
		func(data []byte, startBlock int64) (int, error) {
			if fd.failWrites {
				return 0, errInjected
			}
			return backing.WriteBlocks(data, startBlock)
		}).AnyTimes()
	fd.mock.EXPECT().EraseBlocks(gomock.Any(), gomock.Any()).DoAndReturn(
		backing.EraseBlocks).AnyTimes()
	return fd
}

func TestReadErrorLatches(t *testing.T) {
	blocks := blocksFor(FormatFAT16)
	backing := DefaultByteBlocks(blocks)
	var formatter Formatter
	require.NoError(t, formatter.Format(backing, 512, blocks, FormatConfig{Format: FormatFAT16}))
	fd := newFaultDevice(t, backing)

	vol := &Volume{}
	require.NoError(t, vol.Begin(fd.mock, 512, 0))
	var f File
	require.NoError(t, vol.Open(&f, "R.BIN", OCreat|ORdWr))
	_, err := f.Write(make([]byte, 2000))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.SeekSet(0))

	fd.failReads = true
	buf := make([]byte, 2000)
	_, err = f.read(buf)
	require.Error(t, err)
	require.NotZero(t, f.GetError()&ReadError, "read failure must latch ReadError")

	// The error bit is sticky until cleared.
	fd.failReads = false
	f.ClearError()
	require.NoError(t, f.SeekSet(0))
	n, err := f.read(buf)
	require.NoError(t, err)
	require.Equal(t, 2000, n)
	require.Zero(t, f.GetError())
}

func TestWriteErrorLatches(t *testing.T) {
	blocks := blocksFor(FormatFAT16)
	backing := DefaultByteBlocks(blocks)
	var formatter Formatter
	require.NoError(t, formatter.Format(backing, 512, blocks, FormatConfig{Format: FormatFAT16}))
	fd := newFaultDevice(t, backing)

	vol := &Volume{}
	require.NoError(t, vol.Begin(fd.mock, 512, 0))
	var f File
	require.NoError(t, vol.Open(&f, "W.BIN", OCreat|ORdWr))

	fd.failWrites = true
	// Allocating the first cluster fetches a FAT sector, which flushes the
	// dirty directory sector to the failing device.
	_, err := f.Write(make([]byte, 4*512))
	require.Error(t, err)
	require.NotZero(t, f.GetError()&WriteError)

	// Sync retries the flush once the device recovers.
	fd.failWrites = false
	f.ClearError()
	require.NoError(t, f.Sync())
}

func TestMountDeviceError(t *testing.T) {
	backing := DefaultByteBlocks(256)
	fd := newFaultDevice(t, backing)
	fd.failReads = true
	var fsys FS
	require.Error(t, fsys.Mount(fd.mock, 512, ModeRW))
}

func TestUsageErrors(t *testing.T) {
	vol, _ := newTestVolume(t, FormatFAT16, FormatConfig{})
	var closed File
	require.ErrorIs(t, closed.SeekSet(0), error(errNotOpen))
	_, err := closed.read(make([]byte, 1))
	require.Error(t, err)

	var f File
	require.NoError(t, vol.Open(&f, "U.TXT", OCreat|ORdWr))
	// Opening an already-open handle is rejected.
	require.ErrorIs(t, vol.Open(&f, "U.TXT", ORead), error(errIsOpen))
	// File ops on a non-directory.
	var sub File
	require.ErrorIs(t, sub.Open(&f, "X", ORead), error(errNotDir))
	require.ErrorIs(t, f.Rmdir(), error(errNotDir))
	// Directory ops on a directory handle.
	var root File
	require.NoError(t, root.OpenRoot(&vol.FS))
	require.ErrorIs(t, root.Remove(), error(errNotFile))
	_, wErr := root.Write([]byte("x"))
	require.Error(t, wErr)
	require.NoError(t, f.Close())

	// Timestamps outside the representable range.
	require.NoError(t, vol.Open(&f, "U.TXT", ORdWr))
	require.ErrorIs(t, f.Timestamp(TWrite, 2108, 1, 1, 0, 0, 0), error(errInvalidTimestamp))
	require.NoError(t, f.Close())
}

func TestCrossVolumeRenameRejected(t *testing.T) {
	volA, _ := newTestVolume(t, FormatFAT16, FormatConfig{})
	volB, _ := newTestVolume(t, FormatFAT16, FormatConfig{})
	var f File
	require.NoError(t, volA.Open(&f, "A.TXT", OCreat|ORdWr))
	require.NoError(t, f.Close())
	require.NoError(t, volA.Open(&f, "A.TXT", ORead))
	var rootB File
	require.NoError(t, rootB.OpenRoot(&volB.FS))
	require.ErrorIs(t, f.Rename(&rootB, "B.TXT"), error(errCrossVolume))
	f.Close()
}
