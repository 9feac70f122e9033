package fat

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func blocksFor(format Format) int {
	switch format {
	case FormatFAT12:
		return 2048
	case FormatFAT32:
		return 70000
	default:
		return 32768
	}
}

// newTestVolume formats a RAM device and mounts it as a Volume.
func newTestVolume(t testing.TB, format Format, cfg FormatConfig) (*Volume, *BlockByteSlice) {
	t.Helper()
	blocks := blocksFor(format)
	bd := DefaultByteBlocks(blocks)
	cfg.Format = format
	var formatter Formatter
	require.NoError(t, formatter.Format(bd, bd.BlockSize(), blocks, cfg))
	vol := &Volume{}
	require.NoError(t, vol.Begin(bd, bd.BlockSize(), 0))
	return vol, bd
}

func eachFormat(t *testing.T, fn func(t *testing.T, format Format)) {
	for _, tc := range []struct {
		name   string
		format Format
	}{
		{"FAT12", FormatFAT12},
		{"FAT16", FormatFAT16},
		{"FAT32", FormatFAT32},
	} {
		t.Run(tc.name, func(t *testing.T) { fn(t, tc.format) })
	}
}

func TestMountTypeDetection(t *testing.T) {
	vol, _ := newTestVolume(t, FormatFAT12, FormatConfig{})
	require.Equal(t, uint8(12), vol.Type())
	vol, _ = newTestVolume(t, FormatFAT16, FormatConfig{})
	require.Equal(t, uint8(16), vol.Type())
	vol, _ = newTestVolume(t, FormatFAT32, FormatConfig{})
	require.Equal(t, uint8(32), vol.Type())
}

// Create /A/B/C.TXT with parent creation, write and read back.
func TestCreateWriteReadNested(t *testing.T) {
	eachFormat(t, func(t *testing.T, format Format) {
		vol, _ := newTestVolume(t, format, FormatConfig{})
		require.NoError(t, vol.Mkdir("/A/B", true))

		var file File
		require.NoError(t, vol.Open(&file, "/A/B/C.TXT", OCreat|ORdWr))
		n, err := file.Write([]byte("hello"))
		require.NoError(t, err)
		require.Equal(t, 5, n)
		require.NoError(t, file.Close())

		require.NoError(t, vol.Open(&file, "/A/B/C.TXT", ORead))
		require.Equal(t, uint32(5), file.Size())
		require.NotZero(t, file.FirstCluster())
		got, err := io.ReadAll(&file)
		require.NoError(t, err)
		require.Equal(t, "hello", string(got))
		require.NoError(t, file.Close())
	})
}

func TestWriteReadRoundTripLarge(t *testing.T) {
	eachFormat(t, func(t *testing.T, format Format) {
		vol, _ := newTestVolume(t, format, FormatConfig{})
		data := make([]byte, 12345)
		for i := range data {
			data[i] = byte(i * 7)
		}
		var file File
		require.NoError(t, vol.Open(&file, "BIG.BIN", OCreat|ORdWr))
		n, err := file.Write(data)
		require.NoError(t, err)
		require.Equal(t, len(data), n)
		require.NoError(t, file.SeekSet(0))
		got := make([]byte, len(data))
		r, err := io.ReadFull(&file, got)
		require.NoError(t, err)
		require.Equal(t, len(data), r)
		require.Equal(t, data, got)
		require.NoError(t, file.Close())
	})
}

// Multi-sector bypass paths: cluster size 4 and bulk transfers larger
// than two sectors.
func TestMultiSectorTransfers(t *testing.T) {
	vol, _ := newTestVolume(t, FormatFAT16, FormatConfig{ClusterSize: 4})
	data := make([]byte, 5*4096+123)
	for i := range data {
		data[i] = byte(i ^ i>>8)
	}
	var file File
	require.NoError(t, vol.Open(&file, "BULK.BIN", OCreat|ORdWr))
	_, err := file.Write(data)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	require.NoError(t, vol.Open(&file, "BULK.BIN", ORead))
	got, err := io.ReadAll(&file)
	require.NoError(t, err)
	require.Equal(t, data, got)
	// Partial reads crossing sector and cluster boundaries agree with
	// the sequential image.
	for _, off := range []uint32{0, 1, 511, 512, 2047, 2048, 4096 + 17} {
		require.NoError(t, file.SeekSet(off))
		var b [3]byte
		_, err := io.ReadFull(&file, b[:])
		require.NoError(t, err)
		require.Equal(t, data[off:off+3], b[:])
	}
	require.NoError(t, file.Close())
}

// On a 1-sector-per-cluster volume, 1025 bytes occupy 3 clusters.
func TestAllocationCount1025(t *testing.T) {
	vol, _ := newTestVolume(t, FormatFAT12, FormatConfig{ClusterSize: 1})
	before, err := vol.FreeClusterCount()
	require.NoError(t, err)

	var file File
	require.NoError(t, vol.Open(&file, "K.BIN", OCreat|ORdWr))
	_, err = file.Write(make([]byte, 1025))
	require.NoError(t, err)
	require.NoError(t, file.Close())

	after, err := vol.FreeClusterCount()
	require.NoError(t, err)
	require.Equal(t, uint32(3), before-after)

	require.NoError(t, vol.Open(&file, "K.BIN", ORead))
	bgn, end, err := file.ContiguousRange()
	require.NoError(t, err)
	require.Equal(t, uint32(2), end-bgn)
	require.NoError(t, file.Close())
}

// preAllocate reserves a contiguous chain and the following write does
// not allocate.
func TestPreAllocate(t *testing.T) {
	vol, _ := newTestVolume(t, FormatFAT16, FormatConfig{ClusterSize: 1})
	var file File
	require.NoError(t, vol.Open(&file, "PREALLOC.BIN", OCreat|ORdWr))
	require.NoError(t, file.PreAllocate(8192))
	require.Equal(t, uint32(8192), file.Size())

	free, err := vol.FreeClusterCount()
	require.NoError(t, err)

	bgn, end, err := file.ContiguousRange()
	require.NoError(t, err)
	require.Equal(t, uint32(15), end-bgn) // 16 one-sector clusters

	_, err = file.Write(make([]byte, 8192))
	require.NoError(t, err)
	require.NoError(t, file.Close())

	after, err := vol.FreeClusterCount()
	require.NoError(t, err)
	require.Equal(t, free, after, "write within preallocation must not allocate")

	// A preallocated file cannot be preallocated again.
	require.NoError(t, vol.Open(&file, "PREALLOC.BIN", OWrite))
	require.Error(t, file.PreAllocate(512))
	file.Close()
}

// Writing up to a cluster boundary does not allocate; one byte past
// allocates exactly one cluster.
func TestClusterBoundaryAllocation(t *testing.T) {
	vol, _ := newTestVolume(t, FormatFAT16, FormatConfig{ClusterSize: 1})
	var file File
	require.NoError(t, vol.Open(&file, "EDGE.BIN", OCreat|ORdWr))
	_, err := file.Write(make([]byte, 512))
	require.NoError(t, err)
	require.NoError(t, file.Sync())
	free1, err := vol.FreeClusterCount()
	require.NoError(t, err)

	_, err = file.Write(make([]byte, 1))
	require.NoError(t, err)
	require.NoError(t, file.Sync())
	free2, err := vol.FreeClusterCount()
	require.NoError(t, err)
	require.Equal(t, uint32(1), free1-free2)
	require.NoError(t, file.Close())
}

func TestReadAtEOF(t *testing.T) {
	vol, _ := newTestVolume(t, FormatFAT16, FormatConfig{})
	var file File
	require.NoError(t, vol.Open(&file, "EOF.TXT", OCreat|ORdWr))
	_, err := file.Write([]byte("xy"))
	require.NoError(t, err)
	require.NoError(t, file.SeekSet(2))
	var b [4]byte
	n, err := file.Read(b[:])
	require.ErrorIs(t, err, io.EOF)
	require.Zero(t, n)
	require.Zero(t, file.GetError(), "EOF must not latch a read error")
	require.NoError(t, file.Close())
}

func TestSeekReadMatchesSequential(t *testing.T) {
	vol, _ := newTestVolume(t, FormatFAT16, FormatConfig{ClusterSize: 1})
	data := make([]byte, 3000)
	for i := range data {
		data[i] = byte(i * 13)
	}
	var file File
	require.NoError(t, vol.Open(&file, "SEEK.BIN", OCreat|ORdWr))
	_, err := file.Write(data)
	require.NoError(t, err)

	for _, p := range []uint32{0, 1, 511, 512, 513, 1024, 2999} {
		require.NoError(t, file.SeekSet(p))
		var b [1]byte
		_, err := file.Read(b[:])
		require.NoError(t, err)
		require.Equal(t, data[p], b[0], "offset %d", p)
	}
	// Backward seek after forward reads restarts the chain walk.
	require.NoError(t, file.SeekSet(2999))
	require.NoError(t, file.SeekSet(5))
	var b [1]byte
	_, err = file.Read(b[:])
	require.NoError(t, err)
	require.Equal(t, data[5], b[0])

	// Seeking past the size fails and leaves the position usable.
	require.Error(t, file.SeekSet(3001))
	require.NoError(t, file.SeekSet(7))
	_, err = file.Read(b[:])
	require.NoError(t, err)
	require.Equal(t, data[7], b[0])
	require.NoError(t, file.Close())
}

func TestPeek(t *testing.T) {
	vol, _ := newTestVolume(t, FormatFAT16, FormatConfig{})
	var file File
	require.NoError(t, vol.Open(&file, "PEEK.TXT", OCreat|ORdWr))
	_, err := file.Write([]byte("AB"))
	require.NoError(t, err)
	require.NoError(t, file.SeekSet(0))
	c, err := file.Peek()
	require.NoError(t, err)
	require.Equal(t, byte('A'), c)
	require.Equal(t, uint32(0), file.Position())
	var b [1]byte
	_, err = file.Read(b[:])
	require.NoError(t, err)
	require.Equal(t, byte('A'), b[0])
	require.NoError(t, file.Close())
}

func TestFgets(t *testing.T) {
	vol, _ := newTestVolume(t, FormatFAT16, FormatConfig{})
	var file File
	require.NoError(t, vol.Open(&file, "LINES.TXT", OCreat|ORdWr))
	_, err := file.Write([]byte("one\r\ntwo\nthree"))
	require.NoError(t, err)
	require.NoError(t, file.SeekSet(0))

	buf := make([]byte, 32)
	n, err := file.Fgets(buf, nil)
	require.NoError(t, err)
	require.Equal(t, "one\n", string(buf[:n]))
	n, err = file.Fgets(buf, nil)
	require.NoError(t, err)
	require.Equal(t, "two\n", string(buf[:n]))
	n, err = file.Fgets(buf, nil)
	require.NoError(t, err)
	require.Equal(t, "three", string(buf[:n]))
	n, err = file.Fgets(buf, nil)
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, file.Close())
}

func TestTruncate(t *testing.T) {
	eachFormat(t, func(t *testing.T, format Format) {
		vol, _ := newTestVolume(t, format, FormatConfig{})
		var file File
		require.NoError(t, vol.Open(&file, "TRUNC.BIN", OCreat|ORdWr))
		_, err := file.Write(make([]byte, 4000))
		require.NoError(t, err)
		require.NoError(t, file.SeekSet(100))
		require.NoError(t, file.Truncate())
		require.Equal(t, uint32(100), file.Size())
		require.NoError(t, file.Close())

		require.NoError(t, vol.Open(&file, "TRUNC.BIN", ORead))
		require.Equal(t, uint32(100), file.Size())
		require.NoError(t, file.Close())

		// Truncate to zero releases the whole chain.
		require.NoError(t, vol.Truncate("TRUNC.BIN", 0))
		require.NoError(t, vol.Open(&file, "TRUNC.BIN", ORead))
		require.Zero(t, file.Size())
		require.Zero(t, file.FirstCluster())
		require.NoError(t, file.Close())
	})
}

func TestTruncateFreesClusters(t *testing.T) {
	vol, _ := newTestVolume(t, FormatFAT16, FormatConfig{ClusterSize: 1})
	var file File
	require.NoError(t, vol.Open(&file, "T.BIN", OCreat|ORdWr))
	_, err := file.Write(make([]byte, 8*512))
	require.NoError(t, err)
	require.NoError(t, file.Sync())
	before, err := vol.FreeClusterCount()
	require.NoError(t, err)
	require.NoError(t, file.SeekSet(512))
	require.NoError(t, file.Truncate())
	after, err := vol.FreeClusterCount()
	require.NoError(t, err)
	require.Equal(t, uint32(7), after-before)
	require.NoError(t, file.Close())
}

func TestOpenExclusive(t *testing.T) {
	vol, _ := newTestVolume(t, FormatFAT16, FormatConfig{})
	var file File
	require.NoError(t, vol.Open(&file, "X.TXT", OCreat|OExcl|OWrite))
	require.NoError(t, file.Close())
	err := vol.Open(&file, "X.TXT", OCreat|OExcl|OWrite)
	require.ErrorIs(t, err, error(errExist))
}

func TestOpenTruncAndAtEnd(t *testing.T) {
	vol, _ := newTestVolume(t, FormatFAT16, FormatConfig{})
	var file File
	require.NoError(t, vol.Open(&file, "M.TXT", OCreat|ORdWr))
	_, err := file.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, file.Close())

	// OAtEnd opens positioned at the size.
	require.NoError(t, vol.Open(&file, "M.TXT", ORdWr|OAtEnd))
	require.Equal(t, uint32(10), file.Position())
	require.NoError(t, file.Close())

	// OTrunc drops the content.
	require.NoError(t, vol.Open(&file, "M.TXT", ORdWr|OTrunc))
	require.Zero(t, file.Size())
	require.NoError(t, file.Close())
	require.NoError(t, vol.Open(&file, "M.TXT", ORead))
	require.Zero(t, file.Size())
	require.Zero(t, file.FirstCluster())
	require.NoError(t, file.Close())
}

func TestAppendMode(t *testing.T) {
	vol, _ := newTestVolume(t, FormatFAT16, FormatConfig{})
	var file File
	require.NoError(t, vol.Open(&file, "APP.TXT", OCreat|OWrite))
	_, err := file.Write([]byte("aa"))
	require.NoError(t, err)
	require.NoError(t, file.Close())

	require.NoError(t, vol.Open(&file, "APP.TXT", OWrite|OAppend))
	_, err = file.Write([]byte("bb"))
	require.NoError(t, err)
	require.NoError(t, file.Close())

	require.NoError(t, vol.Open(&file, "APP.TXT", ORead))
	got, err := io.ReadAll(&file)
	require.NoError(t, err)
	require.Equal(t, "aabb", string(got))
	require.NoError(t, file.Close())
}

func TestWriteRequiresWriteFlag(t *testing.T) {
	vol, _ := newTestVolume(t, FormatFAT16, FormatConfig{})
	var file File
	require.NoError(t, vol.Open(&file, "RO.TXT", OCreat|ORdWr))
	require.NoError(t, file.Close())
	require.NoError(t, vol.Open(&file, "RO.TXT", ORead))
	_, err := file.Write([]byte("no"))
	require.Error(t, err)
	file.Close()
}

func TestDirtyEntrySyncedOnClose(t *testing.T) {
	vol, bd := newTestVolume(t, FormatFAT16, FormatConfig{})
	var file File
	require.NoError(t, vol.Open(&file, "SYNCED.TXT", OCreat|ORdWr))
	_, err := file.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, file.Close())

	// Remount from the raw device: the entry must be on disk.
	vol2 := &Volume{}
	require.NoError(t, vol2.Begin(bd, bd.BlockSize(), 0))
	var file2 File
	require.NoError(t, vol2.Open(&file2, "SYNCED.TXT", ORead))
	require.Equal(t, uint32(3), file2.Size())
	require.NoError(t, file2.Close())
}

func TestTimestamp(t *testing.T) {
	vol, _ := newTestVolume(t, FormatFAT16, FormatConfig{})
	var file File
	require.NoError(t, vol.Open(&file, "TS.TXT", OCreat|ORdWr))
	require.NoError(t, file.Timestamp(TWrite|TCreate|TAccess, 2017, 6, 5, 17, 32, 29))
	var de DirEntry
	require.NoError(t, file.DirEntry(&de))
	require.Equal(t, fsDate(2017, 6, 5), de.ModifyDate)
	require.Equal(t, fsTime(17, 32, 29), de.ModifyTime)
	require.Equal(t, fsDate(2017, 6, 5), de.CreateDate)
	require.Equal(t, fsDate(2017, 6, 5), de.AccessDate)
	require.Equal(t, byte(100), de.CreationTimeTenths) // odd second

	// Out-of-range fields are rejected.
	require.Error(t, file.Timestamp(TWrite, 1979, 1, 1, 0, 0, 0))
	require.Error(t, file.Timestamp(TWrite, 2017, 13, 1, 0, 0, 0))
	require.Error(t, file.Timestamp(TWrite, 2017, 1, 1, 24, 0, 0))
	require.NoError(t, file.Close())
}

func TestDateTimeCallbackStampsOnSync(t *testing.T) {
	SetDateTimeCallback(func() (uint16, uint16) {
		return fsDate(2020, 2, 29), fsTime(12, 30, 14)
	})
	defer SetDateTimeCallback(nil)

	vol, _ := newTestVolume(t, FormatFAT16, FormatConfig{})
	var file File
	require.NoError(t, vol.Open(&file, "CB.TXT", OCreat|ORdWr))
	_, err := file.Write([]byte("z"))
	require.NoError(t, err)
	require.NoError(t, file.Close())

	require.NoError(t, vol.Open(&file, "CB.TXT", ORead))
	var de DirEntry
	require.NoError(t, file.DirEntry(&de))
	require.Equal(t, fsDate(2020, 2, 29), de.ModifyDate)
	require.Equal(t, fsTime(12, 30, 14), de.ModifyTime)
	require.NoError(t, file.Close())
}

func TestReadDirSkipsDotAndDeleted(t *testing.T) {
	vol, _ := newTestVolume(t, FormatFAT16, FormatConfig{})
	require.NoError(t, vol.Mkdir("D", false))
	var dir, file File
	require.NoError(t, vol.Open(&file, "D/F1.TXT", OCreat|OWrite))
	require.NoError(t, file.Close())
	require.NoError(t, vol.Open(&file, "D/F2.TXT", OCreat|OWrite))
	require.NoError(t, file.Close())
	require.NoError(t, vol.Remove("D/F1.TXT"))

	require.NoError(t, vol.Open(&dir, "D", ORead))
	var de DirEntry
	n, err := dir.ReadDir(&de)
	require.NoError(t, err)
	require.Equal(t, sizeDirEntry, n)
	require.Equal(t, "F2      TXT", string(de.Name[:]))
	n, err = dir.ReadDir(&de)
	require.NoError(t, err)
	require.Zero(t, n, "end of directory")
	require.NoError(t, dir.Close())
}

func TestOpenNextIteration(t *testing.T) {
	vol, _ := newTestVolume(t, FormatFAT16, FormatConfig{})
	names := []string{"AA.TXT", "BB.TXT", "CC.TXT"}
	for _, n := range names {
		var f File
		require.NoError(t, vol.Open(&f, n, OCreat|OWrite))
		require.NoError(t, f.Close())
	}
	var root File
	require.NoError(t, root.OpenRoot(&vol.FS))
	var got []string
	for {
		var f File
		if err := f.OpenNext(&root, ORead); err != nil {
			break
		}
		var de DirEntry
		require.NoError(t, f.DirEntry(&de))
		got = append(got, sfnString(de.Name))
		require.NoError(t, f.Close())
	}
	require.Equal(t, names, got)
}

func TestRootFixedCapacity(t *testing.T) {
	// 16 root entries on FAT12: the 17th create must fail with a full
	// directory, not corrupt anything.
	vol, _ := newTestVolume(t, FormatFAT12, FormatConfig{RootDirEntries: 16})
	for i := 0; i < 16; i++ {
		var f File
		name := string([]byte{'A' + byte(i)}) + ".TXT"
		require.NoError(t, vol.Open(&f, name, OCreat|OWrite), "entry %d", i)
		require.NoError(t, f.Close())
	}
	var f File
	err := vol.Open(&f, "Q.BIN", OCreat|OWrite)
	require.ErrorIs(t, err, error(errDirFull))
}

func TestFAT32RootGrows(t *testing.T) {
	// More entries than one cluster holds forces root chain growth.
	vol, _ := newTestVolume(t, FormatFAT32, FormatConfig{ClusterSize: 1})
	const entries = 40 // > 16 slots per 512 B sector cluster
	for i := 0; i < entries; i++ {
		var f File
		name := "F" + itoa(i) + ".BIN"
		require.NoError(t, vol.Open(&f, name, OCreat|OWrite), "entry %d", i)
		require.NoError(t, f.Close())
	}
	// All entries enumerable through the grown chain.
	var root File
	require.NoError(t, root.OpenRoot(&vol.FS))
	count := 0
	require.NoError(t, root.ForEachFile(func(info *FileInfo) error {
		count++
		return nil
	}))
	require.Equal(t, entries, count)
}
