package fat

import (
	"testing"
)

// FuzzVolumeOps drives a Volume with a sequence of 64-bit operations,
// similar in spirit to a virtual machine. Each op selects an action, a
// target name from a small pool, and a transfer size.
//
//   - OP:       first 4 bits, the operation to perform.
//   - WHO:      next 4 bits, target name index.
//   - RESERVED: middle bits.
//   - DATASIZE: last 16 bits, read/write size where applicable.
func FuzzVolumeOps(f *testing.F) {
	const (
		opMkdir uint64 = iota
		opCreate
		opOpen
		opRead
		opWrite
		opClose
		opRemove
		opRename
		opTruncate
		opLast

		whoOff      = 4
		datasizeOff = 48
	)
	f.Add(opCreate, opWrite|1000<<datasizeOff, opClose, opOpen, opRead|1000<<datasizeOff, opClose)
	f.Add(opMkdir, opCreate|1<<whoOff, opWrite|1<<whoOff|600<<datasizeOff, opRemove|1<<whoOff, opClose|1<<whoOff, opClose)
	f.Add(opCreate, opTruncate, opRename, opClose, opRemove|2<<whoOff, opMkdir)

	f.Fuzz(func(t *testing.T, op0, op1, op2, op3, op4, op5 uint64) {
		ops := [...]uint64{op0, op1, op2, op3, op4, op5}
		const blocks = 2048
		bd := DefaultByteBlocks(blocks)
		var formatter Formatter
		if err := formatter.Format(bd, 512, blocks, FormatConfig{Format: FormatFAT12}); err != nil {
			t.Fatal(err)
		}
		vol := &Volume{}
		if err := vol.Begin(bd, 512, 0); err != nil {
			t.Fatal(err)
		}
		names := []string{"A.BIN", "B.BIN", "sub/C.BIN", "longer_name_d.bin"}
		files := make([]File, len(names))
		writeData := make([]byte, 1<<16)
		for i := range writeData {
			writeData[i] = byte(i)
		}
		readData := make([]byte, 1<<16)

		for _, op := range ops {
			who := int(op>>whoOff) & 0xF % len(names)
			size := int(op>>datasizeOff) & 0xFFFF
			file := &files[who]
			switch op & 0xF % opLast {
			case opMkdir:
				vol.Mkdir("sub", false)
			case opCreate:
				if !file.IsOpen() {
					vol.Open(file, names[who], OCreat|ORdWr)
				}
			case opOpen:
				if !file.IsOpen() {
					vol.Open(file, names[who], ORead)
				}
			case opRead:
				if file.IsOpen() {
					file.read(readData[:size])
				}
			case opWrite:
				if file.IsOpen() {
					file.Write(writeData[:size])
				}
			case opClose:
				file.Close()
			case opRemove:
				if file.IsOpen() {
					file.flags |= uint8(OWrite)
					file.Remove()
				} else {
					vol.Remove(names[who])
				}
			case opRename:
				if !file.IsOpen() {
					vol.Rename(names[who], "RENAMED.BIN")
					vol.Rename("RENAMED.BIN", names[who])
				}
			case opTruncate:
				if file.IsOpen() {
					file.Truncate()
				}
			}
			// Handles must keep their core invariants through any
			// sequence of operations.
			for i := range files {
				fp := &files[i]
				if !fp.IsOpen() {
					continue
				}
				if fp.isFile() && fp.Position() > fp.Size() {
					t.Fatalf("position %d beyond size %d", fp.Position(), fp.Size())
				}
				if fp.Position() == 0 && fp.curCluster != 0 {
					t.Fatal("curCluster must be 0 at position 0")
				}
			}
		}
		for i := range files {
			files[i].Close()
		}
	})
}
