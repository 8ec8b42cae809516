package file_test

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/dvdphobia/unix-v6-sub000/alloctbl"
	"github.com/dvdphobia/unix-v6-sub000/bcache"
	"github.com/dvdphobia/unix-v6-sub000/common"
	"github.com/dvdphobia/unix-v6-sub000/device"
	"github.com/dvdphobia/unix-v6-sub000/file"
	"github.com/dvdphobia/unix-v6-sub000/inode"
	"github.com/dvdphobia/unix-v6-sub000/sched"
	"github.com/dvdphobia/unix-v6-sub000/super"
	"github.com/dvdphobia/unix-v6-sub000/testutils"
)

var rdev = common.MakeDev(device.RAMDISK_MAJOR, 0)

type mounts map[common.Dev]*super.Super

func (m mounts) Getfs(dev common.Dev) *super.Super {
	sp := m[dev]
	if sp == nil {
		panic(fmt.Sprintf("no fs on dev %s", dev))
	}
	return sp
}

func (m mounts) Mounted(ip *inode.Inode) (common.Dev, bool) {
	return common.NO_DEV, false
}

type kernel struct {
	cpu    *sched.CPU
	cache  *bcache.Cache
	alloc  *alloctbl.Tbl
	inodes *inode.Table
	mover  *file.Mover
	out    *bytes.Buffer
}

// openVolume mounts a fresh 1000-block volume, with a console reading from
// input. The caller is left inside the kernel.
func openVolume(test *testing.T, input string) *kernel {
	rd := testutils.NewVolume(test, 1000, 7)
	out := new(bytes.Buffer)
	sw := device.NewSwitch(rd, nil, device.NewConsole(strings.NewReader(input), out))
	cpu := sched.New()
	cache := bcache.New(cpu, sw, 10)
	cpu.Enter()
	sb, err := super.Load(cache, rdev, false)
	if err != nil {
		testutils.FatalLevel(test, 2, "Failed loading superblock: %s", err)
	}
	m := mounts{rdev: sb}
	alloc := alloctbl.New(cpu, cache, m)
	inodes := inode.NewTable(cpu, cache, 10)
	inodes.Attach(m, alloc)
	alloc.Attach(inodes)
	return &kernel{cpu, cache, alloc, inodes, file.New(cache, inodes, sw), out}
}

func (k *kernel) newFile(test *testing.T, mode uint16) *inode.Inode {
	ip, err := k.alloc.Ialloc(rdev)
	if err != nil {
		testutils.FatalLevel(test, 2, "Failed allocating inode: %s", err)
	}
	ip.Mode = common.IALLOC | mode
	ip.Nlink = 1
	ip.Flag |= inode.IUPD | inode.ICHG
	return ip
}

func (k *kernel) write(test *testing.T, ip *inode.Inode, data []byte, offset int) {
	io := common.KernelIO(data, offset)
	if err := k.mover.Writei(ip, io); err != nil {
		testutils.FatalLevel(test, 2, "Writei failed: %s", err)
	}
	if io.Count != 0 {
		testutils.FatalLevel(test, 2, "Writei left %d bytes", io.Count)
	}
}

func (k *kernel) read(test *testing.T, ip *inode.Inode, n, offset int) []byte {
	buf := make([]byte, n)
	io := common.KernelIO(buf, offset)
	if err := k.mover.Readi(ip, io); err != nil {
		testutils.FatalLevel(test, 2, "Readi failed: %s", err)
	}
	return buf[:n-io.Count]
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// A new file gets inode 2 and block 10, and keeps both after its last
// reference while it is still linked.
func TestEndToEnd(test *testing.T) {
	k := openVolume(test, "")
	defer k.cpu.Exit()

	ip := k.newFile(test, 0644)
	if ip.Number != 2 {
		testutils.FatalHere(test, "Ialloc returned %s, expected inode 2", ip)
	}
	bno, err := k.inodes.Bmap(ip, 0, true)
	if err != nil || bno != 10 {
		testutils.FatalHere(test, "Bmap returned %d, %v, expected 10", bno, err)
	}
	data := pattern(100)
	k.write(test, ip, data, 0)
	if ip.Size() != 100 {
		testutils.ErrorHere(test, "size is %d after writing 100 bytes", ip.Size())
	}
	if ip.Addr[0] != 10 {
		testutils.ErrorHere(test, "write moved block 0 to %d", ip.Addr[0])
	}
	k.inodes.Iput(ip)

	ip, err = k.inodes.Iget(rdev, 2)
	if err != nil {
		testutils.FatalHere(test, "Iget failed: %s", err)
	}
	defer k.inodes.Iput(ip)
	if ip.Mode != common.IALLOC|0644 || ip.Size() != 100 || ip.Addr[0] != 10 {
		testutils.ErrorHere(test, "inode reloaded as mode %o size %d addr %v", ip.Mode, ip.Size(), ip.Addr)
	}
	if got := k.read(test, ip, 200, 0); !bytes.Equal(got, data) {
		testutils.ErrorHere(test, "read back %d bytes, not what was written", len(got))
	}
	if free, _ := k.alloc.CountFree(rdev); free != 989 {
		testutils.ErrorHere(test, "%d blocks free, expected 989", free)
	}
}

func TestReadPastEnd(test *testing.T) {
	k := openVolume(test, "")
	defer k.cpu.Exit()

	ip := k.newFile(test, 0644)
	defer k.inodes.Iput(ip)
	k.write(test, ip, pattern(10), 0)
	if got := k.read(test, ip, 10, 10); len(got) != 0 {
		testutils.ErrorHere(test, "read at the end returned %d bytes", len(got))
	}
	if got := k.read(test, ip, 10, 5); len(got) != 5 {
		testutils.ErrorHere(test, "read across the end returned %d bytes", len(got))
	}
	if ip.Flag&inode.IACC == 0 {
		testutils.ErrorHere(test, "Readi did not set IACC")
	}
}

// Write enough to turn the file large, and read it back in odd pieces.
func TestLargeFile(test *testing.T) {
	k := openVolume(test, "")
	defer k.cpu.Exit()

	ip := k.newFile(test, 0644)
	defer k.inodes.Iput(ip)
	data := pattern(20*common.BSIZE + 77)
	k.write(test, ip, data, 0)
	if ip.Layout != inode.Large || ip.Size() != len(data) {
		testutils.FatalHere(test, "layout %d size %d after a %d byte write", ip.Layout, ip.Size(), len(data))
	}

	var got []byte
	for off := 0; off < len(data); off += 333 {
		got = append(got, k.read(test, ip, 333, off)...)
	}
	if !bytes.Equal(got, data) {
		testutils.ErrorHere(test, "large file read back differently")
	}

	// Overwrite the middle of a block
	k.write(test, ip, []byte("xyz"), 1000)
	if got := k.read(test, ip, 5, 999); string(got) != string([]byte{data[999], 'x', 'y', 'z', data[1003]}) {
		testutils.ErrorHere(test, "overwrite gave %q", got)
	}
	if ip.Size() != len(data) {
		testutils.ErrorHere(test, "overwrite changed the size to %d", ip.Size())
	}
}

func TestHole(test *testing.T) {
	k := openVolume(test, "")
	defer k.cpu.Exit()

	ip := k.newFile(test, 0644)
	defer k.inodes.Iput(ip)
	k.write(test, ip, []byte{'a'}, 3*common.BSIZE)
	if ip.Size() != 3*common.BSIZE+1 || ip.Addr[0] != 0 || ip.Addr[3] == 0 {
		testutils.FatalHere(test, "size %d addr %v after writing past a hole", ip.Size(), ip.Addr)
	}
	got := k.read(test, ip, ip.Size(), 0)
	if len(got) != ip.Size() || got[len(got)-1] != 'a' {
		testutils.FatalHere(test, "read %d bytes through the hole", len(got))
	}
	for i, b := range got[:len(got)-1] {
		if b != 0 {
			testutils.FatalHere(test, "byte %d of the hole is %#x", i, b)
		}
	}
}

// User space transfers, word aligned and not.
func TestUserSegment(test *testing.T) {
	k := openVolume(test, "")
	defer k.cpu.Exit()

	ip := k.newFile(test, 0644)
	defer k.inodes.Iput(ip)

	mem := common.UserMem(make([]byte, 2048))
	copy(mem[100:], "hello, world")
	io := &common.IO{Seg: common.USER_SEG, User: mem, Base: 100, Count: 12}
	if err := k.mover.Writei(ip, io); err != nil {
		testutils.FatalHere(test, "aligned Writei failed: %s", err)
	}
	io = &common.IO{Seg: common.USER_SEG, User: mem, Base: 101, Offset: 12, Count: 5}
	if err := k.mover.Writei(ip, io); err != nil {
		testutils.FatalHere(test, "unaligned Writei failed: %s", err)
	}
	if got := k.read(test, ip, 100, 0); string(got) != "hello, worldello," {
		testutils.ErrorHere(test, "file contains %q", got)
	}

	io = &common.IO{Seg: common.USER_SEG, User: mem, Base: 1001, Offset: 7, Count: 5}
	if err := k.mover.Readi(ip, io); err != nil {
		testutils.FatalHere(test, "unaligned Readi failed: %s", err)
	}
	if string(mem[1001:1006]) != "world" || io.Base != 1006 || io.Offset != 12 {
		testutils.ErrorHere(test, "unaligned read gave %q, base %d offset %d", mem[1001:1006], io.Base, io.Offset)
	}
}

func TestFault(test *testing.T) {
	k := openVolume(test, "")
	defer k.cpu.Exit()

	ip := k.newFile(test, 0644)
	defer k.inodes.Iput(ip)
	k.write(test, ip, pattern(100), 0)

	mem := common.UserMem(make([]byte, 10))
	io := &common.IO{Seg: common.USER_SEG, User: mem, Count: 20}
	if err := k.mover.Readi(ip, io); err != common.EFAULT {
		testutils.ErrorHere(test, "aligned read into short memory returned %v", err)
	}
	io = &common.IO{Seg: common.USER_SEG, User: mem, Base: 5, Count: 9}
	if err := k.mover.Readi(ip, io); err != common.EFAULT {
		testutils.ErrorHere(test, "unaligned read into short memory returned %v", err)
	}
	if io.Count != 4 {
		testutils.ErrorHere(test, "faulting byte copy moved %d bytes, expected 5", 9-io.Count)
	}

	io = common.KernelIO(make([]byte, 4), 0)
	io.Count = 8
	if err := k.mover.Writei(ip, io); err != common.EFAULT {
		testutils.ErrorHere(test, "kernel write past the buffer returned %v", err)
	}
}

// A file holds at most MAXSIZE bytes; a write that would pass that stores
// what fits and fails.
func TestSizeLimit(test *testing.T) {
	k := openVolume(test, "")
	defer k.cpu.Exit()

	ip := k.newFile(test, 0644)
	defer k.inodes.Iput(ip)

	k.write(test, ip, []byte{'l'}, common.MAXSIZE-1)
	if ip.Size() != common.MAXSIZE {
		testutils.FatalHere(test, "size %d after writing the last byte", ip.Size())
	}

	io := common.KernelIO(pattern(20), common.MAXSIZE-10)
	if err := k.mover.Writei(ip, io); err != common.EFBIG {
		testutils.ErrorHere(test, "write across the limit returned %v", err)
	}
	if io.Count != 10 || ip.Size() != common.MAXSIZE {
		testutils.ErrorHere(test, "moved %d bytes, size %d", 20-io.Count, ip.Size())
	}
	if got := k.read(test, ip, 20, common.MAXSIZE-10); !bytes.Equal(got, pattern(10)) {
		testutils.ErrorHere(test, "read back %v", got)
	}

	io = common.KernelIO([]byte{'x'}, common.MAXSIZE)
	if err := k.mover.Writei(ip, io); err != common.EFBIG || io.Count != 1 {
		testutils.ErrorHere(test, "write at the limit returned %v, %d left", err, io.Count)
	}
	if ip.Size() != common.MAXSIZE {
		testutils.ErrorHere(test, "size %d", ip.Size())
	}
}

// A whole-block write that faults part way must not leave the previous
// contents of a recycled buffer in the block.
func TestFaultRecycledBuffer(test *testing.T) {
	k := openVolume(test, "")
	defer k.cpu.Exit()

	ip := k.newFile(test, 0644)
	defer k.inodes.Iput(ip)
	k.write(test, ip, pattern(common.BSIZE), 0)

	// Leave junk in every free buffer, pushing block 10 out of the cache
	for i := 0; i < 10; i++ {
		bp := k.cache.GetBlk(rdev, 600+i)
		for j := range bp.Addr {
			bp.Addr[j] = 0xff
		}
		k.cache.Brelse(bp)
	}
	if k.cache.Incore(rdev, int(ip.Addr[0])) {
		testutils.FatalHere(test, "block %d still cached", ip.Addr[0])
	}

	mem := common.UserMem(bytes.Repeat([]byte{'z'}, 101))
	io := &common.IO{Seg: common.USER_SEG, User: mem, Base: 1, Count: common.BSIZE}
	if err := k.mover.Writei(ip, io); err != common.EFAULT {
		testutils.FatalHere(test, "faulting write returned %v", err)
	}
	got := k.read(test, ip, common.BSIZE, 0)
	if !bytes.Equal(got[:100], bytes.Repeat([]byte{'z'}, 100)) {
		testutils.ErrorHere(test, "copied part is %q", got[:100])
	}
	for i, b := range got[100:] {
		if b != 0 {
			testutils.FatalHere(test, "byte %d is %#x", 100+i, b)
		}
	}
}

func TestCharSpecial(test *testing.T) {
	k := openVolume(test, "typed")
	defer k.cpu.Exit()

	ip := k.newFile(test, common.IFCHR|0666)
	defer k.inodes.Iput(ip)
	ip.Addr[0] = uint16(common.MakeDev(device.CONSOLE_MAJOR, 0))

	if got := k.read(test, ip, 100, 0); string(got) != "typed" {
		testutils.ErrorHere(test, "console read %q", got)
	}
	k.write(test, ip, []byte("shown"), 0)
	if k.out.String() != "shown" {
		testutils.ErrorHere(test, "console printed %q", k.out.String())
	}
	if ip.Size() != 0 {
		testutils.ErrorHere(test, "writing a special file changed its size to %d", ip.Size())
	}

	ip.Addr[0] = uint16(common.MakeDev(device.NULL_MAJOR, 0))
	k.write(test, ip, []byte("gone"), 0)
	if got := k.read(test, ip, 10, 0); len(got) != 0 {
		testutils.ErrorHere(test, "null read returned %q", got)
	}

	ip.Addr[0] = uint16(common.MakeDev(7, 0))
	if err := k.mover.Readi(ip, common.KernelIO(make([]byte, 1), 0)); err != common.ENXIO {
		testutils.ErrorHere(test, "read of an unconfigured major returned %v", err)
	}
}

func TestBlockSpecial(test *testing.T) {
	k := openVolume(test, "")
	defer k.cpu.Exit()

	ip := k.newFile(test, common.IFBLK|0600)
	defer k.inodes.Iput(ip)
	ip.Addr[0] = uint16(rdev)

	// The superblock, read through the device itself
	got := k.read(test, ip, common.BSIZE, common.SUPERB*common.BSIZE)
	var sb common.Filsys
	common.DecodeFilsys(got, &sb)
	if sb.Isize != 7 || sb.Fsize != 1000 {
		testutils.ErrorHere(test, "superblock read through the device: isize %d fsize %d", sb.Isize, sb.Fsize)
	}

	k.write(test, ip, []byte("raw"), 500*common.BSIZE+10)
	bp, err := k.cache.Bread(rdev, 500)
	if err != nil {
		testutils.FatalHere(test, "Bread failed: %s", err)
	}
	if string(bp.Addr[10:13]) != "raw" {
		testutils.ErrorHere(test, "block 500 holds %q", bp.Addr[10:13])
	}
	k.cache.Brelse(bp)
	if ip.Size() != 0 {
		testutils.ErrorHere(test, "writing a block device changed its size")
	}

	ip.Addr[0] = uint16(common.MakeDev(9, 0))
	if err := k.mover.Readi(ip, common.KernelIO(make([]byte, 1), 0)); err != common.ENXIO {
		testutils.ErrorHere(test, "read of an unconfigured major returned %v", err)
	}
}
