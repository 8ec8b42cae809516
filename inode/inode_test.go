package inode_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/dvdphobia/unix-v6-sub000/alloctbl"
	"github.com/dvdphobia/unix-v6-sub000/bcache"
	"github.com/dvdphobia/unix-v6-sub000/common"
	"github.com/dvdphobia/unix-v6-sub000/device"
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
	sb     *super.Super
	alloc  *alloctbl.Tbl
	inodes *inode.Table
}

// openVolume mounts a fresh 1000-block volume with an inode table of size
// slots. The caller is left inside the kernel.
func openVolume(test *testing.T, size int) *kernel {
	rd := testutils.NewVolume(test, 1000, 7)
	cpu := sched.New()
	cache := bcache.New(cpu, device.NewSwitch(rd, nil, nil), 10)
	cpu.Enter()
	sb, err := super.Load(cache, rdev, false)
	if err != nil {
		testutils.FatalLevel(test, 2, "Failed loading superblock: %s", err)
	}
	m := mounts{rdev: sb}
	alloc := alloctbl.New(cpu, cache, m)
	inodes := inode.NewTable(cpu, cache, size)
	inodes.Attach(m, alloc)
	alloc.Attach(inodes)
	inodes.Now = func() int32 { return 1000 }
	return &kernel{cpu, cache, sb, alloc, inodes}
}

func (k *kernel) dinode(test *testing.T, ino int) common.Dinode {
	blkno, offset := common.Itod(ino)
	bp, err := k.cache.Bread(rdev, blkno)
	if err != nil {
		testutils.FatalLevel(test, 2, "Failed reading inode block %d: %s", blkno, err)
	}
	var di common.Dinode
	common.DecodeDinode(bp.Addr[offset:], &di)
	k.cache.Brelse(bp)
	return di
}

// newFile allocates an inode and makes it a regular file with one link.
func (k *kernel) newFile(test *testing.T) *inode.Inode {
	ip, err := k.alloc.Ialloc(rdev)
	if err != nil {
		testutils.FatalLevel(test, 2, "Failed allocating inode: %s", err)
	}
	ip.Mode = common.IALLOC | 0644
	ip.Nlink = 1
	ip.Flag |= inode.IUPD | inode.ICHG
	return ip
}

func TestIgetRoot(test *testing.T) {
	k := openVolume(test, 10)
	defer k.cpu.Exit()

	ip, err := k.inodes.Iget(rdev, common.ROOTINO)
	if err != nil {
		testutils.FatalHere(test, "Iget failed: %s", err)
	}
	if ip.Type() != common.IFDIR || ip.Nlink != 2 || ip.Size() != 32 || ip.Addr[0] != 9 {
		testutils.ErrorHere(test, "bad root inode: mode %o nlink %d size %d addr %v", ip.Mode, ip.Nlink, ip.Size(), ip.Addr)
	}
	if ip.Layout != inode.Small {
		testutils.ErrorHere(test, "root directory is not small")
	}
	k.inodes.Iput(ip)

	if _, err := k.inodes.Iget(rdev, 0); err != common.EINVAL {
		testutils.ErrorHere(test, "Iget of inode 0 returned %v", err)
	}
}

func TestRefcount(test *testing.T) {
	k := openVolume(test, 10)
	defer k.cpu.Exit()

	ip, err := k.inodes.Iget(rdev, common.ROOTINO)
	if err != nil {
		testutils.FatalHere(test, "Iget failed: %s", err)
	}
	k.inodes.Prele(ip)
	ip2, err := k.inodes.Iget(rdev, common.ROOTINO)
	if err != nil {
		testutils.FatalHere(test, "Iget failed: %s", err)
	}
	if ip2 != ip || ip.Count != 2 {
		testutils.FatalHere(test, "second Iget returned %p count %d, expected %p count 2", ip2, ip.Count, ip)
	}
	if k.inodes.Busy(rdev) != 2 {
		testutils.ErrorHere(test, "Busy returned %d, expected 2", k.inodes.Busy(rdev))
	}

	k.inodes.Iput(ip2)
	if !k.inodes.Incore(rdev, common.ROOTINO) || ip.Flag&inode.ILOCK != 0 {
		testutils.ErrorHere(test, "first Iput dropped the inode or left it locked")
	}
	k.inodes.Plock(ip)
	k.inodes.Iput(ip)
	if k.inodes.Incore(rdev, common.ROOTINO) || k.inodes.Busy(rdev) != 0 {
		testutils.ErrorHere(test, "inode still in the table after its last Iput")
	}
}

func TestDup(test *testing.T) {
	k := openVolume(test, 10)
	defer k.cpu.Exit()

	ip, err := k.inodes.Iget(rdev, common.ROOTINO)
	if err != nil {
		testutils.FatalHere(test, "Iget failed: %s", err)
	}
	if dp := k.inodes.Dup(ip); dp != ip || ip.Count != 2 {
		testutils.ErrorHere(test, "Dup gave %p with count %d", dp, ip.Count)
	}
	k.inodes.Iput(ip)
	k.inodes.Plock(ip)
	k.inodes.Iput(ip)
	if k.inodes.Busy(rdev) != 0 {
		testutils.ErrorHere(test, "references left after dropping both")
	}
}

func TestTableOverflow(test *testing.T) {
	k := openVolume(test, 3)
	defer k.cpu.Exit()

	for ino := 1; ino <= 3; ino++ {
		ip, err := k.inodes.Iget(rdev, ino)
		if err != nil {
			testutils.FatalHere(test, "Iget %d failed: %s", ino, err)
		}
		k.inodes.Prele(ip)
	}
	if _, err := k.inodes.Iget(rdev, 4); err != common.ENFILE {
		testutils.ErrorHere(test, "Iget on a full table returned %v, expected ENFILE", err)
	}
	// Inodes already in the table can still be had
	ip, err := k.inodes.Iget(rdev, 2)
	if err != nil {
		testutils.FatalHere(test, "Iget of a cached inode failed: %s", err)
	}
	k.inodes.Iput(ip)
}

// Iget of a locked inode waits until it is released
func TestIgetWaitsForLock(test *testing.T) {
	k := openVolume(test, 10)
	ip, err := k.inodes.Iget(rdev, common.ROOTINO)
	if err != nil {
		testutils.FatalHere(test, "Iget failed: %s", err)
	}
	k.cpu.Exit()

	done := make(chan *inode.Inode)
	go func() {
		k.cpu.Enter()
		defer k.cpu.Exit()
		ip, err := k.inodes.Iget(rdev, common.ROOTINO)
		if err != nil {
			testutils.ErrorHere(test, "Iget failed: %s", err)
		}
		done <- ip
	}()

	for {
		k.cpu.Enter()
		n := k.cpu.Sleepers(ip)
		k.cpu.Exit()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case <-done:
		testutils.FatalHere(test, "Iget returned while the inode was locked")
	default:
	}

	k.cpu.Enter()
	if ip.Flag&inode.IWANT == 0 {
		testutils.ErrorHere(test, "waiting Iget did not set IWANT")
	}
	k.inodes.Prele(ip)
	k.cpu.Exit()

	if got := <-done; got != ip {
		testutils.ErrorHere(test, "waiting Iget returned %p, expected %p", got, ip)
	}
	k.cpu.Enter()
	defer k.cpu.Exit()
	if ip.Count != 2 || ip.Flag&inode.ILOCK == 0 {
		testutils.ErrorHere(test, "count %d flag %o after waiting Iget", ip.Count, ip.Flag)
	}
}

// A file that is still linked keeps its blocks and contents on its last
// Iput.
func TestIputKeepsLinked(test *testing.T) {
	k := openVolume(test, 10)
	defer k.cpu.Exit()

	ip := k.newFile(test)
	if ip.Number != 2 {
		testutils.ErrorHere(test, "allocated %s, expected inode 2", ip)
	}
	bno, err := k.inodes.Bmap(ip, 0, true)
	if err != nil || bno != 10 {
		testutils.FatalHere(test, "Bmap returned %d, %v, expected 10", bno, err)
	}
	ip.SetSize(100)
	k.inodes.Iput(ip)

	di := k.dinode(test, 2)
	if di.Mode != common.IALLOC|0644 || di.Nlink != 1 || di.Size1 != 100 || di.Addr[0] != 10 {
		testutils.ErrorHere(test, "bad inode on disk: %+v", di)
	}
	if di.Mtime != 1000 {
		testutils.ErrorHere(test, "mtime is %d, expected 1000", di.Mtime)
	}
	if bno := k.allocBlock(test); bno != 11 {
		testutils.ErrorHere(test, "allocated block %d, expected 11", bno)
	}
}

func (k *kernel) allocBlock(test *testing.T) int {
	bp, err := k.alloc.Alloc(rdev)
	if err != nil {
		testutils.FatalLevel(test, 2, "Failed allocating block: %s", err)
	}
	bno := bp.Blkno
	k.cache.Brelse(bp)
	return bno
}

// The last Iput of an unlinked file frees its blocks and its number.
func TestTruncateOnDelete(test *testing.T) {
	k := openVolume(test, 10)
	defer k.cpu.Exit()

	ip := k.newFile(test)
	ino := ip.Number
	for lbn := 0; lbn < 20; lbn++ {
		if _, err := k.inodes.Bmap(ip, lbn, true); err != nil {
			testutils.FatalHere(test, "Bmap %d failed: %s", lbn, err)
		}
	}
	ip.SetSize(20 * common.BSIZE)
	if free, _ := k.alloc.CountFree(rdev); free != 990-21 {
		testutils.ErrorHere(test, "%d blocks free, expected %d", free, 990-21)
	}

	ip.Nlink = 0
	k.inodes.Iput(ip)

	if free, _ := k.alloc.CountFree(rdev); free != 990 {
		testutils.ErrorHere(test, "%d blocks free after delete, expected 990", free)
	}
	di := k.dinode(test, ino)
	if di.Mode != 0 || di.Size1 != 0 || di.Addr != [common.NADDR]uint16{} {
		testutils.ErrorHere(test, "deleted inode on disk: %+v", di)
	}
	ip, err := k.alloc.Ialloc(rdev)
	if err != nil {
		testutils.FatalHere(test, "Ialloc failed: %s", err)
	}
	if ip.Number != ino {
		testutils.ErrorHere(test, "allocated %s, expected the freed inode %d", ip, ino)
	}
}

func TestBmapSmall(test *testing.T) {
	k := openVolume(test, 10)
	defer k.cpu.Exit()

	ip := k.newFile(test)
	if bno, err := k.inodes.Bmap(ip, 3, false); bno != 0 || err != nil {
		testutils.ErrorHere(test, "read of a hole returned %d, %v", bno, err)
	}
	for lbn := 0; lbn < common.NADDR; lbn++ {
		bno, err := k.inodes.Bmap(ip, lbn, true)
		if err != nil || bno != 10+lbn {
			testutils.ErrorHere(test, "Bmap %d returned %d, %v, expected %d", lbn, bno, err, 10+lbn)
		}
	}
	if ip.Flag&inode.IUPD == 0 {
		testutils.ErrorHere(test, "allocation did not mark the inode modified")
	}
	bno, ra, err := k.inodes.BmapAhead(ip, 2, false)
	if bno != 12 || ra != 13 || err != nil {
		testutils.ErrorHere(test, "BmapAhead returned %d, %d, %v", bno, ra, err)
	}
	if _, ra, _ := k.inodes.BmapAhead(ip, 7, false); ra != 0 {
		testutils.ErrorHere(test, "read-ahead past the last slot is %d", ra)
	}
	if bno, err := k.inodes.Bmap(ip, 8, false); bno != 0 || err != nil || ip.Layout != inode.Small {
		testutils.ErrorHere(test, "read past a small file returned %d, %v", bno, err)
	}
}

// Writing block 8 of a small file moves its blocks behind an indirect
// block.
func TestBmapConvert(test *testing.T) {
	k := openVolume(test, 10)
	defer k.cpu.Exit()

	ip := k.newFile(test)
	for lbn := 0; lbn < common.NADDR; lbn++ {
		k.inodes.Bmap(ip, lbn, true)
	}
	bno, err := k.inodes.Bmap(ip, 8, true)
	if err != nil {
		testutils.FatalHere(test, "Bmap 8 failed: %s", err)
	}
	if ip.Layout != inode.Large || ip.Addr[0] != 18 || bno != 19 {
		testutils.ErrorHere(test, "after conversion layout %d addr %v block %d", ip.Layout, ip.Addr, bno)
	}
	for i := 1; i < common.NADDR; i++ {
		if ip.Addr[i] != 0 {
			testutils.ErrorHere(test, "slot %d is %d after conversion", i, ip.Addr[i])
		}
	}
	for lbn := 0; lbn < common.NADDR; lbn++ {
		if bno, _ := k.inodes.Bmap(ip, lbn, false); bno != 10+lbn {
			testutils.ErrorHere(test, "block %d moved to %d", lbn, bno)
		}
	}
	if _, ra, _ := k.inodes.BmapAhead(ip, 7, false); ra != 19 {
		testutils.ErrorHere(test, "read-ahead of block 7 is %d, expected 19", ra)
	}

	// Second indirect block
	bno, err = k.inodes.Bmap(ip, common.NINDIR, true)
	if err != nil || ip.Addr[1] != 20 || bno != 21 {
		testutils.ErrorHere(test, "Bmap %d returned %d, %v with addr %v", common.NINDIR, bno, err, ip.Addr)
	}

	k.inodes.Itrunc(ip)
	if ip.Layout != inode.Small || ip.Size() != 0 || ip.Addr != [common.NADDR]uint16{} {
		testutils.ErrorHere(test, "after Itrunc layout %d size %d addr %v", ip.Layout, ip.Size(), ip.Addr)
	}
	if free, _ := k.alloc.CountFree(rdev); free != 990 {
		testutils.ErrorHere(test, "%d blocks free after Itrunc, expected 990", free)
	}
}

func TestBmapDouble(test *testing.T) {
	k := openVolume(test, 10)
	defer k.cpu.Exit()

	ip := k.newFile(test)
	lbn := common.NSINGLE * common.NINDIR
	bno, err := k.inodes.Bmap(ip, lbn, true)
	if err != nil {
		testutils.FatalHere(test, "Bmap %d failed: %s", lbn, err)
	}
	// 10 converted the file, 11 is the double-indirect block, 12 the
	// indirect block under it
	if ip.Layout != inode.Large || ip.Addr[0] != 10 || ip.Addr[common.NSINGLE] != 11 || bno != 13 {
		testutils.ErrorHere(test, "double indirect: addr %v block %d", ip.Addr, bno)
	}
	if got, _ := k.inodes.Bmap(ip, lbn, false); got != 13 {
		testutils.ErrorHere(test, "reading back block %d gave %d", lbn, got)
	}
	if got, _ := k.inodes.Bmap(ip, lbn+1, false); got != 0 {
		testutils.ErrorHere(test, "hole after block %d reads as %d", lbn, got)
	}
	if got, _ := k.inodes.Bmap(ip, lbn+common.NINDIR, false); got != 0 {
		testutils.ErrorHere(test, "missing indirect block reads as %d", got)
	}

	// Only the double-indirect block gains an address
	ip.Flag &^= inode.IUPD
	last, err := k.inodes.Bmap(ip, common.MAXLBN, true)
	if err != nil || last != 15 {
		testutils.ErrorHere(test, "Bmap of the last block returned %d, %v", last, err)
	}
	if ip.Flag&inode.IUPD != 0 {
		testutils.ErrorHere(test, "inode marked for update, addr %v", ip.Addr)
	}
	if _, err := k.inodes.Bmap(ip, common.MAXLBN+1, true); err != common.EFBIG {
		testutils.ErrorHere(test, "Bmap past the last block returned %v, expected EFBIG", err)
	}

	k.inodes.Itrunc(ip)
	if free, _ := k.alloc.CountFree(rdev); free != 990 {
		testutils.ErrorHere(test, "%d blocks free after Itrunc, expected 990", free)
	}
}

func TestIupdatLarge(test *testing.T) {
	k := openVolume(test, 10)
	defer k.cpu.Exit()

	ip := k.newFile(test)
	k.inodes.Bmap(ip, 8, true)
	ip.Uid = 7
	if err := k.inodes.Iupdat(ip, 55); err != nil {
		testutils.FatalHere(test, "Iupdat failed: %s", err)
	}
	if ip.Flag&(inode.IUPD|inode.IACC|inode.ICHG) != 0 {
		testutils.ErrorHere(test, "Iupdat left flags %o", ip.Flag)
	}
	di := k.dinode(test, ip.Number)
	if di.Mode != common.IALLOC|common.ILARG|0644 || di.Uid != 7 || di.Mtime != 55 {
		testutils.ErrorHere(test, "inode on disk: %+v", di)
	}

	// Nothing changed, so nothing is written
	ip.Uid = 8
	k.inodes.Iupdat(ip, 66)
	if di := k.dinode(test, ip.Number); di.Uid != 7 {
		testutils.ErrorHere(test, "clean inode was written")
	}

	ip.Flag |= inode.IACC
	k.sb.Ronly = true
	k.inodes.Iupdat(ip, 77)
	if di := k.dinode(test, ip.Number); di.Atime == 77 {
		testutils.ErrorHere(test, "inode written to a read-only volume")
	}
}

func TestSync(test *testing.T) {
	k := openVolume(test, 10)
	defer k.cpu.Exit()

	ip := k.newFile(test)
	ip.Gid = 3
	k.inodes.Prele(ip)

	k.inodes.Sync(99)
	di := k.dinode(test, ip.Number)
	if di.Gid != 3 || di.Mtime != 99 {
		testutils.ErrorHere(test, "Sync wrote %+v", di)
	}
	if ip.Flag&inode.ILOCK != 0 {
		testutils.ErrorHere(test, "Sync left the inode locked")
	}
}
