// Package inode implements the in-core inode table and the mapping of file
// blocks to disk blocks.
//
// Every function must be called from inside the kernel (see sched.CPU).
package inode

import (
	"fmt"
	"log"
	"time"

	"github.com/dvdphobia/unix-v6-sub000/bcache"
	"github.com/dvdphobia/unix-v6-sub000/common"
	"github.com/dvdphobia/unix-v6-sub000/sched"
	"github.com/dvdphobia/unix-v6-sub000/super"
)

// Flags of an in-core inode.
const (
	ILOCK  = 01   // inode is locked
	IUPD   = 02   // inode has been modified
	IACC   = 04   // inode access time to be updated
	IMOUNT = 010  // inode is mounted on
	IWANT  = 020  // some process waiting on lock
	ITEXT  = 040  // inode is pure text prototype
	ICHG   = 0100 // inode status changed
)

// Layout says how the address slots of an inode are interpreted.
type Layout int

const (
	// Small: the 8 slots address the first 8 blocks directly.
	Small Layout = iota
	// Large: slots 0-6 name single-indirect blocks, slot 7 a double-indirect
	// block.
	Large
)

// Inode is a slot of the in-core inode table. A *Inode stays valid for as
// long as its reference is held.
type Inode struct {
	Flag   int
	Count  int        // reference count
	Dev    common.Dev // device where inode resides
	Number int        // i number, 1-to-1 with device address
	Lastr  int        // last logical block read, for read-ahead

	Mode   uint16 // type and permissions, without ILARG
	Layout Layout
	Nlink  int8 // directory entries
	Uid    uint8
	Gid    uint8
	Size0  uint8  // most significant byte of the size
	Size1  uint16 // least significant word of the size
	Addr   [common.NADDR]uint16
	Atime  int32
	Mtime  int32
	Ctime  int32 // in core only
}

func (ip *Inode) Size() int {
	return int(ip.Size0)<<16 | int(ip.Size1)
}

func (ip *Inode) SetSize(n int) {
	ip.Size0 = uint8(n >> 16)
	ip.Size1 = uint16(n)
}

// Type returns the IFMT bits of the mode.
func (ip *Inode) Type() uint16 {
	return ip.Mode & common.IFMT
}

func (ip *Inode) String() string {
	return fmt.Sprintf("inode %d on dev %s", ip.Number, ip.Dev)
}

// Mounts tells the table about mounted volumes.
type Mounts interface {
	// Getfs returns the superblock of a mounted device.
	Getfs(dev common.Dev) *super.Super
	// Mounted returns the device mounted on ip.
	Mounted(ip *Inode) (common.Dev, bool)
}

// Allocator is the part of the free lists the table uses.
type Allocator interface {
	Alloc(dev common.Dev) (*common.Buf, error)
	Free(dev common.Dev, bno int)
	Ifree(dev common.Dev, ino int)
}

type Table struct {
	cpu    *sched.CPU
	bcache *bcache.Cache
	mounts Mounts
	alloc  Allocator
	slots  []Inode

	// Now returns the time stamped on inodes as they are written out.
	Now func() int32
}

func NewTable(cpu *sched.CPU, bc *bcache.Cache, size int) *Table {
	return &Table{
		cpu:    cpu,
		bcache: bc,
		slots:  make([]Inode, size),
		Now:    func() int32 { return int32(time.Now().Unix()) },
	}
}

// Attach connects the table to the mount table and free lists, which need
// the table themselves.
func (t *Table) Attach(mounts Mounts, alloc Allocator) {
	t.mounts = mounts
	t.alloc = alloc
}

// Iget returns inode ino of dev, locked and with its reference count
// incremented. A mounted-on inode stands for the root of the volume mounted
// there.
func (t *Table) Iget(dev common.Dev, ino int) (*Inode, error) {
	if ino <= 0 {
		return nil, common.EINVAL
	}
loop:
	for {
		var free *Inode
		for i := range t.slots {
			p := &t.slots[i]
			if p.Count > 0 && p.Dev == dev && p.Number == ino {
				if p.Flag&ILOCK != 0 {
					p.Flag |= IWANT
					t.cpu.Sleep(p, common.PINOD)
					continue loop
				}
				if p.Flag&IMOUNT != 0 {
					mdev, ok := t.mounts.Mounted(p)
					if !ok {
						panic(fmt.Sprintf("iget: no mount for %s", p))
					}
					dev, ino = mdev, common.ROOTINO
					continue loop
				}
				p.Count++
				p.Flag |= ILOCK
				return p, nil
			}
			if free == nil && p.Count == 0 {
				free = p
			}
		}

		if free == nil {
			log.Printf("inode table overflow")
			return nil, common.ENFILE
		}
		*free = Inode{Dev: dev, Number: ino, Flag: ILOCK, Count: 1, Lastr: -1}
		if err := t.loadInode(free); err != nil {
			free.Count = 0
			free.Number = 0
			t.Prele(free)
			return nil, err
		}
		return free, nil
	}
}

func (t *Table) loadInode(ip *Inode) error {
	blkno, offset := common.Itod(ip.Number)
	bp, err := t.bcache.Bread(ip.Dev, blkno)
	if err != nil {
		return err
	}
	var di common.Dinode
	common.DecodeDinode(bp.Addr[offset:], &di)
	t.bcache.Brelse(bp)

	ip.Mode = di.Mode &^ common.ILARG
	ip.Layout = Small
	if di.Mode&common.ILARG != 0 {
		ip.Layout = Large
	}
	ip.Nlink = di.Nlink
	ip.Uid = di.Uid
	ip.Gid = di.Gid
	ip.Size0 = di.Size0
	ip.Size1 = di.Size1
	ip.Addr = di.Addr
	ip.Atime = di.Atime
	ip.Mtime = di.Mtime
	return nil
}

// Iput drops a reference to ip and unlocks it. Dropping the last reference
// writes the inode back, and if no directory entry names it any more its
// blocks and number are freed first.
func (t *Table) Iput(ip *Inode) {
	if ip.Count <= 0 {
		panic(fmt.Sprintf("iput: %s is not in use", ip))
	}
	if ip.Count == 1 {
		ip.Flag |= ILOCK
		if ip.Nlink <= 0 {
			t.Itrunc(ip)
			ip.Mode = 0
			ip.Flag |= IUPD | ICHG
			t.alloc.Ifree(ip.Dev, ip.Number)
		}
		if err := t.Iupdat(ip, t.Now()); err != nil {
			log.Printf("iput: updating %s: %s", ip, err)
		}
		t.Prele(ip)
		ip.Flag = 0
		ip.Number = 0
	}
	ip.Count--
	t.Prele(ip)
}

// Iupdat writes ip back to its place in the inode list if it was accessed
// or modified, stamping the corresponding times with now.
func (t *Table) Iupdat(ip *Inode, now int32) error {
	if ip.Flag&(IUPD|IACC|ICHG) == 0 {
		return nil
	}
	if t.mounts.Getfs(ip.Dev).Ronly {
		return nil
	}
	return t.writeInode(ip, now)
}

func (t *Table) writeInode(ip *Inode, now int32) error {
	blkno, offset := common.Itod(ip.Number)
	bp, err := t.bcache.Bread(ip.Dev, blkno)
	if err != nil {
		return err
	}

	if ip.Flag&IACC != 0 {
		ip.Atime = now
	}
	if ip.Flag&IUPD != 0 {
		ip.Mtime = now
	}
	if ip.Flag&ICHG != 0 {
		ip.Ctime = now
	}
	di := common.Dinode{
		Mode:  ip.Mode,
		Nlink: ip.Nlink,
		Uid:   ip.Uid,
		Gid:   ip.Gid,
		Size0: ip.Size0,
		Size1: ip.Size1,
		Addr:  ip.Addr,
		Atime: ip.Atime,
		Mtime: ip.Mtime,
	}
	if ip.Layout == Large {
		di.Mode |= common.ILARG
	}
	common.EncodeDinode(bp.Addr[offset:], &di)
	ip.Flag &^= IUPD | IACC | ICHG
	return t.bcache.Bwrite(bp)
}

// Plock locks an inode that the caller already holds a reference to.
func (t *Table) Plock(ip *Inode) {
	for ip.Flag&ILOCK != 0 {
		ip.Flag |= IWANT
		t.cpu.Sleep(ip, common.PINOD)
	}
	ip.Flag |= ILOCK
}

// Prele unlocks ip and wakes anybody waiting for it.
func (t *Table) Prele(ip *Inode) {
	ip.Flag &^= ILOCK
	if ip.Flag&IWANT != 0 {
		ip.Flag &^= IWANT
		t.cpu.Wakeup(ip)
	}
}

// Dup adds a reference to ip.
func (t *Table) Dup(ip *Inode) *Inode {
	ip.Count++
	return ip
}

// Incore reports whether inode ino of dev is in the table.
func (t *Table) Incore(dev common.Dev, ino int) bool {
	for i := range t.slots {
		p := &t.slots[i]
		if p.Count > 0 && p.Dev == dev && p.Number == ino {
			return true
		}
	}
	return false
}

// Busy returns the number of references held to inodes of dev.
func (t *Table) Busy(dev common.Dev) int {
	n := 0
	for i := range t.slots {
		if p := &t.slots[i]; p.Count > 0 && p.Dev == dev {
			n += p.Count
		}
	}
	return n
}

// Sync writes back every modified inode that nobody has locked.
func (t *Table) Sync(now int32) {
	for i := range t.slots {
		p := &t.slots[i]
		if p.Count == 0 || p.Flag&ILOCK != 0 {
			continue
		}
		p.Flag |= ILOCK
		if err := t.Iupdat(p, now); err != nil {
			log.Printf("sync: updating %s: %s", p, err)
		}
		t.Prele(p)
	}
}
