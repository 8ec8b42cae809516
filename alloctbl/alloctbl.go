// Package alloctbl manages the free block and free inode lists of mounted
// volumes. Both lists are cached in the superblock. Free blocks beyond the
// cache are chained through the free blocks themselves; free inodes beyond
// it are found again by scanning the inode list.
package alloctbl

import (
	"log"

	"github.com/dvdphobia/unix-v6-sub000/bcache"
	"github.com/dvdphobia/unix-v6-sub000/common"
	"github.com/dvdphobia/unix-v6-sub000/inode"
	"github.com/dvdphobia/unix-v6-sub000/sched"
	"github.com/dvdphobia/unix-v6-sub000/super"
)

// Supers finds the superblock of a mounted device.
type Supers interface {
	Getfs(dev common.Dev) *super.Super
}

type Tbl struct {
	cpu    *sched.CPU
	cache  *bcache.Cache
	supers Supers
	inodes *inode.Table
}

func New(cpu *sched.CPU, cache *bcache.Cache, supers Supers) *Tbl {
	return &Tbl{cpu: cpu, cache: cache, supers: supers}
}

// Attach gives the allocator the inode table Ialloc hands inodes out of.
func (alloc *Tbl) Attach(inodes *inode.Table) {
	alloc.inodes = inodes
}

// Alloc takes a block off the free list of dev and returns its buffer,
// zeroed and busy. A listed block outside the data area is dropped and
// fails the allocation with EIO.
func (alloc *Tbl) Alloc(dev common.Dev) (*common.Buf, error) {
	fp := alloc.supers.Getfs(dev)
	if fp.Ronly {
		return nil, common.EROFS
	}
	for fp.Flock {
		alloc.cpu.Sleep(&fp.Flock, common.PINOD)
	}

	if fp.Nfree <= 0 {
		return nil, alloc.nospace(fp)
	}
	fp.Nfree--
	bno := int(fp.Free[fp.Nfree])
	if bno == 0 {
		return nil, alloc.nospace(fp)
	}
	if alloc.badblock(fp, bno) {
		fp.Fmod = true
		return nil, common.EIO
	}

	// The cache is empty, and the block just taken holds the next link of
	// the chain.
	if fp.Nfree <= 0 {
		fp.Flock = true
		bp, err := alloc.cache.Bread(dev, bno)
		if err != nil {
			log.Printf("alloc: reading free chain at block %d on dev %s: %s", bno, dev, err)
		} else {
			fp.Nfree = common.DecodeFblk(bp.Addr, &fp.Free)
			alloc.cache.Brelse(bp)
			if fp.Nfree < 0 || fp.Nfree > common.NICFREE {
				log.Printf("alloc: bad free count %d at block %d on dev %s", fp.Nfree, bno, dev)
				fp.Nfree = 0
			}
		}
		fp.Flock = false
		alloc.cpu.Wakeup(&fp.Flock)
	}

	bp := alloc.cache.GetBlk(dev, bno)
	bcache.Clrbuf(bp)
	fp.Fmod = true
	return bp, nil
}

func (alloc *Tbl) nospace(fp *super.Super) error {
	fp.Nfree = 0
	log.Printf("No space on dev %s", fp.Dev)
	return common.ENOSPC
}

// Free puts bno back on the free list of dev.
func (alloc *Tbl) Free(dev common.Dev, bno int) {
	fp := alloc.supers.Getfs(dev)
	fp.Fmod = true
	for fp.Flock {
		alloc.cpu.Sleep(&fp.Flock, common.PINOD)
	}
	if alloc.badblock(fp, bno) {
		return
	}

	// An exhausted list starts over with the end-of-chain marker
	if fp.Nfree <= 0 {
		fp.Nfree = 1
		fp.Free[0] = 0
	}

	// A full cache becomes the contents of the block being freed, which is
	// then the only entry, linking to the rest.
	if fp.Nfree >= common.NICFREE {
		fp.Flock = true
		bp := alloc.cache.GetBlk(dev, bno)
		bcache.Clrbuf(bp)
		common.EncodeFblk(bp.Addr, fp.Nfree, &fp.Free)
		fp.Nfree = 0
		if err := alloc.cache.Bwrite(bp); err != nil {
			log.Printf("free: writing free chain at block %d on dev %s: %s", bno, dev, err)
		}
		fp.Flock = false
		alloc.cpu.Wakeup(&fp.Flock)
	}
	fp.Free[fp.Nfree] = uint16(bno)
	fp.Nfree++
	fp.Fmod = true
}

// badblock reports whether bn lies outside the data area of the volume.
func (alloc *Tbl) badblock(fp *super.Super, bn int) bool {
	if bn < int(fp.Isize)+2 || bn >= int(fp.Fsize) {
		log.Printf("bad block %d on dev %s", bn, fp.Dev)
		return true
	}
	return false
}

// Ialloc allocates an unused inode on dev and returns it locked, with one
// reference.
func (alloc *Tbl) Ialloc(dev common.Dev) (*inode.Inode, error) {
	fp := alloc.supers.Getfs(dev)
	if fp.Ronly {
		return nil, common.EROFS
	}
	for {
		for fp.Ilock {
			alloc.cpu.Sleep(&fp.Ilock, common.PINOD)
		}

		if fp.Ninode > 0 {
			fp.Ninode--
			ino := int(fp.Inode[fp.Ninode])
			ip, err := alloc.inodes.Iget(dev, ino)
			if err != nil {
				return nil, err
			}
			if ip.Mode == 0 {
				ip.Addr = [common.NADDR]uint16{}
				ip.Layout = inode.Small
				ip.SetSize(0)
				fp.Fmod = true
				return ip, nil
			}
			// Somebody took it since it was cached
			alloc.inodes.Iput(ip)
			continue
		}

		fp.Ilock = true
		alloc.scan(fp)
		fp.Ilock = false
		alloc.cpu.Wakeup(&fp.Ilock)
		if fp.Ninode > 0 {
			continue
		}
		log.Printf("Out of i-nodes on dev %s", dev)
		return nil, common.ENOSPC
	}
}

// scan refills the free inode cache from the inode list, skipping inodes
// that are in use in core even though unallocated on disk.
func (alloc *Tbl) scan(fp *super.Super) {
	ino := 0
	for i := 0; i < int(fp.Isize) && fp.Ninode < common.NICINOD; i++ {
		bp, err := alloc.cache.Bread(fp.Dev, i+2)
		if err != nil {
			log.Printf("ialloc: reading inode block %d on dev %s: %s", i+2, fp.Dev, err)
			ino += common.INOPB
			continue
		}
		for j := 0; j < common.INOPB; j++ {
			ino++
			var di common.Dinode
			common.DecodeDinode(bp.Addr[j*common.DINODE_SIZE:], &di)
			if di.Mode != 0 || alloc.inodes.Incore(fp.Dev, ino) {
				continue
			}
			fp.Inode[fp.Ninode] = uint16(ino)
			fp.Ninode++
			if fp.Ninode >= common.NICINOD {
				break
			}
		}
		alloc.cache.Brelse(bp)
	}
}

// Ifree remembers ino as free if the cache has room. Otherwise the number
// is dropped, and the next scan of the inode list finds it again.
func (alloc *Tbl) Ifree(dev common.Dev, ino int) {
	fp := alloc.supers.Getfs(dev)
	if fp.Ilock || fp.Ninode >= common.NICINOD {
		return
	}
	fp.Inode[fp.Ninode] = uint16(ino)
	fp.Ninode++
	fp.Fmod = true
}
