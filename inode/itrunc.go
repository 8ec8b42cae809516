package inode

import (
	"log"

	"github.com/dvdphobia/unix-v6-sub000/common"
)

// Itrunc frees every block of ip and sets its size to zero. Blocks are
// freed from the end of the file backwards, so that the free list hands
// them out again in ascending order. Special files have no blocks.
func (t *Table) Itrunc(ip *Inode) {
	if ip.Mode&(common.IFCHR&common.IFBLK) != 0 {
		return
	}
	for i := common.NADDR - 1; i >= 0; i-- {
		bn := int(ip.Addr[i])
		if bn == 0 {
			continue
		}
		if ip.Layout == Large {
			t.freeIndirect(ip, bn, i == common.NSINGLE)
		}
		t.alloc.Free(ip.Dev, bn)
		ip.Addr[i] = 0
	}
	ip.Layout = Small
	ip.SetSize(0)
	ip.Flag |= IUPD
}

// freeIndirect frees the blocks named in indirect block bn, and one level
// further down if double is set. It does not free bn itself.
func (t *Table) freeIndirect(ip *Inode, bn int, double bool) {
	bp, err := t.bcache.Bread(ip.Dev, bn)
	if err != nil {
		log.Printf("itrunc: reading indirect block %d of %s: %s", bn, ip, err)
		return
	}
	for j := common.NINDIR - 1; j >= 0; j-- {
		cb := common.Indir(bp.Addr, j)
		if cb == 0 {
			continue
		}
		if double {
			t.freeIndirect(ip, cb, false)
		}
		t.alloc.Free(ip.Dev, cb)
	}
	t.bcache.Brelse(bp)
}
