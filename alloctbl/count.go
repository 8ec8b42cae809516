package alloctbl

import (
	"github.com/dvdphobia/unix-v6-sub000/common"
)

// CountFree walks the free chain of dev and returns the number of free
// blocks on it.
func (alloc *Tbl) CountFree(dev common.Dev) (int, error) {
	fp := alloc.supers.Getfs(dev)
	for fp.Flock {
		alloc.cpu.Sleep(&fp.Flock, common.PINOD)
	}

	n := 0
	free := fp.Free
	nfree := fp.Nfree
	for steps := 0; nfree > 0; steps++ {
		if steps > int(fp.Fsize) {
			return n, common.EIO // the chain loops
		}
		for _, bno := range free[:nfree] {
			if bno != 0 {
				n++
			}
		}
		link := int(free[0])
		if link == 0 {
			break
		}
		bp, err := alloc.cache.Bread(dev, link)
		if err != nil {
			return n, err
		}
		nfree = common.DecodeFblk(bp.Addr, &free)
		alloc.cache.Brelse(bp)
		if nfree < 0 || nfree > common.NICFREE {
			return n, common.EIO
		}
	}
	return n, nil
}

// CountIfree scans the inode list of dev and returns the number of
// unallocated inodes.
func (alloc *Tbl) CountIfree(dev common.Dev) (int, error) {
	fp := alloc.supers.Getfs(dev)
	n := 0
	for i := 0; i < int(fp.Isize); i++ {
		bp, err := alloc.cache.Bread(dev, i+2)
		if err != nil {
			return n, err
		}
		for j := 0; j < common.INOPB; j++ {
			var di common.Dinode
			common.DecodeDinode(bp.Addr[j*common.DINODE_SIZE:], &di)
			if di.Mode == 0 {
				n++
			}
		}
		alloc.cache.Brelse(bp)
	}
	return n, nil
}
