package inode

import (
	"github.com/dvdphobia/unix-v6-sub000/common"
)

// Bmap returns the disk block holding logical block lbn of ip, or 0 if
// there is none. With forWrite set, missing blocks, including any indirect
// blocks on the way, are allocated.
func (t *Table) Bmap(ip *Inode, lbn int, forWrite bool) (int, error) {
	nb, _, err := t.BmapAhead(ip, lbn, forWrite)
	return nb, err
}

// BmapAhead is Bmap, additionally returning the disk block of lbn+1 when it
// is cheaply known, for read-ahead.
func (t *Table) BmapAhead(ip *Inode, lbn int, forWrite bool) (nb, rablock int, err error) {
	if lbn < 0 || lbn > common.MAXLBN {
		return 0, 0, common.EFBIG
	}

	if ip.Layout == Small {
		if lbn < common.NADDR {
			nb = int(ip.Addr[lbn])
			if nb == 0 && forWrite {
				bp, err := t.alloc.Alloc(ip.Dev)
				if err != nil {
					return 0, 0, err
				}
				nb = bp.Blkno
				t.bcache.Bdwrite(bp)
				ip.Addr[lbn] = uint16(nb)
				ip.Flag |= IUPD
			}
			if lbn < common.NADDR-1 {
				rablock = int(ip.Addr[lbn+1])
			}
			return nb, rablock, nil
		}
		if !forWrite {
			return 0, 0, nil
		}
		if err := t.enlarge(ip); err != nil {
			return 0, 0, err
		}
	}

	// Large file: each of the first NSINGLE slots covers NINDIR blocks, the
	// last slot covers the rest through a double-indirect block.
	i := lbn / common.NINDIR
	double := i >= common.NSINGLE
	if double {
		i = common.NSINGLE
	}

	bp, fresh, err := t.indirect(ip, &ip.Addr[i], forWrite)
	if bp == nil || err != nil {
		return 0, 0, err
	}
	if fresh {
		ip.Flag |= IUPD
	}

	if double {
		j := lbn/common.NINDIR - common.NSINGLE
		nb = common.Indir(bp.Addr, j)
		if nb == 0 && !forWrite {
			t.bcache.Brelse(bp)
			return 0, 0, nil
		}
		slot := uint16(nb)
		nbp, nfresh, err := t.indirect(ip, &slot, forWrite)
		if nbp != nil && nfresh {
			common.SetIndir(bp.Addr, j, int(slot))
			fresh = true
		}
		t.release(bp, fresh)
		if nbp == nil || err != nil {
			return 0, 0, err
		}
		bp, fresh = nbp, nfresh
	}

	k := lbn % common.NINDIR
	nb = common.Indir(bp.Addr, k)
	if nb == 0 && forWrite {
		dbp, err := t.alloc.Alloc(ip.Dev)
		if err != nil {
			t.release(bp, fresh)
			return 0, 0, err
		}
		nb = dbp.Blkno
		common.SetIndir(bp.Addr, k, nb)
		t.bcache.Bdwrite(dbp)
		fresh = true
	}
	if k < common.NINDIR-1 {
		rablock = common.Indir(bp.Addr, k+1)
	}
	t.release(bp, fresh)
	return nb, rablock, nil
}

// indirect returns the indirect block named by *slot, allocating it and
// storing its address in *slot when forWrite is set and there is none yet.
// fresh reports that the block has changed and must be written back. A nil
// buffer with a nil error means there is no block.
func (t *Table) indirect(ip *Inode, slot *uint16, forWrite bool) (bp *common.Buf, fresh bool, err error) {
	if *slot != 0 {
		bp, err = t.bcache.Bread(ip.Dev, int(*slot))
		return bp, false, err
	}
	if !forWrite {
		return nil, false, nil
	}
	bp, err = t.alloc.Alloc(ip.Dev)
	if err != nil {
		return nil, false, err
	}
	*slot = uint16(bp.Blkno)
	return bp, true, nil
}

func (t *Table) release(bp *common.Buf, dirty bool) {
	if dirty {
		t.bcache.Bdwrite(bp)
	} else {
		t.bcache.Brelse(bp)
	}
}

// enlarge converts a small file to the large layout. The current direct
// addresses move into a new indirect block, which covers the same logical
// blocks from slot 0.
func (t *Table) enlarge(ip *Inode) error {
	bp, err := t.alloc.Alloc(ip.Dev)
	if err != nil {
		return err
	}
	for i := 0; i < common.NADDR; i++ {
		common.SetIndir(bp.Addr, i, int(ip.Addr[i]))
		ip.Addr[i] = 0
	}
	ip.Addr[0] = uint16(bp.Blkno)
	t.bcache.Bdwrite(bp)
	ip.Layout = Large
	ip.Flag |= IUPD
	return nil
}
