// Package super keeps the superblock of a mounted volume in core.
package super

import (
	"fmt"

	"github.com/dvdphobia/unix-v6-sub000/bcache"
	"github.com/dvdphobia/unix-v6-sub000/common"
)

// Super is the in-core superblock of a mounted volume. The decoded fields
// are the working copy; Buf is an anonymous buffer pinned for as long as the
// volume is mounted, which the superblock is staged through on its way back
// to disk.
type Super struct {
	common.Filsys
	Dev common.Dev
	Buf *common.Buf
}

// Load reads the superblock of dev. The in-core locks are cleared, since
// whoever held them on disk is gone.
func Load(c *bcache.Cache, dev common.Dev, ronly bool) (*Super, error) {
	bp, err := c.Bread(dev, common.SUPERB)
	if err != nil {
		return nil, err
	}
	sbp := c.GetBlk(common.NO_DEV, 0)
	copy(sbp.Addr, bp.Addr)
	c.Brelse(bp)

	sp := &Super{Dev: dev, Buf: sbp}
	common.DecodeFilsys(sbp.Addr, &sp.Filsys)
	if err := sp.check(); err != nil {
		c.Brelse(sbp)
		return nil, err
	}
	sp.Flock = false
	sp.Ilock = false
	sp.Ronly = ronly
	return sp, nil
}

func (sp *Super) check() error {
	switch {
	case sp.Fsize == 0 || int(sp.Isize)+2 > int(sp.Fsize):
		return fmt.Errorf("superblock of dev %s: isize %d fsize %d: %w", sp.Dev, sp.Isize, sp.Fsize, common.EINVAL)
	case sp.Nfree < 0 || sp.Nfree > common.NICFREE:
		return fmt.Errorf("superblock of dev %s: nfree %d: %w", sp.Dev, sp.Nfree, common.EINVAL)
	case sp.Ninode < 0 || sp.Ninode > common.NICINOD:
		return fmt.Errorf("superblock of dev %s: ninode %d: %w", sp.Dev, sp.Ninode, common.EINVAL)
	}
	return nil
}

// Ninodes returns the number of inodes the volume holds.
func (sp *Super) Ninodes() int {
	return int(sp.Isize) * common.INOPB
}

// Update writes the superblock back if it was modified and nobody is in
// the middle of changing it. A read-only volume is never written.
func (sp *Super) Update(c *bcache.Cache, now int32) error {
	if !sp.Fmod || sp.Ilock || sp.Flock || sp.Ronly {
		return nil
	}
	sp.Fmod = false
	sp.Time = now
	common.EncodeFilsys(sp.Buf.Addr, &sp.Filsys)

	bp := c.GetBlk(sp.Dev, common.SUPERB)
	copy(bp.Addr, sp.Buf.Addr)
	return c.Bwrite(bp)
}

// Release gives the pinned buffer back to the cache.
func (sp *Super) Release(c *bcache.Cache) {
	c.Brelse(sp.Buf)
	sp.Buf = nil
}
