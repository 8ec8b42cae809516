// Package file moves bytes between files and memory, one block at a time.
// Regular files and directories go through the block mapper and the buffer
// cache; special files go straight to their driver.
package file

import (
	"github.com/dvdphobia/unix-v6-sub000/bcache"
	"github.com/dvdphobia/unix-v6-sub000/common"
	"github.com/dvdphobia/unix-v6-sub000/device"
	"github.com/dvdphobia/unix-v6-sub000/inode"
)

type Mover struct {
	cache  *bcache.Cache
	inodes *inode.Table
	sw     *device.Switch
}

func New(cache *bcache.Cache, inodes *inode.Table, sw *device.Switch) *Mover {
	return &Mover{cache: cache, inodes: inodes, sw: sw}
}

var zeroes [common.BSIZE]byte

// special returns the device a special file stands for.
func special(ip *inode.Inode) common.Dev {
	return common.Dev(ip.Addr[0])
}

func (m *Mover) cdev(ip *inode.Inode) (common.CharDevice, error) {
	if d := m.sw.Cdev(special(ip)); d != nil {
		return d, nil
	}
	return nil, common.ENXIO
}

// bdev checks that a block special file names a configured major.
func (m *Mover) bdev(ip *inode.Inode) (common.Dev, error) {
	dev := special(ip)
	if dev.Major() >= m.sw.Nblkdev() {
		return dev, common.ENXIO
	}
	return dev, nil
}

func chunk(io *common.IO) (lbn, on, n int) {
	lbn = io.Offset >> common.BSHIFT
	on = io.Offset & common.BMASK
	n = common.BSIZE - on
	if n > io.Count {
		n = io.Count
	}
	return lbn, on, n
}

// Readi reads from ip at io.Offset. Reading stops at the end of the file,
// and a block that was never written reads as zeroes.
func (m *Mover) Readi(ip *inode.Inode, io *common.IO) error {
	if io.Count == 0 {
		return nil
	}
	if io.Offset < 0 {
		return common.EINVAL
	}
	ip.Flag |= inode.IACC

	typ := ip.Type()
	if typ == common.IFCHR {
		d, err := m.cdev(ip)
		if err != nil {
			return err
		}
		return d.Read(special(ip), io)
	}

	for io.Count > 0 {
		lbn, on, n := chunk(io)
		var dn common.Dev
		var bn, rablock int
		if typ == common.IFBLK {
			var err error
			if dn, err = m.bdev(ip); err != nil {
				return err
			}
			bn, rablock = lbn, lbn+1
		} else {
			remain := ip.Size() - io.Offset
			if remain <= 0 {
				return nil
			}
			if n > remain {
				n = remain
			}
			var err error
			if bn, rablock, err = m.inodes.BmapAhead(ip, lbn, false); err != nil {
				return err
			}
			if bn == 0 {
				if err := Iomove(zeroes[on:on+n], io, common.B_READ); err != nil {
					return err
				}
				continue
			}
			dn = ip.Dev
		}

		var bp *common.Buf
		var err error
		if ip.Lastr+1 == lbn {
			bp, err = m.cache.Breada(dn, bn, rablock)
		} else {
			bp, err = m.cache.Bread(dn, bn)
		}
		if err != nil {
			return err
		}
		ip.Lastr = lbn
		err = Iomove(bp.Addr[on:on+n], io, common.B_READ)
		m.cache.Brelse(bp)
		if err != nil {
			return err
		}
	}
	return nil
}

// Writei writes to ip at io.Offset, allocating blocks as needed and growing
// the file. A block filled to its end is written at once; a partial block
// is left in the cache in case more follows.
func (m *Mover) Writei(ip *inode.Inode, io *common.IO) error {
	if io.Offset < 0 {
		return common.EINVAL
	}
	ip.Flag |= inode.IACC | inode.IUPD

	typ := ip.Type()
	if typ == common.IFCHR {
		d, err := m.cdev(ip)
		if err != nil {
			return err
		}
		return d.Write(special(ip), io)
	}
	if io.Count == 0 {
		return nil
	}

	for io.Count > 0 {
		lbn, on, n := chunk(io)
		if typ != common.IFBLK {
			// sizes are 24 bits
			if io.Offset >= common.MAXSIZE {
				return common.EFBIG
			}
			if io.Offset+n > common.MAXSIZE {
				n = common.MAXSIZE - io.Offset
			}
		}
		var dn common.Dev
		var bn int
		if typ == common.IFBLK {
			var err error
			if dn, err = m.bdev(ip); err != nil {
				return err
			}
			bn = lbn
		} else {
			var err error
			if bn, err = m.inodes.Bmap(ip, lbn, true); err != nil {
				return err
			}
			dn = ip.Dev
		}

		var bp *common.Buf
		if n == common.BSIZE {
			bp = m.cache.GetBlk(dn, bn)
			if bp.Flags&common.B_DONE == 0 {
				bcache.Clrbuf(bp)
			}
		} else {
			var err error
			if bp, err = m.cache.Bread(dn, bn); err != nil {
				return err
			}
		}

		before := io.Count
		err := Iomove(bp.Addr[on:on+n], io, common.B_WRITE)
		if io.Count == before {
			m.cache.Brelse(bp)
		} else if io.Offset&common.BMASK == 0 {
			m.cache.Bawrite(bp)
		} else {
			m.cache.Bdwrite(bp)
		}
		if typ != common.IFBLK && ip.Size() < io.Offset {
			ip.SetSize(io.Offset)
		}
		ip.Flag |= inode.IUPD
		if err != nil {
			return err
		}
	}
	return nil
}

// Iomove moves len(b) bytes between b and the memory io describes, in the
// direction flag gives: B_READ copies b out to memory, B_WRITE copies
// memory into b. io advances by the bytes moved, even on a fault.
func Iomove(b []byte, io *common.IO, flag int) error {
	n := len(b)
	if io.Seg == common.KERNEL_SEG {
		if io.Base < 0 || io.Base+n > len(io.Kernel) {
			return common.EFAULT
		}
		if flag == common.B_WRITE {
			copy(b, io.Kernel[io.Base:])
		} else {
			copy(io.Kernel[io.Base:], b)
		}
		advance(io, n)
		return nil
	}

	// Word-aligned transfers go in bulk
	if (n|io.Base|io.Offset)&1 == 0 {
		var err error
		if flag == common.B_WRITE {
			err = io.User.CopyIn(io.Base, b)
		} else {
			err = io.User.CopyOut(io.Base, b)
		}
		if err != nil {
			return common.EFAULT
		}
		advance(io, n)
		return nil
	}

	for i := range b {
		if flag == common.B_WRITE {
			c, err := io.User.Fubyte(io.Base)
			if err != nil {
				return common.EFAULT
			}
			b[i] = c
		} else if err := io.User.Subyte(io.Base, b[i]); err != nil {
			return common.EFAULT
		}
		advance(io, 1)
	}
	return nil
}

func advance(io *common.IO, n int) {
	io.Base += n
	io.Offset += n
	io.Count -= n
}
