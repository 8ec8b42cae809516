// Package mkfs builds empty volumes: a boot block, a superblock, the inode
// list, a root directory and the chain of free blocks.
package mkfs

import (
	"errors"
	"fmt"
	"io"

	"github.com/dvdphobia/unix-v6-sub000/common"
)

var ErrParams = errors.New("bad volume parameters")

// Params describes the volume to build.
type Params struct {
	Size  int   // size of the volume in blocks
	Isize int   // blocks in the inode list, 0 picks one from Size
	Time  int32 // time stamped on the superblock and root directory
}

// DefaultIsize picks an inode list of one inode for every four blocks.
func DefaultIsize(size int) int {
	n := size / (4 * common.INOPB)
	if n < 1 {
		n = 1
	}
	return n
}

func (p *Params) check() error {
	if p.Isize == 0 {
		p.Isize = DefaultIsize(p.Size)
	}
	if p.Size > common.MAXFSIZE {
		return fmt.Errorf("%w: %d blocks, at most %d", ErrParams, p.Size, common.MAXFSIZE)
	}
	if p.Isize < 1 || p.Isize*common.INOPB > 0177777 {
		return fmt.Errorf("%w: inode list of %d blocks", ErrParams, p.Isize)
	}
	// boot, super, inodes, root directory and one free block at least
	if p.Size < p.Isize+4 {
		return fmt.Errorf("%w: %d blocks is too small for %d inode blocks", ErrParams, p.Size, p.Isize)
	}
	return nil
}

// Image returns a freshly formatted volume.
func Image(p Params) ([]byte, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	img := make([]byte, p.Size*common.BSIZE)
	v := &volume{img: img}
	v.sb.Isize = uint16(p.Isize)
	v.sb.Fsize = uint16(p.Size)
	v.sb.Time = p.Time

	// The root directory takes the first data block.
	root := p.Isize + 2
	v.mkroot(root, p.Time)

	// Free in descending order, so that the lowest blocks come off the
	// list first.
	for bno := p.Size - 1; bno > root; bno-- {
		v.free(bno)
	}

	// Cache the lowest inode numbers, with the lowest on top.
	ninodes := p.Isize * common.INOPB
	last := common.ROOTINO + common.NICINOD
	if last > ninodes {
		last = ninodes
	}
	for ino := last; ino > common.ROOTINO; ino-- {
		v.sb.Inode[v.sb.Ninode] = uint16(ino)
		v.sb.Ninode++
	}

	common.EncodeFilsys(v.block(common.SUPERB), &v.sb)
	return img, nil
}

// Format writes a freshly formatted volume to w.
func Format(w io.WriterAt, p Params) error {
	img, err := Image(p)
	if err != nil {
		return err
	}
	if _, err := w.WriteAt(img, 0); err != nil {
		return fmt.Errorf("writing volume: %w", err)
	}
	return nil
}

type volume struct {
	img []byte
	sb  common.Filsys
}

func (v *volume) block(bno int) []byte {
	return v.img[bno*common.BSIZE : (bno+1)*common.BSIZE]
}

func (v *volume) mkroot(bno int, now int32) {
	di := common.Dinode{
		Mode:  common.IALLOC | common.IFDIR | 0777,
		Nlink: 2,
		Atime: now,
		Mtime: now,
	}
	di.Addr[0] = uint16(bno)

	data := v.block(bno)
	for i, name := range []string{".", ".."} {
		de := common.Dirent{Ino: common.ROOTINO, Name: common.DirName(name)}
		common.EncodeDirent(data[i*common.DIRENT_SIZE:], &de)
	}
	di.Size1 = 2 * common.DIRENT_SIZE

	blkno, offset := common.Itod(common.ROOTINO)
	common.EncodeDinode(v.block(blkno)[offset:], &di)
}

// free pushes bno on the free list the same way the kernel does.
func (v *volume) free(bno int) {
	sb := &v.sb
	if sb.Nfree <= 0 {
		sb.Nfree = 1
		sb.Free[0] = 0
	}
	if sb.Nfree >= common.NICFREE {
		common.EncodeFblk(v.block(bno), sb.Nfree, &sb.Free)
		sb.Nfree = 0
	}
	sb.Free[sb.Nfree] = uint16(bno)
	sb.Nfree++
}
