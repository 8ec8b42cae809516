// Package debug prints disk blocks in a readable form.
package debug

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dvdphobia/unix-v6-sub000/common"
)

type BlockType int

const (
	RAW_BLOCK BlockType = iota
	SUPER_BLOCK
	INODE_BLOCK
	DIRECTORY_BLOCK
	FREE_BLOCK // a link in the free chain
)

// Classify guesses what block bno of a volume holds from its place in the
// layout. Data blocks are RAW_BLOCK; only the caller knows better.
func Classify(sb *common.Filsys, bno int) BlockType {
	switch {
	case bno == common.SUPERB:
		return SUPER_BLOCK
	case bno >= 2 && bno < int(sb.Isize)+2:
		return INODE_BLOCK
	}
	return RAW_BLOCK
}

// PrintBlock writes the contents of bp to w, decoded as btype.
func PrintBlock(w io.Writer, bp *common.Buf, btype BlockType) {
	buf := bytes.NewBuffer(nil)
	fmt.Fprintf(buf, "Block %d on dev %s:\n", bp.Blkno, bp.Dev)

	switch btype {
	case SUPER_BLOCK:
		var sb common.Filsys
		common.DecodeFilsys(bp.Addr, &sb)
		fmt.Fprintf(buf, "isize %d fsize %d nfree %d ninode %d\n", sb.Isize, sb.Fsize, sb.Nfree, sb.Ninode)
		fmt.Fprintf(buf, "flock %v ilock %v fmod %v ronly %v time %d\n", sb.Flock, sb.Ilock, sb.Fmod, sb.Ronly, sb.Time)
		fmt.Fprintf(buf, "free %v\n", sb.Free[:clamp(int(sb.Nfree), common.NICFREE)])
		fmt.Fprintf(buf, "inode %v\n", sb.Inode[:clamp(int(sb.Ninode), common.NICINOD)])
	case INODE_BLOCK:
		// Inode numbers start at 1 in block 2
		inum := (bp.Blkno-2)*common.INOPB + 1
		fmt.Fprintf(buf, "%8s %-8s %6s %4s %4s %8s %s\n", "INODE #", "MODE", "NLINKS", "UID", "GID", "SIZE", "ADDR")
		for i := 0; i < common.INOPB; i++ {
			var di common.Dinode
			common.DecodeDinode(bp.Addr[i*common.DINODE_SIZE:], &di)
			if di.Mode == 0 {
				continue
			}
			size := int(di.Size0)<<16 | int(di.Size1)
			fmt.Fprintf(buf, "%8d %08o %6d %4d %4d %8d %v\n", inum+i, di.Mode, di.Nlink, di.Uid, di.Gid, size, di.Addr)
		}
	case DIRECTORY_BLOCK:
		for i := 0; i < common.BSIZE/common.DIRENT_SIZE; i++ {
			var de common.Dirent
			common.DecodeDirent(bp.Addr[i*common.DIRENT_SIZE:], &de)
			if de.Ino != 0 {
				fmt.Fprintf(buf, "Entry %4d: \"%s\" at inode %5d\n", i, de, de.Ino)
			}
		}
	case FREE_BLOCK:
		var free [common.NICFREE]uint16
		n := common.DecodeFblk(bp.Addr, &free)
		fmt.Fprintf(buf, "nfree %d\nfree %v\n", n, free[:clamp(int(n), common.NICFREE)])
	default:
		octal(buf, bp.Addr)
	}
	w.Write(buf.Bytes())
}

func clamp(n, max int) int {
	if n < 0 {
		return 0
	}
	if n > max {
		return max
	}
	return n
}

// octal dumps b as od(1) does, eight 16-bit words to a line. A run of
// lines equal to the one before is shown as a single "*".
func octal(w io.Writer, b []byte) {
	var prev []byte
	star := false
	for off := 0; off < len(b); off += 16 {
		line := b[off:min(off+16, len(b))]
		if prev != nil && bytes.Equal(line, prev) {
			if !star {
				fmt.Fprintln(w, "*")
				star = true
			}
			continue
		}
		star = false
		fmt.Fprintf(w, "%07o", off)
		for i := 0; i+1 < len(line); i += 2 {
			fmt.Fprintf(w, " %06o", uint16(line[i])|uint16(line[i+1])<<8)
		}
		fmt.Fprintln(w)
		prev = line
	}
	fmt.Fprintf(w, "%07o\n", len(b))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
