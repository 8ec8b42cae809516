package common

import (
	"bytes"
	"encoding/binary"
)

// All multi-byte quantities on disk are little-endian 16-bit words. A 32-bit
// time is stored as two words, high word first.

func getU16(b []byte) uint16    { return binary.LittleEndian.Uint16(b) }
func putU16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }

func getTime(b []byte) int32 {
	return int32(uint32(getU16(b))<<16 | uint32(getU16(b[2:])))
}

func putTime(b []byte, t int32) {
	putU16(b, uint16(uint32(t)>>16))
	putU16(b[2:], uint16(t))
}

func putBool(b []byte, v bool) {
	b[0] = 0
	if v {
		b[0] = 1
	}
}

//////////////////////////////////////////////////////////////////////////////
// Superblock
//////////////////////////////////////////////////////////////////////////////

const (
	fsIsizeStart  = 0
	fsFsizeStart  = 2
	fsNfreeStart  = 4
	fsFreeStart   = 6
	fsFreeEnd     = fsFreeStart + 2*NICFREE
	fsNinodeStart = fsFreeEnd
	fsInodeStart  = fsNinodeStart + 2
	fsInodeEnd    = fsInodeStart + 2*NICINOD
	fsFlockStart  = fsInodeEnd
	fsIlockStart  = fsFlockStart + 1
	fsFmodStart   = fsIlockStart + 1
	fsRonlyStart  = fsFmodStart + 1
	fsTimeStart   = fsRonlyStart + 1
	fsTimeEnd     = fsTimeStart + 4

	// FILSYS_SIZE is the number of meaningful bytes in the superblock; the
	// rest of the block is zero.
	FILSYS_SIZE = fsTimeEnd
)

// Filsys is the decoded superblock of a volume.
type Filsys struct {
	Isize  uint16          // size in blocks of the inode list
	Fsize  uint16          // size in blocks of the entire volume
	Nfree  int16           // number of addresses in Free
	Free   [NICFREE]uint16 // free block list
	Ninode int16           // number of inodes in Inode
	Inode  [NICINOD]uint16 // free inode list
	Flock  bool            // lock during free list manipulation
	Ilock  bool            // lock during inode list manipulation
	Fmod   bool            // superblock modified flag
	Ronly  bool            // mounted read-only flag
	Time   int32           // last update time
}

func DecodeFilsys(b []byte, fs *Filsys) {
	fs.Isize = getU16(b[fsIsizeStart:])
	fs.Fsize = getU16(b[fsFsizeStart:])
	fs.Nfree = int16(getU16(b[fsNfreeStart:]))
	for i := range fs.Free {
		fs.Free[i] = getU16(b[fsFreeStart+2*i:])
	}
	fs.Ninode = int16(getU16(b[fsNinodeStart:]))
	for i := range fs.Inode {
		fs.Inode[i] = getU16(b[fsInodeStart+2*i:])
	}
	fs.Flock = b[fsFlockStart] != 0
	fs.Ilock = b[fsIlockStart] != 0
	fs.Fmod = b[fsFmodStart] != 0
	fs.Ronly = b[fsRonlyStart] != 0
	fs.Time = getTime(b[fsTimeStart:])
}

func EncodeFilsys(b []byte, fs *Filsys) {
	putU16(b[fsIsizeStart:], fs.Isize)
	putU16(b[fsFsizeStart:], fs.Fsize)
	putU16(b[fsNfreeStart:], uint16(fs.Nfree))
	for i, bno := range fs.Free {
		putU16(b[fsFreeStart+2*i:], bno)
	}
	putU16(b[fsNinodeStart:], uint16(fs.Ninode))
	for i, ino := range fs.Inode {
		putU16(b[fsInodeStart+2*i:], ino)
	}
	putBool(b[fsFlockStart:], fs.Flock)
	putBool(b[fsIlockStart:], fs.Ilock)
	putBool(b[fsFmodStart:], fs.Fmod)
	putBool(b[fsRonlyStart:], fs.Ronly)
	putTime(b[fsTimeStart:], fs.Time)
	for i := FILSYS_SIZE; i < len(b); i++ {
		b[i] = 0
	}
}

//////////////////////////////////////////////////////////////////////////////
// Free chain block
//////////////////////////////////////////////////////////////////////////////

const (
	fbNfreeStart = 0
	fbFreeStart  = 2
)

// DecodeFblk reads the count and addresses held by a link of the on-disk
// free block chain.
func DecodeFblk(b []byte, free *[NICFREE]uint16) int16 {
	for i := range free {
		free[i] = getU16(b[fbFreeStart+2*i:])
	}
	return int16(getU16(b[fbNfreeStart:]))
}

func EncodeFblk(b []byte, nfree int16, free *[NICFREE]uint16) {
	putU16(b[fbNfreeStart:], uint16(nfree))
	for i, bno := range free {
		putU16(b[fbFreeStart+2*i:], bno)
	}
}

//////////////////////////////////////////////////////////////////////////////
// Inode
//////////////////////////////////////////////////////////////////////////////

const (
	diModeStart  = 0
	diNlinkStart = 2
	diUidStart   = 3
	diGidStart   = 4
	diSize0Start = 5
	diSize1Start = 6
	diAddrStart  = 8
	diAddrEnd    = diAddrStart + 2*NADDR
	diAtimeStart = diAddrEnd
	diMtimeStart = diAtimeStart + 4
	diMtimeEnd   = diMtimeStart + 4
)

// Dinode is an inode as stored in the inode list.
type Dinode struct {
	Mode  uint16
	Nlink int8
	Uid   uint8
	Gid   uint8
	Size0 uint8  // most significant byte of the size
	Size1 uint16 // least significant word of the size
	Addr  [NADDR]uint16
	Atime int32
	Mtime int32
}

// Itod returns the block holding inode ino and the byte offset of the inode
// within it.
func Itod(ino int) (blkno, offset int) {
	return (ino + 31) / INOPB, DINODE_SIZE * ((ino + 31) % INOPB)
}

func DecodeDinode(b []byte, di *Dinode) {
	b = b[:diMtimeEnd]
	di.Mode = getU16(b[diModeStart:])
	di.Nlink = int8(b[diNlinkStart])
	di.Uid = b[diUidStart]
	di.Gid = b[diGidStart]
	di.Size0 = b[diSize0Start]
	di.Size1 = getU16(b[diSize1Start:])
	for i := range di.Addr {
		di.Addr[i] = getU16(b[diAddrStart+2*i:])
	}
	di.Atime = getTime(b[diAtimeStart:])
	di.Mtime = getTime(b[diMtimeStart:])
}

func EncodeDinode(b []byte, di *Dinode) {
	b = b[:diMtimeEnd]
	putU16(b[diModeStart:], di.Mode)
	b[diNlinkStart] = byte(di.Nlink)
	b[diUidStart] = di.Uid
	b[diGidStart] = di.Gid
	b[diSize0Start] = di.Size0
	putU16(b[diSize1Start:], di.Size1)
	for i, a := range di.Addr {
		putU16(b[diAddrStart+2*i:], a)
	}
	putTime(b[diAtimeStart:], di.Atime)
	putTime(b[diMtimeStart:], di.Mtime)
}

//////////////////////////////////////////////////////////////////////////////
// Directory entry
//////////////////////////////////////////////////////////////////////////////

const (
	deInoStart  = 0
	deNameStart = 2
	deNameEnd   = deNameStart + DIRSIZ
)

// Dirent is one slot of a directory. Ino 0 marks an empty slot.
type Dirent struct {
	Ino  uint16
	Name [DIRSIZ]byte
}

// DirName converts s to the fixed-size form stored in a directory, silently
// truncating it to DIRSIZ bytes.
func DirName(s string) (name [DIRSIZ]byte) {
	copy(name[:], s)
	return name
}

func (de Dirent) String() string {
	if i := bytes.IndexByte(de.Name[:], 0); i >= 0 {
		return string(de.Name[:i])
	}
	return string(de.Name[:])
}

func DecodeDirent(b []byte, de *Dirent) {
	de.Ino = getU16(b[deInoStart:])
	copy(de.Name[:], b[deNameStart:deNameEnd])
}

func EncodeDirent(b []byte, de *Dirent) {
	putU16(b[deInoStart:], de.Ino)
	copy(b[deNameStart:deNameEnd], de.Name[:])
}

//////////////////////////////////////////////////////////////////////////////
// Indirect block
//////////////////////////////////////////////////////////////////////////////

// Indir returns entry i of the indirect block b.
func Indir(b []byte, i int) int { return int(getU16(b[2*i:])) }

func SetIndir(b []byte, i, bno int) { putU16(b[2*i:], uint16(bno)) }
