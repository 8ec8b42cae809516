package common

// Sizes fixed by the on-disk format.
const (
	BSIZE       = 512        // size of a disk block in bytes
	NADDR       = 8          // block address slots in an inode
	NSINGLE     = 7          // single-indirect slots in a large file
	NINDIR      = BSIZE / 2  // 16-bit addresses per indirect block
	DIRSIZ      = 14         // bytes in a directory entry name
	DIRENT_SIZE = DIRSIZ + 2 // bytes in a directory entry
	DINODE_SIZE = 32         // bytes in an on-disk inode
	INOPB       = BSIZE / 32 // inodes per block
	NICFREE     = 100        // free block numbers cached in the superblock
	NICINOD     = 100        // free inode numbers cached in the superblock
	SUPERB      = 1          // block number of the superblock
	ROOTINO     = 1          // inode number of the root directory
	MAXLBN      = 077777     // last logical block reachable by a 24-bit size
	MAXSIZE     = 1<<24 - 1  // largest file size in bytes
	MAXFSIZE    = 1<<16 - 1  // largest volume, in blocks
	BMASK       = BSIZE - 1  // byte offset within a block
	BSHIFT      = 9          // log2(BSIZE)
	NLINKMAX    = 127        // largest link count an int8 can carry
)

// Default table sizes. These are tunables, see the config package.
const (
	NBUF   = 15  // size of the buffer cache
	NINODE = 100 // size of the in-core inode table
	NMOUNT = 5   // number of mountable volumes
)

// Sleep priorities. Negative priorities are not interruptible.
const (
	PINOD  = -90
	PRIBIO = -50
	PWAIT  = 40
)

// Mode bits of an inode.
const (
	IALLOC = 0100000 // file is in use
	IFMT   = 060000  // type of file
	IFDIR  = 040000  // directory
	IFCHR  = 020000  // character special
	IFBLK  = 060000  // block special, 0 is regular
	ILARG  = 010000  // large addressing algorithm, on disk only
	ISUID  = 04000   // set user id on execution
	ISGID  = 02000   // set group id on execution
	ISVTX  = 01000   // save swapped text even after use
	IREAD  = 0400    // read, write, execute permissions
	IWRITE = 0200
	IEXEC  = 0100
)
