package fs

import (
	"github.com/dvdphobia/unix-v6-sub000/common"
	"github.com/dvdphobia/unix-v6-sub000/inode"
)

// Lookup modes for Namei.
const (
	FIND   = 0 // look the name up
	CREATE = 1 // look up a name about to be created
	DELETE = 2 // look up a name about to be removed
)

// Result is what Namei found.
//
// FIND returns the inode in Inode, locked. CREATE returns an existing
// inode the same way; when the last component is absent, Inode is nil and
// Parent holds the directory locked, with Offset naming the slot a new
// entry goes into. DELETE returns the target locked in Inode, and Parent
// referenced but unlocked, with Offset and Ino naming the entry. Deleting
// "." leaves both naming the same locked inode, referenced twice.
type Result struct {
	Inode  *inode.Inode
	Parent *inode.Inode
	Name   [common.DIRSIZ]byte
	Ino    int
	Offset int
}

// StringPath returns a path source for Namei reading s. It yields 0 once s
// is exhausted.
func StringPath(s string) func() byte {
	i := 0
	return func() byte {
		if i >= len(s) {
			return 0
		}
		c := s[i]
		i++
		return c
	}
}

var dotdot = common.DirName("..")

// Namei converts a path name to an inode. next returns the bytes of the
// path in turn, then 0.
func (fsys *FileSystem) Namei(u *User, next func() byte, mode int) (*Result, error) {
	dp := u.Cdir
	c := next()
	if c == '/' {
		dp = fsys.rootdir
		if u.Rdir != nil {
			dp = u.Rdir
		}
	}
	dp, err := fsys.inodes.Iget(dp.Dev, dp.Number)
	if err != nil {
		return nil, err
	}
	for c == '/' {
		c = next()
	}
	if c == 0 && mode != FIND {
		fsys.inodes.Iput(dp)
		return nil, common.ENOENT
	}

	for c != 0 {
		if dp.Type() != common.IFDIR {
			fsys.inodes.Iput(dp)
			return nil, common.ENOTDIR
		}
		if err := fsys.Access(u, dp, common.IEXEC); err != nil {
			fsys.inodes.Iput(dp)
			return nil, err
		}

		var name [common.DIRSIZ]byte
		for i := 0; c != '/' && c != 0; c = next() {
			if i < common.DIRSIZ {
				name[i] = c
				i++
			}
		}
		for c == '/' {
			c = next()
		}

		if name == dotdot {
			dp = fsys.climb(u, dp)
		}

		off, ino, free, err := fsys.search(dp, name)
		if err != nil {
			fsys.inodes.Iput(dp)
			return nil, err
		}

		if ino == 0 {
			if mode == CREATE && c == 0 {
				if err := fsys.Access(u, dp, common.IWRITE); err != nil {
					fsys.inodes.Iput(dp)
					return nil, err
				}
				return &Result{Parent: dp, Name: name, Offset: free}, nil
			}
			fsys.inodes.Iput(dp)
			return nil, common.ENOENT
		}

		if mode == DELETE && c == 0 {
			if err := fsys.Access(u, dp, common.IWRITE); err != nil {
				fsys.inodes.Iput(dp)
				return nil, err
			}
			r := &Result{Parent: dp, Name: name, Ino: ino, Offset: off}
			if dp.Number == ino {
				r.Inode = fsys.inodes.Dup(dp)
				return r, nil
			}
			fsys.inodes.Prele(dp)
			if r.Inode, err = fsys.inodes.Iget(dp.Dev, ino); err != nil {
				fsys.inodes.Plock(dp)
				fsys.inodes.Iput(dp)
				return nil, err
			}
			return r, nil
		}

		dev := dp.Dev
		fsys.inodes.Iput(dp)
		if dp, err = fsys.inodes.Iget(dev, ino); err != nil {
			return nil, err
		}
	}
	return &Result{Inode: dp}, nil
}

// climb handles ".." at the root of a mounted volume by moving to the
// directory the volume is mounted on. The root a user is confined to is
// never left.
func (fsys *FileSystem) climb(u *User, dp *inode.Inode) *inode.Inode {
	if u.Rdir != nil && dp == u.Rdir {
		return dp
	}
	if dp.Number != common.ROOTINO {
		return dp
	}
	covered := fsys.mounts.covered(dp.Dev)
	if covered == nil {
		return dp
	}
	fsys.inodes.Iput(dp)
	dp = fsys.inodes.Dup(covered)
	fsys.inodes.Plock(dp)
	return dp
}

// search scans the directory dp for name. It returns the offset and inode
// number of the entry (0 when absent), and the offset of the first empty
// slot, which is the end of the directory when there is none.
func (fsys *FileSystem) search(dp *inode.Inode, name [common.DIRSIZ]byte) (off, ino, free int, err error) {
	size := dp.Size()
	free = -1
	var bp *common.Buf
	defer func() {
		if bp != nil {
			fsys.cache.Brelse(bp)
		}
	}()

	var de common.Dirent
	for off = 0; off < size; off += common.DIRENT_SIZE {
		if off&common.BMASK == 0 {
			if bp != nil {
				fsys.cache.Brelse(bp)
				bp = nil
			}
			bn, err := fsys.inodes.Bmap(dp, off>>common.BSHIFT, false)
			if err != nil {
				return 0, 0, 0, err
			}
			if bn == 0 {
				// A hole holds no entries
				if free < 0 {
					free = off
				}
				off += common.BSIZE - common.DIRENT_SIZE
				continue
			}
			if bp, err = fsys.cache.Bread(dp.Dev, bn); err != nil {
				bp = nil
				return 0, 0, 0, err
			}
		}
		common.DecodeDirent(bp.Addr[off&common.BMASK:], &de)
		if de.Ino == 0 {
			if free < 0 {
				free = off
			}
			continue
		}
		if de.Name == name {
			return off, int(de.Ino), free, nil
		}
	}
	if free < 0 {
		free = size
	}
	return 0, 0, free, nil
}

// Access checks that u may use ip in the given way, one of IREAD, IWRITE
// or IEXEC.
func (fsys *FileSystem) Access(u *User, ip *inode.Inode, mode uint16) error {
	if mode == common.IWRITE {
		if fsys.mounts.Getfs(ip.Dev).Ronly {
			return common.EROFS
		}
		if ip.Flag&inode.ITEXT != 0 {
			return common.ETXTBSY
		}
	}
	if u.suser() {
		if mode == common.IEXEC && ip.Mode&(common.IEXEC|common.IEXEC>>3|common.IEXEC>>6) == 0 {
			return common.EACCES
		}
		return nil
	}
	if u.UID != ip.Uid {
		mode >>= 3
		if u.GID != ip.Gid {
			mode >>= 3
		}
	}
	if ip.Mode&mode != 0 {
		return nil
	}
	return common.EACCES
}
