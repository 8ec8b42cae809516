package fs

import (
	"github.com/dvdphobia/unix-v6-sub000/common"
	"github.com/dvdphobia/unix-v6-sub000/inode"
)

// maknode allocates an inode with the given mode on the device of the
// parent Namei left locked in r, and enters it in the directory under
// r.Name. The parent is released; the new inode is returned locked.
func (fsys *FileSystem) maknode(u *User, r *Result, mode uint16) (*inode.Inode, error) {
	ip, err := fsys.alloc.Ialloc(r.Parent.Dev)
	if err != nil {
		fsys.inodes.Iput(r.Parent)
		return nil, err
	}
	ip.Flag |= inode.IACC | inode.IUPD | inode.ICHG
	ip.Mode = mode | common.IALLOC
	ip.Nlink = 1
	ip.Uid = u.UID
	ip.Gid = u.GID

	if err := fsys.wdir(r, ip); err != nil {
		// The inode was never named, so releasing it frees it
		ip.Nlink = 0
		fsys.inodes.Iput(ip)
		return nil, err
	}
	return ip, nil
}

// wdir writes the entry r.Name for ip at r.Offset in r.Parent and releases
// the parent.
func (fsys *FileSystem) wdir(r *Result, ip *inode.Inode) error {
	err := fsys.writeEntry(r.Parent, r.Offset, common.Dirent{Ino: uint16(ip.Number), Name: r.Name})
	fsys.inodes.Iput(r.Parent)
	return err
}

func (fsys *FileSystem) writeEntry(dp *inode.Inode, offset int, de common.Dirent) error {
	var buf [common.DIRENT_SIZE]byte
	common.EncodeDirent(buf[:], &de)
	return fsys.mover.Writei(dp, common.KernelIO(buf[:], offset))
}

// clearEntry empties the directory slot at offset.
func (fsys *FileSystem) clearEntry(dp *inode.Inode, offset int) error {
	return fsys.writeEntry(dp, offset, common.Dirent{})
}

// owner returns the inode named by path, locked, if u owns it or is the
// super-user.
func (fsys *FileSystem) owner(u *User, path string) (*inode.Inode, error) {
	r, err := fsys.Namei(u, StringPath(path), FIND)
	if err != nil {
		return nil, err
	}
	ip := r.Inode
	if u.UID != ip.Uid && !u.suser() {
		fsys.inodes.Iput(ip)
		return nil, common.EPERM
	}
	return ip, nil
}

// readDir returns the live entries of the directory dp.
func (fsys *FileSystem) readDir(dp *inode.Inode) ([]common.Dirent, error) {
	buf := make([]byte, dp.Size())
	io := common.KernelIO(buf, 0)
	if err := fsys.mover.Readi(dp, io); err != nil {
		return nil, err
	}
	buf = buf[:len(buf)-io.Count]

	var ents []common.Dirent
	for off := 0; off+common.DIRENT_SIZE <= len(buf); off += common.DIRENT_SIZE {
		var de common.Dirent
		common.DecodeDirent(buf[off:], &de)
		if de.Ino != 0 {
			ents = append(ents, de)
		}
	}
	return ents, nil
}

func (fsys *FileSystem) stat(ip *inode.Inode) StatInfo {
	m := ip.Mode
	if ip.Layout == inode.Large {
		m |= common.ILARG
	}
	return StatInfo{
		Dev:   ip.Dev,
		Ino:   ip.Number,
		Mode:  m,
		Nlink: int(ip.Nlink),
		Uid:   ip.Uid,
		Gid:   ip.Gid,
		Size:  ip.Size(),
		Addr:  ip.Addr,
		Atime: ip.Atime,
		Mtime: ip.Mtime,
	}
}
