package fs

import (
	"fmt"
	"path"

	"github.com/dvdphobia/unix-v6-sub000/common"
	"github.com/dvdphobia/unix-v6-sub000/inode"
	"github.com/dvdphobia/unix-v6-sub000/mkfs"
)

// StatInfo describes a file.
type StatInfo struct {
	Dev   common.Dev
	Ino   int
	Mode  uint16 // including ILARG
	Nlink int
	Uid   uint8
	Gid   uint8
	Size  int
	Addr  [common.NADDR]uint16
	Atime int32
	Mtime int32
}

func (st StatInfo) IsDir() bool {
	return st.Mode&common.IFMT == common.IFDIR
}

// FsStat describes a mounted volume.
type FsStat struct {
	Dev    common.Dev
	Fsize  int // blocks in the volume
	Isize  int // blocks of inodes
	Free   int // free blocks
	Inodes int // inodes in the volume
	Ifree  int // free inodes
	Ronly  bool
}

// Open opens the file at path for reading, writing or both, as mode
// (FREAD, FWRITE) says. A directory cannot be opened for writing.
func (fsys *FileSystem) Open(u *User, path string, mode int) (*File, error) {
	fsys.cpu.Enter()
	defer fsys.cpu.Exit()

	if mode&(FREAD|FWRITE) == 0 {
		return nil, common.EINVAL
	}
	r, err := fsys.Namei(u, StringPath(path), FIND)
	if err != nil {
		return nil, err
	}
	return fsys.open1(u, r.Inode, mode, false, false)
}

// Creat opens the file at path for writing, creating it with permissions
// perm if it does not exist and emptying it if it does.
func (fsys *FileSystem) Creat(u *User, path string, perm uint16) (*File, error) {
	fsys.cpu.Enter()
	defer fsys.cpu.Exit()

	r, err := fsys.Namei(u, StringPath(path), CREATE)
	if err != nil {
		return nil, err
	}
	if r.Inode != nil {
		return fsys.open1(u, r.Inode, FWRITE, true, false)
	}
	ip, err := fsys.maknode(u, r, perm&07777&^common.ISVTX)
	if err != nil {
		return nil, err
	}
	return fsys.open1(u, ip, FWRITE, false, true)
}

// open1 checks the access mode against the locked inode ip and makes a
// File for it. A file that was just created passes without checks.
func (fsys *FileSystem) open1(u *User, ip *inode.Inode, mode int, trunc, created bool) (*File, error) {
	if !created {
		var err error
		if mode&FREAD != 0 {
			err = fsys.Access(u, ip, common.IREAD)
		}
		if err == nil && mode&FWRITE != 0 {
			err = fsys.Access(u, ip, common.IWRITE)
			if err == nil && ip.Type() == common.IFDIR {
				err = common.EISDIR
			}
		}
		if err != nil {
			fsys.inodes.Iput(ip)
			return nil, err
		}
	}
	if trunc {
		fsys.inodes.Itrunc(ip)
	}
	fsys.inodes.Prele(ip)
	return &File{fsys: fsys, inode: ip, flag: mode}, nil
}

// Mknod makes a node of any kind. For a special file, dev is the device it
// stands for. Only the super-user may do this.
func (fsys *FileSystem) Mknod(u *User, path string, mode uint16, dev common.Dev) error {
	fsys.cpu.Enter()
	defer fsys.cpu.Exit()

	if !u.suser() {
		return common.EPERM
	}
	r, err := fsys.Namei(u, StringPath(path), CREATE)
	if err != nil {
		return err
	}
	if r.Inode != nil {
		fsys.inodes.Iput(r.Inode)
		return common.EEXIST
	}
	ip, err := fsys.maknode(u, r, mode&^common.IALLOC)
	if err != nil {
		return err
	}
	if t := ip.Type(); t == common.IFCHR || t == common.IFBLK {
		ip.Addr[0] = uint16(dev)
	}
	fsys.inodes.Iput(ip)
	return nil
}

// Chdir makes the directory at path the current directory of u.
func (fsys *FileSystem) Chdir(u *User, path string) error {
	fsys.cpu.Enter()
	defer fsys.cpu.Exit()

	r, err := fsys.Namei(u, StringPath(path), FIND)
	if err != nil {
		return err
	}
	ip := r.Inode
	if ip.Type() != common.IFDIR {
		fsys.inodes.Iput(ip)
		return common.ENOTDIR
	}
	if err := fsys.Access(u, ip, common.IEXEC); err != nil {
		fsys.inodes.Iput(ip)
		return err
	}
	fsys.inodes.Prele(ip)
	old := u.Cdir
	u.Cdir = ip
	fsys.inodes.Plock(old)
	fsys.inodes.Iput(old)
	return nil
}

// Chmod sets the permission bits of the file at path. Only the owner or
// the super-user may, and only the super-user may set the sticky bit.
func (fsys *FileSystem) Chmod(u *User, path string, mode uint16) error {
	fsys.cpu.Enter()
	defer fsys.cpu.Exit()

	ip, err := fsys.owner(u, path)
	if err != nil {
		return err
	}
	if !u.suser() {
		mode &^= common.ISVTX
	}
	ip.Mode = ip.Mode&^07777 | mode&07777
	ip.Flag |= inode.IUPD | inode.ICHG
	fsys.inodes.Iput(ip)
	return nil
}

// Chown gives the file at path a new owner and group.
func (fsys *FileSystem) Chown(u *User, path string, uid, gid uint8) error {
	fsys.cpu.Enter()
	defer fsys.cpu.Exit()

	ip, err := fsys.owner(u, path)
	if err != nil {
		return err
	}
	ip.Uid = uid
	ip.Gid = gid
	ip.Flag |= inode.IUPD | inode.ICHG
	fsys.inodes.Iput(ip)
	return nil
}

func (fsys *FileSystem) Stat(u *User, path string) (StatInfo, error) {
	fsys.cpu.Enter()
	defer fsys.cpu.Exit()

	r, err := fsys.Namei(u, StringPath(path), FIND)
	if err != nil {
		return StatInfo{}, err
	}
	st := fsys.stat(r.Inode)
	fsys.inodes.Iput(r.Inode)
	return st, nil
}

// ReadDir returns the entries of the directory at path, in directory
// order, skipping empty slots.
func (fsys *FileSystem) ReadDir(u *User, path string) ([]common.Dirent, error) {
	fsys.cpu.Enter()
	defer fsys.cpu.Exit()

	r, err := fsys.Namei(u, StringPath(path), FIND)
	if err != nil {
		return nil, err
	}
	ip := r.Inode
	defer fsys.inodes.Iput(ip)

	if ip.Type() != common.IFDIR {
		return nil, common.ENOTDIR
	}
	if err := fsys.Access(u, ip, common.IREAD); err != nil {
		return nil, err
	}
	return fsys.readDir(ip)
}

// Statfs counts the free blocks and inodes of the volume on dev.
func (fsys *FileSystem) Statfs(dev common.Dev) (FsStat, error) {
	fsys.cpu.Enter()
	defer fsys.cpu.Exit()

	m := fsys.mounts.lookup(dev)
	if m == nil {
		return FsStat{}, common.EINVAL
	}
	nfree, err := fsys.alloc.CountFree(dev)
	if err != nil {
		return FsStat{}, err
	}
	nifree, err := fsys.alloc.CountIfree(dev)
	if err != nil {
		return FsStat{}, err
	}
	return FsStat{
		Dev:    dev,
		Fsize:  int(m.sb.Fsize),
		Isize:  int(m.sb.Isize),
		Free:   nfree,
		Inodes: m.sb.Ninodes(),
		Ifree:  nifree,
		Ronly:  m.sb.Ronly,
	}, nil
}

// Populate creates the tree of a prototype under dir.
func (fsys *FileSystem) Populate(u *User, dir string, entries []mkfs.Entry) error {
	for _, e := range entries {
		name := path.Join(dir, e.Name)
		if e.IsDir() {
			if err := fsys.Mkdir(u, name, e.Perm()); err != nil {
				return fmt.Errorf("making `%s`: %w", name, err)
			}
		} else if err := fsys.populateFile(u, name, e); err != nil {
			return err
		}
		if err := fsys.Chown(u, name, e.Uid, e.Gid); err != nil {
			return fmt.Errorf("changing owner of `%s`: %w", name, err)
		}
		if e.IsDir() {
			if err := fsys.Populate(u, name, e.Entries); err != nil {
				return err
			}
		}
	}
	return nil
}

func (fsys *FileSystem) populateFile(u *User, name string, e mkfs.Entry) error {
	data, err := e.Contents()
	if err != nil {
		return err
	}
	f, err := fsys.Creat(u, name, e.Perm())
	if err != nil {
		return fmt.Errorf("creating `%s`: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing `%s`: %w", name, err)
	}
	return f.Close()
}

// ReadBlock returns a copy of block bno of the mounted volume on dev, as
// the cache holds it.
func (fsys *FileSystem) ReadBlock(dev common.Dev, bno int) (*common.Buf, error) {
	fsys.cpu.Enter()
	defer fsys.cpu.Exit()

	m := fsys.mounts.lookup(dev)
	if m == nil {
		return nil, common.EINVAL
	}
	if bno < 0 || bno >= int(m.sb.Fsize) {
		return nil, common.ENXIO
	}
	bp, err := fsys.cache.Bread(dev, bno)
	if err != nil {
		return nil, err
	}
	cp := &common.Buf{Dev: bp.Dev, Blkno: bp.Blkno, Addr: make([]byte, common.BSIZE)}
	copy(cp.Addr, bp.Addr)
	fsys.cache.Brelse(bp)
	return cp, nil
}
