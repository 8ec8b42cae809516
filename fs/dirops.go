package fs

import (
	"github.com/dvdphobia/unix-v6-sub000/common"
	"github.com/dvdphobia/unix-v6-sub000/inode"
)

// Link makes newpath a second name for the file at oldpath. Only the
// super-user may link a directory.
func (fsys *FileSystem) Link(u *User, oldpath, newpath string) error {
	fsys.cpu.Enter()
	defer fsys.cpu.Exit()

	r, err := fsys.Namei(u, StringPath(oldpath), FIND)
	if err != nil {
		return err
	}
	ip := r.Inode
	if ip.Nlink >= common.NLINKMAX {
		fsys.inodes.Iput(ip)
		return common.EMLINK
	}
	if ip.Type() == common.IFDIR && !u.suser() {
		fsys.inodes.Iput(ip)
		return common.EPERM
	}

	// Unlocked while looking up the new name, which may pass through ip
	fsys.inodes.Prele(ip)
	defer func() {
		fsys.inodes.Plock(ip)
		fsys.inodes.Iput(ip)
	}()

	r, err = fsys.Namei(u, StringPath(newpath), CREATE)
	if err != nil {
		return err
	}
	if r.Inode != nil {
		fsys.inodes.Iput(r.Inode)
		return common.EEXIST
	}
	if r.Parent.Dev != ip.Dev {
		fsys.inodes.Iput(r.Parent)
		return common.EXDEV
	}
	if err := fsys.wdir(r, ip); err != nil {
		return err
	}
	ip.Nlink++
	ip.Flag |= inode.IUPD | inode.ICHG
	return nil
}

// Unlink removes the directory entry path. Only the super-user may unlink
// a directory. The file itself goes once its last name and reference are
// gone.
func (fsys *FileSystem) Unlink(u *User, path string) error {
	fsys.cpu.Enter()
	defer fsys.cpu.Exit()

	r, err := fsys.Namei(u, StringPath(path), DELETE)
	if err != nil {
		return err
	}
	dp, ip := r.Parent, r.Inode
	release := func() {
		fsys.inodes.Iput(ip)
		fsys.inodes.Plock(dp)
		fsys.inodes.Iput(dp)
	}

	if ip.Type() == common.IFDIR && !u.suser() {
		release()
		return common.EPERM
	}
	if ip.Dev != dp.Dev {
		// A volume is mounted there
		release()
		return common.EBUSY
	}
	if err := fsys.clearEntry(dp, r.Offset); err != nil {
		release()
		return err
	}
	ip.Nlink--
	ip.Flag |= inode.ICHG
	release()
	return nil
}

// Mkdir creates the directory path with entries for itself and its
// parent.
func (fsys *FileSystem) Mkdir(u *User, path string, perm uint16) error {
	fsys.cpu.Enter()
	defer fsys.cpu.Exit()

	r, err := fsys.Namei(u, StringPath(path), CREATE)
	if err != nil {
		return err
	}
	if r.Inode != nil {
		fsys.inodes.Iput(r.Inode)
		return common.EEXIST
	}
	dp := r.Parent
	if dp.Nlink >= common.NLINKMAX {
		fsys.inodes.Iput(dp)
		return common.EMLINK
	}

	// maknode releases the parent, keep hold of it for the link count
	fsys.inodes.Dup(dp)
	defer func() {
		fsys.inodes.Plock(dp)
		fsys.inodes.Iput(dp)
	}()

	ip, err := fsys.maknode(u, r, common.IFDIR|perm&07777)
	if err != nil {
		return err
	}
	err = fsys.writeEntry(ip, 0, common.Dirent{Ino: uint16(ip.Number), Name: common.DirName(".")})
	if err == nil {
		err = fsys.writeEntry(ip, common.DIRENT_SIZE, common.Dirent{Ino: uint16(dp.Number), Name: common.DirName("..")})
	}
	if err != nil {
		ip.Nlink = 0
		fsys.inodes.Iput(ip)
		fsys.inodes.Plock(dp)
		if cerr := fsys.clearEntry(dp, r.Offset); cerr != nil {
			err = cerr
		}
		fsys.inodes.Prele(dp)
		return err
	}
	ip.Nlink = 2
	fsys.inodes.Iput(ip)

	fsys.inodes.Plock(dp)
	dp.Nlink++
	dp.Flag |= inode.IUPD | inode.ICHG
	fsys.inodes.Prele(dp)
	return nil
}
