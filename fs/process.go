package fs

import (
	"github.com/dvdphobia/unix-v6-sub000/inode"
)

// User is the part of a process the file system cares about: who it is and
// where its paths start.
type User struct {
	UID  uint8
	GID  uint8
	Cdir *inode.Inode // current directory, always referenced
	Rdir *inode.Inode // root for absolute paths, nil for the volume root
}

func (u *User) suser() bool {
	return u.UID == 0
}

// NewUser returns a user whose current directory is the root.
func (fsys *FileSystem) NewUser(uid, gid uint8) *User {
	fsys.cpu.Enter()
	defer fsys.cpu.Exit()

	return &User{
		UID:  uid,
		GID:  gid,
		Cdir: fsys.inodes.Dup(fsys.rootdir),
	}
}

// Logout drops the directory references held by u.
func (fsys *FileSystem) Logout(u *User) {
	fsys.cpu.Enter()
	defer fsys.cpu.Exit()

	for _, ip := range []*inode.Inode{u.Cdir, u.Rdir} {
		if ip != nil {
			fsys.inodes.Plock(ip)
			fsys.inodes.Iput(ip)
		}
	}
	u.Cdir = nil
	u.Rdir = nil
}
