package fs

import (
	"fmt"

	"github.com/dvdphobia/unix-v6-sub000/common"
	"github.com/dvdphobia/unix-v6-sub000/inode"
	"github.com/dvdphobia/unix-v6-sub000/super"
)

type mount struct {
	dev   common.Dev
	sb    *super.Super // nil when the slot is free
	inodp *inode.Inode // directory mounted on, nil for the root volume
}

// mountTable lists the mounted volumes. Slot 0 holds the root.
type mountTable struct {
	slots []mount
}

func newMountTable(size int) *mountTable {
	return &mountTable{slots: make([]mount, size)}
}

func (mt *mountTable) lookup(dev common.Dev) *mount {
	for i := range mt.slots {
		if m := &mt.slots[i]; m.sb != nil && m.dev == dev {
			return m
		}
	}
	return nil
}

// Getfs returns the superblock of dev, which must be mounted.
func (mt *mountTable) Getfs(dev common.Dev) *super.Super {
	if m := mt.lookup(dev); m != nil {
		return m.sb
	}
	panic(fmt.Sprintf("no fs on dev %s", dev))
}

// Mounted returns the device mounted on ip.
func (mt *mountTable) Mounted(ip *inode.Inode) (common.Dev, bool) {
	for i := range mt.slots {
		if m := &mt.slots[i]; m.sb != nil && m.inodp == ip {
			return m.dev, true
		}
	}
	return common.NO_DEV, false
}

// covered returns the directory dev is mounted on, or nil for the root
// volume.
func (mt *mountTable) covered(dev common.Dev) *inode.Inode {
	if m := mt.lookup(dev); m != nil {
		return m.inodp
	}
	return nil
}

func (mt *mountTable) free() *mount {
	for i := range mt.slots {
		if m := &mt.slots[i]; m.sb == nil {
			return m
		}
	}
	return nil
}

// Mount mounts the volume on dev onto the directory named by path. Only
// the super-user may mount.
func (fsys *FileSystem) Mount(u *User, dev common.Dev, path string, ronly bool) error {
	fsys.cpu.Enter()
	defer fsys.cpu.Exit()

	if !u.suser() {
		return common.EPERM
	}
	r, err := fsys.Namei(u, StringPath(path), FIND)
	if err != nil {
		return err
	}
	ip := r.Inode
	if ip.Type() != common.IFDIR {
		fsys.inodes.Iput(ip)
		return common.ENOTDIR
	}
	if ip.Count != 1 {
		fsys.inodes.Iput(ip)
		return common.EBUSY
	}
	if fsys.mounts.lookup(dev) != nil {
		fsys.inodes.Iput(ip)
		return common.EBUSY
	}
	m := fsys.mounts.free()
	if m == nil {
		fsys.inodes.Iput(ip)
		return common.EBUSY
	}

	if err := fsys.sw.Open(dev, ronly); err != nil {
		fsys.inodes.Iput(ip)
		return err
	}
	sb, err := super.Load(fsys.cache, dev, ronly)
	if err != nil {
		fsys.sw.Close(dev)
		fsys.cache.Binval(dev)
		fsys.inodes.Iput(ip)
		return err
	}
	*m = mount{dev: dev, sb: sb, inodp: ip}
	ip.Flag |= inode.IMOUNT
	fsys.inodes.Prele(ip)
	return nil
}

// Unmount detaches the volume on dev, once nothing on it is in use.
func (fsys *FileSystem) Unmount(u *User, dev common.Dev) error {
	fsys.cpu.Enter()
	defer fsys.cpu.Exit()

	if !u.suser() {
		return common.EPERM
	}
	fsys.update()
	m := fsys.mounts.lookup(dev)
	if m == nil || m.inodp == nil {
		return common.EINVAL
	}
	if fsys.inodes.Busy(dev) > 0 {
		return common.EBUSY
	}
	return fsys.unmount(m)
}

func (fsys *FileSystem) unmount(m *mount) error {
	fsys.cache.Bflush(m.dev)
	fsys.cache.Drain()
	fsys.cache.Binval(m.dev)
	err := fsys.sw.Close(m.dev)

	m.sb.Release(fsys.cache)
	if ip := m.inodp; ip != nil {
		fsys.inodes.Plock(ip)
		ip.Flag &^= inode.IMOUNT
		fsys.inodes.Iput(ip)
	}
	*m = mount{}
	return err
}
