// Package fs is the system call layer of the file system: path names,
// permissions, the mount table and open files.
//
// Every exported method of FileSystem enters the kernel itself, so it may
// be called from any goroutine.
package fs

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dvdphobia/unix-v6-sub000/alloctbl"
	"github.com/dvdphobia/unix-v6-sub000/bcache"
	"github.com/dvdphobia/unix-v6-sub000/common"
	"github.com/dvdphobia/unix-v6-sub000/config"
	"github.com/dvdphobia/unix-v6-sub000/device"
	"github.com/dvdphobia/unix-v6-sub000/file"
	"github.com/dvdphobia/unix-v6-sub000/inode"
	"github.com/dvdphobia/unix-v6-sub000/sched"
	"github.com/dvdphobia/unix-v6-sub000/super"
)

type FileSystem struct {
	cpu    *sched.CPU
	sw     *device.Switch
	cache  *bcache.Cache
	inodes *inode.Table
	alloc  *alloctbl.Tbl
	mover  *file.Mover
	mounts *mountTable

	rootdev common.Dev
	rootdir *inode.Inode // root of the root volume, referenced
	updlock bool         // an update is running
	release func() error // drops the drivers OpenImage made

	// Now is the clock stamped on inodes and superblocks.
	Now func() int32
}

// New builds a file system over the drivers in sw and mounts rootdev as
// its root.
func New(cfg *config.Config, cpu *sched.CPU, sw *device.Switch, rootdev common.Dev) (*FileSystem, error) {
	fsys := &FileSystem{
		cpu:     cpu,
		sw:      sw,
		mounts:  newMountTable(cfg.NMount),
		rootdev: rootdev,
		Now:     func() int32 { return int32(time.Now().Unix()) },
	}
	fsys.cache = bcache.New(cpu, sw, cfg.NBuf)
	fsys.inodes = inode.NewTable(cpu, fsys.cache, cfg.NInode)
	fsys.alloc = alloctbl.New(cpu, fsys.cache, fsys.mounts)
	fsys.inodes.Attach(fsys.mounts, fsys.alloc)
	fsys.alloc.Attach(fsys.inodes)
	fsys.inodes.Now = func() int32 { return fsys.Now() }
	fsys.mover = file.New(fsys.cache, fsys.inodes, sw)

	cpu.Enter()
	defer cpu.Exit()

	if err := sw.Open(rootdev, cfg.ReadOnly); err != nil {
		return nil, fmt.Errorf("opening root device %s: %w", rootdev, err)
	}
	sb, err := super.Load(fsys.cache, rootdev, cfg.ReadOnly)
	if err != nil {
		sw.Close(rootdev)
		return nil, fmt.Errorf("mounting root device %s: %w", rootdev, err)
	}
	fsys.mounts.slots[0] = mount{dev: rootdev, sb: sb}

	ip, err := fsys.inodes.Iget(rootdev, common.ROOTINO)
	if err != nil {
		sb.Release(fsys.cache)
		sw.Close(rootdev)
		return nil, fmt.Errorf("reading root inode: %w", err)
	}
	if ip.Type() != common.IFDIR {
		fsys.inodes.Iput(ip)
		sb.Release(fsys.cache)
		sw.Close(rootdev)
		return nil, fmt.Errorf("root inode of %s: %w", rootdev, common.ENOTDIR)
	}
	fsys.inodes.Prele(ip)
	fsys.rootdir = ip
	return fsys, nil
}

// OpenImage builds a file system whose root is the image file named in
// cfg, with the console on the process's standard input and output.
func OpenImage(cfg *config.Config) (*FileSystem, error) {
	cpu := sched.New()
	var q *sched.CPU
	if cfg.Queued {
		q = cpu
	}
	f, err := device.OpenFile(cfg.Image, cfg.ReadOnly, q)
	if err != nil {
		return nil, err
	}
	sw := device.NewSwitch(nil, f, device.NewConsole(os.Stdin, os.Stdout))
	fsys, err := New(cfg, cpu, sw, common.MakeDev(device.FILE_MAJOR, 0))
	if err != nil {
		f.Release()
		return nil, err
	}
	fsys.release = f.Release
	return fsys, nil
}

// Rootdev returns the device the root volume is on.
func (fsys *FileSystem) Rootdev() common.Dev {
	return fsys.rootdev
}

// Update writes every modified superblock and inode, then starts writing
// every delayed block.
func (fsys *FileSystem) Update() {
	fsys.cpu.Enter()
	defer fsys.cpu.Exit()

	fsys.update()
}

func (fsys *FileSystem) update() {
	if fsys.updlock {
		return
	}
	fsys.updlock = true
	now := fsys.Now()
	for i := range fsys.mounts.slots {
		m := &fsys.mounts.slots[i]
		if m.sb == nil {
			continue
		}
		if err := m.sb.Update(fsys.cache, now); err != nil {
			log.Printf("update: superblock of dev %s: %s", m.dev, err)
		}
	}
	fsys.inodes.Sync(now)
	fsys.updlock = false
	fsys.cache.Bflush(common.NO_DEV)
}

// Shutdown unmounts every volume, the root last, and waits for the disks to
// settle. Users still holding directories keep the root busy.
func (fsys *FileSystem) Shutdown() error {
	fsys.cpu.Enter()
	defer fsys.cpu.Exit()

	fsys.update()
	for i := len(fsys.mounts.slots) - 1; i > 0; i-- {
		m := &fsys.mounts.slots[i]
		if m.sb == nil {
			continue
		}
		if fsys.inodes.Busy(m.dev) > 0 {
			return common.EBUSY
		}
		if err := fsys.unmount(m); err != nil {
			return err
		}
	}
	if fsys.inodes.Busy(fsys.rootdev) > 1 {
		return common.EBUSY
	}

	fsys.inodes.Plock(fsys.rootdir)
	fsys.inodes.Iput(fsys.rootdir)
	fsys.rootdir = nil
	fsys.update()
	err := fsys.unmount(&fsys.mounts.slots[0])
	if fsys.release != nil {
		if rerr := fsys.release(); err == nil {
			err = rerr
		}
	}
	return err
}
