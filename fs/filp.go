package fs

import (
	"io"
	"sync"

	"github.com/dvdphobia/unix-v6-sub000/common"
	"github.com/dvdphobia/unix-v6-sub000/inode"
)

// Open modes.
const (
	FREAD  = 01
	FWRITE = 02
)

// A File is an open file. It may be shared between goroutines; the offset
// is guarded by a mutex, so that concurrent transfers each see a
// consistent position.
type File struct {
	fsys  *FileSystem
	inode *inode.Inode // nil once closed
	flag  int          // FREAD and FWRITE

	m      sync.Mutex
	offset int
}

// special reports whether the file is a device, which is never locked
// for a transfer.
func (fi *File) special() bool {
	t := fi.inode.Type()
	return t == common.IFCHR || t == common.IFBLK
}

func (fi *File) rdwr(buf []byte, flag int) (int, error) {
	fi.m.Lock()
	defer fi.m.Unlock()

	if fi.inode == nil || fi.flag&flag == 0 {
		return 0, common.EBADF
	}

	fsys := fi.fsys
	fsys.cpu.Enter()
	defer fsys.cpu.Exit()

	ip := fi.inode
	special := fi.special()
	if !special {
		fsys.inodes.Plock(ip)
	}
	uio := common.KernelIO(buf, fi.offset)
	var err error
	if flag == FREAD {
		err = fsys.mover.Readi(ip, uio)
	} else {
		err = fsys.mover.Writei(ip, uio)
	}
	if !special {
		fsys.inodes.Prele(ip)
	}

	n := len(buf) - uio.Count
	fi.offset += n
	return n, err
}

// Read reads up to len(buf) bytes at the current offset. At the end of
// the file it returns io.EOF.
func (fi *File) Read(buf []byte) (int, error) {
	n, err := fi.rdwr(buf, FREAD)
	if n == 0 && err == nil && len(buf) > 0 {
		err = io.EOF
	}
	return n, err
}

func (fi *File) Write(buf []byte) (int, error) {
	return fi.rdwr(buf, FWRITE)
}

// Seek sets the offset for the next transfer. whence is io.SeekStart,
// io.SeekCurrent or io.SeekEnd.
func (fi *File) Seek(offset int64, whence int) (int64, error) {
	fi.m.Lock()
	defer fi.m.Unlock()

	if fi.inode == nil {
		return 0, common.EBADF
	}

	pos := offset
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		pos += int64(fi.offset)
	case io.SeekEnd:
		fi.fsys.cpu.Enter()
		pos += int64(fi.inode.Size())
		fi.fsys.cpu.Exit()
	default:
		return 0, common.EINVAL
	}
	if pos < 0 {
		return 0, common.EINVAL
	}
	fi.offset = int(pos)
	return pos, nil
}

// Stat describes the open file.
func (fi *File) Stat() (StatInfo, error) {
	fi.m.Lock()
	defer fi.m.Unlock()

	if fi.inode == nil {
		return StatInfo{}, common.EBADF
	}
	fi.fsys.cpu.Enter()
	defer fi.fsys.cpu.Exit()
	return fi.fsys.stat(fi.inode), nil
}

// Close releases the file. Later calls fail with EBADF.
func (fi *File) Close() error {
	fi.m.Lock()
	defer fi.m.Unlock()

	if fi.inode == nil {
		return common.EBADF
	}
	fsys := fi.fsys
	fsys.cpu.Enter()
	defer fsys.cpu.Exit()

	fsys.inodes.Plock(fi.inode)
	fsys.inodes.Iput(fi.inode)
	fi.inode = nil
	return nil
}
