package device

import (
	"fmt"
	"log"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/dvdphobia/unix-v6-sub000/common"
	"github.com/dvdphobia/unix-v6-sub000/sched"
)

// File is a block driver over a volume image in a host file. The image is
// held under an advisory lock for as long as it is open, shared when read
// only and exclusive otherwise.
//
// Without a CPU it transfers synchronously inside Strategy. With one, a
// worker goroutine services a request queue and completes each transfer in
// interrupt context.
type File struct {
	file     *os.File
	filename string
	ronly    bool
	nblocks  int

	cpu   *sched.CPU
	m     sync.Mutex
	queue []request
	kick  chan struct{}
	quit  chan struct{}
	wg    sync.WaitGroup
}

// OpenFile opens the image at filename. Pass a non-nil cpu to get a queued
// driver.
func OpenFile(filename string, ronly bool, cpu *sched.CPU) (*File, error) {
	flag, how := os.O_RDWR, unix.LOCK_EX
	if ronly {
		flag, how = os.O_RDONLY, unix.LOCK_SH
	}
	file, err := os.OpenFile(filename, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	if err := unix.Flock(int(file.Fd()), how|unix.LOCK_NB); err != nil {
		file.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("locking image `%s`: %w", filename, common.EBUSY)
		}
		return nil, fmt.Errorf("locking image `%s`: %w", filename, err)
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("sizing image `%s`: %w", filename, err)
	}

	dev := &File{
		file:     file,
		filename: filename,
		ronly:    ronly,
		nblocks:  int(fi.Size() / common.BSIZE),
		cpu:      cpu,
	}
	if cpu != nil {
		dev.kick = make(chan struct{}, 1)
		dev.quit = make(chan struct{})
		dev.wg.Add(1)
		go dev.loop()
	}
	return dev, nil
}

// Nblocks returns the size of the image in blocks.
func (dev *File) Nblocks() int {
	return dev.nblocks
}

func (dev *File) Open(d common.Dev, ronly bool) error {
	if d.Minor() != 0 {
		return common.ENXIO
	}
	if dev.ronly && !ronly {
		return common.EROFS
	}
	return nil
}

func (dev *File) Close(d common.Dev) error {
	return nil
}

// A request is a queued transfer. The direction is taken when it is queued,
// since the kernel may change bp.Flags while the transfer is in flight.
type request struct {
	bp   *common.Buf
	read bool
}

func (dev *File) Strategy(bp *common.Buf) {
	req := request{bp, bp.Flags&common.B_READ != 0}
	if dev.cpu == nil {
		if err := dev.transfer(req); err != nil {
			bp.Fail(err)
		}
		bp.IODone()
		return
	}
	dev.m.Lock()
	dev.queue = append(dev.queue, req)
	dev.m.Unlock()
	select {
	case dev.kick <- struct{}{}:
	default:
	}
}

// transfer moves the data of req. Buffer state is left to the caller, who
// must hold the CPU to change it.
func (dev *File) transfer(req request) error {
	bp := req.bp
	if bp.Dev.Minor() != 0 || bp.Blkno < 0 || bp.Blkno >= dev.nblocks {
		return common.ENXIO
	}
	pos := int64(bp.Blkno) * common.BSIZE
	var err error
	if req.read {
		_, err = dev.file.ReadAt(bp.Addr, pos)
	} else if dev.ronly {
		err = common.EROFS
	} else {
		_, err = dev.file.WriteAt(bp.Addr, pos)
	}
	if err != nil {
		log.Printf("%s: block %d: %s", dev.filename, bp.Blkno, err)
		return common.EIO
	}
	return nil
}

func (dev *File) loop() {
	defer dev.wg.Done()
	for {
		select {
		case <-dev.kick:
		case <-dev.quit:
			return
		}
		for {
			dev.m.Lock()
			if len(dev.queue) == 0 {
				dev.m.Unlock()
				break
			}
			req := dev.queue[0]
			dev.queue = dev.queue[1:]
			dev.m.Unlock()

			err := dev.transfer(req)
			dev.cpu.Intr(func() {
				if err != nil {
					req.bp.Fail(err)
				}
				req.bp.IODone()
			})
		}
	}
}

// Release stops the worker, drops the lock and closes the image. Requests
// still queued are never completed, so the cache must be flushed first.
func (dev *File) Release() error {
	if dev.quit != nil {
		close(dev.quit)
		dev.wg.Wait()
	}
	unix.Flock(int(dev.file.Fd()), unix.LOCK_UN)
	return dev.file.Close()
}
