package testutils

import (
	"testing"

	"github.com/dvdphobia/unix-v6-sub000/common"
	"github.com/dvdphobia/unix-v6-sub000/device"
	"github.com/dvdphobia/unix-v6-sub000/sched"
)

//////////////////////////////////////////////////////////////////////////////
// A ramdisk device with a given number of blocks. Each block is filled with
// the low byte of its block number, so each byte of the first block
// contains a 0, the next block contains all 1, etc.
//////////////////////////////////////////////////////////////////////////////

func NewTestDevice(test *testing.T, blocks int) *device.Ramdisk {
	if blocks <= 0 {
		ErrorLevel(test, 2, "Failed when creating ramdisk device: %d blocks", blocks)
	}
	data := make([]byte, common.BSIZE*blocks)
	for i := 0; i < blocks; i++ {
		for j := 0; j < common.BSIZE; j++ {
			data[(i*common.BSIZE)+j] = byte(i)
		}
	}
	return device.NewRamdisk(data)
}

//////////////////////////////////////////////////////////////////////////////
// A block device that holds every transfer until it is released. It
// notifies of the held transfer using the HasBlocked channel and waits to be
// unblocked on the Unblock channel, then completes it in interrupt context.
//////////////////////////////////////////////////////////////////////////////

type BlockingDevice struct {
	*device.Ramdisk
	HasBlocked chan *common.Buf
	Unblock    chan bool

	cpu *sched.CPU
}

func NewBlockingDevice(rd *device.Ramdisk, cpu *sched.CPU) *BlockingDevice {
	return &BlockingDevice{
		rd,
		make(chan *common.Buf),
		make(chan bool),
		cpu,
	}
}

func (dev *BlockingDevice) Strategy(bp *common.Buf) {
	go func() {
		dev.HasBlocked <- bp
		<-dev.Unblock
		dev.cpu.Intr(func() { dev.Ramdisk.Strategy(bp) })
	}()
}
