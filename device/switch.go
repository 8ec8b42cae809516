// Package device holds the device switch and the drivers the filesystem
// runs on.
package device

import (
	"github.com/dvdphobia/unix-v6-sub000/common"
)

// Major numbers of the drivers in this package, as configured by
// NewSwitch.
const (
	RAMDISK_MAJOR = 0 // block
	FILE_MAJOR    = 1 // block

	CONSOLE_MAJOR = 0 // character
	NULL_MAJOR    = 1 // character
)

// Switch maps a major device number to its driver. A nil entry is a
// configured slot with no driver behind it.
type Switch struct {
	Bdevsw []common.BlockDevice
	Cdevsw []common.CharDevice
}

// NewSwitch returns the standard configuration. Any of the drivers may be
// nil.
func NewSwitch(rd *Ramdisk, file *File, cons *Console) *Switch {
	sw := &Switch{
		Bdevsw: make([]common.BlockDevice, 2),
		Cdevsw: make([]common.CharDevice, 2),
	}
	if rd != nil {
		sw.Bdevsw[RAMDISK_MAJOR] = rd
	}
	if file != nil {
		sw.Bdevsw[FILE_MAJOR] = file
	}
	if cons != nil {
		sw.Cdevsw[CONSOLE_MAJOR] = cons
	}
	sw.Cdevsw[NULL_MAJOR] = Null{}
	return sw
}

// Nblkdev returns the number of block device majors.
func (sw *Switch) Nblkdev() int {
	return len(sw.Bdevsw)
}

// Bdev returns the block driver for dev, or nil.
func (sw *Switch) Bdev(dev common.Dev) common.BlockDevice {
	if m := dev.Major(); dev != common.NO_DEV && m < len(sw.Bdevsw) {
		return sw.Bdevsw[m]
	}
	return nil
}

// Cdev returns the character driver for dev, or nil.
func (sw *Switch) Cdev(dev common.Dev) common.CharDevice {
	if m := dev.Major(); dev != common.NO_DEV && m < len(sw.Cdevsw) {
		return sw.Cdevsw[m]
	}
	return nil
}

// Open tells the driver behind a block device that it is being mounted.
func (sw *Switch) Open(dev common.Dev, ronly bool) error {
	d := sw.Bdev(dev)
	if d == nil {
		return common.ENXIO
	}
	if o, ok := d.(common.Opener); ok {
		return o.Open(dev, ronly)
	}
	return nil
}

// Close tells the driver behind a block device that it was unmounted.
func (sw *Switch) Close(dev common.Dev) error {
	if o, ok := sw.Bdev(dev).(common.Opener); ok {
		return o.Close(dev)
	}
	return nil
}
