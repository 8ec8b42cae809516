package device

import (
	"github.com/dvdphobia/unix-v6-sub000/common"
)

// Ramdisk is a synchronous block driver over in-memory units, one per
// minor number.
type Ramdisk struct {
	units [][]byte

	Reads  int // completed read transfers
	Writes int // completed write transfers
}

// NewRamdisk returns a ramdisk whose minor units are the given images. Each
// image is used in place.
func NewRamdisk(units ...[]byte) *Ramdisk {
	return &Ramdisk{units: units}
}

// NewRamdiskSize returns a ramdisk with one zeroed unit of nblocks blocks.
func NewRamdiskSize(nblocks int) *Ramdisk {
	return NewRamdisk(make([]byte, nblocks*common.BSIZE))
}

// Unit returns the image behind minor number minor.
func (rd *Ramdisk) Unit(minor int) []byte {
	return rd.units[minor]
}

func (rd *Ramdisk) Strategy(bp *common.Buf) {
	minor := bp.Dev.Minor()
	if minor >= len(rd.units) {
		bp.Fail(common.ENXIO)
		bp.IODone()
		return
	}
	unit := rd.units[minor]
	off := bp.Blkno * common.BSIZE
	if bp.Blkno < 0 || off+common.BSIZE > len(unit) {
		bp.Fail(common.ENXIO)
		bp.IODone()
		return
	}

	if bp.Flags&common.B_READ != 0 {
		copy(bp.Addr, unit[off:off+common.BSIZE])
		rd.Reads++
	} else {
		copy(unit[off:off+common.BSIZE], bp.Addr)
		rd.Writes++
	}
	bp.Resid = 0
	bp.IODone()
}
