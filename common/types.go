package common

import "fmt"

// Dev is a device number, the major number in the high byte selecting the
// driver and the minor number in the low byte selecting the unit.
type Dev int

const NO_DEV Dev = -1

func MakeDev(major, minor int) Dev {
	return Dev((major&0377)<<8 | minor&0377)
}

func (d Dev) Major() int { return int(d>>8) & 0377 }
func (d Dev) Minor() int { return int(d) & 0377 }

func (d Dev) String() string {
	if d == NO_DEV {
		return "NODEV"
	}
	return fmt.Sprintf("%d/%d", d.Major(), d.Minor())
}

// Buffer flags.
const (
	B_WRITE  = 0     // non-read pseudo-flag
	B_READ   = 01    // read when I/O occurs
	B_DONE   = 02    // transaction finished
	B_ERROR  = 04    // transaction aborted
	B_BUSY   = 010   // not on av list
	B_WANTED = 0100  // issue wakeup when BUSY goes off
	B_RELOC  = 0200  // identity was just reassigned
	B_ASYNC  = 0400  // don't wait for I/O completion
	B_DELWRI = 01000 // don't write till block leaves available list
)

// Buf is a single block of the buffer cache. The cache owns every Buf; a
// caller holds one exclusively between getting it (B_BUSY set) and
// releasing it.
type Buf struct {
	Flags int
	Dev   Dev
	Blkno int
	Addr  []byte // BSIZE bytes of data
	Error error  // cause of B_ERROR, nil means EIO
	Resid int    // bytes not transferred

	Cache  interface{}  // cache-policy specific bookkeeping
	OnDone func(b *Buf) // completion routine, set by the cache
}

// IODone is called by a driver when the transfer on bp is finished. A
// driver that completes asynchronously must call it in interrupt context.
func (bp *Buf) IODone() {
	bp.OnDone(bp)
}

// Fail marks bp as failed with the given cause.
func (bp *Buf) Fail(err error) {
	bp.Flags |= B_ERROR
	bp.Error = err
}

// A BlockDevice is the strategy entry of a block driver. Strategy starts
// the transfer described by bp (B_READ set or not) and calls bp.IODone when
// it is complete, either before returning or later.
type BlockDevice interface {
	Strategy(bp *Buf)
}

// A CharDevice moves bytes directly between the device and an I/O
// descriptor, bypassing the buffer cache.
type CharDevice interface {
	Read(dev Dev, io *IO) error
	Write(dev Dev, io *IO) error
}

// Opener is implemented by drivers that need to be told when a volume is
// mounted or unmounted.
type Opener interface {
	Open(dev Dev, ronly bool) error
	Close(dev Dev) error
}
