package common

// Seg selects the address space an I/O descriptor refers to.
type Seg int

const (
	USER_SEG   Seg = iota // Base is an address in IO.User
	KERNEL_SEG            // Base is an index into IO.Kernel
)

// Space is a user address space. Every access is bounds checked and a bad
// address is reported as EFAULT.
type Space interface {
	CopyIn(addr int, dst []byte) error
	CopyOut(addr int, src []byte) error
	Fubyte(addr int) (byte, error)
	Subyte(addr int, b byte) error
}

// IO describes a transfer between a file and a caller's memory. Base,
// Offset and Count advance as bytes move.
type IO struct {
	Seg    Seg
	Base   int    // address of the next byte in memory
	Offset int    // offset of the next byte in the file
	Count  int    // bytes left to move
	Kernel []byte // memory when Seg is KERNEL_SEG
	User   Space  // memory when Seg is USER_SEG
}

// KernelIO returns a descriptor moving len(buf) bytes at the given file
// offset to or from buf.
func KernelIO(buf []byte, offset int) *IO {
	return &IO{Seg: KERNEL_SEG, Kernel: buf, Offset: offset, Count: len(buf)}
}

// Passc delivers one byte read from a character device. It returns false
// once the transfer is complete or the address was bad.
func (io *IO) Passc(c byte) (bool, error) {
	if io.Seg == KERNEL_SEG {
		if io.Base >= len(io.Kernel) {
			return false, EFAULT
		}
		io.Kernel[io.Base] = c
	} else if err := io.User.Subyte(io.Base, c); err != nil {
		return false, err
	}
	io.Base++
	io.Count--
	io.Offset++
	return io.Count > 0, nil
}

// Cpass fetches the next byte to write to a character device. ok is false
// when there are no more bytes.
func (io *IO) Cpass() (c byte, ok bool, err error) {
	if io.Count <= 0 {
		return 0, false, nil
	}
	if io.Seg == KERNEL_SEG {
		if io.Base >= len(io.Kernel) {
			return 0, false, EFAULT
		}
		c = io.Kernel[io.Base]
	} else if c, err = io.User.Fubyte(io.Base); err != nil {
		return 0, false, err
	}
	io.Base++
	io.Count--
	io.Offset++
	return c, true, nil
}

// UserMem is a flat user address space.
type UserMem []byte

func (m UserMem) bad(addr, n int) bool {
	return addr < 0 || n < 0 || addr+n > len(m)
}

func (m UserMem) CopyIn(addr int, dst []byte) error {
	if m.bad(addr, len(dst)) {
		return EFAULT
	}
	copy(dst, m[addr:])
	return nil
}

func (m UserMem) CopyOut(addr int, src []byte) error {
	if m.bad(addr, len(src)) {
		return EFAULT
	}
	copy(m[addr:], src)
	return nil
}

func (m UserMem) Fubyte(addr int) (byte, error) {
	if m.bad(addr, 1) {
		return 0, EFAULT
	}
	return m[addr], nil
}

func (m UserMem) Subyte(addr int, b byte) error {
	if m.bad(addr, 1) {
		return EFAULT
	}
	m[addr] = b
	return nil
}
