package device

import (
	"io"

	"github.com/dvdphobia/unix-v6-sub000/common"
)

// Console is a character device over a host reader and writer. There is no
// line discipline: a read returns whatever one Read of the host yields.
type Console struct {
	r io.Reader
	w io.Writer
}

func NewConsole(r io.Reader, w io.Writer) *Console {
	return &Console{r, w}
}

func (c *Console) Read(dev common.Dev, uio *common.IO) error {
	if c.r == nil || uio.Count == 0 {
		return nil
	}
	buf := make([]byte, uio.Count)
	n, err := c.r.Read(buf)
	for _, ch := range buf[:n] {
		more, perr := uio.Passc(ch)
		if perr != nil {
			return perr
		}
		if !more {
			break
		}
	}
	if err != nil && err != io.EOF && n == 0 {
		return common.EIO
	}
	return nil
}

func (c *Console) Write(dev common.Dev, uio *common.IO) error {
	var out []byte
	for {
		ch, ok, err := uio.Cpass()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		out = append(out, ch)
	}
	if c.w == nil {
		return nil
	}
	if _, err := c.w.Write(out); err != nil {
		return common.EIO
	}
	return nil
}

// Null discards writes and reads as end of file.
type Null struct{}

func (Null) Read(dev common.Dev, uio *common.IO) error {
	return nil
}

func (Null) Write(dev common.Dev, uio *common.IO) error {
	uio.Base += uio.Count
	uio.Offset += uio.Count
	uio.Count = 0
	return nil
}
