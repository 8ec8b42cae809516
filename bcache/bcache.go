// Package bcache implements the buffer cache: a fixed pool of disk blocks
// identified by (device, block number), reused in least recently released
// order and written back lazily.
//
// Every function must be called from inside the kernel (see sched.CPU).
package bcache

import (
	"fmt"
	"log"

	"github.com/dvdphobia/unix-v6-sub000/common"
	"github.com/dvdphobia/unix-v6-sub000/device"
	"github.com/dvdphobia/unix-v6-sub000/sched"
)

// Debug turns on tracing of identity changes and transfers.
var Debug = false

// An elaboration of the Buf type, decorated with the members we need to
// handle the device lists and the LRU cache policy.
type lru_buf struct {
	*common.Buf

	next *lru_buf // used to link all free bufs in a chain
	prev *lru_buf // used to link all free bufs the other way
	free bool     // on the free chain

	b_forw *lru_buf // used to link all bufs of a device list together
	b_back *lru_buf
	list   int // index of the device list holding this buf
}

type Cache struct {
	cpu *sched.CPU
	sw  *device.Switch

	buf    []*lru_buf // static list of cache blocks
	devtab []*lru_buf // device list heads, one per major, then NO_DEV
	front  *lru_buf   // a pointer to the least recently used block
	rear   *lru_buf   // a pointer to the most recently used block
	wanted bool       // somebody sleeps waiting for a free block

	inflight int // asynchronous transfers not yet done
}

// New creates a cache of nbuf blocks for the devices in sw.
func New(cpu *sched.CPU, sw *device.Switch, nbuf int) *Cache {
	c := &Cache{
		cpu:    cpu,
		sw:     sw,
		buf:    make([]*lru_buf, nbuf),
		devtab: make([]*lru_buf, sw.Nblkdev()+1),
	}

	// Every block starts out free and on the NO_DEV list
	for i := 0; i < nbuf; i++ {
		bp := &lru_buf{Buf: &common.Buf{
			Dev:    common.NO_DEV,
			Addr:   make([]byte, common.BSIZE),
			OnDone: c.IODone,
		}}
		bp.Cache = bp
		bp.list = c.nodev()
		c.add_dev(bp)
		c.add_lru(bp)
		c.buf[i] = bp
	}
	return c
}

func (c *Cache) nodev() int { return len(c.devtab) - 1 }

// devlist returns the index of the device list for dev. A major number with
// no slot in the switch cannot be handled at all.
func (c *Cache) devlist(dev common.Dev) int {
	if dev == common.NO_DEV {
		return c.nodev()
	}
	if dev.Major() >= c.nodev() {
		panic(fmt.Sprintf("devtab: no device table for %s", dev))
	}
	return dev.Major()
}

// GetBlk returns the buffer assigned to blkno on dev, busy and owned by the
// caller. The contents are valid only if B_DONE is set. NO_DEV asks for an
// anonymous buffer.
func (c *Cache) GetBlk(dev common.Dev, blkno int) *common.Buf {
	d := c.devlist(dev)
	for {
		// search for the desired block on its device list
		if dev != common.NO_DEV {
			bp := c.lookup(d, dev, blkno)
			if bp != nil && bp.Flags&common.B_BUSY != 0 {
				bp.Flags |= common.B_WANTED
				c.cpu.Sleep(bp.Buf, common.PRIBIO)
				continue
			}
			if bp != nil {
				c.notavail(bp)
				return bp.Buf
			}
		}

		// Desired block is not cached. Take the oldest free block ('front')
		if c.front == nil {
			if c.cpu.Threads() <= 1 && c.inflight == 0 {
				panic("bcache: no buffers, and nothing left to release one")
			}
			c.wanted = true
			c.cpu.Sleep(c, common.PRIBIO)
			continue
		}
		bp := c.front
		c.notavail(bp)

		// A dirty block must reach the disk before its identity changes.
		if bp.Flags&common.B_DELWRI != 0 {
			bp.Flags &^= common.B_ASYNC
			if err := c.Bwrite(bp.Buf); err != nil {
				log.Printf("bcache: writing back block %d on dev %s: %s", bp.Blkno, bp.Dev, err)
			}
			continue
		}

		if Debug {
			log.Printf("bcache: reassigning %s/%d to %s/%d", bp.Dev, bp.Blkno, dev, blkno)
		}
		bp.Flags = common.B_BUSY | common.B_RELOC
		bp.Error = nil
		bp.Resid = 0
		c.rm_dev(bp)
		bp.Dev = dev
		bp.Blkno = blkno
		bp.list = d
		c.add_dev(bp)
		return bp.Buf
	}
}

// Bread returns the buffer for blkno on dev with its contents read in. On
// error the buffer has already been released.
func (c *Cache) Bread(dev common.Dev, blkno int) (*common.Buf, error) {
	bp := c.GetBlk(dev, blkno)
	if bp.Flags&common.B_DONE != 0 {
		return bp, nil
	}
	bp.Flags |= common.B_READ
	c.strategy(bp)
	if err := c.Iowait(bp); err != nil {
		c.Brelse(bp)
		return nil, err
	}
	return bp, nil
}

// Breada is Bread that also starts reading rablkno, if it is not zero and
// not already cached, without waiting for it.
func (c *Cache) Breada(dev common.Dev, blkno, rablkno int) (*common.Buf, error) {
	var bp *common.Buf
	if !c.Incore(dev, blkno) {
		bp = c.GetBlk(dev, blkno)
		if bp.Flags&common.B_DONE == 0 {
			bp.Flags |= common.B_READ
			c.strategy(bp)
		}
	}
	if rablkno != 0 && !c.Incore(dev, rablkno) {
		rabp := c.GetBlk(dev, rablkno)
		if rabp.Flags&common.B_DONE != 0 {
			c.Brelse(rabp)
		} else {
			rabp.Flags |= common.B_READ | common.B_ASYNC
			c.strategy(rabp)
		}
	}

	if bp == nil {
		return c.Bread(dev, blkno)
	}
	if err := c.Iowait(bp); err != nil {
		c.Brelse(bp)
		return nil, err
	}
	return bp, nil
}

// Bwrite writes bp and releases it. Unless B_ASYNC was set it waits for the
// transfer and returns its error.
func (c *Cache) Bwrite(bp *common.Buf) error {
	flag := bp.Flags
	bp.Flags &^= common.B_READ | common.B_DONE | common.B_ERROR | common.B_DELWRI
	bp.Error = nil
	c.strategy(bp)
	if flag&common.B_ASYNC == 0 {
		err := c.Iowait(bp)
		c.Brelse(bp)
		return err
	} else if flag&common.B_DELWRI == 0 {
		return geterror(bp)
	}
	return nil
}

// Bawrite starts writing bp and releases it when the transfer completes.
func (c *Cache) Bawrite(bp *common.Buf) error {
	bp.Flags |= common.B_ASYNC
	return c.Bwrite(bp)
}

// Bdwrite marks bp dirty and releases it. It reaches the disk when its
// identity is next reassigned or the cache is flushed.
func (c *Cache) Bdwrite(bp *common.Buf) {
	bp.Flags |= common.B_DELWRI | common.B_DONE
	c.Brelse(bp)
}

// Brelse puts bp on the rear of the free chain and wakes anybody waiting on
// it or on the free chain. A buffer that failed loses its identity.
func (c *Cache) Brelse(bp *common.Buf) {
	lb := bp.Cache.(*lru_buf)
	if bp.Flags&common.B_BUSY == 0 || lb.free {
		panic(fmt.Sprintf("brelse: block %d on dev %s is not busy", bp.Blkno, bp.Dev))
	}
	if bp.Flags&common.B_WANTED != 0 {
		c.cpu.Wakeup(bp)
	}
	if c.wanted {
		c.wanted = false
		c.cpu.Wakeup(c)
	}
	if bp.Flags&common.B_ERROR != 0 {
		c.rm_dev(lb)
		bp.Dev = common.NO_DEV
		lb.list = c.nodev()
		c.add_dev(lb)
	}
	bp.Flags &^= common.B_WANTED | common.B_BUSY | common.B_ASYNC
	c.add_lru(lb)
}

// IODone is the completion routine of every transfer. It is called by the
// driver, possibly in interrupt context, and never sleeps.
func (c *Cache) IODone(bp *common.Buf) {
	bp.Flags |= common.B_DONE
	if bp.Flags&common.B_ASYNC != 0 {
		c.inflight--
		if c.inflight == 0 {
			c.cpu.Wakeup(&c.inflight)
		}
		if bp.Flags&(common.B_ERROR|common.B_READ) == common.B_ERROR {
			log.Printf("bcache: asynchronous write of block %d on dev %s failed: %s", bp.Blkno, bp.Dev, geterror(bp))
		}
		c.Brelse(bp)
	} else {
		bp.Flags &^= common.B_WANTED
		c.cpu.Wakeup(bp)
	}
}

// Iowait waits for the transfer on bp to finish and returns its error.
func (c *Cache) Iowait(bp *common.Buf) error {
	for bp.Flags&common.B_DONE == 0 {
		c.cpu.Sleep(bp, common.PRIBIO)
	}
	return geterror(bp)
}

func geterror(bp *common.Buf) error {
	if bp.Flags&common.B_ERROR == 0 {
		return nil
	}
	if bp.Error != nil {
		return bp.Error
	}
	return common.EIO
}

// Incore reports whether blkno on dev has a buffer assigned.
func (c *Cache) Incore(dev common.Dev, blkno int) bool {
	return c.lookup(c.devlist(dev), dev, blkno) != nil
}

// Clrbuf zeroes the contents of bp.
func Clrbuf(bp *common.Buf) {
	for i := range bp.Addr {
		bp.Addr[i] = 0
	}
}

// Bflush starts writing every delayed-write buffer of dev, or of every
// device if dev is NO_DEV.
func (c *Cache) Bflush(dev common.Dev) {
	for {
		var bp *lru_buf
		for p := c.front; p != nil; p = p.next {
			if p.Flags&common.B_DELWRI != 0 && (dev == common.NO_DEV || dev == p.Dev) {
				bp = p
				break
			}
		}
		if bp == nil {
			return
		}
		bp.Flags |= common.B_ASYNC
		c.notavail(bp)
		c.Bwrite(bp.Buf)
	}
}

// Drain waits until every asynchronous transfer has completed.
func (c *Cache) Drain() {
	for c.inflight > 0 {
		c.cpu.Sleep(&c.inflight, common.PRIBIO)
	}
}

// Binval drops the identity of every free buffer of dev, so that nothing
// cached survives the volume being unmounted. Delayed writes must have been
// flushed first.
func (c *Cache) Binval(dev common.Dev) {
	for _, bp := range c.buf {
		if bp.Dev != dev || !bp.free {
			continue
		}
		if bp.Flags&common.B_DELWRI != 0 {
			panic(fmt.Sprintf("binval: block %d on dev %s is dirty", bp.Blkno, dev))
		}
		c.rm_dev(bp)
		bp.Dev = common.NO_DEV
		bp.Flags &^= common.B_DONE
		bp.list = c.nodev()
		c.add_dev(bp)
	}
}

func (c *Cache) strategy(bp *common.Buf) {
	if bp.Flags&common.B_ASYNC != 0 {
		c.inflight++
	}
	d := c.sw.Bdev(bp.Dev)
	if d == nil {
		bp.Fail(common.ENXIO)
		c.IODone(bp)
		return
	}
	if Debug {
		op := "write"
		if bp.Flags&common.B_READ != 0 {
			op = "read"
		}
		log.Printf("bcache: %s %s/%d", op, bp.Dev, bp.Blkno)
	}
	d.Strategy(bp)
}

func (c *Cache) lookup(d int, dev common.Dev, blkno int) *lru_buf {
	for bp := c.devtab[d]; bp != nil; bp = bp.b_forw {
		if bp.Blkno == blkno && bp.Dev == dev {
			return bp
		}
	}
	return nil
}

// Take a block off the free chain, marking it busy
func (c *Cache) notavail(bp *lru_buf) {
	c.rm_lru(bp)
	bp.Flags |= common.B_BUSY
}

// Put a block on the rear of the free chain
func (c *Cache) add_lru(bp *lru_buf) {
	bp.prev = c.rear
	bp.next = nil
	if c.rear == nil {
		c.front = bp
	} else {
		c.rear.next = bp
	}
	c.rear = bp
	bp.free = true
}

// Remove a block from the free chain
func (c *Cache) rm_lru(bp *lru_buf) {
	nextp := bp.next
	prevp := bp.prev
	if prevp != nil {
		prevp.next = nextp
	} else {
		c.front = nextp
	}

	if nextp != nil {
		nextp.prev = prevp
	} else {
		c.rear = prevp
	}
	bp.next, bp.prev = nil, nil
	bp.free = false
}

// Put a block on the front of its device list
func (c *Cache) add_dev(bp *lru_buf) {
	head := c.devtab[bp.list]
	bp.b_back = nil
	bp.b_forw = head
	if head != nil {
		head.b_back = bp
	}
	c.devtab[bp.list] = bp
}

// Remove a block from its device list
func (c *Cache) rm_dev(bp *lru_buf) {
	if bp.b_back != nil {
		bp.b_back.b_forw = bp.b_forw
	} else {
		c.devtab[bp.list] = bp.b_forw
	}
	if bp.b_forw != nil {
		bp.b_forw.b_back = bp.b_back
	}
	bp.b_forw, bp.b_back = nil, nil
}
