// Package sched provides the single logical CPU the filesystem runs on.
//
// Only one thread of kernel control runs at a time: a goroutine calls Enter
// before touching any kernel state and Exit when it is done. A thread gives
// up the CPU only by sleeping on a channel, which may be any comparable
// value (usually the address of the object being waited for). Wakeup makes
// every sleeper on a channel runnable; they then race to re-check whatever
// they were waiting for, so every Sleep belongs inside a loop.
package sched

import (
	"sync"

	"github.com/dvdphobia/unix-v6-sub000/common"
)

type waitq struct {
	cond *sync.Cond
	gen  uint64 // bumped by every wakeup
	n    int    // number of sleepers
}

type CPU struct {
	mu      sync.Mutex
	queues  map[interface{}]*waitq
	threads int    // threads currently inside the kernel, sleeping or not
	sig     uint64 // bumped by every Signal
}

func New() *CPU {
	return &CPU{queues: make(map[interface{}]*waitq)}
}

// Enter makes the calling goroutine the running kernel thread, waiting for
// the CPU if it is in use.
func (c *CPU) Enter() {
	c.mu.Lock()
	c.threads++
}

// Exit gives up the CPU on the way out of the kernel.
func (c *CPU) Exit() {
	c.threads--
	c.mu.Unlock()
}

// Threads returns the number of threads inside the kernel, including the
// caller and any sleepers. The caller must be inside the kernel.
func (c *CPU) Threads() int {
	return c.threads
}

// Sleep gives up the CPU until ch is woken up. A sleep at a non-negative
// priority also ends when a signal is posted, in which case EINTR is
// returned and the caller must abandon what it was doing.
func (c *CPU) Sleep(ch interface{}, pri int) error {
	q := c.queues[ch]
	if q == nil {
		q = &waitq{cond: sync.NewCond(&c.mu)}
		c.queues[ch] = q
	}
	q.n++
	gen, sig := q.gen, c.sig

	var err error
	for q.gen == gen {
		if pri >= 0 && c.sig != sig {
			err = common.EINTR
			break
		}
		q.cond.Wait()
	}

	q.n--
	if q.n == 0 {
		delete(c.queues, ch)
	}
	return err
}

// Wakeup makes every thread sleeping on ch runnable.
func (c *CPU) Wakeup(ch interface{}) {
	if q := c.queues[ch]; q != nil {
		q.gen++
		q.cond.Broadcast()
	}
}

// Sleepers returns the number of threads sleeping on ch.
func (c *CPU) Sleepers(ch interface{}) int {
	if q := c.queues[ch]; q != nil {
		return q.n
	}
	return 0
}

// Signal posts a signal, interrupting every sleep at a non-negative
// priority. It is called from outside the kernel.
func (c *CPU) Signal() {
	c.mu.Lock()
	c.sig++
	for _, q := range c.queues {
		q.cond.Broadcast()
	}
	c.mu.Unlock()
}

// Intr runs fn in interrupt context. Drivers completing I/O from their own
// goroutines use it to call into the kernel; fn must not sleep.
func (c *CPU) Intr(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}
