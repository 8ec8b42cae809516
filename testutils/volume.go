package testutils

import (
	"testing"

	"github.com/dvdphobia/unix-v6-sub000/device"
	"github.com/dvdphobia/unix-v6-sub000/mkfs"
)

//////////////////////////////////////////////////////////////////////////////
// A ramdisk holding a freshly formatted volume as minor 0. With size 1000
// and isize 7, inodes live in blocks 2-8, the root directory in block 9,
// blocks 10-999 are free and inode 2 is the next one allocated.
//////////////////////////////////////////////////////////////////////////////

func NewVolume(test *testing.T, size, isize int) *device.Ramdisk {
	img, err := mkfs.Image(mkfs.Params{Size: size, Isize: isize})
	if err != nil {
		FatalLevel(test, 2, "Failed when formatting volume: %s", err)
	}
	return device.NewRamdisk(img)
}
