package common

import "errors"

// The following string constants are taken from the Sixth Edition perror
// table, in errno order.

var (
	EPERM   = errors.New("Not super-user")
	ENOENT  = errors.New("No such file or directory")
	EINTR   = errors.New("Interrupted system call")
	EIO     = errors.New("I/O error")
	ENXIO   = errors.New("No such device or address")
	EBADF   = errors.New("Bad file number")
	EACCES  = errors.New("Permission denied")
	EFAULT  = errors.New("Bad address")
	EBUSY   = errors.New("Mount device busy")
	EEXIST  = errors.New("File exists")
	EXDEV   = errors.New("Cross-device link")
	ENOTDIR = errors.New("Not a directory")
	EISDIR  = errors.New("Is a directory")
	EINVAL  = errors.New("Invalid argument")
	ENFILE  = errors.New("File table overflow")
	ETXTBSY = errors.New("Text file busy")
	EFBIG   = errors.New("File too large")
	ENOSPC  = errors.New("No space left on device")
	EROFS   = errors.New("Read-only file system")
	EMLINK  = errors.New("Too many links")
)
