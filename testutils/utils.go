package testutils

import (
	"fmt"
	"runtime"
	"testing"
)

// ErrorHere reports a test error, prefixed with the file and line of the
// caller.
func ErrorHere(test *testing.T, str string, args ...interface{}) {
	test.Errorf(where(2)+str, args...)
}

// FatalHere is ErrorHere followed by stopping the test.
func FatalHere(test *testing.T, str string, args ...interface{}) {
	test.Fatalf(where(2)+str, args...)
}

// ErrorLevel is ErrorHere for helpers, reporting the caller level frames
// up.
func ErrorLevel(test *testing.T, level int, str string, args ...interface{}) {
	test.Errorf(where(level+1)+str, args...)
}

func FatalLevel(test *testing.T, level int, str string, args ...interface{}) {
	test.Fatalf(where(level+1)+str, args...)
}

func where(level int) string {
	_, file, line, _ := runtime.Caller(level)
	return fmt.Sprintf("[%s:%d] ", file, line)
}
