package commonutils

import (
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
)

// GoID returns the id of the calling goroutine, the closest analog to a
// pid for attributing diagnostics to an execution context.
func GoID() int64 {
	// A small buffer is enough for the first line of runtime.Stack
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	// The first line looks like: "goroutine 123 [running]:\n"
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return -1
	}
	n, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// Caller formats the stack frame skip levels above the caller as
// "func (file:line)" for use as a log field.
// skip=0 -> the caller of Caller itself
// skip=1 -> the caller's caller, and so on
func Caller(skip int) string {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}

	name := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = fn.Name()
	}
	return fmt.Sprintf("%s (%s:%d)", name, filepath.Base(file), line)
}
