package gopool

import (
	. "github.com/lybxkl/gmqttd/common/log"
)

// GoSafe runs the given fn using another goroutine, recovers if fn panics.
func GoSafe(fn func()) {
	go RunSafe(fn)
}

// RunSafe runs the given fn, recovers if fn panics.
func RunSafe(fn func()) {
	defer func() {
		if err := recover(); err != nil {
			Log.Errorf("recover: %+v", err)
		}
	}()
	fn()
}
