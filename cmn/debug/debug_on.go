//go:build debug

/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package debug

import "fmt"

func ON() bool { return true }

func Assert(cond bool, args ...any) {
	if !cond {
		panic(fmt.Sprintln(append([]any{"assertion failed:"}, args...)...))
	}
}

func Assertf(cond bool, f string, args ...any) {
	if !cond {
		panic("assertion failed: " + fmt.Sprintf(f, args...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic("assertion failed: " + err.Error())
	}
}

func AssertFunc(fn func() bool, args ...any) {
	Assert(fn(), args...)
}
