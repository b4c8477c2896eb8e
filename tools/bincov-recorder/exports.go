// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

/*
#include <stddef.h>
#include <stdint.h>
*/
import "C"

// The names are part of the rewritten binary ABI, see instrument.InitFunc/ReportFunc.

//export bincov_recorder_init
func bincov_recorder_init(id C.uint32_t, words C.size_t, filename, options *C.char) {
	initRecorder(uint32(id), int(words), C.GoString(filename), C.GoString(options))
}

//export bincov_recorder_report
func bincov_recorder_report(idx C.uint32_t) {
	report(uint32(idx))
}

//export bincovAtExit
func bincovAtExit() {
	closeRecorder()
}
