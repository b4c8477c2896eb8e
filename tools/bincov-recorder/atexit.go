// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

// Files with //export directives can't define C functions,
// so the exit hook registration lives here.

/*
#include <stdlib.h>

extern void bincovAtExit(void);

static void bincov_at_exit(void)
{
	bincovAtExit();
}

__attribute__((constructor)) static void bincov_register_at_exit(void)
{
	atexit(bincov_at_exit);
}
*/
import "C"
