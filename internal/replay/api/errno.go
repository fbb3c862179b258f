// Copyright 2025 The syncreplay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

// Return codes logged for wrapped operations. The values are the Linux
// errno numbers the corresponding pthread calls return.
const (
	rcOK      int32 = 0
	rcAgain   int32 = 11  // EAGAIN
	rcBusy    int32 = 16  // EBUSY
	rcTimeout int32 = 110 // ETIMEDOUT

	// rcSerial is returned by a barrier wait to exactly one waiter
	// (PTHREAD_BARRIER_SERIAL_THREAD).
	rcSerial int32 = -1
)

func boolRC(ok bool, failed int32) int32 {
	if ok {
		return rcOK
	}
	return failed
}
