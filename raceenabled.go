// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

//go:build race

package rsock

func init() {
	// keep buffering bounded when running under the race detector,
	// so panics and timeouts don't dump huge irrelevant buffers
	FragmentSizeLimit = 1 << 16
	ResumeCacheSize = 1 << 16
}
