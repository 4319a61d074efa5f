// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

//go:build race

package rsock

// sanity check the configuration
func init() {
	if FrameHeaderSize != 6 {
		panic("FrameHeaderSize != 6")
	}
	if LengthPrefixSize != 3 {
		panic("LengthPrefixSize != 3")
	}
	if FrameMaxSize != 1<<24-1 {
		panic("FrameMaxSize != 1<<24-1")
	}
	if FragmentSizeLimit < FrameHeaderSize {
		panic("FragmentSizeLimit < FrameHeaderSize")
	}
	if ResumeCacheSize < FrameHeaderSize {
		panic("ResumeCacheSize < FrameHeaderSize")
	}
	if MaxStreamID != 1<<31-1 {
		panic("MaxStreamID != 1<<31-1")
	}
}
