// SPDX-License-Identifier: MPL-2.0

//go:build linux || darwin || freebsd || netbsd || openbsd

package shm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// allocRegion maps an anonymous shared region so the bytes live outside the
// Go heap and could be handed to another process unchanged.
func allocRegion(size int) ([]byte, func([]byte) error, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	return mem, unix.Munmap, nil
}
