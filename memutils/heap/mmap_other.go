//go:build !unix

package heap

import "os"

func mapRegion(size int) ([]byte, bool, error) {
	return make([]byte, size), false, nil
}

func unmapRegion(mem []byte) error {
	return nil
}

func pageSize() int {
	return os.Getpagesize()
}
