//go:build !debug_mem_utils

package memutils

// DebugEnabled reports whether the debug_mem_utils build tag is present
const DebugEnabled = false

// DebugValidate runs the heap checker of validatable and panics with its error. It does nothing
// unless the debug_mem_utils build tag is present.
func DebugValidate(validatable Validatable) {
}

// DebugCheckPow2 panics if value is not a power of two. It does nothing unless the
// debug_mem_utils build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
}
