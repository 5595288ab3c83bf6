package memutils

// Validatable is anything with a consistency check that DebugValidate can run, such as an
// allocator's heap checker
type Validatable interface {
	Validate() error
}
