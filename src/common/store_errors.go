package common

import "fmt"

// StoreErrType enumerates the failure modes of the byte stores backing feeds,
// keys, snapshots and party metadata.
type StoreErrType uint32

const (
	// KeyNotFound means there is no record under the requested key.
	KeyNotFound StoreErrType = iota
	// SkippedIndex means an append would leave a gap in a feed.
	SkippedIndex
	// PassedIndex means an append targets a sequence number that is already
	// taken.
	PassedIndex
	// Empty means the collection holds no records.
	Empty
	// KeyAlreadyExists ...
	KeyAlreadyExists
	// Closed means the store was used after Close.
	Closed
)

// StoreErr ...
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr ...
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error ...
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case SkippedIndex:
		m = "Skipped Index"
	case PassedIndex:
		m = "Passed Index"
	case Empty:
		m = "Empty"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	case Closed:
		m = "Closed"
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// IsStore checks that an error is of type StoreErr and that it's code matches
// the provided StoreErr code.
func IsStore(err error, t StoreErrType) bool {
	storeErr, ok := err.(StoreErr)
	return ok && storeErr.errType == t
}
