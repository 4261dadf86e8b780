package types

import (
	"fmt"
	"unsafe"
)

// ObjectID tells apart live objects of the same kind in logs (e.g. two
// resizers). It is the address of the object, so it is only unique while
// the object is alive.
type ObjectID uint64

func (id ObjectID) String() string {
	return fmt.Sprintf("%X", uint64(id))
}

func GetObjectID[T any](obj *T) ObjectID {
	if obj == nil {
		return 0
	}
	return ObjectID(uintptr(unsafe.Pointer(obj)))
}
