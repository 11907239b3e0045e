package memory

import "unsafe"

func unsafeSlotSize[T any]() uintptr {
	return unsafe.Sizeof(slot[T]{})
}
