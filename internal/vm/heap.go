// vm/heap.go

package vm

import "fmt"

// MaxArrays bounds the identifier space. Allocation faults once every
// identifier below the bound is live.
const MaxArrays = 1 << 16

// Heap is the registry of allocated arrays, indexed by identifier. Slot 0
// holds the code array and is live for the whole life of the machine. A nil
// slot marks a free identifier.
//
// Programs pass identifiers around as ordinary register values, so freed
// identifiers are reused lowest-first to keep the values they observe small
// and stable across allocate/free cycles.
type Heap struct {
	arrays [][]uint32
}

// NewHeap creates a heap whose code array is program.
func NewHeap(program []uint32) *Heap {
	h := &Heap{arrays: make([][]uint32, 1, 64)}
	h.arrays[0] = program
	return h
}

func (h *Heap) live(id uint32) bool {
	return id < uint32(len(h.arrays)) && h.arrays[id] != nil
}

// Alloc creates a zero-filled array of n words and returns the first free
// identifier, growing the identifier space only when no freed slot exists.
func (h *Heap) Alloc(n uint32) (uint32, *Fault) {
	for id := 1; id < len(h.arrays); id++ {
		if h.arrays[id] == nil {
			h.arrays[id] = make([]uint32, n)
			return uint32(id), nil
		}
	}
	if len(h.arrays) >= MaxArrays {
		return 0, &Fault{Code: FaultHeapExhausted, Message: fmt.Sprintf("all %d identifiers live", MaxArrays)}
	}
	h.arrays = append(h.arrays, make([]uint32, n))
	return uint32(len(h.arrays) - 1), nil
}

// Free releases the array identified by id. Releasing the code array or an
// identifier that is not live is a machine exception.
func (h *Heap) Free(id uint32) *Fault {
	if id == 0 {
		return &Fault{Code: FaultFreeCodeArray, Message: "deallocation of array 0"}
	}
	if !h.live(id) {
		return &Fault{Code: FaultAbsentArray, Message: fmt.Sprintf("deallocation of absent array %d", id)}
	}
	h.arrays[id] = nil
	return nil
}

// Read returns the word at off in the array identified by id.
func (h *Heap) Read(id, off uint32) (uint32, *Fault) {
	if !h.live(id) {
		return 0, &Fault{Code: FaultAbsentArray, Message: fmt.Sprintf("index into absent array %d", id)}
	}
	a := h.arrays[id]
	if off >= uint32(len(a)) {
		return 0, &Fault{Code: FaultOutOfBounds, Message: fmt.Sprintf("offset %d in array %d of %d words", off, id, len(a))}
	}
	return a[off], nil
}

// Write stores v at off in the array identified by id.
func (h *Heap) Write(id, off, v uint32) *Fault {
	if !h.live(id) {
		return &Fault{Code: FaultAbsentArray, Message: fmt.Sprintf("update of absent array %d", id)}
	}
	a := h.arrays[id]
	if off >= uint32(len(a)) {
		return &Fault{Code: FaultOutOfBounds, Message: fmt.Sprintf("offset %d in array %d of %d words", off, id, len(a))}
	}
	a[off] = v
	return nil
}

// Length returns the word count of the array identified by id.
func (h *Heap) Length(id uint32) (uint32, *Fault) {
	if !h.live(id) {
		return 0, &Fault{Code: FaultAbsentArray, Message: fmt.Sprintf("length of absent array %d", id)}
	}
	return uint32(len(h.arrays[id])), nil
}

// CopyIntoCode replaces the code array with a copy of the array identified
// by id. The copy is fully built before the old code array is dropped, so
// the swap is atomic from the machine's point of view.
func (h *Heap) CopyIntoCode(id uint32) *Fault {
	if !h.live(id) {
		return &Fault{Code: FaultAbsentArray, Message: fmt.Sprintf("load program from absent array %d", id)}
	}
	dup := make([]uint32, len(h.arrays[id]))
	copy(dup, h.arrays[id])
	h.arrays[0] = dup
	return nil
}

// Code returns the code array.
func (h *Heap) Code() []uint32 {
	return h.arrays[0]
}
