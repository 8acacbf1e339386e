// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

// FiberState is one of the states a Fiber's lifecycle moves through
// (spec.md §3.9).
type FiberState int

const (
	FiberReady FiberState = iota
	FiberRunning
	FiberSuspended
	FiberFinished
	FiberFaulted
)

func (s FiberState) String() string {
	switch s {
	case FiberReady:
		return "READY"
	case FiberRunning:
		return "RUNNING"
	case FiberSuspended:
		return "SUSPENDED"
	case FiberFinished:
		return "FINISHED"
	case FiberFaulted:
		return "FAULTED"
	default:
		return "UNKNOWN"
	}
}

// FiberID is the 31-bit (allocation number, generation) identity pair
// spec.md §3.9 requires so dangling fiber handles can be detected: a
// handle whose Generation no longer matches the live fiber at Alloc in the
// owning FiberTable is stale.
type FiberID struct {
	Alloc      uint32
	Generation uint32
}

const maxOperandStack = 64
const maxVMStack = 32
const maxIterStack = 64
const maxObjectStack = 32

// iterFrame is one nested foreach's state (spec.md §4.6 "Iterator stack").
type iterFrame struct {
	VarEntry  *DictEntry
	Index     int
	WordSplit bool
	Words     []string
	Elements  []Value
}

// tryRecord is one pushed try/catch scope (spec.md §4.7 "Try/catch").
type tryRecord struct {
	Mask       uint32
	CatchIP    uint32
	FrameDepth int
	IntDepth   int
	FltDepth   int
	StrMarker  int
}

// Fiber is one cooperatively scheduled execution (spec.md §3.9). It owns
// every operand stack, the iterator/object-construction/try stacks, and
// the call-frame stack; nothing here is shared between fibers.
type Fiber struct {
	ID    FiberID
	State FiberState

	IntStack []int64
	FltStack []float64

	// strBuf/strMarkers are the string accumulation stack (spec.md §9
	// design note): strBuf is the byte buffer, strMarkers the per-frame
	// offset stack OP_PUSH_FRAME pushes and OP_REWIND_STR/
	// OP_TERMINATE_REWIND_STR pop or truncate against.
	strBuf     []byte
	strMarkers []int

	// curStr is the single "current string value" register that most
	// string-producing opcodes leave their result in, immediately
	// consumed by the next opcode (OP_ADVANCE_STR, OP_SAVEVAR_STR, ...).
	curStr string

	curVar      *DictEntry
	curIdent    *Interned
	curObj      *Object
	curField    *Interned
	curFieldIdx int

	iterStack []iterFrame
	objStack  []*Object
	tryStack  []tryRecord
	frames    []*Frame

	// thrownValue records the value of the most recent OP_THROW (spec.md
	// §4.7 "the thrown value available as a register"); thrownMask is
	// never set by the dispatcher and is only carried by fiber
	// serialization.
	thrownValue Value
	thrownMask  uint32

	// lastValue is the most recently produced value, in whichever
	// representation (int/float/string) the opcode that produced it used;
	// OP_RETURN and argument-collecting opcodes read it rather than
	// guessing which typed stack the value landed on.
	lastValue Value

	LastYielded Value
	cancelled   bool

	// argvScratch is not used by the dispatcher: native callbacks receive
	// an ArgView over the raw argument Values, which converts each
	// argument on demand.
	argvScratch []string

	// body is the entry point vm.run installs before starting this
	// fiber's goroutine; outCh/resumeCh are the suspend/resume handshake
	// OP_YIELD and VM.Resume use (spec.md §3.9, §5).
	body     func() (Value, error)
	outCh    chan Outcome
	resumeCh chan Value
}

func newFiber(id FiberID) *Fiber {
	return &Fiber{ID: id, State: FiberReady}
}

// ReturnBase implements ZoneContext: ZoneReturn values resolve against
// the fiber's own string accumulator, the same buffer FiberBase uses.
func (f *Fiber) ReturnBase() []byte { return f.strBuf }

// FiberBase implements ZoneContext for ZoneFiberStart+k values; this
// engine never constructs cross-fiber string references, so it only ever
// resolves against its own buffer.
func (f *Fiber) FiberBase(int) []byte { return f.strBuf }

func (f *Fiber) pushInt(v int64) error {
	if len(f.IntStack) >= maxOperandStack {
		return ErrStackOverflow
	}
	f.IntStack = append(f.IntStack, v)
	return nil
}

func (f *Fiber) popInt() (int64, error) {
	n := len(f.IntStack)
	if n == 0 {
		return 0, ErrStackImbalance
	}
	v := f.IntStack[n-1]
	f.IntStack = f.IntStack[:n-1]
	return v, nil
}

func (f *Fiber) pushFloat(v float64) error {
	if len(f.FltStack) >= maxOperandStack {
		return ErrStackOverflow
	}
	f.FltStack = append(f.FltStack, v)
	return nil
}

func (f *Fiber) popFloat() (float64, error) {
	n := len(f.FltStack)
	if n == 0 {
		return 0, ErrStackImbalance
	}
	v := f.FltStack[n-1]
	f.FltStack = f.FltStack[:n-1]
	return v, nil
}

func (f *Fiber) pushFrame() int {
	marker := len(f.strBuf)
	f.strMarkers = append(f.strMarkers, marker)
	return marker
}

func (f *Fiber) popFrameMarker() (int, error) {
	n := len(f.strMarkers)
	if n == 0 {
		return 0, ErrStackImbalance
	}
	m := f.strMarkers[n-1]
	f.strMarkers = f.strMarkers[:n-1]
	return m, nil
}

func (f *Fiber) topFrameMarker() int {
	n := len(f.strMarkers)
	if n == 0 {
		return 0
	}
	return f.strMarkers[n-1]
}

func (f *Fiber) advanceStr(s string) {
	f.strBuf = append(f.strBuf, s...)
}

func (f *Fiber) currentFrame() *Frame {
	n := len(f.frames)
	if n == 0 {
		return nil
	}
	return f.frames[n-1]
}

// FiberTable allocates Fibers and detects dangling handles via generation
// counters (spec.md §3.9).
type FiberTable struct {
	slots       []*Fiber
	generations []uint32
	freeList    []uint32
}

// NewFiberTable returns an empty table.
func NewFiberTable() *FiberTable { return &FiberTable{} }

// Spawn allocates a fresh fiber, reusing a freed slot (and bumping its
// generation) when one is available.
func (t *FiberTable) Spawn() *Fiber {
	var alloc uint32
	if n := len(t.freeList); n > 0 {
		alloc = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
	} else {
		alloc = uint32(len(t.slots))
		t.slots = append(t.slots, nil)
		t.generations = append(t.generations, 0)
	}
	id := FiberID{Alloc: alloc, Generation: t.generations[alloc]}
	f := newFiber(id)
	t.slots[alloc] = f
	return f
}

// Lookup resolves id to its live fiber, failing with ErrDanglingFiber if
// the generation no longer matches (the slot was freed and reused, or the
// fiber was never allocated from this table).
func (t *FiberTable) Lookup(id FiberID) (*Fiber, error) {
	if int(id.Alloc) >= len(t.slots) || t.generations[id.Alloc] != id.Generation {
		return nil, ErrDanglingFiber
	}
	f := t.slots[id.Alloc]
	if f == nil {
		return nil, ErrDanglingFiber
	}
	return f, nil
}

// Release frees id's slot and bumps its generation so any outstanding
// handle becomes dangling.
func (t *FiberTable) Release(id FiberID) {
	if int(id.Alloc) >= len(t.slots) {
		return
	}
	t.slots[id.Alloc] = nil
	t.generations[id.Alloc]++
	t.freeList = append(t.freeList, id.Alloc)
}
