package fn

// Generational copying collector. The heap is a set of fixed-size
// cards, each owned by one generation. Small objects bump-allocate
// within a card; objects larger than half a card get a card to
// themselves. Collection copies live objects toward older
// generations, leaving forwarding entries behind, so any raw *Object
// held across an allocation is stale; an object survives only if it
// is reachable from a root (the VM stack, the open-upvalue list, the
// global environment, or a pinned handle), and is re-read from there.

type GCKind uint8

const (
	gcString GCKind = iota
	gcCons
	gcTable
	gcBytes
	gcUpvalue
	gcStub
	gcFunction
	gcForward
)

const (
	// ObjAlign is the heap alignment unit; every object size is a
	// multiple of it and includes one unit of header.
	ObjAlign = 32
	// CardSize is the size of one heap card.
	CardSize = 4096
	// LargeObjectCutoff is the largest size that bump-allocates
	// within a shared card.
	LargeObjectCutoff = CardSize / 2
	// TenureAge is the number of collections an object survives
	// before promotion to the tenured generation.
	TenureAge = 16
	// DefaultNurserySize is the nursery card budget; filling it
	// triggers a collection.
	DefaultNurserySize = 32

	cardDataStart = ObjAlign

	GenNursery  = 0
	GenSurvivor = 1
	GenTenured  = 2

	// Collection cadence: every minorEvery-th cycle also compacts
	// the survivor generation, every majorEvery-th additionally
	// sweeps the tenured generation.
	minorEvery = 16
	majorEvery = 256
)

func roundAlign(n int) int {
	return (n + ObjAlign - 1) &^ (ObjAlign - 1)
}

// Card is one heap page. Normal cards hold many objects and track a
// bump pointer; large-object cards hold exactly one object and sit
// in a separate doubly-linked list per generation.
type Card struct {
	next    *Card
	prev    *Card
	pointer int
	gen     uint8
	mark    bool
	dirty   bool
	large   bool
	objs    []*Object
}

// deck holds one generation's cards.
type deck struct {
	head  *Card
	foot  *Card
	large *Card
	count int
}

func (d *deck) pushCard(c *Card) {
	if d.foot == nil {
		d.head = c
		d.foot = c
	} else {
		d.foot.next = c
		d.foot = c
	}
	d.count++
}

func (d *deck) pushLarge(c *Card) {
	c.prev = nil
	c.next = d.large
	if d.large != nil {
		d.large.prev = c
	}
	d.large = c
}

func (d *deck) removeLarge(c *Card) {
	if c.prev != nil {
		c.prev.next = c.next
	} else {
		d.large = c.next
	}
	if c.next != nil {
		c.next.prev = c.prev
	}
	c.next = nil
	c.prev = nil
}

// Object is a heap object of any GC class. The header fields (kind,
// size, age, forward, card) are common; the payload fields are
// per-class and only the group matching kind is meaningful. A
// forwarded object has kind gcForward and its forward field set.
type Object struct {
	kind    GCKind
	size    uint32
	age     uint8
	forward *Object
	card    *Card
	epoch   uint64

	// string
	bytes []byte

	// cons
	head Value
	tail Value

	// table
	cnt       uint32
	tcap      uint32
	rehash    uint32
	data      *Object
	metatable Value

	// gc bytes: interleaved key/value slots for tables
	slots []Value

	// upvalue cell
	closed bool
	pos    uint32
	val    Value

	// function
	stub     *Object
	upvals   []*Object
	initVals []Value

	// function stub
	fs *FuncStub
}

// Handle pins an object across allocations. Handles form a
// doubly-linked list rooted in the allocator; the collector treats
// every handle as a root and writes the post-move pointer back.
type Handle struct {
	obj  *Object
	next *Handle
	prev *Handle
	a    *Allocator
}

// Obj returns the current address of the pinned object.
func (h *Handle) Obj() *Object { return h.obj }

// Release unpins the handle.
func (h *Handle) Release() {
	if h.prev != nil {
		h.prev.next = h.next
	} else {
		h.a.handles = h.next
	}
	if h.next != nil {
		h.next.prev = h.prev
	}
	h.next = nil
	h.prev = nil
}

type Allocator struct {
	S       *IState
	gens    [3]deck
	handles *Handle
	cycles  uint64

	nurseryBudget int

	// collection state
	collecting bool
	maxCompact int
	trace      bool
	queue      []*Object
	marked     []*Card
}

func newAllocator(nurseryCards int) *Allocator {
	if nurseryCards <= 0 {
		nurseryCards = DefaultNurserySize
	}
	return &Allocator{nurseryBudget: nurseryCards}
}

// PinHandle pins obj and returns its handle.
func (a *Allocator) PinHandle(obj *Object) *Handle {
	h := &Handle{obj: obj, a: a, next: a.handles}
	if a.handles != nil {
		a.handles.prev = h
	}
	a.handles = h
	return h
}

func (a *Allocator) newCard(gen uint8, large bool) *Card {
	c := &Card{pointer: cardDataStart, gen: gen, large: large}
	if large {
		a.gens[gen].pushLarge(c)
	} else {
		a.gens[gen].pushCard(c)
	}
	// cards born into the tenured generation during a full
	// collection must survive its sweep
	if a.collecting && a.trace && gen == GenTenured {
		c.mark = true
		a.marked = append(a.marked, c)
	}
	return c
}

// allocObject allocates a new object in the nursery, collecting
// first when the nursery card budget is exhausted.
func (a *Allocator) allocObject(kind GCKind, size int) *Object {
	if size < ObjAlign {
		size = ObjAlign
	}
	size = roundAlign(size)
	if size > int(^uint32(0))-CardSize {
		panic(&FatalError{Message: "object size overflow"})
	}
	if size > LargeObjectCutoff {
		c := a.newCard(GenNursery, true)
		o := &Object{kind: kind, size: uint32(size), card: c}
		c.pointer += size
		c.objs = append(c.objs, o)
		return o
	}
	d := &a.gens[GenNursery]
	c := d.foot
	if c == nil || c.pointer+size > CardSize {
		if d.count >= a.nurseryBudget {
			a.Collect()
		}
		c = a.newCard(GenNursery, false)
	}
	o := &Object{kind: kind, size: uint32(size), card: c}
	c.pointer += size
	c.objs = append(c.objs, o)
	return o
}

// copyInto places a copy of an object in generation gen, bypassing
// the nursery. Used only during collection.
func (a *Allocator) copyInto(gen uint8, o *Object) *Object {
	n := &Object{}
	*n = *o
	n.forward = nil
	if n.age < 255 {
		n.age++
	}
	d := &a.gens[gen]
	size := int(o.size)
	c := d.foot
	if c == nil || c.pointer+size > CardSize {
		c = a.newCard(gen, false)
	}
	n.card = c
	c.pointer += size
	c.objs = append(c.objs, n)
	return n
}

// writeBarrier records, on the card of the written object, that it
// now references a younger generation.
func (a *Allocator) writeBarrier(owner *Object, v Value) {
	if v.obj != nil && v.obj.card.gen < owner.card.gen {
		owner.card.dirty = true
	}
}

func (a *Allocator) writeBarrierObj(owner, target *Object) {
	if target != nil && target.card.gen < owner.card.gen {
		owner.card.dirty = true
	}
}

// Collect runs one collection cycle. The level is selected by cycle
// count: evacuation of the nursery by default, survivor compaction
// every minorEvery cycles, a full collection with a tenured sweep
// every majorEvery cycles.
func (a *Allocator) Collect() {
	a.cycles++
	level := GenNursery
	full := false
	if a.cycles%majorEvery == 0 {
		level = GenSurvivor
		full = true
	} else if a.cycles%minorEvery == 0 {
		level = GenSurvivor
	}
	a.collect(level, full)
}

func (a *Allocator) collect(maxCompact int, full bool) {
	a.collecting = true
	a.maxCompact = maxCompact
	a.trace = full
	a.queue = a.queue[:0]
	a.marked = a.marked[:0]

	// Set the compacted generations' normal cards aside and start
	// them fresh; copies land in the new decks, unreached cards
	// die with the old ones. Large-object cards stay listed: the
	// copy-reference rule reclassifies the reached ones into the
	// next generation, and the remainder is reclaimed below.
	var old [3]deck
	for g := 0; g <= maxCompact; g++ {
		old[g].head = a.gens[g].head
		old[g].foot = a.gens[g].foot
		old[g].count = a.gens[g].count
		a.gens[g].head = nil
		a.gens[g].foot = nil
		a.gens[g].count = 0
	}

	// Scavenge dirty cards of the uncompacted generations: they
	// may hold the only references into the generations being
	// collected.
	for g := maxCompact + 1; g <= GenTenured; g++ {
		for c := a.gens[g].head; c != nil; c = c.next {
			if c.dirty {
				a.scavengeCard(c)
			}
		}
		for c := a.gens[g].large; c != nil; c = c.next {
			if c.dirty {
				a.scavengeCard(c)
			}
		}
	}

	// Roots.
	a.fixRoots()
	for h := a.handles; h != nil; h = h.next {
		a.fixObj(&h.obj)
	}

	// Drain the queue: every copied (or in-place traced) object is
	// scavenged exactly like a dirty card's contents.
	for len(a.queue) > 0 {
		o := a.queue[len(a.queue)-1]
		a.queue = a.queue[:len(a.queue)-1]
		young := a.scavengeObject(o)
		if young {
			o.card.dirty = true
		}
	}

	// The old normal cards of every compacted generation drop
	// here. A compacted generation's large list now holds two
	// kinds of card: ones promoted into it from below this cycle
	// (their object's epoch is current) and unreached garbage.
	for g := 0; g <= maxCompact; g++ {
		old[g] = deck{}
		c := a.gens[g].large
		a.gens[g].large = nil
		for c != nil {
			next := c.next
			if len(c.objs) == 1 && c.objs[0].epoch == a.cycles {
				a.gens[g].pushLarge(c)
			}
			c = next
		}
	}

	if full {
		a.sweepTenured()
	}
	for _, c := range a.marked {
		c.mark = false
	}
	a.collecting = false
}

func (a *Allocator) scavengeCard(c *Card) {
	young := false
	for _, o := range c.objs {
		if o.kind == gcForward {
			continue
		}
		if a.scavengeObject(o) {
			young = true
		}
	}
	c.dirty = young
}

// fixValue applies the copy-reference rule to a value slot.
func (a *Allocator) fixValue(p *Value) {
	if p.obj != nil {
		a.fixObj(&p.obj)
	}
}

// fixObj applies the copy-reference rule to an object slot.
func (a *Allocator) fixObj(p **Object) {
	o := *p
	if o == nil {
		return
	}
	if o.kind == gcForward {
		*p = o.forward
		return
	}
	c := o.card
	if int(c.gen) > a.maxCompact {
		if !c.mark {
			c.mark = true
			a.marked = append(a.marked, c)
		}
		if a.trace && o.epoch != a.cycles {
			o.epoch = a.cycles
			a.queue = append(a.queue, o)
		}
		return
	}
	if c.large {
		// Large objects are never copied; the card itself is
		// reclassified into the next generation.
		if o.epoch == a.cycles {
			return
		}
		o.epoch = a.cycles
		a.gens[c.gen].removeLarge(c)
		c.gen++
		if o.age < 255 {
			o.age++
		}
		a.gens[c.gen].pushLarge(c)
		if a.trace && c.gen == GenTenured && !c.mark {
			c.mark = true
			a.marked = append(a.marked, c)
		}
		a.queue = append(a.queue, o)
		return
	}
	var gen uint8 = GenSurvivor
	if o.age+1 >= TenureAge {
		gen = GenTenured
	}
	n := a.copyInto(gen, o)
	o.kind = gcForward
	o.forward = n
	a.queue = append(a.queue, n)
	*p = n
}

// scavengeObject fixes every reference held by o and reports whether
// any of them still lands in a younger generation.
func (a *Allocator) scavengeObject(o *Object) bool {
	switch o.kind {
	case gcString:
	case gcCons:
		a.fixValue(&o.head)
		a.fixValue(&o.tail)
	case gcTable:
		a.fixObj(&o.data)
		a.fixValue(&o.metatable)
	case gcBytes:
		for i := range o.slots {
			a.fixValue(&o.slots[i])
		}
	case gcUpvalue:
		if o.closed {
			a.fixValue(&o.val)
		}
	case gcFunction:
		a.fixObj(&o.stub)
		for i := range o.upvals {
			a.fixObj(&o.upvals[i])
		}
		for i := range o.initVals {
			a.fixValue(&o.initVals[i])
		}
	case gcStub:
		for i := range o.fs.consts {
			a.fixValue(&o.fs.consts[i])
		}
		for i := range o.fs.subFuns {
			a.fixObj(&o.fs.subFuns[i])
		}
	}
	return a.hasYoungRef(o)
}

func (a *Allocator) hasYoungRef(o *Object) bool {
	gen := o.card.gen
	younger := func(v Value) bool {
		return v.obj != nil && v.obj.card.gen < gen
	}
	youngerObj := func(t *Object) bool {
		return t != nil && t.card.gen < gen
	}
	switch o.kind {
	case gcCons:
		return younger(o.head) || younger(o.tail)
	case gcTable:
		return youngerObj(o.data) || younger(o.metatable)
	case gcBytes:
		for i := range o.slots {
			if younger(o.slots[i]) {
				return true
			}
		}
	case gcUpvalue:
		return o.closed && younger(o.val)
	case gcFunction:
		if youngerObj(o.stub) {
			return true
		}
		for _, u := range o.upvals {
			if youngerObj(u) {
				return true
			}
		}
		for i := range o.initVals {
			if younger(o.initVals[i]) {
				return true
			}
		}
	case gcStub:
		for i := range o.fs.consts {
			if younger(o.fs.consts[i]) {
				return true
			}
		}
		for _, s := range o.fs.subFuns {
			if youngerObj(s) {
				return true
			}
		}
	}
	return false
}

// fixRoots applies the copy-reference rule to every root location in
// the interpreter state.
func (a *Allocator) fixRoots() {
	S := a.S
	if S == nil {
		return
	}
	for i := 0; i < S.sp; i++ {
		a.fixValue(&S.stack[i])
	}
	a.fixObj(&S.callee)
	for i := range S.openUpvals {
		a.fixObj(&S.openUpvals[i])
	}
	for i := range S.frames {
		a.fixObj(&S.frames[i].callee)
	}
	for i := range S.traceFrames {
		a.fixObj(&S.traceFrames[i].callee)
	}
	if S.Env != nil {
		for k, v := range S.Env.defs {
			a.fixValue(&v)
			S.Env.defs[k] = v
		}
		for k, v := range S.Env.macros {
			a.fixValue(&v)
			S.Env.macros[k] = v
		}
	}
}

// sweepTenured reclaims tenured cards that no marked reference
// reached during a full collection.
func (a *Allocator) sweepTenured() {
	d := &a.gens[GenTenured]
	var nd deck
	for c := d.head; c != nil; {
		next := c.next
		c.next = nil
		if c.mark {
			nd.pushCard(c)
		}
		c = next
	}
	for c := d.large; c != nil; {
		next := c.next
		if c.mark {
			c.next = nil
			c.prev = nil
			nd.pushLarge(c)
		}
		c = next
	}
	a.gens[GenTenured] = nd
}

// CardCount returns the number of normal cards in a generation.
// Intended for tests and diagnostics.
func (a *Allocator) CardCount(gen int) int {
	return a.gens[gen].count
}

// LargeCardCount returns the number of large-object cards in a
// generation.
func (a *Allocator) LargeCardCount(gen int) int {
	n := 0
	for c := a.gens[gen].large; c != nil; c = c.next {
		n++
	}
	return n
}
