package fn

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocationBasics(t *testing.T) {
	S := NewIState(DefaultOptions())

	t.Run("sizes are aligned and carded", func(t *testing.T) {
		S.pushString("hello")
		o := S.peek(0).obj
		assert.Equal(t, uint32(0), o.size%ObjAlign)
		require.NotNil(t, o.card)
		assert.Equal(t, uint8(GenNursery), o.card.gen)
		S.pop()
	})

	t.Run("large objects get their own card", func(t *testing.T) {
		S.pushString(strings.Repeat("x", LargeObjectCutoff+1))
		o := S.peek(0).obj
		assert.True(t, o.card.large)
		assert.Equal(t, 1, len(o.card.objs))
		S.pop()
	})

	t.Run("nursery budget triggers collection", func(t *testing.T) {
		small := NewIState(Options{NurseryCards: 2, StackSize: DefaultStackSize})
		before := small.Alloc.cycles
		for i := 0; i < 10000; i++ {
			small.pushString("some transient garbage string")
			small.pop()
		}
		assert.Greater(t, small.Alloc.cycles, before)
		assert.LessOrEqual(t, small.Alloc.CardCount(GenNursery), 2)
	})
}

func TestCollectionCopying(t *testing.T) {
	t.Run("reachable objects move and forward", func(t *testing.T) {
		S := NewIState(DefaultOptions())
		S.pushString("survivor")
		old := S.peek(0).obj
		S.Alloc.Collect()
		now := S.peek(0).obj
		assert.NotSame(t, old, now)
		assert.Equal(t, gcForward, old.kind)
		assert.Same(t, now, old.forward)
		assert.Equal(t, uint8(GenSurvivor), now.card.gen)
		assert.Equal(t, "survivor", string(now.bytes))
	})

	t.Run("unreachable objects are not copied", func(t *testing.T) {
		S := NewIState(DefaultOptions())
		S.pushString("garbage")
		dead := S.pop().obj
		S.pushString("live")
		S.Alloc.Collect()
		assert.NotEqual(t, gcForward, dead.kind)
		S.pop()
	})

	t.Run("age reaches tenure", func(t *testing.T) {
		S := NewIState(DefaultOptions())
		S.pushString("methuselah")
		// survivor-compacting collections copy the object every
		// cycle, aging it each time
		for i := 0; i < TenureAge+1; i++ {
			S.Alloc.cycles++
			S.Alloc.collect(GenSurvivor, false)
		}
		o := S.peek(0).obj
		assert.Equal(t, uint8(GenTenured), o.card.gen)
		assert.GreaterOrEqual(t, o.age, uint8(TenureAge))
		S.pop()
	})

	t.Run("cons structure survives with contents", func(t *testing.T) {
		S := NewIState(DefaultOptions())
		v, err := S.EvalString(`[1 "two" [3]]`, "")
		require.NoError(t, err)
		S.push(v)
		for i := 0; i < 3; i++ {
			S.Alloc.Collect()
		}
		assert.Equal(t, `[1 "two" [3]]`, ValueString(S.peek(0), S.Symtab, true))
		S.pop()
	})
}

func TestLargeObjectCollection(t *testing.T) {
	S := NewIState(DefaultOptions())
	S.pushString(strings.Repeat("y", CardSize))
	o := S.peek(0).obj
	card := o.card
	require.True(t, card.large)
	require.Equal(t, uint8(GenNursery), card.gen)

	S.Alloc.Collect()

	// never copied: the same object and card move between the
	// generations' large lists
	assert.Same(t, o, S.peek(0).obj)
	assert.Same(t, card, o.card)
	assert.Equal(t, uint8(GenSurvivor), card.gen)
	assert.Equal(t, 1, S.Alloc.LargeCardCount(GenSurvivor))
	assert.Equal(t, 0, S.Alloc.LargeCardCount(GenNursery))
	S.pop()
}

func TestHandles(t *testing.T) {
	S := NewIState(DefaultOptions())
	obj := S.Alloc.allocString("pinned")
	h := S.Alloc.PinHandle(obj)
	S.Alloc.Collect()
	assert.NotSame(t, obj, h.Obj())
	assert.Equal(t, "pinned", string(h.Obj().bytes))
	assert.Equal(t, gcForward, obj.kind)
	h.Release()

	// after release the object is no longer rooted
	dead := h.Obj()
	S.Alloc.Collect()
	assert.NotEqual(t, gcForward, dead.kind)
}

func TestWriteBarrier(t *testing.T) {
	S := NewIState(DefaultOptions())

	// promote a table out of the nursery
	S.pushTable(8)
	S.Alloc.Collect()
	S.Alloc.Collect()
	tbl := S.peek(0)
	require.NotEqual(t, uint8(GenNursery), tbl.obj.card.gen)
	require.False(t, tbl.obj.data.card.dirty)

	// store a nursery string into it: the slot array's card goes
	// dirty because it now references a younger generation
	S.pushString("young")
	key := BoxSym(S.Symtab.Intern("k"))
	require.NoError(t, tableInsert(S.Alloc, S.peek(1).obj, key, S.peek(0)))
	assert.True(t, S.peek(1).obj.data.card.dirty)

	// the dirty card keeps the nursery value alive through an
	// evacuation even when the stack no longer references it
	S.pop()
	S.Alloc.Collect()
	v, ok := tableGet(S.peek(0).obj, key)
	require.True(t, ok)
	assert.Equal(t, "young", string(v.obj.bytes))
	S.pop()
}

func TestGCThroughVM(t *testing.T) {
	// enough garbage to force many collections mid-execution
	S := NewIState(Options{NurseryCards: 4, StackSize: DefaultStackSize})
	v, err := S.EvalString(`
		(defn build (n acc)
		  (if (= n 0) acc (build (- n 1) (cons (String "item" n) acc))))
		(length (build 2000 []))
	`, "")
	require.NoError(t, err)
	assert.Equal(t, 2000.0, v.Num())
	assert.Greater(t, S.Alloc.cycles, uint64(0))
}
