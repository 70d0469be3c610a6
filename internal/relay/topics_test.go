package relay

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicIndex_ExistsIffNonEmpty(t *testing.T) {
	ti := NewTopicIndex()
	assert.False(t, ti.Has("room"))

	assert.True(t, ti.Subscribe("room", "a"))
	assert.False(t, ti.Subscribe("room", "a"), "second subscribe is a no-op")
	assert.True(t, ti.Subscribe("room", "b"))
	assert.True(t, ti.Has("room"))
	assert.Equal(t, 1, ti.Len())

	assert.True(t, ti.Unsubscribe("room", "a"))
	assert.True(t, ti.Has("room"))
	assert.True(t, ti.Unsubscribe("room", "b"))
	assert.False(t, ti.Has("room"))
	assert.Equal(t, 0, ti.Len())

	assert.False(t, ti.Unsubscribe("room", "b"))
	assert.False(t, ti.Unsubscribe("missing", "a"))
}

func TestTopicIndex_MembersOfIsOrderedSnapshot(t *testing.T) {
	ti := NewTopicIndex()
	for _, id := range []ConnID{"z", "a", "m"} {
		ti.Subscribe("room", id)
	}

	snap := ti.MembersOf("room")
	require.Equal(t, []ConnID{"z", "a", "m"}, snap)

	snap[0] = "mutated"
	ti.Unsubscribe("room", "a")
	assert.Equal(t, []ConnID{"z", "m"}, ti.MembersOf("room"))

	ti.Subscribe("room", "a")
	assert.Equal(t, []ConnID{"z", "m", "a"}, ti.MembersOf("room"), "resubscribe goes to the back")

	assert.Empty(t, ti.MembersOf("missing"))
}

func TestTopicIndex_ConcurrentChurnLeavesNoEmptyTopics(t *testing.T) {
	ti := NewTopicIndex()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := ConnID(fmt.Sprintf("w%d", w))
			for i := 0; i < 200; i++ {
				topic := fmt.Sprintf("t%d", i%5)
				ti.Subscribe(topic, id)
				_ = ti.MembersOf(topic)
				ti.Unsubscribe(topic, id)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 0, ti.Len())
}
