package relay

import (
	"sort"
	"sync"
)

// TopicIndex maps topic names to their current members.
//
// A topic exists exactly while it has at least one member. Every operation
// takes the single index mutex, so all callers observe one total order of
// membership changes.
type TopicIndex struct {
	mu     sync.Mutex
	seq    uint64
	topics map[string]map[ConnID]uint64
}

func NewTopicIndex() *TopicIndex {
	return &TopicIndex{topics: make(map[string]map[ConnID]uint64)}
}

// Subscribe adds id to topic, creating the topic if needed. It reports
// whether id was newly added.
func (ti *TopicIndex) Subscribe(topic string, id ConnID) bool {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	members, ok := ti.topics[topic]
	if !ok {
		members = make(map[ConnID]uint64)
		ti.topics[topic] = members
	}
	if _, ok := members[id]; ok {
		return false
	}
	ti.seq++
	members[id] = ti.seq
	return true
}

// Unsubscribe removes id from topic and deletes the topic once empty. It
// reports whether id was a member.
func (ti *TopicIndex) Unsubscribe(topic string, id ConnID) bool {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	members, ok := ti.topics[topic]
	if !ok {
		return false
	}
	if _, ok := members[id]; !ok {
		return false
	}
	delete(members, id)
	if len(members) == 0 {
		delete(ti.topics, topic)
	}
	return true
}

// MembersOf returns a snapshot of topic's members in subscription order. The
// caller owns the returned slice.
func (ti *TopicIndex) MembersOf(topic string) []ConnID {
	ti.mu.Lock()
	members := ti.topics[topic]
	type entry struct {
		id  ConnID
		seq uint64
	}
	entries := make([]entry, 0, len(members))
	for id, seq := range members {
		entries = append(entries, entry{id: id, seq: seq})
	}
	ti.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]ConnID, len(entries))
	for i, e := range entries {
		out[i] = e.id
	}
	return out
}

func (ti *TopicIndex) Has(topic string) bool {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	_, ok := ti.topics[topic]
	return ok
}

// Len returns the number of live topics.
func (ti *TopicIndex) Len() int {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return len(ti.topics)
}
