package smpp

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultReassemblyTTL bounds how long an incomplete concatenated message is kept
const DefaultReassemblyTTL = 5 * time.Minute

type partialMessage struct {
	parts    [][]byte
	received int
}

// Reassembler collects SAR segments until a message is complete. Incomplete
// sets expire after the TTL.
type Reassembler struct {
	mu    sync.Mutex
	parts *cache.Cache
}

// NewReassembler creates a reassembler whose incomplete messages expire after ttl
func NewReassembler(ttl time.Duration) *Reassembler {
	if ttl <= 0 {
		ttl = DefaultReassemblyTTL
	}
	return &Reassembler{parts: cache.New(ttl, ttl)}
}

func segmentKey(connID uint32, from, to string, ref uint16) string {
	return fmt.Sprintf("%d/%s/%s/%d", connID, from, to, ref)
}

// Add stores one segment. When it completes the message the joined body is
// returned with true.
func (r *Reassembler) Add(connID uint32, from, to string, seg Segment, data []byte) ([]byte, bool) {
	key := segmentKey(connID, from, to, seg.Reference)

	r.mu.Lock()
	defer r.mu.Unlock()

	var partial *partialMessage
	if v, ok := r.parts.Get(key); ok {
		partial = v.(*partialMessage)
	}
	// A new total under the same reference starts over.
	if partial == nil || len(partial.parts) != int(seg.Total) {
		partial = &partialMessage{parts: make([][]byte, seg.Total)}
	}

	idx := int(seg.Seq) - 1
	if partial.parts[idx] == nil {
		partial.parts[idx] = append([]byte{}, data...)
		partial.received++
	}

	if partial.received < len(partial.parts) {
		r.parts.Set(key, partial, cache.DefaultExpiration)
		return nil, false
	}

	r.parts.Delete(key)
	return bytes.Join(partial.parts, nil), true
}

// Drop discards every incomplete message of a connection
func (r *Reassembler) Drop(connID uint32) {
	prefix := fmt.Sprintf("%d/", connID)

	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.parts.Items() {
		if strings.HasPrefix(key, prefix) {
			r.parts.Delete(key)
		}
	}
}

// Pending returns the number of incomplete messages
func (r *Reassembler) Pending() int {
	return r.parts.ItemCount()
}
