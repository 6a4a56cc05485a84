package server

import (
	"encoding/json"
	"sync"
)

// streamBufSize is the minimum per-client outgoing event buffer depth.
const streamBufSize = 64

// replayEventsPerCollection is how many events Watch replays for each
// collection on subscribe: its snapshot and its load status.
const replayEventsPerCollection = 2

// bufSize returns a buffer depth that holds the initial replay of n
// collections with room to spare.
func bufSize(n int) int {
	return max(streamBufSize, replayEventsPerCollection*n+16)
}

// stream buffers the events of one streaming client.
//
// Source listeners run on the publishing goroutine, so push never blocks. A
// client that falls a full buffer behind is marked lagged and
// disconnected; on reconnect it receives the current state again.
type stream struct {
	events  chan []byte
	lagged  chan struct{}
	once    sync.Once
	release func()
}

// watch subscribes a new stream to src. The caller must call close.
func watch(src Source) *stream {
	st := &stream{
		events: make(chan []byte, bufSize(len(src.Collections()))),
		lagged: make(chan struct{}),
	}
	st.release = src.Watch(st.push)
	return st
}

func (st *stream) push(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case st.events <- data:
	default:
		st.once.Do(func() { close(st.lagged) })
	}
}

// close releases the stream's subscriptions. After close returns no new
// event is pushed.
func (st *stream) close() {
	st.release()
}
