package model

// Entry is one (timestamp, line) pair within a stream. Timestamp is Unix
// nanoseconds.
type Entry struct {
	Timestamp int64
	Line      string
}

// Stream is a label set plus its ordered entries.
type Stream struct {
	Labels  LabelSet
	Entries []Entry
}

// PushBatch is the unit of transmission: the streams built from one buffer
// drain. Constructed fresh per flush and never mutated after dispatch.
type PushBatch struct {
	streams []*Stream
	index   map[string]*Stream
}

// Add appends an entry to the stream identified by labels, creating the
// stream on first use. Streams keep the order in which label sets first
// appeared; entries keep insertion order.
func (b *PushBatch) Add(labels LabelSet, e Entry) {
	if b.index == nil {
		b.index = make(map[string]*Stream)
	}
	key := labels.Key()
	s, ok := b.index[key]
	if !ok {
		s = &Stream{Labels: labels}
		b.index[key] = s
		b.streams = append(b.streams, s)
	}
	s.Entries = append(s.Entries, e)
}

// Streams returns the batch contents in first-seen order.
func (b *PushBatch) Streams() []*Stream {
	return b.streams
}

// EntryCount returns the total number of entries across all streams.
func (b *PushBatch) EntryCount() int {
	n := 0
	for _, s := range b.streams {
		n += len(s.Entries)
	}
	return n
}

// QueryResult carries the backend's query response: the status tag, the
// decoded result streams, and the raw data payload passed through untouched
// for callers that want the backend-defined shape.
type QueryResult struct {
	Status  string
	Streams []Stream
	Data    []byte
}
