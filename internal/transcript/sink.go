package transcript

// Sink receives transcript mutations in the order they were applied.
type Sink interface {
	EntryAppended(index int, entry Entry)
	EntryReplaced(index int, entry Entry)
}

// Sinks fans mutations out to several sinks.
type Sinks []Sink

func (s Sinks) EntryAppended(index int, entry Entry) {
	for _, sink := range s {
		if sink != nil {
			sink.EntryAppended(index, entry)
		}
	}
}

func (s Sinks) EntryReplaced(index int, entry Entry) {
	for _, sink := range s {
		if sink != nil {
			sink.EntryReplaced(index, entry)
		}
	}
}
