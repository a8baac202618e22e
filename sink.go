package demsample

// A Sink receives output records.
type Sink interface {
	Write(p SampledPoint) error
	// Close flushes and closes the sink. A sink whose Close fails has not been
	// completely written.
	Close() error
}

// A RemovableSink is a Sink backed by files that can be removed after a failed
// run.
type RemovableSink interface {
	Sink
	Remove() error
}
