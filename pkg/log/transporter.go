package log

// Transporter defines the interface for log output destinations.
// Implementations can write entries to stdout, files, or remote sinks.
type Transporter interface {
	// Name returns the identifier for this transporter.
	Name() string

	// Write sends a log entry to the destination.
	Write(entry Entry) error

	// Close releases any resources held by the transporter.
	Close() error
}
