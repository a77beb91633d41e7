package server

type Server interface {
	Start() error
	Stop() error
	// Done is closed once a shutdown request has destroyed the file system.
	Done() <-chan struct{}
}
