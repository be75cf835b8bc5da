package interfaces

// Service is an operator facing surface of the escrow daemon. Start must not
// block; Stop releases the listener and waits for in-flight requests.
type Service interface {
	Start() error
	Stop()
	// Address returns the address the service listens on, empty before Start.
	Address() string
}
