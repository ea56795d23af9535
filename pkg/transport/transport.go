package transport

// Socket is a network handle owned by the engine's lifecycle controller.
// Workers read from and write to it but never close it; closing it is how the
// controller unblocks a worker parked in a receive or accept.
type Socket interface {
	// Addr returns the local bound address.
	Addr() string
	Close() error
}
