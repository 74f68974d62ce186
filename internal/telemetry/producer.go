package telemetry

import "github.com/vmtel/vmeventbuf/internal/pool"

// Producer is the per-goroutine posting handle. It carries the identity
// token the pool uses for buffer ownership and the current buffer lease.
// A Producer must only be used from one goroutine at a time.
type Producer struct {
	mem   *Memory
	owner pool.Owner
	buf   *pool.Buffer
}

// NewProducer registers a posting handle. The registry lets the pause path
// release every producer's buffer at once.
func (m *Memory) NewProducer() *Producer {
	p := &Producer{mem: m}
	m.mu.Lock()
	m.producers[p] = struct{}{}
	m.mu.Unlock()
	return p
}

// Close releases the producer's buffer and removes it from the registry.
// The producer must not post afterwards.
func (p *Producer) Close() {
	m := p.mem
	m.pause.Enter()
	if p.buf != nil {
		p.buf.Release()
		p.buf = nil
	}
	m.pause.Exit()

	m.mu.Lock()
	delete(m.producers, p)
	m.mu.Unlock()
}
