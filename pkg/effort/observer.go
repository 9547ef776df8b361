package effort

import (
	"sync"
	"time"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
)

// Observer is the capture capability. Each modality (editor activity, shell
// history, notes) is an independent implementation; the engine drains every
// registered observer on its capture tick.
type Observer interface {
	Start() error
	Stop() error
	Drain() []contracts.Signal
}

// BufferObserver is an in-process Observer fed by explicit Record calls.
// It backs the manual capture path and doubles as the test double for the
// capability.
type BufferObserver struct {
	mu       sync.Mutex
	modality string
	buf      []contracts.Signal
	running  bool
	clock    func() time.Time
}

// NewBufferObserver creates an observer for one modality.
func NewBufferObserver(modality string) *BufferObserver {
	return &BufferObserver{modality: modality, clock: time.Now}
}

func (o *BufferObserver) Start() error {
	o.mu.Lock()
	o.running = true
	o.mu.Unlock()
	return nil
}

func (o *BufferObserver) Stop() error {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
	return nil
}

// Record buffers one signal. Ignored while stopped.
func (o *BufferObserver) Record(content string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	o.buf = append(o.buf, NewSignal(o.modality, content, o.clock()))
}

// Drain returns and clears the buffered signals.
func (o *BufferObserver) Drain() []contracts.Signal {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.buf
	o.buf = nil
	return out
}
