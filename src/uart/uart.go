// Package uart implements a concrete kernel-internal Table/Object pair:
// §8's end-to-end scenario 1 ("register kernel table uart; open("0") ->
// handle H; write(H, b"hi") -> (0,2); serial TX fires; one byte arrives via
// IRQ; read(H,1) completes with b"h""). Its TakeJob/FinishJob/CancelJob are
// unreachable, matching §4.3: "a kernel-internal table stubs these as
// unreachable" -- there is no userspace server on the other side, so the
// table answers client requests synchronously from inside the kernel
// instead of posting a Job.
//
// Since there is no real 16550 register file under the simulation
// boundary (§A), Device stands in for the hardware: TX appends to an
// internal log (what a real driver would shift out onto the wire) and RX
// is fed by InjectRX, the equivalent of an interrupt handler placing a
// received byte into the device's buffer.
package uart

import (
	"sync"

	"tablekernel/src/defs"
	"tablekernel/src/object"
	"tablekernel/src/table"
	"tablekernel/src/ticket"
)

// Device models one UART's worth of state: a TX log and an RX queue fed by
// InjectRX (the IRQ handler's counterpart).
type Device struct {
	mu     sync.Mutex
	tx     []byte
	rx     []byte
	pollWs []ticket.TicketWaker[uint64]
}

// NewDevice returns an empty Device.
func NewDevice() *Device { return &Device{} }

// TXLog returns everything written so far, for tests asserting the echo
// scenario's write side.
func (d *Device) TXLog() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.tx))
	copy(out, d.tx)
	return out
}

// InjectRX simulates a received byte arriving via IRQ, waking any thread
// parked in Poll.
func (d *Device) InjectRX(b byte) {
	d.mu.Lock()
	d.rx = append(d.rx, b)
	ws := d.pollWs
	d.pollWs = nil
	d.mu.Unlock()
	for _, w := range ws {
		w.CompleteISR(ticket.Ok(uint64(1)))
	}
}

func (d *Device) write(b []byte) ticket.Ticket[uint64] {
	d.mu.Lock()
	d.tx = append(d.tx, b...)
	d.mu.Unlock()
	return ticket.NewComplete(ticket.Ok(uint64(len(b))))
}

func (d *Device) read(n int, peek bool) ticket.Ticket[object.Bytes] {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.rx) == 0 {
		// no data available: a real UART object would park via poll first;
		// a bare read on an empty buffer returns 0 bytes rather than
		// blocking, matching §8's zero-length boundary case semantics for
		// "nothing to give right now."
		return ticket.NewComplete(ticket.Ok(object.Bytes{}))
	}
	if n > len(d.rx) {
		n = len(d.rx)
	}
	out := make([]byte, n)
	copy(out, d.rx[:n])
	if !peek {
		d.rx = d.rx[n:]
	}
	return ticket.NewComplete(ticket.Ok(object.Bytes(out)))
}

func (d *Device) poll() ticket.Ticket[uint64] {
	d.mu.Lock()
	if len(d.rx) > 0 {
		n := uint64(len(d.rx))
		d.mu.Unlock()
		return ticket.NewComplete(ticket.Ok(n))
	}
	t, w := ticket.New[uint64]()
	d.pollWs = append(d.pollWs, w)
	d.mu.Unlock()
	return t
}

// NewObject builds the Object exposing d's read/write/poll capabilities,
// named by port (e.g. "0" for the first UART, per §8's open("0")).
func NewObject(d *Device) *object.Object {
	return &object.Object{
		Name:    "uart",
		ReadFn:  d.read,
		WriteFn: d.write,
		PollFn:  d.poll,
	}
}

// Register installs a uart table into reg with one port object named port,
// routed through OpenFn so open(port) returns the device's Object. The
// table is kernel-internal: TakeJob/FinishJob/CancelJob on it panic if
// ever called, since the kernel answers every request synchronously.
func Register(reg *table.Registry, port string, d *Device) (*table.Table, defs.ErrKind) {
	obj := NewObject(d)
	root := &object.Object{
		Name: "uart-root",
		OpenFn: func(path []byte) ticket.Ticket[*object.Object] {
			if string(path) != port {
				return ticket.NewComplete(ticket.Fail[*object.Object](defs.EDoesNotExist))
			}
			return ticket.NewComplete(ticket.Ok(obj))
		},
	}
	return reg.Register("uart", []string{"serial"}, root, true)
}
