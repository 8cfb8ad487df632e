// Package dispatcher routes decoded frames to the caller waiting for
// them. It holds two tables — pending requests keyed by serial number,
// and push subscribers keyed by proto_id — and implements the tie-break
// rule: if a frame's serial number matches a pending request while its
// proto_id also has push subscribers, the pending request wins and the
// push subscribers see nothing for that frame.
//
// The pending table is a pending map keyed by sequence number,
// paired with the second push table this domain's fan-out
// notifications require. Push delivery is unbounded: a subscriber that
// falls behind accumulates a backlog rather than dropping frames, so
// every subscriber sees every matching frame regardless of how quickly
// it drains its channel.
package dispatcher

import (
	"go.uber.org/zap"

	"futuopend/metrics"
	"futuopend/protocol"
)

// Result is what a registered request slot eventually receives: either
// the correlated frame, or the error that tore the connection down
// before a response arrived.
type Result struct {
	Frame *protocol.Frame
	Err   error
}

// Dispatcher fans decoded frames out to waiting callers. All state
// lives behind a single goroutine's channel loop, so the pending and
// push tables never need their own locks.
type Dispatcher struct {
	pending map[uint32]chan Result
	push    map[uint32][]*pushQueue

	logger  *zap.Logger
	metrics *metrics.Collectors

	register   chan registration
	unregister chan uint32
	dispatch   chan *protocol.Frame
	subscribe  chan subscription
	clear      chan clearRequest
	done       chan struct{}
}

type registration struct {
	serialNo uint32
	ch       chan Result
}

type subscription struct {
	protoID uint32
	queue   *pushQueue
}

type clearRequest struct {
	err error
	ack chan struct{}
}

// New starts a Dispatcher's routing goroutine.
func New(logger *zap.Logger, mc *metrics.Collectors) *Dispatcher {
	d := &Dispatcher{
		pending:    make(map[uint32]chan Result),
		push:       make(map[uint32][]*pushQueue),
		logger:     logger,
		metrics:    mc,
		register:   make(chan registration),
		unregister: make(chan uint32),
		dispatch:   make(chan *protocol.Frame),
		subscribe:  make(chan subscription),
		clear:      make(chan clearRequest),
		done:       make(chan struct{}),
	}
	go d.run()
	return d
}

// RegisterRequest reserves a one-shot response slot for serialNo. The
// returned channel receives exactly one Result: the matching frame, or
// an error if ClearPending runs before a response arrives.
func (d *Dispatcher) RegisterRequest(serialNo uint32) <-chan Result {
	ch := make(chan Result, 1)
	d.register <- registration{serialNo: serialNo, ch: ch}
	return ch
}

// UnregisterRequest drops a pending slot without waiting for a
// response, used when a send itself failed after the slot was
// reserved.
func (d *Dispatcher) UnregisterRequest(serialNo uint32) {
	d.unregister <- serialNo
}

// SubscribePush registers a channel that receives every future frame
// carrying protoID that isn't claimed by a pending request first.
// Delivery is unbounded: a subscriber that doesn't drain promptly
// accumulates a backlog rather than losing frames. The channel is
// closed by Close, after any backlog still queued has been delivered.
func (d *Dispatcher) SubscribePush(protoID uint32) <-chan *protocol.Frame {
	q := newPushQueue()
	d.subscribe <- subscription{protoID: protoID, queue: q}
	return q.out
}

// Dispatch routes one decoded frame. Pending wins over push: if
// frame.SerialNo has a registered response slot, it is delivered there
// and push subscribers for frame.ProtoID do not see it.
func (d *Dispatcher) Dispatch(frame *protocol.Frame) {
	d.dispatch <- frame
}

// ClearPending delivers err to every pending request, used when the
// connection is torn down so no caller blocks forever.
func (d *Dispatcher) ClearPending(err error) {
	ack := make(chan struct{})
	d.clear <- clearRequest{err: err, ack: ack}
	<-ack
}

// Close stops the dispatcher's goroutine and every push subscriber's
// backlog goroutine.
func (d *Dispatcher) Close() {
	close(d.done)
}

func (d *Dispatcher) run() {
	for {
		select {
		case r := <-d.register:
			d.pending[r.serialNo] = r.ch
			d.setPendingGauge()

		case serialNo := <-d.unregister:
			delete(d.pending, serialNo)
			d.setPendingGauge()

		case s := <-d.subscribe:
			d.push[s.protoID] = append(d.push[s.protoID], s.queue)
			if d.metrics != nil {
				d.metrics.PushSubscribers.Set(float64(countPushSubscribers(d.push)))
			}

		case frame := <-d.dispatch:
			if ch, ok := d.pending[frame.SerialNo]; ok {
				delete(d.pending, frame.SerialNo)
				ch <- Result{Frame: frame}
				d.setPendingGauge()
				continue
			}
			if subs, ok := d.push[frame.ProtoID]; ok {
				for _, q := range subs {
					q.push(frame)
				}
				continue
			}
			d.logger.Debug("no handler for frame",
				zap.Uint32("proto_id", frame.ProtoID),
				zap.Uint32("serial_no", frame.SerialNo))

		case cr := <-d.clear:
			for _, ch := range d.pending {
				ch <- Result{Err: cr.err}
			}
			d.pending = make(map[uint32]chan Result)
			d.setPendingGauge()
			close(cr.ack)

		case <-d.done:
			for _, subs := range d.push {
				for _, q := range subs {
					q.close()
				}
			}
			return
		}
	}
}

func (d *Dispatcher) setPendingGauge() {
	if d.metrics != nil {
		d.metrics.PendingRequests.Set(float64(len(d.pending)))
	}
}

func countPushSubscribers(push map[uint32][]*pushQueue) int {
	n := 0
	for _, subs := range push {
		n += len(subs)
	}
	return n
}

// pushQueue delivers frames to one push subscriber with no size limit.
// A bare buffered channel would either drop frames once full or block
// the dispatcher goroutine on a slow reader; pushQueue instead runs its
// own goroutine holding a growable backlog slice, so pushing into it
// never blocks on the subscriber's drain rate.
type pushQueue struct {
	in  chan *protocol.Frame
	out chan *protocol.Frame
}

func newPushQueue() *pushQueue {
	q := &pushQueue{
		in:  make(chan *protocol.Frame),
		out: make(chan *protocol.Frame),
	}
	go q.run()
	return q
}

// push hands frame to the queue's backlog. It only blocks long enough
// for the queue's own goroutine to accept it, never for the subscriber
// to drain.
func (q *pushQueue) push(frame *protocol.Frame) {
	q.in <- frame
}

// close stops the queue's goroutine once its backlog is empty,
// draining whatever is still queued to out first.
func (q *pushQueue) close() {
	close(q.in)
}

func (q *pushQueue) run() {
	var backlog []*protocol.Frame
	for {
		if len(backlog) == 0 {
			frame, ok := <-q.in
			if !ok {
				close(q.out)
				return
			}
			backlog = append(backlog, frame)
			continue
		}

		select {
		case frame, ok := <-q.in:
			if !ok {
				for _, f := range backlog {
					q.out <- f
				}
				close(q.out)
				return
			}
			backlog = append(backlog, frame)
		case q.out <- backlog[0]:
			backlog = backlog[1:]
		}
	}
}
