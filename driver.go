package player

import (
	"context"
	"fmt"
	"sync"
)

// Driver is the contract every device driver implements, per spec.md §4.3.
// The core never inspects payload bytes beyond what a driver chooses to
// hand it; everything interface-specific lives on the far side of this
// boundary.
type Driver interface {
	// Setup acquires hardware resources and starts any worker goroutines
	// the driver needs. Called when the owning Runtime's subscription count
	// transitions 0→1. Must be idempotent on failure: a failed Setup must
	// leave the driver in a state where Setup can be retried.
	Setup() error

	// Shutdown releases resources acquired by Setup. Called on the 1→0
	// subscription transition. Must be idempotent.
	Shutdown() error

	// ProcessMessage synchronously handles one inbound message. It may call
	// Runtime.Publish zero or more times; conventionally a REQUEST is
	// answered with exactly one RESP_ACK or RESP_NACK, published to
	// respQueue (msg.Origin()) rather than to every subscriber.
	ProcessMessage(rt *Runtime, msg *Message) error
}

// ThreadModel selects how a Runtime pumps its inbound queue, per spec.md
// §4.3 "Threading model".
type ThreadModel uint8

const (
	// Threaded drivers get a dedicated goroutine that blocks on the inbound
	// queue and processes messages as they arrive.
	Threaded ThreadModel = iota
	// Cooperative drivers have no worker goroutine; ProcessMessages is
	// called by whichever goroutine happens to deliver data — typically the
	// TCP frontend's connection reader. Suitable for pure transformers.
	Cooperative
)

// Runtime is the scaffolding every driver shares: an inbound queue,
// subscription bookkeeping, and the worker loop that drives ProcessMessage.
// One Runtime exists per registered device (per Address); DeviceTable owns
// the mapping from Address to Runtime.
type Runtime struct {
	addr   Address
	driver Driver
	model  ThreadModel
	logger Logger

	inbound *Queue

	mu          sync.Mutex
	subscribers []subscription // client outbound queues currently subscribed
	subCount    int
	setupDone   bool
	stopWorker  context.CancelFunc
	wg          sync.WaitGroup
}

// NewRuntime constructs a Runtime wrapping driver for addr. maxInbound
// bounds the driver's inbound queue length (spec.md §4.1 typical range
// 32–1024).
func NewRuntime(addr Address, driver Driver, model ThreadModel, maxInbound int, logger Logger) *Runtime {
	if logger == nil {
		logger = nopLogger{}
	}
	rt := &Runtime{
		addr:    addr,
		driver:  driver,
		model:   model,
		logger:  logger.With("driver", addr.String()),
		inbound: NewQueue(maxInbound, false), // driver inbound queues are append-mode (COMMAND/REQUEST streams)
	}
	rt.inbound.SetWarner(func(msg string, args ...any) { rt.logger.Warn(msg, args...) })
	if binder, ok := driver.(runtimeBinder); ok {
		binder.bindRuntime(rt)
	}
	return rt
}

// Address returns the device address this Runtime serves.
func (rt *Runtime) Address() Address { return rt.addr }

// Driver returns the underlying Driver implementation.
func (rt *Runtime) Driver() Driver { return rt.driver }

// Deliver pushes msg onto the driver's inbound queue. Called by the
// frontend after device resolution and access checks (spec.md §4.4 step 6).
func (rt *Runtime) Deliver(msg *Message) error {
	return rt.inbound.Push(msg)
}

// subscription pairs a subscribed client queue with the access mode it was
// granted on device-open, so Publish can withhold DATA from a write-only
// subscriber (spec.md §4.2).
type subscription struct {
	queue  *Queue
	access AccessMode
}

// Subscribe increments the subscription count and registers queue to
// receive future Publish calls this device's access mode permits. On the
// 0→1 transition it calls the driver's Setup and, for a Threaded driver,
// starts the worker goroutine. If Setup fails, the subscription is
// immediately reversed (spec.md §4.3 "must be safe under partial-failure")
// and the error is returned.
func (rt *Runtime) Subscribe(queue *Queue, access AccessMode) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	firstSub := rt.subCount == 0
	if firstSub {
		if err := rt.driver.Setup(); err != nil {
			return fmt.Errorf("%w: %v", ErrDriverSetup, err)
		}
		rt.setupDone = true
		if rt.model == Threaded {
			ctx, cancel := context.WithCancel(context.Background())
			rt.stopWorker = cancel
			rt.wg.Add(1)
			go rt.workerLoop(ctx)
		}
	}

	rt.subCount++
	rt.subscribers = append(rt.subscribers, subscription{queue: queue, access: access})
	return nil
}

// Unsubscribe decrements the subscription count and removes queue from the
// publish fan-out list. On the 1→0 transition it stops the worker (if any)
// and calls the driver's Shutdown. Unsubscribing a queue that was never
// subscribed is a no-op.
func (rt *Runtime) Unsubscribe(queue *Queue) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	found := false
	for i, s := range rt.subscribers {
		if s.queue == queue {
			rt.subscribers = append(rt.subscribers[:i], rt.subscribers[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return nil
	}

	rt.subCount--
	if rt.subCount < 0 {
		panic("player: Runtime subscription count underflow")
	}
	if rt.subCount == 0 && rt.setupDone {
		if rt.stopWorker != nil {
			rt.stopWorker()
			rt.mu.Unlock()
			rt.wg.Wait()
			rt.mu.Lock()
			rt.stopWorker = nil
		}
		if err := rt.driver.Shutdown(); err != nil {
			rt.logger.Warn("driver shutdown failed", "err", err)
		}
		rt.setupDone = false
	}
	return nil
}

// SubscriberCount reports the current subscription count, for tests and
// the device-list control reply.
func (rt *Runtime) SubscriberCount() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.subCount
}

// Publish stamps header with this Runtime's address and pushes a Clone onto
// every subscribed queue whose granted access mode permits header.Type —
// a subscriber that opened the device AccessWrite-only never receives DATA,
// matching spec.md §4.2's per-subscription access model.
func (rt *Runtime) Publish(header Header, body []byte) {
	header.Src = rt.addr
	rt.mu.Lock()
	subs := make([]subscription, 0, len(rt.subscribers))
	for _, s := range rt.subscribers {
		if s.access.Permits(header.Type) {
			subs = append(subs, s)
		}
	}
	rt.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	base := NewMessage(header, body, nil)
	for i, s := range subs {
		var m *Message
		if i == len(subs)-1 {
			m = base
		} else {
			m = base.Clone()
		}
		if err := s.queue.Push(m); err != nil {
			rt.logger.Warn("publish dropped", "err", err)
		}
	}
}

// Reply publishes a RESP_ACK/RESP_NACK directly to the queue that
// originated a REQUEST, per spec.md §4.3's request-reply correlation. If
// origin is nil (the requester's queue has already been torn down), the
// reply is silently discarded.
func (rt *Runtime) Reply(origin *Queue, header Header, body []byte) {
	if origin == nil {
		return
	}
	header.Src = rt.addr
	if err := origin.Push(NewMessage(header, body, nil)); err != nil {
		rt.logger.Warn("reply dropped", "err", err)
	}
}

// ProcessMessages pops the inbound queue until empty, invoking
// ProcessMessage once per element. Cooperative drivers are pumped by
// whichever goroutine delivers data (the frontend's connection goroutine);
// Threaded drivers are pumped by workerLoop instead and should not have
// ProcessMessages called concurrently from elsewhere.
func (rt *Runtime) ProcessMessages() {
	for {
		msg, ok := rt.inbound.Pop()
		if !ok {
			return
		}
		rt.dispatch(msg)
	}
}

func (rt *Runtime) dispatch(msg *Message) {
	defer msg.Release()
	if err := rt.driver.ProcessMessage(rt, msg); err != nil {
		rt.logger.Warn("process message failed", "type", msg.Header.Type, "subtype", msg.Header.Subtype, "err", err)
	}
}

func (rt *Runtime) workerLoop(ctx context.Context) {
	defer rt.wg.Done()
	go func() {
		<-ctx.Done()
		rt.inbound.Close()
	}()
	for {
		msg, ok := rt.inbound.BlockingPop()
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			msg.Release()
			return
		default:
		}
		rt.dispatch(msg)
	}
}
