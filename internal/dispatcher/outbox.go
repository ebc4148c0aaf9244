package dispatcher

import (
	"context"
	"sync"

	"github.com/DoyleJ11/kuhhandel/internal/protocol"
	"github.com/DoyleJ11/kuhhandel/pkg/types"
)

type outbound struct {
	env  protocol.Envelope
	save *types.Snapshot // persisted after publishing when set
}

// outbox is an unbounded FIFO between the loop and the writer goroutine.
// push never blocks, so the loop never waits on the network.
type outbox struct {
	mu    sync.Mutex
	queue []outbound
	wake  chan struct{}
}

func newOutbox() *outbox {
	return &outbox{wake: make(chan struct{}, 1)}
}

func (o *outbox) push(m outbound) {
	o.mu.Lock()
	o.queue = append(o.queue, m)
	o.mu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) run(ctx context.Context, send func(context.Context, outbound)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.wake:
		}
		for {
			o.mu.Lock()
			if len(o.queue) == 0 {
				o.mu.Unlock()
				break
			}
			m := o.queue[0]
			o.queue[0] = outbound{}
			o.queue = o.queue[1:]
			o.mu.Unlock()
			send(ctx, m)
		}
	}
}
