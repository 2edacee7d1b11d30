package publisher

import (
	"sort"
	"sync"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/exchange"
)

// tracker is the Delivery Tracker (spec §7, original_source
// current_orders.rs CurrentOrders): it remembers the inbound delivery that
// triggered each pending order kind so a later response can be routed back
// to the right settlement (ack/reject), in priority order
// stop > job > start > init.
type tracker struct {
	mu                     sync.Mutex
	job, init, start, stop *exchange.Delivery
	status                 *exchange.Delivery
}

func (t *tracker) setJob(d exchange.Delivery)    { t.mu.Lock(); t.job = &d; t.mu.Unlock() }
func (t *tracker) setInit(d exchange.Delivery)   { t.mu.Lock(); t.init = &d; t.mu.Unlock() }
func (t *tracker) setStart(d exchange.Delivery)  { t.mu.Lock(); t.start = &d; t.mu.Unlock() }
func (t *tracker) setStop(d exchange.Delivery)   { t.mu.Lock(); t.stop = &d; t.mu.Unlock() }
func (t *tracker) setStatus(d exchange.Delivery) { t.mu.Lock(); t.status = &d; t.mu.Unlock() }

// jobDelivery returns the delivery that introduced the current job, if any.
func (t *tracker) jobDelivery() (exchange.Delivery, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job == nil {
		return exchange.Delivery{}, false
	}
	return *t.job, true
}

// processDeliveries returns the single delivery a process-lifecycle
// response (WorkerInitialized/WorkerStarted/Completed/JobStopped/Error)
// should settle, per original_source's stop > job > start > init priority.
func (t *tracker) processDeliveries() []exchange.Delivery {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.stop != nil:
		return []exchange.Delivery{*t.stop}
	case t.job != nil:
		return []exchange.Delivery{*t.job}
	case t.start != nil:
		return []exchange.Delivery{*t.start}
	case t.init != nil:
		return []exchange.Delivery{*t.init}
	default:
		return nil
	}
}

// statusDeliveries returns the deliveries a Feedback/StatusError response
// should settle: the one tracked Status/StopWorker delivery, if any. The
// status slot holds a single delivery, so a later Status order replaces an
// earlier one that has not yet been answered.
func (t *tracker) statusDeliveries() []exchange.Delivery {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == nil {
		return nil
	}
	out := []exchange.Delivery{*t.status}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

func (t *tracker) resetProcess() {
	t.mu.Lock()
	t.job, t.init, t.start, t.stop = nil, nil, nil, nil
	t.mu.Unlock()
}

func (t *tracker) resetStatus() {
	t.mu.Lock()
	t.status = nil
	t.mu.Unlock()
}
