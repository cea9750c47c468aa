package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/message"
	"github.com/kode4food/caravan/topic"
	"github.com/oklog/ulid/v2"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/log"
)

type (
	// LocalBroker is an in-process async broker. Requests are queued on a
	// caravan topic and worked off by a Handler, or left outstanding until
	// Complete is called by whoever performs the work
	LocalBroker struct {
		prod       topic.Producer[api.RequestID]
		cons       topic.Consumer[api.RequestID]
		handler    Handler
		onComplete CompleteFunc
		workers    int
		ctx        context.Context
		cancel     context.CancelFunc
		requests   map[api.RequestID]*pending
		stop       chan struct{}
		mu         sync.Mutex
		wg         sync.WaitGroup
		startOnce  sync.Once
		stopOnce   sync.Once
	}

	// Handler performs a queued request. A nil response leaves the request
	// outstanding for a later Complete
	Handler func(
		ctx context.Context, id api.RequestID, req *api.AsyncRequest,
	) (*api.AsyncResponse, error)

	// CompleteFunc is told about every request that reaches a final
	// response
	CompleteFunc func(
		ctx context.Context, req *api.AsyncRequest, resp *api.AsyncResponse,
	)

	// BrokerOption configures a LocalBroker
	BrokerOption func(*LocalBroker)

	pending struct {
		req  *api.AsyncRequest
		resp *api.AsyncResponse
	}
)

const DefaultWorkers = 4

var (
	_ Transport = (*LocalBroker)(nil)
	_ Releaser  = (*LocalBroker)(nil)
)

// WithHandler sets the worker that performs queued requests
func WithHandler(h Handler) BrokerOption {
	return func(b *LocalBroker) {
		b.handler = h
	}
}

// WithWorkers sets how many requests the handler works at once
func WithWorkers(n int) BrokerOption {
	return func(b *LocalBroker) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithOnComplete registers the completion callback
func WithOnComplete(fn CompleteFunc) BrokerOption {
	return func(b *LocalBroker) {
		b.onComplete = fn
	}
}

// NewLocalBroker creates a broker. Call Start to begin working requests
func NewLocalBroker(opts ...BrokerOption) *LocalBroker {
	queue := caravan.NewTopic[api.RequestID]()
	ctx, cancel := context.WithCancel(context.Background())
	b := &LocalBroker{
		prod:     queue.NewProducer(),
		cons:     queue.NewConsumer(),
		ctx:      ctx,
		cancel:   cancel,
		requests: map[api.RequestID]*pending{},
		stop:     make(chan struct{}),
		workers:  DefaultWorkers,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetOnComplete replaces the completion callback
func (b *LocalBroker) SetOnComplete(fn CompleteFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onComplete = fn
}

// Start begins working queued requests
func (b *LocalBroker) Start() {
	b.startOnce.Do(func() {
		for range b.workers {
			b.wg.Go(b.run)
		}
	})
}

func (b *LocalBroker) run() {
	for {
		select {
		case <-b.stop:
			return
		case id, ok := <-b.cons.Receive():
			if !ok {
				return
			}
			b.work(id)
		}
	}
}

// Stop ends the worker. Outstanding requests stay readable
func (b *LocalBroker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		b.cancel()
		b.wg.Wait()
		b.prod.Close()
		b.cons.Close()
	})
}

// SendRequest queues the request under a new sortable id
func (b *LocalBroker) SendRequest(
	_ context.Context, req *api.AsyncRequest,
) (api.RequestID, error) {
	if req == nil || (req.URL == "" && req.Method == "") {
		return "", ErrInvalidAsyncInput
	}
	select {
	case <-b.stop:
		return "", ErrBrokerStopped
	default:
	}

	id := api.RequestID(ulid.Make().String())
	b.mu.Lock()
	b.requests[id] = &pending{req: req}
	b.mu.Unlock()

	slog.Debug("Async request queued",
		log.RequestID(id),
		slog.String("url", req.URL))
	if b.handler != nil {
		message.Send(b.prod, id)
	}
	return id, nil
}

// GetFinalResponse returns the final response, or nil while outstanding
func (b *LocalBroker) GetFinalResponse(
	_ context.Context, id api.RequestID,
) (*api.AsyncResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	if p.resp == nil {
		return nil, nil
	}
	res := *p.resp
	return &res, nil
}

// Complete records the final response of an outstanding request
func (b *LocalBroker) Complete(
	ctx context.Context, resp *api.AsyncResponse,
) error {
	b.mu.Lock()
	p, ok := b.requests[resp.RequestID]
	switch {
	case !ok:
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownRequest, resp.RequestID)
	case p.resp != nil:
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyCompleted, resp.RequestID)
	}
	final := *resp
	p.resp = &final
	req := p.req
	onComplete := b.onComplete
	b.mu.Unlock()

	slog.Debug("Async request completed",
		log.RequestID(resp.RequestID),
		slog.Int("status", resp.StatusCode))
	if onComplete != nil {
		onComplete(ctx, req, &final)
	}
	return nil
}

// Release forgets a completed request. Outstanding requests are kept
func (b *LocalBroker) Release(_ context.Context, id api.RequestID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.requests[id]
	switch {
	case !ok:
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	case p.resp == nil:
		return fmt.Errorf("%w: %s", ErrRequestOutstanding, id)
	}
	delete(b.requests, id)
	return nil
}

// Outstanding returns the number of requests without a final response
func (b *LocalBroker) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	res := 0
	for _, p := range b.requests {
		if p.resp == nil {
			res++
		}
	}
	return res
}

func (b *LocalBroker) work(id api.RequestID) {
	b.mu.Lock()
	p, ok := b.requests[id]
	b.mu.Unlock()
	if !ok {
		return
	}

	resp, err := b.perform(id, p.req)
	if err != nil {
		resp = &api.AsyncResponse{
			StatusCode: http.StatusInternalServerError,
			Error:      err.Error(),
		}
	}
	if resp == nil {
		return
	}
	resp.RequestID = id
	if err := b.Complete(b.ctx, resp); err != nil {
		slog.Warn("Async response dropped",
			log.RequestID(id),
			log.Error(err))
	}
}

func (b *LocalBroker) perform(
	id api.RequestID, req *api.AsyncRequest,
) (resp *api.AsyncResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: handler panicked: %v", api.ErrRequestFailed, r)
		}
	}()
	return b.handler(b.ctx, id, req)
}
