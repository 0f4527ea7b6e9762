package pipeline

import (
	"context"

	cm "github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/credentials"
	"github.com/mosaicnetworks/echo/src/feed"
	"github.com/mosaicnetworks/echo/src/model"
)

type writeResult struct {
	id  feed.ID
	err error
}

type writeRequest struct {
	msg     *feed.Message
	control bool
	result  chan writeResult
}

// WriteCredential appends a credential to the local control feed and returns
// its position. It does not wait for the credential to be dispatched.
func (p *Pipeline) WriteCredential(ctx context.Context, c *credentials.Credential) (feed.ID, error) {
	return p.write(ctx, feed.NewCredentialMessage(c, nil), true)
}

// WriteMutation implements model.Writer. Mutations are appended to the local
// data feed.
func (p *Pipeline) WriteMutation(ctx context.Context, m *model.Mutation) (string, int, error) {
	id, err := p.write(ctx, feed.NewMutationMessage(m, nil), false)
	if err != nil {
		return "", 0, err
	}
	return id.FeedKey, id.Seq, nil
}

// write queues msg for the writer goroutine. A request that was queued is
// appended even if ctx is cancelled while waiting for the result.
func (p *Pipeline) write(ctx context.Context, msg *feed.Message, control bool) (feed.ID, error) {
	p.mu.Lock()
	running := p.started && !p.stopped
	p.mu.Unlock()
	if !running {
		return feed.ID{}, ErrStopped
	}

	req := &writeRequest{
		msg:     msg,
		control: control,
		result:  make(chan writeResult, 1),
	}

	select {
	case p.outbound <- req:
	case <-p.ctx.Done():
		return feed.ID{}, ErrStopped
	case <-ctx.Done():
		return feed.ID{}, ctx.Err()
	}

	select {
	case res := <-req.result:
		return res.id, res.err
	case <-ctx.Done():
		return feed.ID{}, ctx.Err()
	}
}

func (p *Pipeline) writeLoop() {
	defer p.wg.Done()

	for {
		select {
		case req := <-p.outbound:
			id, err := p.append(req)
			req.result <- writeResult{id: id, err: err}
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pipeline) append(req *writeRequest) (feed.ID, error) {
	p.mu.Lock()
	f := p.dataFeed
	if req.control {
		f = p.controlFeed
	}
	req.msg.Body.Timeframe = p.tf.Copy()
	p.mu.Unlock()

	if f == nil {
		return feed.ID{}, cm.NewPreconditionErr("write", "no writable feed in this party")
	}

	msg, err := f.Append(req.msg)
	if err != nil {
		p.logger.WithError(err).Error("Appending message")
		return feed.ID{}, err
	}

	return msg.ID(), nil
}
