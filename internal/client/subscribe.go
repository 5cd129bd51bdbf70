package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/roach88/docket/internal/server"
	"github.com/roach88/docket/internal/stock"
	"github.com/roach88/docket/internal/store"
)

// maxLineBytes bounds one change feed line.
const maxLineBytes = 4 << 20

// Subscribe follows the change feed and passes every sheet to onChange,
// starting with the current sheet. It implements reconcile.Remote.
func (c *Client) Subscribe(ctx context.Context, onChange func(stock.Counters)) (func(), error) {
	return c.Watch(ctx, func(ch store.Change) { onChange(ch.Counters) })
}

// Watch follows the change feed and passes every change to fn.
//
// The first connection is made, and its snapshot line delivered to fn,
// before Watch returns; a failure of either is returned. ctx bounds that
// first connection only: the feed then runs, reconnecting with a fixed
// delay, until the returned func is called. Each reconnect starts with a
// full snapshot line, so nothing is missed across a gap. fn is called
// from one goroutine at a time, in feed order.
func (c *Client) Watch(ctx context.Context, fn func(store.Change)) (func(), error) {
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)

	body, err := c.openStream(watchCtx)
	var first store.Change
	if err == nil {
		first, err = body.next()
		if err != nil {
			body.Close()
		}
	}
	if !stop() {
		if err == nil {
			body.Close()
		}
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	fn(first)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.follow(watchCtx, body, fn)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}, nil
}

// openStream connects to the feed. The stream ends when ctx is done.
func (c *Client) openStream(ctx context.Context) (*streamBody, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.endpoint("/v1/counters/stream"), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", server.ContentTypeNDJSON)

	resp, err := c.stream.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	return &streamBody{resp: resp, cancel: cancel, sc: sc}, nil
}

// follow reads the feed, reconnecting until ctx is done.
func (c *Client) follow(ctx context.Context, body *streamBody, fn func(store.Change)) {
	for {
		err := readStream(body, fn)
		body.Close()
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("change feed lost; reconnecting",
			"server", c.baseURL.String(),
			"delay", c.reconnectDelay,
			"error", err,
		)

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.clock.After(c.reconnectDelay):
			}
			body, err = c.openStream(ctx)
			if err == nil {
				c.logger.Info("change feed reconnected", "server", c.baseURL.String())
				break
			}
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("change feed reconnect failed", "error", err)
		}
	}
}

// readStream delivers changes until the stream ends.
func readStream(body *streamBody, fn func(store.Change)) error {
	for {
		ch, err := body.next()
		if err != nil {
			return err
		}
		fn(ch)
	}
}

type streamBody struct {
	resp   *http.Response
	cancel context.CancelFunc
	sc     *bufio.Scanner
}

// next decodes the next non-empty line of the feed.
func (b *streamBody) next() (store.Change, error) {
	for b.sc.Scan() {
		line := b.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ch store.Change
		if err := json.Unmarshal(line, &ch); err != nil {
			return store.Change{}, fmt.Errorf("decode change: %w", err)
		}
		if ch.Counters == nil {
			ch.Counters = stock.Counters{}
		}
		return ch, nil
	}
	if err := b.sc.Err(); err != nil {
		return store.Change{}, err
	}
	return store.Change{}, errors.New("stream closed by server")
}

func (b *streamBody) Close() {
	b.cancel()
	b.resp.Body.Close()
}
