// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tsserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Protocol handles the tsserver message transport.
//
// # Description
//
// Serializes requests as line-delimited JSON on the server's stdin and reads
// Content-Length framed messages from its stdout. Responses are matched to
// pending requests purely by request_seq, never by arrival order; events are
// forwarded to registered handlers and never touch the pending map.
//
// # Thread Safety
//
// Safe for concurrent use. Multiple goroutines can send requests and
// notifications simultaneously while one goroutine runs ReadLoop.
type Protocol struct {
	reader     *bufio.Reader
	writer     io.Writer
	writeMu    sync.Mutex
	nextSeq    int64
	pending    map[int64]chan *Response
	pendingMu  sync.Mutex
	handlers   map[string][]func(json.RawMessage)
	handlersMu sync.RWMutex
	closed     int32 // atomic: 1 if closed
}

// NewProtocol creates a protocol handler over the given reader (server
// stdout) and writer (server stdin).
func NewProtocol(r io.Reader, w io.Writer) *Protocol {
	var reader *bufio.Reader
	if r != nil {
		reader = bufio.NewReader(r)
	}
	return &Protocol{
		reader:   reader,
		writer:   w,
		pending:  make(map[int64]chan *Response),
		handlers: make(map[string][]func(json.RawMessage)),
	}
}

// Request sends a command and waits for the matching response.
//
// # Description
//
// Stamps the request with the next sequence id, registers it in the pending
// map and blocks until the correlated response arrives or the context is
// cancelled. No timeout is enforced here; bounding wait time is the caller's
// responsibility. Responses may arrive in any order relative to submission.
//
// # Outputs
//
//   - *Response: The correlated response, when Success is true.
//   - error: ErrSessionStopped if the session went down while waiting,
//     *ServiceError if the server refused the command, or the context error.
func (p *Protocol) Request(ctx context.Context, command string, args interface{}) (*Response, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if atomic.LoadInt32(&p.closed) == 1 {
		return nil, ErrSessionNotRunning
	}

	seq := atomic.AddInt64(&p.nextSeq, 1)

	req := requestMessage{
		Seq:       seq,
		Type:      "request",
		Command:   command,
		Arguments: args,
	}

	respCh := make(chan *Response, 1)
	p.pendingMu.Lock()
	p.pending[seq] = respCh
	p.pendingMu.Unlock()

	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, seq)
		p.pendingMu.Unlock()
	}()

	if err := p.writeMessage(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", command, ctx.Err())
	case resp := <-respCh:
		if resp == nil {
			return nil, ErrSessionStopped
		}
		if !resp.Success {
			return nil, &ServiceError{Command: command, Message: resp.Message}
		}
		return resp, nil
	}
}

// Notify sends a command that receives no response (open, close, exit).
// The request is still stamped with a sequence id, but nothing is registered
// in the pending map.
func (p *Protocol) Notify(command string, args interface{}) error {
	if atomic.LoadInt32(&p.closed) == 1 {
		return ErrSessionNotRunning
	}

	req := requestMessage{
		Seq:       atomic.AddInt64(&p.nextSeq, 1),
		Type:      "request",
		Command:   command,
		Arguments: args,
	}
	return p.writeMessage(req)
}

// OnEvent registers a handler for an asynchronous server event. Handlers run
// on the read-loop goroutine and must not block.
func (p *Protocol) OnEvent(event string, fn func(body json.RawMessage)) {
	p.handlersMu.Lock()
	p.handlers[event] = append(p.handlers[event], fn)
	p.handlersMu.Unlock()
}

// writeMessage marshals and writes one line-delimited request.
func (p *Protocol) writeMessage(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := p.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if _, err := p.writer.Write([]byte("\n")); err != nil {
		return fmt.Errorf("write delimiter: %w", err)
	}
	return nil
}

// ReadLoop reads messages from the server and dispatches them.
//
// # Description
//
// Continuously reads framed messages. Responses resolve their pending
// request; events invoke registered handlers; anything else is dropped.
// Call from a single goroutine after starting the server.
//
// # Outputs
//
//   - error: ErrServerCrashed on EOF, nil after Close, the read error
//     otherwise.
func (p *Protocol) ReadLoop(ctx context.Context) error {
	if p.reader == nil {
		return fmt.Errorf("no reader configured")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := p.readMessage()
		if err != nil {
			if atomic.LoadInt32(&p.closed) == 1 {
				return nil
			}
			if err == io.EOF {
				return ErrServerCrashed
			}
			return fmt.Errorf("read: %w", err)
		}

		p.handleMessage(msg)
	}
}

// readMessage reads one Content-Length framed message body.
func (p *Protocol) readMessage() (json.RawMessage, error) {
	var contentLength int

	for {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)

		// Blank lines before any header are residue from the previous
		// frame; a blank line after Content-Length ends the headers.
		if line == "" {
			if contentLength > 0 {
				break
			}
			continue
		}

		if strings.HasPrefix(line, "Content-Length:") {
			lenStr := strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:"))
			contentLength, err = strconv.Atoi(lenStr)
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length value %q: %w", lenStr, err)
			}
			if contentLength <= 0 {
				return nil, fmt.Errorf("non-positive Content-Length: %d", contentLength)
			}
		}
		// Other headers are ignored.
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(p.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return body, nil
}

// handleMessage dispatches one received message by its type tag.
func (p *Protocol) handleMessage(msg json.RawMessage) {
	var in incomingMessage
	if err := json.Unmarshal(msg, &in); err != nil {
		return
	}

	switch in.Type {
	case messageTypeResponse:
		p.pendingMu.Lock()
		ch, ok := p.pending[in.RequestSeq]
		p.pendingMu.Unlock()
		if !ok {
			return
		}
		resp := &Response{
			Command: in.Command,
			Success: in.Success,
			Message: in.Message,
			Body:    in.Body,
		}
		select {
		case ch <- resp:
		default:
		}

	case messageTypeEvent:
		p.handlersMu.RLock()
		fns := p.handlers[in.Event]
		p.handlersMu.RUnlock()
		for _, fn := range fns {
			fn(in.Body)
		}
	}
}

// Close marks the protocol as closed and rejects all pending requests.
// A nil on the response channel signals a session-stopped failure to the
// waiting goroutine. Does not close the underlying reader or writer.
func (p *Protocol) Close() {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return
	}

	p.pendingMu.Lock()
	for seq, ch := range p.pending {
		select {
		case ch <- nil:
		default:
		}
		delete(p.pending, seq)
	}
	p.pendingMu.Unlock()
}
