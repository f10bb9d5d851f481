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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeServer scripts a tsserver endpoint over pipes. Requests arrive as
// line-delimited JSON; replies go back Content-Length framed.
type fakeServer struct {
	requests  *bufio.Scanner
	responses *io.PipeWriter
	writeMu   sync.Mutex
}

func newFakeServer(t *testing.T) (*Protocol, *fakeServer, func()) {
	t.Helper()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	p := NewProtocol(respR, reqW)
	fs := &fakeServer{
		requests:  bufio.NewScanner(reqR),
		responses: respW,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = p.ReadLoop(ctx) }()

	cleanup := func() {
		cancel()
		p.Close()
		_ = reqW.Close()
		_ = respW.Close()
	}
	return p, fs, cleanup
}

// nextRequest reads and decodes one request line.
func (fs *fakeServer) nextRequest(t *testing.T) requestEnvelope {
	t.Helper()
	if !fs.requests.Scan() {
		t.Fatalf("no request available: %v", fs.requests.Err())
	}
	var req requestEnvelope
	if err := json.Unmarshal(fs.requests.Bytes(), &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return req
}

type requestEnvelope struct {
	Seq     int64  `json:"seq"`
	Type    string `json:"type"`
	Command string `json:"command"`
}

// send writes one Content-Length framed message.
func (fs *fakeServer) send(t *testing.T, v interface{}) {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()
	if _, err := fmt.Fprintf(fs.responses, "Content-Length: %d\r\n\r\n%s", len(body), body); err != nil {
		t.Fatalf("write response: %v", err)
	}
}

func (fs *fakeServer) respond(t *testing.T, requestSeq int64, command string, body interface{}) {
	fs.send(t, map[string]interface{}{
		"seq":         requestSeq + 1000,
		"type":        "response",
		"command":     command,
		"request_seq": requestSeq,
		"success":     true,
		"body":        body,
	})
}

func (fs *fakeServer) refuse(t *testing.T, requestSeq int64, command, message string) {
	fs.send(t, map[string]interface{}{
		"seq":         requestSeq + 1000,
		"type":        "response",
		"command":     command,
		"request_seq": requestSeq,
		"success":     false,
		"message":     message,
	})
}

func (fs *fakeServer) event(t *testing.T, name string, body interface{}) {
	fs.send(t, map[string]interface{}{
		"seq":   0,
		"type":  "event",
		"event": name,
		"body":  body,
	})
}

func TestProtocol_WriteMessage(t *testing.T) {
	t.Run("writes one line of JSON", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf)

		if err := p.Notify(CommandOpen, FileArgs{File: "/p/a.ts"}); err != nil {
			t.Fatalf("Notify: %v", err)
		}

		output := buf.String()
		if !strings.HasSuffix(output, "\n") {
			t.Errorf("missing newline delimiter in: %q", output)
		}
		if strings.Count(output, "\n") != 1 {
			t.Errorf("expected exactly one line, got: %q", output)
		}
		if !strings.Contains(output, `"command":"open"`) {
			t.Errorf("missing command field in: %s", output)
		}
		if !strings.Contains(output, `"type":"request"`) {
			t.Errorf("missing type field in: %s", output)
		}
	})

	t.Run("stamps increasing sequence ids", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf)

		for i := 0; i < 3; i++ {
			if err := p.Notify(CommandOpen, nil); err != nil {
				t.Fatalf("Notify: %v", err)
			}
		}

		var seqs []int64
		for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
			var req requestEnvelope
			if err := json.Unmarshal([]byte(line), &req); err != nil {
				t.Fatalf("decode: %v", err)
			}
			seqs = append(seqs, req.Seq)
		}
		for i := 1; i < len(seqs); i++ {
			if seqs[i] <= seqs[i-1] {
				t.Errorf("seq not increasing: %v", seqs)
			}
		}
	})
}

func TestProtocol_ReadMessage(t *testing.T) {
	t.Run("reads framed body", func(t *testing.T) {
		msg := `{"seq":1,"type":"response"}`
		input := fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(msg), msg)

		p := NewProtocol(strings.NewReader(input), nil)

		body, err := p.readMessage()
		if err != nil {
			t.Fatalf("readMessage: %v", err)
		}
		if string(body) != msg {
			t.Errorf("got %s, want %s", body, msg)
		}
	})

	t.Run("skips blank residue between frames", func(t *testing.T) {
		msg := `{"seq":2,"type":"response"}`
		input := fmt.Sprintf("\r\n\r\nContent-Length: %d\r\n\r\n%s", len(msg), msg)

		p := NewProtocol(strings.NewReader(input), nil)

		body, err := p.readMessage()
		if err != nil {
			t.Fatalf("readMessage: %v", err)
		}
		if string(body) != msg {
			t.Errorf("got %s, want %s", body, msg)
		}
	})

	t.Run("ignores extra headers", func(t *testing.T) {
		msg := `{"seq":3,"type":"response"}`
		input := fmt.Sprintf("Content-Length: %d\r\nContent-Type: application/json\r\n\r\n%s", len(msg), msg)

		p := NewProtocol(strings.NewReader(input), nil)

		body, err := p.readMessage()
		if err != nil {
			t.Fatalf("readMessage: %v", err)
		}
		if string(body) != msg {
			t.Errorf("got %s, want %s", body, msg)
		}
	})
}

func TestProtocol_RequestCorrelation(t *testing.T) {
	t.Run("matches response to request", func(t *testing.T) {
		p, fs, cleanup := newFakeServer(t)
		defer cleanup()

		done := make(chan error, 1)
		var resp *Response
		go func() {
			var err error
			resp, err = p.Request(context.Background(), CommandProjectInfo, ProjectInfoArgs{File: "/p/a.ts"})
			done <- err
		}()

		req := fs.nextRequest(t)
		if req.Command != CommandProjectInfo {
			t.Errorf("got command %q, want %q", req.Command, CommandProjectInfo)
		}
		fs.respond(t, req.Seq, req.Command, ProjectInfoBody{ConfigFileName: "/p/tsconfig.json"})

		if err := <-done; err != nil {
			t.Fatalf("Request: %v", err)
		}
		var body ProjectInfoBody
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.ConfigFileName != "/p/tsconfig.json" {
			t.Errorf("got config %q", body.ConfigFileName)
		}
	})

	t.Run("correlates out-of-order responses", func(t *testing.T) {
		p, fs, cleanup := newFakeServer(t)
		defer cleanup()

		type result struct {
			resp *Response
			err  error
		}
		first := make(chan result, 1)
		second := make(chan result, 1)

		go func() {
			r, err := p.Request(context.Background(), CommandRename, nil)
			first <- result{r, err}
		}()
		reqA := fs.nextRequest(t)

		go func() {
			r, err := p.Request(context.Background(), CommandReferences, nil)
			second <- result{r, err}
		}()
		reqB := fs.nextRequest(t)

		// Reply to the later request first.
		fs.respond(t, reqB.Seq, reqB.Command, map[string]string{"which": "second"})
		fs.respond(t, reqA.Seq, reqA.Command, map[string]string{"which": "first"})

		resA := <-first
		resB := <-second
		if resA.err != nil || resB.err != nil {
			t.Fatalf("Request errors: %v, %v", resA.err, resB.err)
		}

		var bodyA, bodyB map[string]string
		if err := json.Unmarshal(resA.resp.Body, &bodyA); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if err := json.Unmarshal(resB.resp.Body, &bodyB); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if bodyA["which"] != "first" {
			t.Errorf("first request got body %v", bodyA)
		}
		if bodyB["which"] != "second" {
			t.Errorf("second request got body %v", bodyB)
		}
	})

	t.Run("server refusal becomes ServiceError", func(t *testing.T) {
		p, fs, cleanup := newFakeServer(t)
		defer cleanup()

		done := make(chan error, 1)
		go func() {
			_, err := p.Request(context.Background(), CommandRename, nil)
			done <- err
		}()

		req := fs.nextRequest(t)
		fs.refuse(t, req.Seq, req.Command, "Could not find symbol")

		err := <-done
		var svcErr *ServiceError
		if !errors.As(err, &svcErr) {
			t.Fatalf("got %T (%v), want *ServiceError", err, err)
		}
		if svcErr.Command != CommandRename {
			t.Errorf("got command %q", svcErr.Command)
		}
		if !strings.Contains(svcErr.Error(), "Could not find symbol") {
			t.Errorf("message lost: %v", svcErr)
		}
	})

	t.Run("context cancellation unblocks request", func(t *testing.T) {
		p, fs, cleanup := newFakeServer(t)
		defer cleanup()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			_, err := p.Request(ctx, CommandRename, nil)
			done <- err
		}()

		fs.nextRequest(t)
		cancel()

		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("got %v, want context.Canceled", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("request did not unblock on cancellation")
		}
	})
}

func TestProtocol_Events(t *testing.T) {
	t.Run("dispatches events to handlers", func(t *testing.T) {
		p, fs, cleanup := newFakeServer(t)
		defer cleanup()

		got := make(chan string, 1)
		p.OnEvent(EventProjectLoadingFinish, func(body json.RawMessage) {
			var b ProjectLoadingFinishBody
			_ = json.Unmarshal(body, &b)
			got <- b.ProjectName
		})

		fs.event(t, EventProjectLoadingFinish, ProjectLoadingFinishBody{ProjectName: "/p/tsconfig.json"})

		select {
		case name := <-got:
			if name != "/p/tsconfig.json" {
				t.Errorf("got project %q", name)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("event handler not invoked")
		}
	})

	t.Run("events never touch pending requests", func(t *testing.T) {
		p, fs, cleanup := newFakeServer(t)
		defer cleanup()

		done := make(chan error, 1)
		go func() {
			_, err := p.Request(context.Background(), CommandRename, nil)
			done <- err
		}()

		req := fs.nextRequest(t)
		fs.event(t, EventProjectLoadingFinish, nil)
		fs.event(t, "telemetry", nil)

		select {
		case err := <-done:
			t.Fatalf("request resolved by an event: %v", err)
		case <-time.After(100 * time.Millisecond):
		}

		fs.respond(t, req.Seq, req.Command, nil)
		if err := <-done; err != nil {
			t.Fatalf("Request: %v", err)
		}
	})
}

func TestProtocol_Close(t *testing.T) {
	t.Run("rejects pending requests", func(t *testing.T) {
		p, fs, cleanup := newFakeServer(t)
		defer cleanup()

		done := make(chan error, 1)
		go func() {
			_, err := p.Request(context.Background(), CommandRename, nil)
			done <- err
		}()

		fs.nextRequest(t)
		p.Close()

		select {
		case err := <-done:
			if !errors.Is(err, ErrSessionStopped) {
				t.Errorf("got %v, want ErrSessionStopped", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("pending request not rejected")
		}
	})

	t.Run("refuses new requests after close", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf)
		p.Close()

		if _, err := p.Request(context.Background(), CommandRename, nil); !errors.Is(err, ErrSessionNotRunning) {
			t.Errorf("got %v, want ErrSessionNotRunning", err)
		}
		if err := p.Notify(CommandOpen, nil); !errors.Is(err, ErrSessionNotRunning) {
			t.Errorf("got %v, want ErrSessionNotRunning", err)
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf)
		p.Close()
		p.Close()
	})
}

func TestProtocol_ConcurrentRequests(t *testing.T) {
	p, fs, cleanup := newFakeServer(t)
	defer cleanup()

	// Echo server: reply to every request with its own seq. Writes happen
	// off the test goroutine, so errors are ignored rather than fatal.
	go func() {
		for fs.requests.Scan() {
			var req requestEnvelope
			if json.Unmarshal(fs.requests.Bytes(), &req) != nil {
				return
			}
			body, err := json.Marshal(map[string]interface{}{
				"seq":         req.Seq + 1000,
				"type":        "response",
				"command":     req.Command,
				"request_seq": req.Seq,
				"success":     true,
				"body":        map[string]int64{"echo": req.Seq},
			})
			if err != nil {
				return
			}
			fs.writeMu.Lock()
			_, err = fmt.Fprintf(fs.responses, "Content-Length: %d\r\n\r\n%s", len(body), body)
			fs.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := p.Request(context.Background(), CommandProjectInfo, nil)
			if err != nil {
				errs <- err
				return
			}
			var body map[string]int64
			if err := json.Unmarshal(resp.Body, &body); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent request: %v", err)
	}
}
