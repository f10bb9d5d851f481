// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tsserver drives the TypeScript compiler's tsserver process.
//
// tsserver answers structural code queries (refactor availability, edits,
// references, rename locations) with full type knowledge. This package owns
// the process and the message transport; the intelligence stays on the other
// side of the pipe.
//
// # Components
//
//   - Session: spawns and owns one tsserver process per workspace root
//   - Protocol: correlates requests and responses by sequence id and
//     forwards asynchronous events to subscribers
//   - LoadGate: shared bounded wait for the projectLoadingFinish event
//   - Discovery: best-effort pre-open of files that may reference a target
//
// # Wire format
//
// Requests go out as single-line JSON terminated by a newline. Incoming
// messages are framed with a Content-Length header. Responses carry the
// originating request's sequence id in request_seq; events carry an event
// name instead and are never matched against pending requests.
//
// # Thread Safety
//
// All exported types are safe for concurrent use after construction.
//
// # Example
//
//	sess := tsserver.NewSession("/path/to/project", tsserver.DefaultConfig())
//	if err := sess.Start(ctx); err != nil {
//	    return err
//	}
//	defer sess.Stop(context.Background())
//
//	loaded := sess.Gate().EnsureReady(ctx, 30*time.Second)
package tsserver
