// Package concurrency implements the worker executor that runs
// SocketProcessor tasks: per-worker lock-free local queues with a
// buffered global fallback.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package concurrency
