// Copyright 2024 Northern.tech AS
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

// Package eventloop provides the single-threaded cooperative scheduler that
// the deployment client's v2->v1 fallback is scheduled onto: posted
// callbacks run one at a time on the single goroutine that calls Run, so no
// two of them ever execute concurrently.
package eventloop

import "sync"

// Loop is a single-goroutine work queue, backed by a mutex-protected slice
// rather than a channel of functions: a channel send would rendezvous with
// Run and block until some in-flight callback returns, but Post must also be
// callable from inside a callback Run is currently executing (a response
// handler scheduling a protocol fallback, say) without deadlocking against
// itself. Posted functions always run on the goroutine that calls Run, never
// on the poster's own goroutine.
type Loop struct {
	mu        sync.Mutex
	queue     []func()
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Loop. Call Run on some goroutine to start draining it.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post enqueues fn to run on the loop's goroutine and returns immediately.
// If the loop has already been stopped, fn is silently dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	select {
	case <-l.done:
		l.mu.Unlock()
		return
	default:
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
		// A wakeup is already pending; Run will see this entry too
		// once it drains the queue.
	}
}

// Run drains posted work until Stop is called. It returns when stopped.
func (l *Loop) Run() {
	for {
		l.mu.Lock()
		pending := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range pending {
			fn()
		}

		if len(pending) > 0 {
			// A callback above may have Post'ed more work; check
			// again before blocking on wake.
			continue
		}

		select {
		case <-l.wake:
		case <-l.done:
			return
		}
	}
}

// Stop causes Run to return and any blocked or future Post call to become a
// no-op.
func (l *Loop) Stop() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
