// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streamer

import "sync"

// requestPool is an arena of FileRequests addressed by index and
// generation. Slots are reused instead of freed so a busy stack does
// not churn the heap. The pool lock covers slot bookkeeping only; the
// requests themselves are owned by whichever goroutine holds them.
type requestPool struct {
	mu    sync.Mutex
	slots []*FileRequest
	free  []uint32
	live  int
}

func (p *requestPool) acquire(external bool) *FileRequest {
	p.mu.Lock()
	var request *FileRequest
	if n := len(p.free); n > 0 {
		request = p.slots[p.free[n-1]]
		p.free = p.free[:n-1]
	} else {
		request = &FileRequest{ref: RequestRef{index: uint32(len(p.slots)), generation: 1}, pool: p}
		p.slots = append(p.slots, request)
	}
	request.inUse = true
	p.live++
	p.mu.Unlock()

	request.reset()
	request.external = external
	if external {
		request.references.Store(1)
		request.done = make(chan struct{})
	}
	return request
}

func (p *requestPool) release(request *FileRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !request.inUse {
		return
	}
	request.inUse = false
	request.ref.generation++
	if request.ref.generation == 0 {
		request.ref.generation = 1
	}
	request.command = nil
	request.parent = nil
	request.onCompletion = nil
	p.free = append(p.free, request.ref.index)
	p.live--
}

func (p *requestPool) resolve(ref RequestRef) *FileRequest {
	if ref.IsZero() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(ref.index) >= len(p.slots) {
		return nil
	}
	request := p.slots[ref.index]
	if !request.inUse || request.ref.generation != ref.generation {
		return nil
	}
	return request
}

func (p *requestPool) counts() (live, capacity int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live, len(p.slots)
}
