package engine

import (
	"github.com/e7canasta/framebridge/internal/logging"
	"github.com/e7canasta/framebridge/internal/types"
)

// task is a unit of work run on the render goroutine.
type task struct {
	run  func()
	done chan error
}

// post runs fn on the render goroutine and waits for it.
func (e *Engine) post(fn func()) error {
	t := &task{run: fn, done: make(chan error, 1)}

	e.mu.Lock()
	if e.state == StateDestroyed {
		e.mu.Unlock()
		return types.ErrUseAfterDestroy
	}
	e.tasks = append(e.tasks, t)
	e.cond.Signal()
	e.mu.Unlock()

	return <-t.done
}

// loop is the render goroutine. Each turn runs queued tasks, uploads the
// pending buffer if any, then presents once.
func (e *Engine) loop() {
	defer close(e.stopped)

	for {
		e.mu.Lock()
		for e.state != StateDestroyed && len(e.tasks) == 0 && e.pending == nil && !e.presentReq {
			e.cond.Wait()
		}

		tasks := e.tasks
		pending := e.pending
		present := e.presentReq
		e.tasks = nil
		e.pending = nil
		e.presentReq = false
		destroyed := e.state == StateDestroyed
		e.mu.Unlock()

		if destroyed {
			for _, t := range tasks {
				t.done <- types.ErrUseAfterDestroy
			}
			if pending != nil {
				e.releaseBuffer(pending.buf)
			}
			return
		}

		for _, t := range tasks {
			t.run()
			t.done <- nil
		}

		if pending != nil {
			err := e.peer.Stage(pending.buf, pending.orient)
			e.releaseBuffer(pending.buf)
			if err != nil {
				e.failed.Add(1)
				logging.Logger().Warn("engine: upload failed", "engine", e.id, "error", err)
			} else {
				e.uploaded.Add(1)
				present = true
			}
		}

		if present {
			e.render()
		}
	}
}

// render presents the staged image on the bound surface. Render goroutine only.
func (e *Engine) render() {
	if e.target == nil {
		return
	}
	if !e.peer.View(e.pres.capture) {
		return
	}
	if err := e.pres.present(e.target, e.width, e.height); err != nil {
		e.failed.Add(1)
		logging.Logger().Warn("engine: present failed", "engine", e.id, "error", err)
		return
	}
	e.presented.Add(1)
}
