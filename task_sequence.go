package main

// task is one step of a taskSequence. It must call done exactly once when it
// has finished; extra calls are ignored.
type task func(done func())

// taskSequence runs tasks strictly one after another on the event loop.
type taskSequence struct {
	loop  *eventLoop
	tasks []task
}

func newTaskSequence(loop *eventLoop) *taskSequence {
	return &taskSequence{loop: loop}
}

func (q *taskSequence) add(t task) {
	q.tasks = append(q.tasks, t)
}

func (q *taskSequence) len() int {
	return len(q.tasks)
}

// run starts the first task; onDone runs after the last one. Must be called
// on the loop.
func (q *taskSequence) run(onDone func()) {
	if len(q.tasks) == 0 {
		if onDone != nil {
			q.loop.later(onDone)
		}
		return
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	finished := false
	t(func() {
		if finished {
			return
		}
		finished = true
		q.loop.later(func() { q.run(onDone) })
	})
}
