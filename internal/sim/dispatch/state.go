package dispatch

import (
	"fmt"
	"sort"
)

// State is the persisted form of the dispatcher.
type State struct {
	Tasks     []Task
	Employees []Employee
	NextTask  TaskID
	Seq       uint64
}

func (d *Dispatcher) Export() State {
	return State{
		Tasks:     d.Tasks(),
		Employees: d.Employees(),
		NextTask:  d.nextTask,
		Seq:       d.seq,
	}
}

// Import replaces the dispatcher's tables with st after checking that every
// active task names a known employee and no employee holds two tasks.
func (d *Dispatcher) Import(st State) error {
	tasks := map[TaskID]*Task{}
	employees := map[EmployeeID]*staff{}
	for _, e := range st.Employees {
		if employees[e.ID] != nil {
			return fmt.Errorf("employee %d: %w", e.ID, ErrEmployeeExists)
		}
		employees[e.ID] = &staff{Employee: cloneEmployee(e)}
	}
	next, seq := st.NextTask, st.Seq
	sorted := append([]Task(nil), st.Tasks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, t := range sorted {
		if t.ID == 0 || tasks[t.ID] != nil {
			return fmt.Errorf("task %d: %w", t.ID, ErrInvalidTask)
		}
		t := t
		if t.Status.Active() {
			e := employees[t.Assignee]
			if e == nil {
				return fmt.Errorf("task %d assignee %d: %w", t.ID, t.Assignee, ErrUnknownEmployee)
			}
			if e.task != 0 {
				return fmt.Errorf("employee %d holds tasks %d and %d: %w", e.ID, e.task, t.ID, ErrInvalidTransition)
			}
			e.task = t.ID
		} else {
			t.Assignee = 0
		}
		tasks[t.ID] = &t
		if t.ID >= next {
			next = t.ID + 1
		}
		if t.Seq > seq {
			seq = t.Seq
		}
	}
	if next == 0 {
		next = 1
	}
	d.tasks, d.employees, d.nextTask, d.seq = tasks, employees, next, seq
	return nil
}
