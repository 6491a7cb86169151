package memory

import (
	"fmt"
	"strings"
	"time"

	"kitstudio/pkg/domain"
)

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) ListSounds() []Sound {
	return sortedValues(v.state.sounds, cloneSound, func(x Sound) domain.Base { return x.Base })
}

func (v transactionView) ListKits() []Kit {
	return sortedValues(v.state.kits, cloneKit, func(x Kit) domain.Base { return x.Base })
}

func (v transactionView) ListWorkItems() []WorkItem {
	return sortedValues(v.state.workItems, cloneWorkItem, func(x WorkItem) domain.Base { return x.Base })
}

func (v transactionView) ListTasks() []Task {
	return sortedValues(v.state.tasks, cloneTask, func(x Task) domain.Base { return x.Base })
}

func (v transactionView) ListCalendarEvents() []CalendarEvent {
	return sortedValues(v.state.events, identity[CalendarEvent], func(x CalendarEvent) domain.Base { return x.Base })
}

func (v transactionView) ListIncomeEntries() []IncomeEntry {
	return sortedValues(v.state.income, cloneIncome, func(x IncomeEntry) domain.Base { return x.Base })
}

func (v transactionView) FindSound(id string) (Sound, bool) {
	s, ok := v.state.sounds[id]
	if !ok {
		return Sound{}, false
	}
	return cloneSound(s), true
}

func (v transactionView) FindKit(id string) (Kit, bool) {
	k, ok := v.state.kits[id]
	if !ok {
		return Kit{}, false
	}
	return cloneKit(k), true
}

func (v transactionView) FindWorkItem(id string) (WorkItem, bool) {
	w, ok := v.state.workItems[id]
	if !ok {
		return WorkItem{}, false
	}
	return cloneWorkItem(w), true
}

func (v transactionView) FindTask(id string) (Task, bool) {
	t, ok := v.state.tasks[id]
	if !ok {
		return Task{}, false
	}
	return cloneTask(t), true
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindSound exposes sound lookup within the transaction scope.
func (tx *transaction) FindSound(id string) (Sound, bool) {
	return transactionView{state: &tx.state}.FindSound(id)
}

// FindKit exposes kit lookup within the transaction scope.
func (tx *transaction) FindKit(id string) (Kit, bool) {
	return transactionView{state: &tx.state}.FindKit(id)
}

// FindWorkItem exposes work item lookup within the transaction scope.
func (tx *transaction) FindWorkItem(id string) (WorkItem, bool) {
	return transactionView{state: &tx.state}.FindWorkItem(id)
}

// FindTask exposes task lookup within the transaction scope.
func (tx *transaction) FindTask(id string) (Task, bool) {
	return transactionView{state: &tx.state}.FindTask(id)
}

// CreateSound stores a new library sound.
func (tx *transaction) CreateSound(s Sound) (Sound, error) {
	if s.ID == "" {
		s.ID = tx.store.newID()
	}
	if _, exists := tx.state.sounds[s.ID]; exists {
		return Sound{}, domain.Invalidf("sound %q already exists", s.ID)
	}
	if blank(s.OriginalName) {
		return Sound{}, domain.Invalidf("sound original name required")
	}
	if !s.SoundType.Valid() {
		return Sound{}, domain.Invalidf("sound %q has invalid type %q", s.OriginalName, s.SoundType)
	}
	s.CreatedAt = tx.now
	s.UpdatedAt = tx.now
	tx.state.sounds[s.ID] = cloneSound(s)
	tx.recordChange(Change{Entity: domain.EntitySound, Action: domain.ActionCreate, After: cloneSound(s)})
	return cloneSound(s), nil
}

// UpdateSound mutates a sound using the provided mutator function.
func (tx *transaction) UpdateSound(id string, mutator func(*Sound) error) (Sound, error) {
	current, ok := tx.state.sounds[id]
	if !ok {
		return Sound{}, fmt.Errorf("sound %q not found", id)
	}
	before := cloneSound(current)
	if err := mutator(&current); err != nil {
		return Sound{}, err
	}
	if !current.SoundType.Valid() {
		return Sound{}, domain.Invalidf("sound %q has invalid type %q", id, current.SoundType)
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.sounds[id] = cloneSound(current)
	tx.recordChange(Change{Entity: domain.EntitySound, Action: domain.ActionUpdate, Before: before, After: cloneSound(current)})
	return cloneSound(current), nil
}

// DeleteSound removes a sound and strips it from every kit that references it.
func (tx *transaction) DeleteSound(id string) error {
	current, ok := tx.state.sounds[id]
	if !ok {
		return fmt.Errorf("sound %q not found", id)
	}
	delete(tx.state.sounds, id)
	tx.recordChange(Change{Entity: domain.EntitySound, Action: domain.ActionDelete, Before: cloneSound(current)})
	for kitID, kit := range tx.state.kits {
		updated, changed := kit.WithoutSound(id)
		if !changed {
			continue
		}
		updated.UpdatedAt = tx.now
		tx.state.kits[kitID] = cloneKit(updated)
		tx.recordChange(Change{Entity: domain.EntityKit, Action: domain.ActionUpdate, Before: cloneKit(kit), After: cloneKit(updated)})
	}
	return nil
}

// CreateKit stores a new kit project.
func (tx *transaction) CreateKit(k Kit) (Kit, error) {
	if k.ID == "" {
		k.ID = tx.store.newID()
	}
	if _, exists := tx.state.kits[k.ID]; exists {
		return Kit{}, domain.Invalidf("kit %q already exists", k.ID)
	}
	if blank(k.Name) {
		return Kit{}, domain.Invalidf("kit name required")
	}
	k.CreatedAt = tx.now
	k.UpdatedAt = tx.now
	k = cloneKit(k)
	tx.state.kits[k.ID] = k
	tx.recordChange(Change{Entity: domain.EntityKit, Action: domain.ActionCreate, After: cloneKit(k)})
	return cloneKit(k), nil
}

// UpdateKit mutates a kit using the provided mutator function.
func (tx *transaction) UpdateKit(id string, mutator func(*Kit) error) (Kit, error) {
	current, ok := tx.state.kits[id]
	if !ok {
		return Kit{}, fmt.Errorf("kit %q not found", id)
	}
	before := cloneKit(current)
	current = cloneKit(current)
	if err := mutator(&current); err != nil {
		return Kit{}, err
	}
	if blank(current.Name) {
		return Kit{}, domain.Invalidf("kit name required")
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.kits[id] = cloneKit(current)
	tx.recordChange(Change{Entity: domain.EntityKit, Action: domain.ActionUpdate, Before: before, After: cloneKit(current)})
	return cloneKit(current), nil
}

// DeleteKit removes a kit. Library sounds are untouched.
func (tx *transaction) DeleteKit(id string) error {
	current, ok := tx.state.kits[id]
	if !ok {
		return fmt.Errorf("kit %q not found", id)
	}
	delete(tx.state.kits, id)
	tx.recordChange(Change{Entity: domain.EntityKit, Action: domain.ActionDelete, Before: cloneKit(current)})
	return nil
}

// CreateWorkItem stores a new Fiverr order.
func (tx *transaction) CreateWorkItem(w WorkItem) (WorkItem, error) {
	if w.ID == "" {
		w.ID = tx.store.newID()
	}
	if _, exists := tx.state.workItems[w.ID]; exists {
		return WorkItem{}, domain.Invalidf("work item %q already exists", w.ID)
	}
	if blank(w.Client) {
		return WorkItem{}, domain.Invalidf("work item client required")
	}
	if w.Status == "" {
		w.Status = domain.StatusNotStarted
	}
	if _, err := domain.ParseDeliveryStatus(string(w.Status)); err != nil {
		return WorkItem{}, err
	}
	if w.TaskID != nil {
		if _, ok := tx.state.tasks[*w.TaskID]; !ok {
			return WorkItem{}, domain.Invalidf("task %q not found", *w.TaskID)
		}
	}
	w.CreatedAt = tx.now
	w.UpdatedAt = tx.now
	tx.state.workItems[w.ID] = cloneWorkItem(w)
	tx.recordChange(Change{Entity: domain.EntityWorkItem, Action: domain.ActionCreate, After: cloneWorkItem(w)})
	return cloneWorkItem(w), nil
}

// UpdateWorkItem mutates a work item using the provided mutator function.
func (tx *transaction) UpdateWorkItem(id string, mutator func(*WorkItem) error) (WorkItem, error) {
	current, ok := tx.state.workItems[id]
	if !ok {
		return WorkItem{}, fmt.Errorf("work item %q not found", id)
	}
	before := cloneWorkItem(current)
	if err := mutator(&current); err != nil {
		return WorkItem{}, err
	}
	if _, err := domain.ParseDeliveryStatus(string(current.Status)); err != nil {
		return WorkItem{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.workItems[id] = cloneWorkItem(current)
	tx.recordChange(Change{Entity: domain.EntityWorkItem, Action: domain.ActionUpdate, Before: before, After: cloneWorkItem(current)})
	return cloneWorkItem(current), nil
}

// DeleteWorkItem removes a work item and unlinks tasks and income pointing at it.
func (tx *transaction) DeleteWorkItem(id string) error {
	current, ok := tx.state.workItems[id]
	if !ok {
		return fmt.Errorf("work item %q not found", id)
	}
	delete(tx.state.workItems, id)
	tx.recordChange(Change{Entity: domain.EntityWorkItem, Action: domain.ActionDelete, Before: cloneWorkItem(current)})
	for taskID, task := range tx.state.tasks {
		if task.WorkItemID == nil || *task.WorkItemID != id {
			continue
		}
		before := cloneTask(task)
		task.WorkItemID = nil
		task.UpdatedAt = tx.now
		tx.state.tasks[taskID] = task
		tx.recordChange(Change{Entity: domain.EntityTask, Action: domain.ActionUpdate, Before: before, After: cloneTask(task)})
	}
	for entryID, entry := range tx.state.income {
		if entry.WorkItemID == nil || *entry.WorkItemID != id {
			continue
		}
		entry.WorkItemID = nil
		entry.UpdatedAt = tx.now
		tx.state.income[entryID] = entry
	}
	return nil
}

// CreateTask stores a new Kanban task.
func (tx *transaction) CreateTask(t Task) (Task, error) {
	if t.ID == "" {
		t.ID = tx.store.newID()
	}
	if _, exists := tx.state.tasks[t.ID]; exists {
		return Task{}, domain.Invalidf("task %q already exists", t.ID)
	}
	if blank(t.Title) {
		return Task{}, domain.Invalidf("task title required")
	}
	if t.Column == "" {
		t.Column = domain.ColumnTodo
	}
	if _, err := domain.ParseTaskColumn(string(t.Column)); err != nil {
		return Task{}, err
	}
	if t.WorkItemID != nil {
		if _, ok := tx.state.workItems[*t.WorkItemID]; !ok {
			return Task{}, domain.Invalidf("work item %q not found", *t.WorkItemID)
		}
	}
	t.CreatedAt = tx.now
	t.UpdatedAt = tx.now
	tx.state.tasks[t.ID] = cloneTask(t)
	tx.recordChange(Change{Entity: domain.EntityTask, Action: domain.ActionCreate, After: cloneTask(t)})
	return cloneTask(t), nil
}

// UpdateTask mutates a task using the provided mutator function.
func (tx *transaction) UpdateTask(id string, mutator func(*Task) error) (Task, error) {
	current, ok := tx.state.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("task %q not found", id)
	}
	before := cloneTask(current)
	current = cloneTask(current)
	if err := mutator(&current); err != nil {
		return Task{}, err
	}
	if _, err := domain.ParseTaskColumn(string(current.Column)); err != nil {
		return Task{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.tasks[id] = cloneTask(current)
	tx.recordChange(Change{Entity: domain.EntityTask, Action: domain.ActionUpdate, Before: before, After: cloneTask(current)})
	return cloneTask(current), nil
}

// DeleteTask removes a task and clears the work item link back to it.
func (tx *transaction) DeleteTask(id string) error {
	current, ok := tx.state.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	delete(tx.state.tasks, id)
	tx.recordChange(Change{Entity: domain.EntityTask, Action: domain.ActionDelete, Before: cloneTask(current)})
	for wid, w := range tx.state.workItems {
		if w.TaskID == nil || *w.TaskID != id {
			continue
		}
		before := cloneWorkItem(w)
		w.TaskID = nil
		w.UpdatedAt = tx.now
		tx.state.workItems[wid] = w
		tx.recordChange(Change{Entity: domain.EntityWorkItem, Action: domain.ActionUpdate, Before: before, After: cloneWorkItem(w)})
	}
	return nil
}

// CreateCalendarEvent stores a calendar entry.
func (tx *transaction) CreateCalendarEvent(e CalendarEvent) (CalendarEvent, error) {
	if e.ID == "" {
		e.ID = tx.store.newID()
	}
	if _, exists := tx.state.events[e.ID]; exists {
		return CalendarEvent{}, domain.Invalidf("calendar event %q already exists", e.ID)
	}
	if blank(e.Title) {
		return CalendarEvent{}, domain.Invalidf("calendar event title required")
	}
	if e.Start.IsZero() {
		return CalendarEvent{}, domain.Invalidf("calendar event start required")
	}
	if e.End.IsZero() {
		e.End = e.Start
	}
	if e.End.Before(e.Start) {
		return CalendarEvent{}, domain.Invalidf("calendar event %q ends before it starts", e.Title)
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	tx.state.events[e.ID] = e
	tx.recordChange(Change{Entity: domain.EntityCalendarEvent, Action: domain.ActionCreate, After: e})
	return e, nil
}

// DeleteCalendarEvent removes a calendar entry.
func (tx *transaction) DeleteCalendarEvent(id string) error {
	current, ok := tx.state.events[id]
	if !ok {
		return fmt.Errorf("calendar event %q not found", id)
	}
	delete(tx.state.events, id)
	tx.recordChange(Change{Entity: domain.EntityCalendarEvent, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateIncomeEntry stores an income record. Currency defaults to USD.
func (tx *transaction) CreateIncomeEntry(e IncomeEntry) (IncomeEntry, error) {
	if e.ID == "" {
		e.ID = tx.store.newID()
	}
	if _, exists := tx.state.income[e.ID]; exists {
		return IncomeEntry{}, domain.Invalidf("income entry %q already exists", e.ID)
	}
	if blank(e.Source) {
		return IncomeEntry{}, domain.Invalidf("income source required")
	}
	e.Currency = strings.ToUpper(strings.TrimSpace(e.Currency))
	if e.Currency == "" {
		e.Currency = "USD"
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = tx.now
	}
	if e.WorkItemID != nil {
		if _, ok := tx.state.workItems[*e.WorkItemID]; !ok {
			return IncomeEntry{}, domain.Invalidf("work item %q not found", *e.WorkItemID)
		}
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	tx.state.income[e.ID] = cloneIncome(e)
	tx.recordChange(Change{Entity: domain.EntityIncome, Action: domain.ActionCreate, After: cloneIncome(e)})
	return cloneIncome(e), nil
}

// DeleteIncomeEntry removes an income record.
func (tx *transaction) DeleteIncomeEntry(id string) error {
	current, ok := tx.state.income[id]
	if !ok {
		return fmt.Errorf("income entry %q not found", id)
	}
	delete(tx.state.income, id)
	tx.recordChange(Change{Entity: domain.EntityIncome, Action: domain.ActionDelete, Before: cloneIncome(current)})
	return nil
}
