package domain

import (
	"context"
	"errors"
	"time"
)

// ErrRevisionConflict is returned by durable backends when the stored document
// moved past the revision a commit was based on, i.e. another writer won.
var ErrRevisionConflict = errors.New("document revision conflict")

// Document is the whole application state. Durable backends store it as a
// single JSON value and overwrite it on every committed transaction.
type Document struct {
	Revision       uint64          `json:"revision"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	SoundLibrary   []Sound         `json:"soundLibrary"`
	DrumKits       []Kit           `json:"drumKits"`
	WorkItems      []WorkItem      `json:"workItems"`
	Tasks          []Task          `json:"tasks"`
	CalendarEvents []CalendarEvent `json:"calendarEvents"`
	Income         []IncomeEntry   `json:"income"`
}

// Transaction represents a mutation set applied atomically to the document.
type Transaction interface {
	Snapshot() TransactionView
	CreateSound(Sound) (Sound, error)
	UpdateSound(id string, mutator func(*Sound) error) (Sound, error)
	DeleteSound(id string) error
	CreateKit(Kit) (Kit, error)
	UpdateKit(id string, mutator func(*Kit) error) (Kit, error)
	DeleteKit(id string) error
	CreateWorkItem(WorkItem) (WorkItem, error)
	UpdateWorkItem(id string, mutator func(*WorkItem) error) (WorkItem, error)
	DeleteWorkItem(id string) error
	CreateTask(Task) (Task, error)
	UpdateTask(id string, mutator func(*Task) error) (Task, error)
	DeleteTask(id string) error
	CreateCalendarEvent(CalendarEvent) (CalendarEvent, error)
	DeleteCalendarEvent(id string) error
	CreateIncomeEntry(IncomeEntry) (IncomeEntry, error)
	DeleteIncomeEntry(id string) error
	FindSound(id string) (Sound, bool)
	FindKit(id string) (Kit, bool)
	FindWorkItem(id string) (WorkItem, bool)
	FindTask(id string) (Task, bool)
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	RuleView
	ListCalendarEvents() []CalendarEvent
	ListIncomeEntries() []IncomeEntry
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	ExportState() Document
	Subscribe(ctx context.Context) <-chan Document
	Close() error
}
