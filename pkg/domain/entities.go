// Package domain defines the persistent dashboard entities, value types, and
// rule evaluation primitives used by kitstudio.
package domain

import (
	"fmt"
	"sort"
	"time"
)

// EntityType identifies the type of record stored in the application document.
type EntityType string

// Supported entity type identifiers used in Change records and rule violations.
const (
	// EntitySound identifies a sound library item.
	EntitySound EntityType = "sound"
	// EntityKit identifies a drum kit project.
	EntityKit EntityType = "kit"
	// EntityWorkItem identifies a Fiverr order.
	EntityWorkItem EntityType = "work_item"
	// EntityTask identifies a Kanban task.
	EntityTask EntityType = "task"
	// EntityCalendarEvent identifies a calendar entry.
	EntityCalendarEvent EntityType = "calendar_event"
	// EntityIncome identifies an income record.
	EntityIncome EntityType = "income_entry"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// NamePending is stored in Kit.SoundNamesInKit while a creative rename is in flight.
const NamePending = "Generating name..."

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Sound is an uploaded one-shot in the sound library.
type Sound struct {
	Base
	OriginalName string    `json:"originalName"`
	StorageURL   string    `json:"storageUrl"`
	StorageKey   string    `json:"storageKey,omitempty"`
	SoundType    SoundType `json:"soundType"`
	Key          *string   `json:"key"`
}

// KeyOrEmpty returns the musical key or an empty string when unset.
func (s Sound) KeyOrEmpty() string {
	if s.Key == nil {
		return ""
	}
	return *s.Key
}

// Kit is a drum kit project assembled from library sounds.
type Kit struct {
	Base
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	CoverArtURL     string            `json:"coverArtUrl"`
	ImagePrompt     string            `json:"imagePrompt"`
	SEONames        []string          `json:"seoNames"`
	SoundIDs        []string          `json:"soundIds"`
	SoundNamesInKit map[string]string `json:"soundNamesInKit"`
}

// HasSound reports whether the kit already lists the sound.
func (k Kit) HasSound(id string) bool {
	for _, existing := range k.SoundIDs {
		if existing == id {
			return true
		}
	}
	return false
}

// UsedNames returns the settled creative names in the kit, excluding the given
// sound and any placeholder entries. The result is sorted.
func (k Kit) UsedNames(exclude string) []string {
	names := make([]string, 0, len(k.SoundNamesInKit))
	for id, name := range k.SoundNamesInKit {
		if id == exclude || name == "" || name == NamePending {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithoutSound returns a copy of the kit with every reference to the sound removed.
func (k Kit) WithoutSound(id string) (Kit, bool) {
	changed := false
	ids := make([]string, 0, len(k.SoundIDs))
	for _, existing := range k.SoundIDs {
		if existing == id {
			changed = true
			continue
		}
		ids = append(ids, existing)
	}
	names := make(map[string]string, len(k.SoundNamesInKit))
	for sid, name := range k.SoundNamesInKit {
		if sid == id {
			changed = true
			continue
		}
		names[sid] = name
	}
	k.SoundIDs = ids
	k.SoundNamesInKit = names
	return k, changed
}

// WorkItem is a Fiverr order tracked through delivery.
type WorkItem struct {
	Base
	Client             string         `json:"client"`
	OrderNumber        string         `json:"orderNumber"`
	DeliveryDate       time.Time      `json:"deliveryDate"`
	PackageType        string         `json:"packageType"`
	RemakeType         string         `json:"remakeType"`
	Key                string         `json:"key"`
	BPM                int            `json:"bpm"`
	Status             DeliveryStatus `json:"status"`
	RevisionsRemaining int            `json:"revisionsRemaining"`
	TaskID             *string        `json:"taskId"`
}

// Task is a Kanban card, optionally linked to a work item.
type Task struct {
	Base
	Title      string     `json:"title"`
	Column     TaskColumn `json:"column"`
	Course     string     `json:"course,omitempty"`
	Due        *time.Time `json:"due"`
	WorkItemID *string    `json:"workItemId"`
}

// CalendarEvent is a dashboard calendar entry.
type CalendarEvent struct {
	Base
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	AllDay   bool      `json:"allDay"`
	Location string    `json:"location,omitempty"`
}

// IncomeEntry records money received.
type IncomeEntry struct {
	Base
	Source      string    `json:"source"`
	AmountCents int64     `json:"amountCents"`
	Currency    string    `json:"currency"`
	ReceivedAt  time.Time `json:"receivedAt"`
	WorkItemID  *string   `json:"workItemId"`
}

// Change describes a mutation applied within a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	// ActionDelete indicates an entity was deleted.
	ActionDelete Action = "delete"
)

// Violation represents a single rule violation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock && v.Message != "" {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}

// ValidationError reports input rejected before it reaches the document.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string { return e.Message }

// Invalidf builds a ValidationError.
func Invalidf(format string, args ...any) error {
	return ValidationError{Message: fmt.Sprintf(format, args...)}
}
