package core

import (
	"fmt"

	"kitstudio/pkg/domain"
)

type (
	EntityType      = domain.EntityType
	Severity        = domain.Severity
	Change          = domain.Change
	Action          = domain.Action
	Violation       = domain.Violation
	Result          = domain.Result
	Rule            = domain.Rule
	RuleView        = domain.RuleView
	RulesEngine     = domain.RulesEngine
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
	Document        = domain.Document

	Sound         = domain.Sound
	SoundType     = domain.SoundType
	Kit           = domain.Kit
	WorkItem      = domain.WorkItem
	Task          = domain.Task
	TaskColumn    = domain.TaskColumn
	CalendarEvent = domain.CalendarEvent
	IncomeEntry   = domain.IncomeEntry
)

// ErrNotFound is returned when reference validation fails within transactional helpers.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
