package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"kitstudio/pkg/domain"
)

// Service exposes transactional operations over the application document.
type Service struct {
	store  PersistentStore
	logger *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for commit and rule diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	svc := &Service{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// Snapshot returns the current document.
func (s *Service) Snapshot() Document {
	return s.store.ExportState()
}

// Subscribe streams committed documents until ctx is cancelled.
func (s *Service) Subscribe(ctx context.Context) <-chan Document {
	return s.store.Subscribe(ctx)
}

func (s *Service) run(ctx context.Context, op string, fn func(Transaction) error) (Result, error) {
	res, err := s.store.RunInTransaction(ctx, fn)
	for _, v := range res.Violations {
		if v.Severity == domain.SeverityBlock {
			continue
		}
		s.logger.Warn("rule violation", zap.String("op", op), zap.String("rule", v.Rule), zap.String("entity_id", v.EntityID), zap.String("message", v.Message))
	}
	if err != nil {
		var rv domain.RuleViolationError
		if errors.As(err, &rv) {
			s.logger.Info("transaction blocked", zap.String("op", op), zap.Error(err))
		}
		return res, fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Debug("transaction committed", zap.String("op", op))
	return res, nil
}

// AddSound appends a classified sound to the library.
func (s *Service) AddSound(ctx context.Context, sound Sound) (Sound, Result, error) {
	sound.Key = normalizeKeyPtr(sound.Key)
	var created Sound
	res, err := s.run(ctx, "add sound", func(tx Transaction) error {
		var err error
		created, err = tx.CreateSound(sound)
		return err
	})
	return created, res, err
}

// UpdateSound applies a manual type/key override to a library sound.
func (s *Service) UpdateSound(ctx context.Context, id string, mutator func(*Sound) error) (Sound, Result, error) {
	var updated Sound
	res, err := s.run(ctx, "update sound", func(tx Transaction) error {
		if _, ok := tx.FindSound(id); !ok {
			return ErrNotFound{Entity: domain.EntitySound, ID: id}
		}
		var err error
		updated, err = tx.UpdateSound(id, func(snd *Sound) error {
			if err := mutator(snd); err != nil {
				return err
			}
			snd.Key = normalizeKeyPtr(snd.Key)
			return nil
		})
		return err
	})
	return updated, res, err
}

// DeleteSound removes a sound from the library and from every kit referencing it.
func (s *Service) DeleteSound(ctx context.Context, id string) (Sound, Result, error) {
	var removed Sound
	res, err := s.run(ctx, "delete sound", func(tx Transaction) error {
		snd, ok := tx.FindSound(id)
		if !ok {
			return ErrNotFound{Entity: domain.EntitySound, ID: id}
		}
		removed = snd
		return tx.DeleteSound(id)
	})
	return removed, res, err
}

// ListSounds returns the library ordered by creation time.
func (s *Service) ListSounds(ctx context.Context) ([]Sound, error) {
	var out []Sound
	err := s.store.View(ctx, func(v TransactionView) error {
		out = v.ListSounds()
		return nil
	})
	return out, err
}

// GetSound returns a single library sound.
func (s *Service) GetSound(ctx context.Context, id string) (Sound, error) {
	var out Sound
	err := s.store.View(ctx, func(v TransactionView) error {
		snd, ok := v.FindSound(id)
		if !ok {
			return ErrNotFound{Entity: domain.EntitySound, ID: id}
		}
		out = snd
		return nil
	})
	return out, err
}

// ListKits returns every kit project.
func (s *Service) ListKits(ctx context.Context) ([]Kit, error) {
	var out []Kit
	err := s.store.View(ctx, func(v TransactionView) error {
		out = v.ListKits()
		return nil
	})
	return out, err
}

// GetKit returns a kit together with its resolved sounds in kit order.
func (s *Service) GetKit(ctx context.Context, id string) (Kit, []Sound, error) {
	var (
		kit    Kit
		sounds []Sound
	)
	err := s.store.View(ctx, func(v TransactionView) error {
		k, ok := v.FindKit(id)
		if !ok {
			return ErrNotFound{Entity: domain.EntityKit, ID: id}
		}
		kit = k
		sounds = make([]Sound, 0, len(k.SoundIDs))
		for _, sid := range k.SoundIDs {
			if snd, ok := v.FindSound(sid); ok {
				sounds = append(sounds, snd)
			}
		}
		return nil
	})
	return kit, sounds, err
}

// CreateKit stores a new kit project.
func (s *Service) CreateKit(ctx context.Context, kit Kit) (Kit, Result, error) {
	if kit.SoundNamesInKit == nil {
		kit.SoundNamesInKit = map[string]string{}
	}
	var created Kit
	res, err := s.run(ctx, "create kit", func(tx Transaction) error {
		var err error
		created, err = tx.CreateKit(kit)
		return err
	})
	return created, res, err
}

// UpdateKit mutates kit metadata.
func (s *Service) UpdateKit(ctx context.Context, id string, mutator func(*Kit) error) (Kit, Result, error) {
	var updated Kit
	res, err := s.run(ctx, "update kit", func(tx Transaction) error {
		if _, ok := tx.FindKit(id); !ok {
			return ErrNotFound{Entity: domain.EntityKit, ID: id}
		}
		var err error
		updated, err = tx.UpdateKit(id, mutator)
		return err
	})
	return updated, res, err
}

// DeleteKit removes a kit project. Library sounds are kept.
func (s *Service) DeleteKit(ctx context.Context, id string) (Result, error) {
	return s.run(ctx, "delete kit", func(tx Transaction) error {
		if _, ok := tx.FindKit(id); !ok {
			return ErrNotFound{Entity: domain.EntityKit, ID: id}
		}
		return tx.DeleteKit(id)
	})
}

// AddSoundToKit appends a library sound to a kit under the given display
// name. Adding a sound the kit already lists only updates its name.
func (s *Service) AddSoundToKit(ctx context.Context, kitID, soundID, name string) (Kit, Result, error) {
	var updated Kit
	res, err := s.run(ctx, "add sound to kit", func(tx Transaction) error {
		if _, ok := tx.FindKit(kitID); !ok {
			return ErrNotFound{Entity: domain.EntityKit, ID: kitID}
		}
		if _, ok := tx.FindSound(soundID); !ok {
			return ErrNotFound{Entity: domain.EntitySound, ID: soundID}
		}
		var err error
		updated, err = tx.UpdateKit(kitID, func(k *Kit) error {
			if !k.HasSound(soundID) {
				k.SoundIDs = append(k.SoundIDs, soundID)
			}
			if k.SoundNamesInKit == nil {
				k.SoundNamesInKit = map[string]string{}
			}
			k.SoundNamesInKit[soundID] = strings.TrimSpace(name)
			return nil
		})
		return err
	})
	return updated, res, err
}

// RemoveSoundFromKit drops a sound and its creative name from a kit.
func (s *Service) RemoveSoundFromKit(ctx context.Context, kitID, soundID string) (Kit, Result, error) {
	var updated Kit
	res, err := s.run(ctx, "remove sound from kit", func(tx Transaction) error {
		kit, ok := tx.FindKit(kitID)
		if !ok {
			return ErrNotFound{Entity: domain.EntityKit, ID: kitID}
		}
		if !kit.HasSound(soundID) {
			return ErrNotFound{Entity: domain.EntitySound, ID: soundID}
		}
		var err error
		updated, err = tx.UpdateKit(kitID, func(k *Kit) error {
			*k, _ = k.WithoutSound(soundID)
			return nil
		})
		return err
	})
	return updated, res, err
}

// SetKitSoundName stores the creative name of a sound inside a kit.
func (s *Service) SetKitSoundName(ctx context.Context, kitID, soundID, name string) (Kit, Result, error) {
	var updated Kit
	res, err := s.run(ctx, "set kit sound name", func(tx Transaction) error {
		kit, ok := tx.FindKit(kitID)
		if !ok {
			return ErrNotFound{Entity: domain.EntityKit, ID: kitID}
		}
		if !kit.HasSound(soundID) {
			return ErrNotFound{Entity: domain.EntitySound, ID: soundID}
		}
		var err error
		updated, err = tx.UpdateKit(kitID, func(k *Kit) error {
			k.SoundNamesInKit[soundID] = strings.TrimSpace(name)
			return nil
		})
		return err
	})
	return updated, res, err
}

// CreateWorkItem stores a Fiverr order and, unless one is supplied, a linked
// Kanban task placed in the column matching the order status.
func (s *Service) CreateWorkItem(ctx context.Context, item WorkItem) (WorkItem, Result, error) {
	var created WorkItem
	res, err := s.run(ctx, "create work item", func(tx Transaction) error {
		if item.TaskID != nil {
			var err error
			created, err = tx.CreateWorkItem(item)
			if err != nil {
				return err
			}
			_, err = tx.UpdateTask(*item.TaskID, func(t *Task) error {
				id := created.ID
				t.WorkItemID = &id
				return nil
			})
			return err
		}
		status := item.Status
		if status == "" {
			status = domain.StatusNotStarted
		}
		var due *time.Time
		if !item.DeliveryDate.IsZero() {
			d := item.DeliveryDate
			due = &d
		}
		task, err := tx.CreateTask(Task{Title: workItemTaskTitle(item), Column: status.Column(), Due: due})
		if err != nil {
			return err
		}
		item.TaskID = &task.ID
		created, err = tx.CreateWorkItem(item)
		if err != nil {
			return err
		}
		_, err = tx.UpdateTask(task.ID, func(t *Task) error {
			id := created.ID
			t.WorkItemID = &id
			return nil
		})
		return err
	})
	return created, res, err
}

func workItemTaskTitle(item WorkItem) string {
	if item.OrderNumber == "" {
		return "Fiverr: " + item.Client
	}
	return fmt.Sprintf("Fiverr: %s #%s", item.Client, item.OrderNumber)
}

// UpdateWorkItem mutates order details other than the status.
func (s *Service) UpdateWorkItem(ctx context.Context, id string, mutator func(*WorkItem) error) (WorkItem, Result, error) {
	var updated WorkItem
	res, err := s.run(ctx, "update work item", func(tx Transaction) error {
		current, ok := tx.FindWorkItem(id)
		if !ok {
			return ErrNotFound{Entity: domain.EntityWorkItem, ID: id}
		}
		var err error
		updated, err = tx.UpdateWorkItem(id, func(w *WorkItem) error {
			if err := mutator(w); err != nil {
				return err
			}
			w.Status = current.Status
			w.TaskID = current.TaskID
			return nil
		})
		return err
	})
	return updated, res, err
}

// UpdateWorkItemStatus changes the delivery status and moves the linked task
// to the matching Kanban column in the same transaction. Entering Revision
// consumes one of the remaining revisions.
func (s *Service) UpdateWorkItemStatus(ctx context.Context, id string, status domain.DeliveryStatus) (WorkItem, Result, error) {
	if _, err := domain.ParseDeliveryStatus(string(status)); err != nil {
		return WorkItem{}, Result{}, err
	}
	var updated WorkItem
	res, err := s.run(ctx, "update work item status", func(tx Transaction) error {
		current, ok := tx.FindWorkItem(id)
		if !ok {
			return ErrNotFound{Entity: domain.EntityWorkItem, ID: id}
		}
		var err error
		updated, err = tx.UpdateWorkItem(id, func(w *WorkItem) error {
			if status == domain.StatusRevision && current.Status != domain.StatusRevision {
				w.RevisionsRemaining--
			}
			w.Status = status
			return nil
		})
		if err != nil {
			return err
		}
		if updated.TaskID == nil {
			return nil
		}
		task, ok := tx.FindTask(*updated.TaskID)
		if !ok || task.Column == status.Column() {
			return nil
		}
		_, err = tx.UpdateTask(task.ID, func(t *Task) error {
			t.Column = status.Column()
			return nil
		})
		return err
	})
	return updated, res, err
}

// DeleteWorkItem removes an order; linked tasks and income entries are unlinked.
func (s *Service) DeleteWorkItem(ctx context.Context, id string) (Result, error) {
	return s.run(ctx, "delete work item", func(tx Transaction) error {
		if _, ok := tx.FindWorkItem(id); !ok {
			return ErrNotFound{Entity: domain.EntityWorkItem, ID: id}
		}
		return tx.DeleteWorkItem(id)
	})
}

// ListWorkItems returns every tracked order.
func (s *Service) ListWorkItems(ctx context.Context) ([]WorkItem, error) {
	var out []WorkItem
	err := s.store.View(ctx, func(v TransactionView) error {
		out = v.ListWorkItems()
		return nil
	})
	return out, err
}

// CreateTask stores a Kanban task.
func (s *Service) CreateTask(ctx context.Context, task Task) (Task, Result, error) {
	var created Task
	res, err := s.run(ctx, "create task", func(tx Transaction) error {
		var err error
		created, err = tx.CreateTask(task)
		return err
	})
	return created, res, err
}

// MoveTask places a task in another Kanban column.
func (s *Service) MoveTask(ctx context.Context, id string, column TaskColumn) (Task, Result, error) {
	col, err := domain.ParseTaskColumn(string(column))
	if err != nil {
		return Task{}, Result{}, err
	}
	var updated Task
	res, err := s.run(ctx, "move task", func(tx Transaction) error {
		if _, ok := tx.FindTask(id); !ok {
			return ErrNotFound{Entity: domain.EntityTask, ID: id}
		}
		var err error
		updated, err = tx.UpdateTask(id, func(t *Task) error {
			t.Column = col
			return nil
		})
		return err
	})
	return updated, res, err
}

// DeleteTask removes a task and clears the link from its work item.
func (s *Service) DeleteTask(ctx context.Context, id string) (Result, error) {
	return s.run(ctx, "delete task", func(tx Transaction) error {
		if _, ok := tx.FindTask(id); !ok {
			return ErrNotFound{Entity: domain.EntityTask, ID: id}
		}
		return tx.DeleteTask(id)
	})
}

// CreateCalendarEvent stores a calendar entry.
func (s *Service) CreateCalendarEvent(ctx context.Context, event CalendarEvent) (CalendarEvent, Result, error) {
	var created CalendarEvent
	res, err := s.run(ctx, "create calendar event", func(tx Transaction) error {
		var err error
		created, err = tx.CreateCalendarEvent(event)
		return err
	})
	return created, res, err
}

// DeleteCalendarEvent removes a calendar entry.
func (s *Service) DeleteCalendarEvent(ctx context.Context, id string) (Result, error) {
	return s.run(ctx, "delete calendar event", func(tx Transaction) error {
		for _, ev := range tx.Snapshot().ListCalendarEvents() {
			if ev.ID == id {
				return tx.DeleteCalendarEvent(id)
			}
		}
		return ErrNotFound{Entity: domain.EntityCalendarEvent, ID: id}
	})
}

// ListCalendarEvents returns events overlapping [from, to). A zero bound is open.
func (s *Service) ListCalendarEvents(ctx context.Context, from, to time.Time) ([]CalendarEvent, error) {
	var out []CalendarEvent
	err := s.store.View(ctx, func(v TransactionView) error {
		for _, ev := range v.ListCalendarEvents() {
			if !to.IsZero() && !ev.Start.Before(to) {
				continue
			}
			if !from.IsZero() && ev.End.Before(from) {
				continue
			}
			out = append(out, ev)
		}
		return nil
	})
	return out, err
}

// RecordIncome stores a received payment.
func (s *Service) RecordIncome(ctx context.Context, entry IncomeEntry) (IncomeEntry, Result, error) {
	if entry.AmountCents <= 0 {
		return IncomeEntry{}, Result{}, domain.Invalidf("record income: amount must be positive")
	}
	var created IncomeEntry
	res, err := s.run(ctx, "record income", func(tx Transaction) error {
		var err error
		created, err = tx.CreateIncomeEntry(entry)
		return err
	})
	return created, res, err
}

// IncomeTotal aggregates income for one currency.
type IncomeTotal struct {
	Currency    string `json:"currency"`
	AmountCents int64  `json:"amountCents"`
	Count       int    `json:"count"`
}

// IncomeSummary totals income received within [from, to) per currency,
// ordered by currency code. A zero bound is open.
func (s *Service) IncomeSummary(ctx context.Context, from, to time.Time) ([]IncomeTotal, error) {
	totals := make(map[string]*IncomeTotal)
	err := s.store.View(ctx, func(v TransactionView) error {
		for _, e := range v.ListIncomeEntries() {
			if !from.IsZero() && e.ReceivedAt.Before(from) {
				continue
			}
			if !to.IsZero() && !e.ReceivedAt.Before(to) {
				continue
			}
			t, ok := totals[e.Currency]
			if !ok {
				t = &IncomeTotal{Currency: e.Currency}
				totals[e.Currency] = t
			}
			t.AmountCents += e.AmountCents
			t.Count++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]IncomeTotal, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func normalizeKeyPtr(key *string) *string {
	if key == nil {
		return nil
	}
	k := domain.NormalizeKey(*key)
	if k == "" {
		return nil
	}
	return &k
}
