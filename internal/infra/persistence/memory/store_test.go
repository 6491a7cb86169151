package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"kitstudio/pkg/domain"
)

func strPtr(s string) *string { return &s }

func seedSound(t *testing.T, store *Store, name string, st domain.SoundType) Sound {
	t.Helper()
	var created Sound
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateSound(Sound{OriginalName: name, SoundType: st, StorageURL: "https://cdn.example/" + name})
		return err
	})
	if err != nil {
		t.Fatalf("seed sound: %v", err)
	}
	return created
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindSound("missing"); ok {
			t.Fatalf("expected missing sound lookup")
		}
		created, err := tx.CreateSound(Sound{OriginalName: "kick_01.wav", SoundType: domain.SoundKick})
		if err != nil {
			return err
		}
		if created.ID == "" {
			t.Fatalf("expected generated ID")
		}
		if len(tx.Snapshot().ListSounds()) != 1 {
			t.Fatalf("snapshot mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	if len(store.ListSounds()) != 1 {
		t.Fatalf("expected persisted sound")
	}
	if store.Revision() != 1 {
		t.Fatalf("expected revision 1, got %d", store.Revision())
	}
	doc := store.ExportState()
	store.ImportState(domain.Document{})
	if len(store.ListSounds()) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(doc)
	if len(store.ListSounds()) != 1 || store.Revision() != 1 {
		t.Fatalf("expected restored state")
	}
	if store.RulesEngine() == nil || store.NowFunc() == nil {
		t.Fatalf("expected engine and clock")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestStoreEmptyTransactionDoesNotCommit(t *testing.T) {
	persisted := 0
	store := NewStore(nil, WithPersister(func(context.Context, Document) error {
		persisted++
		return nil
	}))
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil }); err != nil {
		t.Fatalf("run: %v", err)
	}
	if persisted != 0 || store.Revision() != 0 {
		t.Fatalf("expected no commit, persisted=%d revision=%d", persisted, store.Revision())
	}
}

func TestStorePersisterFailureKeepsState(t *testing.T) {
	fail := true
	store := NewStore(nil, WithPersister(func(context.Context, Document) error {
		if fail {
			return errors.New("disk full")
		}
		return nil
	}))
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateKit(Kit{Name: "Night Drive"})
		return err
	})
	if err == nil {
		t.Fatalf("expected persist error")
	}
	if len(store.ListKits()) != 0 || store.Revision() != 0 {
		t.Fatalf("state must not change when persistence fails")
	}
	fail = false
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateKit(Kit{Name: "Night Drive"})
		return err
	}); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if len(store.ListKits()) != 1 {
		t.Fatalf("expected kit after successful persist")
	}
}

func TestStoreRuleViolation(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateKit(Kit{Name: "Fail"})
		return e
	})
	var rv domain.RuleViolationError
	if !errors.As(err, &rv) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
	if len(store.ListKits()) != 0 {
		t.Fatalf("blocked transaction must not commit")
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock}}}, nil
}

func TestDeleteSoundCascadesToKits(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	kick := seedSound(t, store, "kick.wav", domain.SoundKick)
	snare := seedSound(t, store, "snare.wav", domain.SoundSnare)
	var kitA, kitB Kit
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		kitA, err = tx.CreateKit(Kit{Name: "A", SoundIDs: []string{kick.ID, snare.ID}, SoundNamesInKit: map[string]string{kick.ID: "Boom", snare.ID: "Crack"}})
		if err != nil {
			return err
		}
		kitB, err = tx.CreateKit(Kit{Name: "B", SoundIDs: []string{kick.ID}, SoundNamesInKit: map[string]string{kick.ID: domain.NamePending}})
		return err
	})
	if err != nil {
		t.Fatalf("create kits: %v", err)
	}
	var changes int
	store.RulesEngine().Register(changeCounter{count: &changes})
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteSound(kick.ID)
	}); err != nil {
		t.Fatalf("delete sound: %v", err)
	}
	if changes != 3 {
		t.Fatalf("expected sound delete plus two kit updates, got %d changes", changes)
	}
	for _, id := range []string{kitA.ID, kitB.ID} {
		kit, ok := store.GetKit(id)
		if !ok {
			t.Fatalf("kit %s missing", id)
		}
		if kit.HasSound(kick.ID) {
			t.Fatalf("kit %s still lists deleted sound", kit.Name)
		}
		if _, ok := kit.SoundNamesInKit[kick.ID]; ok {
			t.Fatalf("kit %s still names deleted sound", kit.Name)
		}
	}
	a, _ := store.GetKit(kitA.ID)
	if len(a.SoundIDs) != 1 || a.SoundNamesInKit[snare.ID] != "Crack" {
		t.Fatalf("unrelated sound must survive: %+v", a)
	}
	if _, ok := store.GetSound(kick.ID); ok {
		t.Fatalf("sound should be gone")
	}
}

type changeCounter struct{ count *int }

func (changeCounter) Name() string { return "count" }

func (c changeCounter) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	*c.count = len(changes)
	return domain.Result{}, nil
}

func TestSoundValidationAndUpdate(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateSound(Sound{OriginalName: "x.wav", SoundType: "Tuba"})
		return err
	})
	if err == nil {
		t.Fatalf("expected invalid type error")
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateSound(Sound{SoundType: domain.SoundKick})
		return err
	})
	if err == nil {
		t.Fatalf("expected missing name error")
	}
	s := seedSound(t, store, "pluck.wav", domain.SoundOneshotMelodic)
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		updated, err := tx.UpdateSound(s.ID, func(v *Sound) error {
			v.Key = strPtr("F#m")
			v.ID = "hijack"
			return nil
		})
		if err != nil {
			return err
		}
		if updated.ID != s.ID || updated.KeyOrEmpty() != "F#m" {
			t.Fatalf("unexpected update result %+v", updated)
		}
		if _, err := tx.UpdateSound("missing", func(*Sound) error { return nil }); err == nil {
			t.Fatalf("expected missing sound error")
		}
		if _, err := tx.UpdateSound(s.ID, func(v *Sound) error { v.SoundType = "bad"; return nil }); err == nil {
			t.Fatalf("expected invalid type on update")
		}
		if err := tx.DeleteSound("missing"); err == nil {
			t.Fatalf("expected missing delete error")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestWorkItemTaskLinks(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	var item WorkItem
	var task Task
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		item, err = tx.CreateWorkItem(WorkItem{Client: "beatbuyer", OrderNumber: "FO123"})
		if err != nil {
			return err
		}
		if item.Status != domain.StatusNotStarted {
			t.Fatalf("expected default status")
		}
		task, err = tx.CreateTask(Task{Title: "Deliver FO123", WorkItemID: &item.ID})
		if err != nil {
			return err
		}
		if task.Column != domain.ColumnTodo {
			t.Fatalf("expected default column")
		}
		_, err = tx.UpdateWorkItem(item.ID, func(w *WorkItem) error {
			w.TaskID = &task.ID
			return nil
		})
		if err != nil {
			return err
		}
		if _, err := tx.CreateIncomeEntry(IncomeEntry{Source: "Fiverr", AmountCents: 4500, WorkItemID: &item.ID}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteWorkItem(item.ID)
	})
	if err != nil {
		t.Fatalf("delete work item: %v", err)
	}
	doc := store.ExportState()
	if len(doc.Tasks) != 1 || doc.Tasks[0].WorkItemID != nil {
		t.Fatalf("expected task unlinked: %+v", doc.Tasks)
	}
	if len(doc.Income) != 1 || doc.Income[0].WorkItemID != nil || doc.Income[0].Currency != "USD" {
		t.Fatalf("expected income unlinked with default currency: %+v", doc.Income)
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateTask(Task{Title: "x", WorkItemID: strPtr("missing")})
		return err
	})
	if err == nil {
		t.Fatalf("expected missing work item error")
	}
}

func TestDeleteTaskClearsWorkItemLink(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	var item WorkItem
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		task, err := tx.CreateTask(Task{Title: "Mix"})
		if err != nil {
			return err
		}
		item, err = tx.CreateWorkItem(WorkItem{Client: "c", TaskID: &task.ID})
		if err != nil {
			return err
		}
		return tx.DeleteTask(task.ID)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	doc := store.ExportState()
	if len(doc.WorkItems) != 1 || doc.WorkItems[0].ID != item.ID || doc.WorkItems[0].TaskID != nil {
		t.Fatalf("expected work item unlinked: %+v", doc.WorkItems)
	}
}

func TestCalendarEventValidation(t *testing.T) {
	store := NewStore(nil)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateCalendarEvent(CalendarEvent{Title: "Lecture", Start: start, End: start.Add(-time.Hour)}); err == nil {
			t.Fatalf("expected end-before-start error")
		}
		if _, err := tx.CreateCalendarEvent(CalendarEvent{Title: "Lecture"}); err == nil {
			t.Fatalf("expected missing start error")
		}
		ev, err := tx.CreateCalendarEvent(CalendarEvent{Title: "Lecture", Start: start})
		if err != nil {
			return err
		}
		if !ev.End.Equal(start) {
			t.Fatalf("expected end defaulted to start")
		}
		if len(tx.Snapshot().ListCalendarEvents()) != 1 {
			t.Fatalf("expected event in snapshot")
		}
		return tx.DeleteCalendarEvent(ev.ID)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestImportStateRepairsDanglingKitReferences(t *testing.T) {
	store := NewStore(nil)
	store.ImportState(domain.Document{
		Revision:     7,
		SoundLibrary: []Sound{{Base: domain.Base{ID: "s1"}, OriginalName: "a.wav", SoundType: domain.SoundKick}},
		DrumKits: []Kit{{
			Base:            domain.Base{ID: "k1"},
			Name:            "Kit",
			SoundIDs:        []string{"s1", "gone", "s1"},
			SoundNamesInKit: map[string]string{"s1": "Boom", "gone": "Ghost"},
		}},
	})
	kit, ok := store.GetKit("k1")
	if !ok {
		t.Fatalf("expected kit")
	}
	if len(kit.SoundIDs) != 1 || kit.SoundIDs[0] != "s1" {
		t.Fatalf("expected repaired ids, got %v", kit.SoundIDs)
	}
	if _, ok := kit.SoundNamesInKit["gone"]; ok {
		t.Fatalf("expected dangling name dropped")
	}
	if store.Revision() != 7 {
		t.Fatalf("expected imported revision")
	}
}

func TestSubscribeReceivesCommittedDocuments(t *testing.T) {
	store := NewStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch := store.Subscribe(ctx)
	first := <-ch
	if first.Revision != 0 {
		t.Fatalf("expected initial document, got revision %d", first.Revision)
	}
	seedSound(t, store, "clap.wav", domain.SoundClap)
	select {
	case doc := <-ch:
		if doc.Revision != 1 || len(doc.SoundLibrary) != 1 {
			t.Fatalf("unexpected pushed document %+v", doc)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for document")
	}
	seedSound(t, store, "a.wav", domain.SoundClap)
	seedSound(t, store, "b.wav", domain.SoundClap)
	doc := <-ch
	if doc.Revision != 3 {
		t.Fatalf("slow reader should see latest document, got revision %d", doc.Revision)
	}
	cancel()
	for range ch {
	}
}

func TestWithClockStampsRecords(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := NewStore(nil, WithClock(func() time.Time { return fixed }))
	s := seedSound(t, store, "rim.wav", domain.SoundRim)
	if !s.CreatedAt.Equal(fixed) || !store.ExportState().UpdatedAt.Equal(fixed) {
		t.Fatalf("expected fixed timestamps")
	}
}

func TestRevisionConflictReloadsAndRetriesOnce(t *testing.T) {
	stored := Document{Revision: 7, DrumKits: []domain.Kit{{Base: domain.Base{ID: "remote"}, Name: "Remote"}}}
	var writes []uint64
	persist := func(_ context.Context, doc Document) error {
		writes = append(writes, doc.Revision)
		if len(writes) == 1 {
			return domain.ErrRevisionConflict
		}
		return nil
	}
	reloads := 0
	reload := func(context.Context) (Document, error) {
		reloads++
		return stored, nil
	}
	store := NewStore(domain.NewRulesEngine(), WithPersister(persist), WithReloader(reload))

	runs := 0
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		runs++
		_, e := tx.CreateKit(Kit{Name: "Local"})
		return e
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if runs != 2 || reloads != 1 {
		t.Fatalf("expected 2 runs and 1 reload, got %d and %d", runs, reloads)
	}
	if len(writes) != 2 || writes[1] != 8 {
		t.Fatalf("retry should build on the stored revision, writes = %v", writes)
	}
	if store.Revision() != 8 || len(store.ListKits()) != 2 {
		t.Fatalf("expected both kits at revision 8, got %d %+v", store.Revision(), store.ListKits())
	}
}

func TestRevisionConflictReloadFailure(t *testing.T) {
	store := NewStore(domain.NewRulesEngine(),
		WithPersister(func(context.Context, Document) error { return domain.ErrRevisionConflict }),
		WithReloader(func(context.Context) (Document, error) { return Document{}, errors.New("db gone") }),
	)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateKit(Kit{Name: "Local"})
		return e
	})
	if !errors.Is(err, domain.ErrRevisionConflict) {
		t.Fatalf("expected revision conflict, got %v", err)
	}
	if len(store.ListKits()) != 0 || store.Revision() != 0 {
		t.Fatal("failed commit must leave the store untouched")
	}
}

func TestRevisionConflictWithoutReloaderIsReturned(t *testing.T) {
	store := NewStore(domain.NewRulesEngine(),
		WithPersister(func(context.Context, Document) error { return domain.ErrRevisionConflict }))
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateKit(Kit{Name: "Local"})
		return e
	})
	if !errors.Is(err, domain.ErrRevisionConflict) {
		t.Fatalf("expected revision conflict, got %v", err)
	}
}
