package core_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"kitstudio/internal/core"
	"kitstudio/internal/infra/persistence/memory"
	"kitstudio/pkg/domain"
)

func newService(t *testing.T) *core.Service {
	t.Helper()
	return core.NewService(memory.NewStore(core.NewDefaultRulesEngine()))
}

func strPtr(v string) *string { return &v }

func mustSound(t *testing.T, svc *core.Service, name string, st domain.SoundType) domain.Sound {
	t.Helper()
	snd, _, err := svc.AddSound(context.Background(), domain.Sound{OriginalName: name, StorageURL: "https://cdn/" + name, SoundType: st})
	if err != nil {
		t.Fatalf("add sound %s: %v", name, err)
	}
	return snd
}

func TestDeleteSoundCascadesIntoKits(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	kick := mustSound(t, svc, "kick.wav", domain.SoundKick)
	snare := mustSound(t, svc, "snare.wav", domain.SoundSnare)

	kitA, _, err := svc.CreateKit(ctx, domain.Kit{Name: "Night Drive", Description: "synthwave"})
	if err != nil {
		t.Fatalf("create kit: %v", err)
	}
	kitB, _, err := svc.CreateKit(ctx, domain.Kit{Name: "Dust"})
	if err != nil {
		t.Fatalf("create kit: %v", err)
	}
	for _, kitID := range []string{kitA.ID, kitB.ID} {
		if _, _, err := svc.AddSoundToKit(ctx, kitID, kick.ID, "Neon Thump"); err != nil {
			t.Fatalf("add kick: %v", err)
		}
	}
	if _, _, err := svc.AddSoundToKit(ctx, kitA.ID, snare.ID, "Chrome Crack"); err != nil {
		t.Fatalf("add snare: %v", err)
	}

	if _, _, err := svc.DeleteSound(ctx, kick.ID); err != nil {
		t.Fatalf("delete sound: %v", err)
	}
	for _, kit := range svc.Snapshot().DrumKits {
		if kit.HasSound(kick.ID) {
			t.Fatalf("kit %s still lists deleted sound", kit.Name)
		}
		if _, ok := kit.SoundNamesInKit[kick.ID]; ok {
			t.Fatalf("kit %s still names deleted sound", kit.Name)
		}
	}
	kit, sounds, err := svc.GetKit(ctx, kitA.ID)
	if err != nil {
		t.Fatalf("get kit: %v", err)
	}
	if len(sounds) != 1 || sounds[0].ID != snare.ID || kit.SoundNamesInKit[snare.ID] != "Chrome Crack" {
		t.Fatalf("unexpected kit contents %+v %+v", kit, sounds)
	}
	if _, _, err := svc.DeleteSound(ctx, kick.ID); !errors.As(err, new(core.ErrNotFound)) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestKitSoundIntegrityBlocksDanglingReference(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	kit, _, err := svc.CreateKit(ctx, domain.Kit{Name: "Broken"})
	if err != nil {
		t.Fatalf("create kit: %v", err)
	}
	_, res, err := svc.UpdateKit(ctx, kit.ID, func(k *domain.Kit) error {
		k.SoundIDs = append(k.SoundIDs, "ghost")
		return nil
	})
	var rv domain.RuleViolationError
	if !errors.As(err, &rv) || !res.HasBlocking() {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if !strings.Contains(err.Error(), "missing sound ghost") {
		t.Fatalf("unexpected message %v", err)
	}
	got, _, _ := svc.GetKit(ctx, kit.ID)
	if len(got.SoundIDs) != 0 {
		t.Fatalf("blocked change must not commit")
	}
}

func TestAddSoundToKitValidatesReferences(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	snd := mustSound(t, svc, "clap.wav", domain.SoundClap)
	kit, _, _ := svc.CreateKit(ctx, domain.Kit{Name: "K"})

	var nf core.ErrNotFound
	if _, _, err := svc.AddSoundToKit(ctx, "nope", snd.ID, ""); !errors.As(err, &nf) || nf.Entity != domain.EntityKit {
		t.Fatalf("expected kit not found, got %v", err)
	}
	if _, _, err := svc.AddSoundToKit(ctx, kit.ID, "nope", ""); !errors.As(err, &nf) || nf.Entity != domain.EntitySound {
		t.Fatalf("expected sound not found, got %v", err)
	}
	if _, _, err := svc.AddSoundToKit(ctx, kit.ID, snd.ID, domain.NamePending); err != nil {
		t.Fatalf("add: %v", err)
	}
	updated, _, err := svc.AddSoundToKit(ctx, kit.ID, snd.ID, "Palm Slap")
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if len(updated.SoundIDs) != 1 || updated.SoundNamesInKit[snd.ID] != "Palm Slap" {
		t.Fatalf("re-adding must not duplicate: %+v", updated)
	}
	if _, _, err := svc.SetKitSoundName(ctx, kit.ID, "other", "x"); !errors.As(err, &nf) {
		t.Fatalf("expected not found for sound outside kit")
	}
	removed, _, err := svc.RemoveSoundFromKit(ctx, kit.ID, snd.ID)
	if err != nil || len(removed.SoundIDs) != 0 || len(removed.SoundNamesInKit) != 0 {
		t.Fatalf("remove: %v %+v", err, removed)
	}
}

func TestUpdateSoundNormalizesKey(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	snd := mustSound(t, svc, "pluck.wav", domain.SoundOneshotMelodic)
	updated, _, err := svc.UpdateSound(ctx, snd.ID, func(s *domain.Sound) error {
		s.SoundType = domain.SoundLoop
		s.Key = strPtr("c#min")
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.SoundType != domain.SoundLoop || updated.KeyOrEmpty() != "C#m" {
		t.Fatalf("unexpected sound %+v", updated)
	}
	cleared, _, err := svc.UpdateSound(ctx, snd.ID, func(s *domain.Sound) error {
		s.Key = strPtr("  ")
		return nil
	})
	if err != nil || cleared.Key != nil {
		t.Fatalf("expected key cleared: %v %+v", err, cleared)
	}
	if _, _, err := svc.UpdateSound(ctx, "missing", func(*domain.Sound) error { return nil }); !errors.As(err, new(core.ErrNotFound)) {
		t.Fatalf("expected not found")
	}
}

func TestWorkItemStatusCascadesToTask(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	item, _, err := svc.CreateWorkItem(ctx, domain.WorkItem{Client: "lilbeat", OrderNumber: "FO123", DeliveryDate: due, RevisionsRemaining: 1})
	if err != nil {
		t.Fatalf("create work item: %v", err)
	}
	if item.TaskID == nil || item.Status != domain.StatusNotStarted {
		t.Fatalf("expected linked task and default status: %+v", item)
	}
	taskOf := func() domain.Task {
		for _, task := range svc.Snapshot().Tasks {
			if task.ID == *item.TaskID {
				return task
			}
		}
		t.Fatalf("linked task missing")
		return domain.Task{}
	}
	task := taskOf()
	if task.Column != domain.ColumnTodo || task.WorkItemID == nil || *task.WorkItemID != item.ID || task.Due == nil || !task.Due.Equal(due) {
		t.Fatalf("unexpected linked task %+v", task)
	}
	if !strings.Contains(task.Title, "FO123") {
		t.Fatalf("unexpected title %q", task.Title)
	}

	steps := []struct {
		status domain.DeliveryStatus
		column domain.TaskColumn
	}{
		{domain.StatusInProgress, domain.ColumnInProgress},
		{domain.StatusDelivered, domain.ColumnReview},
		{domain.StatusRevision, domain.ColumnInProgress},
		{domain.StatusCompleted, domain.ColumnDone},
	}
	for _, step := range steps {
		if _, _, err := svc.UpdateWorkItemStatus(ctx, item.ID, step.status); err != nil {
			t.Fatalf("status %s: %v", step.status, err)
		}
		if got := taskOf().Column; got != step.column {
			t.Fatalf("status %s: expected column %s, got %s", step.status, step.column, got)
		}
	}
	if _, _, err := svc.UpdateWorkItemStatus(ctx, item.ID, "Shipped"); err == nil {
		t.Fatalf("expected invalid status error")
	}
}

func TestRevisionConsumptionIsBounded(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	item, _, err := svc.CreateWorkItem(ctx, domain.WorkItem{Client: "c", OrderNumber: "1", Status: domain.StatusDelivered})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, res, err := svc.UpdateWorkItemStatus(ctx, item.ID, domain.StatusRevision)
	var rv domain.RuleViolationError
	if !errors.As(err, &rv) || !res.HasBlocking() {
		t.Fatalf("expected revisions rule to block, got %v", err)
	}
	items, _ := svc.ListWorkItems(ctx)
	if items[0].Status != domain.StatusDelivered || items[0].RevisionsRemaining != 0 {
		t.Fatalf("blocked status change committed: %+v", items[0])
	}
}

func TestDeleteWorkItemUnlinksTask(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	item, _, _ := svc.CreateWorkItem(ctx, domain.WorkItem{Client: "c"})
	if _, err := svc.DeleteWorkItem(ctx, item.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	doc := svc.Snapshot()
	if len(doc.WorkItems) != 0 || len(doc.Tasks) != 1 || doc.Tasks[0].WorkItemID != nil {
		t.Fatalf("unexpected document %+v", doc)
	}
	moved, _, err := svc.MoveTask(ctx, doc.Tasks[0].ID, "DONE")
	if err != nil || moved.Column != domain.ColumnDone {
		t.Fatalf("move: %v %+v", err, moved)
	}
	if _, _, err := svc.MoveTask(ctx, doc.Tasks[0].ID, "archive"); err == nil {
		t.Fatalf("expected invalid column")
	}
}

func TestCreateWorkItemWithExistingTask(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	task, _, err := svc.CreateTask(ctx, domain.Task{Title: "mix"})
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	item, _, err := svc.CreateWorkItem(ctx, domain.WorkItem{Client: "c", TaskID: &task.ID})
	if err != nil {
		t.Fatalf("work item: %v", err)
	}
	doc := svc.Snapshot()
	if len(doc.Tasks) != 1 || *doc.Tasks[0].WorkItemID != item.ID {
		t.Fatalf("expected existing task linked: %+v", doc.Tasks)
	}
}

func TestIncomeSummary(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	jan := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	for _, e := range []domain.IncomeEntry{
		{Source: "Fiverr", AmountCents: 5000, Currency: "usd", ReceivedAt: jan},
		{Source: "Fiverr", AmountCents: 2500, Currency: "USD", ReceivedAt: feb},
		{Source: "BeatStars", AmountCents: 1999, Currency: "EUR", ReceivedAt: feb},
	} {
		if _, _, err := svc.RecordIncome(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if _, _, err := svc.RecordIncome(ctx, domain.IncomeEntry{Source: "x", AmountCents: 0}); err == nil {
		t.Fatalf("expected non-positive amount error")
	}
	all, err := svc.IncomeSummary(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(all) != 2 || all[0].Currency != "EUR" || all[1].AmountCents != 7500 || all[1].Count != 2 {
		t.Fatalf("unexpected totals %+v", all)
	}
	febOnly, _ := svc.IncomeSummary(ctx, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if len(febOnly) != 2 || febOnly[1].AmountCents != 2500 {
		t.Fatalf("unexpected february totals %+v", febOnly)
	}
}

func TestCalendarEventsWindow(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	day := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	if _, _, err := svc.CreateCalendarEvent(ctx, domain.CalendarEvent{Title: "Lecture", Start: day, End: day.Add(time.Hour)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.CreateCalendarEvent(ctx, domain.CalendarEvent{Title: "Session", Start: day.AddDate(0, 0, 7)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	events, err := svc.ListCalendarEvents(ctx, day.Add(-time.Hour), day.AddDate(0, 0, 1))
	if err != nil || len(events) != 1 || events[0].Title != "Lecture" {
		t.Fatalf("unexpected window %v %+v", err, events)
	}
}

func TestSubscribeReceivesCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newService(t)
	ch := svc.Subscribe(ctx)
	<-ch
	mustSound(t, svc, "hat.wav", domain.SoundHiHatClosed)
	select {
	case doc := <-ch:
		if len(doc.SoundLibrary) != 1 {
			t.Fatalf("unexpected document %+v", doc)
		}
	case <-time.After(time.Second):
		t.Fatalf("no document published")
	}
}
