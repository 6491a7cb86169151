// Package memory provides an in-memory implementation of the application
// document store. The durable backends embed it and persist each committed
// document through a Persister hook.
package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"kitstudio/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Sound aliases domain.Sound.
	Sound = domain.Sound
	// Kit aliases domain.Kit.
	Kit = domain.Kit
	// WorkItem aliases domain.WorkItem.
	WorkItem = domain.WorkItem
	// Task aliases domain.Task.
	Task = domain.Task
	// CalendarEvent aliases domain.CalendarEvent.
	CalendarEvent = domain.CalendarEvent
	// IncomeEntry aliases domain.IncomeEntry.
	IncomeEntry = domain.IncomeEntry
	// Document aliases domain.Document, the persisted unit.
	Document = domain.Document
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// Persister writes a committed document to durable storage. A non-nil error
// aborts the commit and leaves the in-memory state untouched.
type Persister func(ctx context.Context, doc Document) error

// Reloader reads the document currently held by durable storage.
type Reloader func(ctx context.Context) (Document, error)

// Option configures a Store.
type Option func(*Store)

// WithPersister installs the durable write hook.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persist = p }
}

// WithReloader installs the hook used to catch up after another writer
// committed. A commit rejected with domain.ErrRevisionConflict reloads the
// stored document, publishes it and runs the transaction once more on top.
func WithReloader(r Reloader) Option {
	return func(s *Store) { s.reload = r }
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// Store provides an in-memory transactional store for the application document.
type Store struct {
	mu        sync.RWMutex
	state     memoryState
	engine    *RulesEngine
	nowFn     func() time.Time
	revision  uint64
	updatedAt time.Time
	persist   Persister
	reload    Reloader

	subMu   sync.Mutex
	subs    map[uint64]chan Document
	nextSub uint64
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
		subs:   make(map[uint64]chan Document),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state as a document.
func (s *Store) ExportState() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return documentFromState(s.state, s.revision, s.updatedAt)
}

// ImportState replaces the store state with the provided document. Dangling
// kit references are repaired on the way in.
func (s *Store) ImportState(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateFromDocument(doc)
	s.revision = doc.Revision
	s.updatedAt = doc.UpdatedAt
}

// Revision returns the revision of the last committed document.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// Close satisfies domain.PersistentStore; the memory store holds no resources.
func (s *Store) Close() error { return nil }

// RunInTransaction applies fn to a cloned state, evaluates rules, persists the
// resulting document and only then swaps it in. Transactions that record no
// changes commit nothing. When durable storage moved ahead of this process the
// stored document replaces the local one and fn runs again against it, so the
// last writer wins.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.commit(ctx, fn)
	if err == nil || s.reload == nil || !errors.Is(err, domain.ErrRevisionConflict) {
		return result, err
	}
	stored, rerr := s.reload(ctx)
	if rerr != nil {
		return Result{}, errors.Join(err, fmt.Errorf("reload document: %w", rerr))
	}
	s.state = stateFromDocument(stored)
	s.revision = stored.Revision
	s.updatedAt = stored.UpdatedAt
	s.publish(documentFromState(s.state, s.revision, s.updatedAt))
	return s.commit(ctx, fn)
}

// commit runs one attempt of a transaction. The caller holds s.mu.
func (s *Store) commit(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}
	if len(tx.changes) == 0 {
		return Result{}, nil
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	doc := documentFromState(tx.state, s.revision+1, tx.now)
	if s.persist != nil {
		if err := s.persist(ctx, doc); err != nil {
			return Result{}, fmt.Errorf("persist document: %w", err)
		}
	}

	s.state = tx.state
	s.revision = doc.Revision
	s.updatedAt = doc.UpdatedAt
	s.publish(doc)
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

// Subscribe returns a channel that receives the current document immediately
// and every committed document afterwards. Slow readers only see the latest
// document. The channel closes when ctx is done. Received documents are
// shared between subscribers and must not be mutated.
func (s *Store) Subscribe(ctx context.Context) <-chan Document {
	ch := make(chan Document, 1)

	// lock order matches RunInTransaction: state first, then subscribers
	s.mu.RLock()
	ch <- documentFromState(s.state, s.revision, s.updatedAt)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()
	s.mu.RUnlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(s.subs, id)
		close(ch)
		s.subMu.Unlock()
	}()
	return ch
}

func (s *Store) publish(doc Document) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- doc:
			continue
		default:
		}
		// drop the stale document so the newest one fits
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- doc:
		default:
		}
	}
}

// ListSounds returns the sound library ordered by creation time.
func (s *Store) ListSounds() []Sound {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.sounds, cloneSound, func(v Sound) domain.Base { return v.Base })
}

// ListKits returns kits ordered by creation time.
func (s *Store) ListKits() []Kit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.kits, cloneKit, func(v Kit) domain.Base { return v.Base })
}

// GetKit returns a kit by id.
func (s *Store) GetKit(id string) (Kit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.state.kits[id]
	if !ok {
		return Kit{}, false
	}
	return cloneKit(k), true
}

// GetSound returns a library sound by id.
func (s *Store) GetSound(id string) (Sound, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state.sounds[id]
	if !ok {
		return Sound{}, false
	}
	return cloneSound(v), true
}

type memoryState struct {
	sounds    map[string]Sound
	kits      map[string]Kit
	workItems map[string]WorkItem
	tasks     map[string]Task
	events    map[string]CalendarEvent
	income    map[string]IncomeEntry
}

func newMemoryState() memoryState {
	return memoryState{
		sounds:    make(map[string]Sound),
		kits:      make(map[string]Kit),
		workItems: make(map[string]WorkItem),
		tasks:     make(map[string]Task),
		events:    make(map[string]CalendarEvent),
		income:    make(map[string]IncomeEntry),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.sounds {
		cloned.sounds[k] = cloneSound(v)
	}
	for k, v := range s.kits {
		cloned.kits[k] = cloneKit(v)
	}
	for k, v := range s.workItems {
		cloned.workItems[k] = cloneWorkItem(v)
	}
	for k, v := range s.tasks {
		cloned.tasks[k] = cloneTask(v)
	}
	for k, v := range s.events {
		cloned.events[k] = v
	}
	for k, v := range s.income {
		cloned.income[k] = cloneIncome(v)
	}
	return cloned
}

func documentFromState(state memoryState, revision uint64, updatedAt time.Time) Document {
	return Document{
		Revision:       revision,
		UpdatedAt:      updatedAt,
		SoundLibrary:   sortedValues(state.sounds, cloneSound, func(v Sound) domain.Base { return v.Base }),
		DrumKits:       sortedValues(state.kits, cloneKit, func(v Kit) domain.Base { return v.Base }),
		WorkItems:      sortedValues(state.workItems, cloneWorkItem, func(v WorkItem) domain.Base { return v.Base }),
		Tasks:          sortedValues(state.tasks, cloneTask, func(v Task) domain.Base { return v.Base }),
		CalendarEvents: sortedValues(state.events, identity[CalendarEvent], func(v CalendarEvent) domain.Base { return v.Base }),
		Income:         sortedValues(state.income, cloneIncome, func(v IncomeEntry) domain.Base { return v.Base }),
	}
}

func stateFromDocument(doc Document) memoryState {
	state := newMemoryState()
	for _, v := range doc.SoundLibrary {
		if v.ID == "" {
			continue
		}
		state.sounds[v.ID] = cloneSound(v)
	}
	for _, v := range doc.DrumKits {
		if v.ID == "" {
			continue
		}
		state.kits[v.ID] = repairKit(cloneKit(v), state.sounds)
	}
	for _, v := range doc.WorkItems {
		if v.ID != "" {
			state.workItems[v.ID] = cloneWorkItem(v)
		}
	}
	for _, v := range doc.Tasks {
		if v.ID != "" {
			state.tasks[v.ID] = cloneTask(v)
		}
	}
	for _, v := range doc.CalendarEvents {
		if v.ID != "" {
			state.events[v.ID] = v
		}
	}
	for _, v := range doc.Income {
		if v.ID != "" {
			state.income[v.ID] = cloneIncome(v)
		}
	}
	return state
}

// repairKit drops duplicate and dangling sound references from a loaded kit.
func repairKit(k Kit, sounds map[string]Sound) Kit {
	seen := make(map[string]struct{}, len(k.SoundIDs))
	ids := k.SoundIDs[:0]
	for _, id := range k.SoundIDs {
		if _, ok := sounds[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	k.SoundIDs = ids
	for id := range k.SoundNamesInKit {
		if _, ok := seen[id]; !ok {
			delete(k.SoundNamesInKit, id)
		}
	}
	return k
}

func sortedValues[T any](m map[string]T, clone func(T) T, base func(T) domain.Base) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, clone(v))
	}
	slices.SortFunc(out, func(a, b T) int {
		ba, bb := base(a), base(b)
		if c := ba.CreatedAt.Compare(bb.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(ba.ID, bb.ID)
	})
	return out
}

func identity[T any](v T) T { return v }

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneSound(s Sound) Sound {
	s.Key = cloneStringPtr(s.Key)
	return s
}

func cloneKit(k Kit) Kit {
	k.SEONames = append([]string(nil), k.SEONames...)
	k.SoundIDs = append([]string(nil), k.SoundIDs...)
	names := make(map[string]string, len(k.SoundNamesInKit))
	for id, name := range k.SoundNamesInKit {
		names[id] = name
	}
	k.SoundNamesInKit = names
	if k.SEONames == nil {
		k.SEONames = []string{}
	}
	if k.SoundIDs == nil {
		k.SoundIDs = []string{}
	}
	return k
}

func cloneWorkItem(w WorkItem) WorkItem {
	w.TaskID = cloneStringPtr(w.TaskID)
	return w
}

func cloneTask(t Task) Task {
	t.WorkItemID = cloneStringPtr(t.WorkItemID)
	if t.Due != nil {
		due := *t.Due
		t.Due = &due
	}
	return t
}

func cloneIncome(e IncomeEntry) IncomeEntry {
	e.WorkItemID = cloneStringPtr(e.WorkItemID)
	return e
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
