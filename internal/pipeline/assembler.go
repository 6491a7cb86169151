package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"kitstudio/internal/ai"
	"kitstudio/internal/metrics"
	"kitstudio/internal/naming"
	"kitstudio/pkg/domain"
)

// Kits is the kit surface the assembler mutates.
type Kits interface {
	GetKit(ctx context.Context, id string) (domain.Kit, []domain.Sound, error)
	AddSoundToKit(ctx context.Context, kitID, soundID, name string) (domain.Kit, domain.Result, error)
	SetKitSoundName(ctx context.Context, kitID, soundID, name string) (domain.Kit, domain.Result, error)
}

// Rename is the outcome for one sound.
type Rename struct {
	SoundID  string `json:"soundId"`
	Name     string `json:"name"`
	Fallback bool   `json:"fallback"`
	Error    string `json:"error,omitempty"`
}

// RenameReport summarizes RenameAll.
type RenameReport struct {
	Renamed []Rename `json:"renamed"`
	Aborted bool     `json:"aborted"`
}

// Assembler adds sounds to kits and gives them creative names.
type Assembler struct {
	kits    Kits
	namer   naming.Namer
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewAssembler wires the assembly stage. The limiter should be the one the
// uploader uses so both stages share the model quota.
func NewAssembler(kits Kits, namer naming.Namer, limiter *rate.Limiter, logger *zap.Logger, m *metrics.Metrics) *Assembler {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{kits: kits, namer: namer, limiter: limiter, logger: logger, metrics: m}
}

// AddToKit adds the sound under the pending placeholder, asks the namer for a
// name given the kit theme and the names already used, and stores it. When
// naming fails the cleaned original filename is stored instead.
func (a *Assembler) AddToKit(ctx context.Context, kitID, soundID string) (Rename, error) {
	if _, _, err := a.kits.AddSoundToKit(ctx, kitID, soundID, domain.NamePending); err != nil {
		return Rename{}, err
	}
	r, err := a.rename(ctx, kitID, soundID, "")
	if errors.Is(err, ErrRateLimited) {
		return r, nil
	}
	return r, err
}

// RenameAll renames every sound in the kit in kit order. A rate-limit
// response stops the run; the current sound keeps its previous name.
func (a *Assembler) RenameAll(ctx context.Context, kitID string) (RenameReport, error) {
	kit, _, err := a.kits.GetKit(ctx, kitID)
	if err != nil {
		return RenameReport{}, err
	}
	report := RenameReport{Renamed: []Rename{}}
	for _, soundID := range kit.SoundIDs {
		previous := kit.SoundNamesInKit[soundID]
		if _, _, err := a.kits.SetKitSoundName(ctx, kitID, soundID, domain.NamePending); err != nil {
			return report, err
		}
		r, err := a.rename(ctx, kitID, soundID, previous)
		report.Renamed = append(report.Renamed, r)
		if errors.Is(err, ErrRateLimited) {
			report.Aborted = true
			return report, fmt.Errorf("rename kit %s: %w", kitID, ErrRateLimited)
		}
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

// rename resolves a final name for a sound currently marked pending. It
// returns ErrRateLimited after storing the fallback so callers may stop.
func (a *Assembler) rename(ctx context.Context, kitID, soundID, previous string) (Rename, error) {
	kit, sounds, err := a.kits.GetKit(ctx, kitID)
	if err != nil {
		return Rename{}, err
	}
	var original string
	for _, s := range sounds {
		if s.ID == soundID {
			original = s.OriginalName
		}
	}
	used := kit.UsedNames(soundID)
	out := Rename{SoundID: soundID}

	var nameErr error
	if err := a.limiter.Wait(ctx); err != nil {
		nameErr = err
	} else {
		out.Name, nameErr = a.namer.Rename(ctx, naming.Request{OriginalName: original, KitDescription: kit.Description, UsedNames: used})
	}
	if nameErr != nil {
		out.Fallback = true
		out.Error = nameErr.Error()
		if previous != "" && previous != domain.NamePending {
			out.Name = previous
		} else {
			out.Name = naming.Unique(naming.FallbackName(original), used)
		}
		a.metrics.Rename("fallback")
		a.logger.Warn("rename failed, using fallback", zap.String("kit_id", kitID), zap.String("sound_id", soundID), zap.Error(nameErr))
	} else {
		a.metrics.Rename("named")
	}

	// The pending marker must never outlive the request, so the final write
	// does not inherit a cancelled context.
	writeCtx := context.WithoutCancel(ctx)
	if _, _, err := a.kits.SetKitSoundName(writeCtx, kitID, soundID, out.Name); err != nil {
		return out, err
	}
	if ai.IsRateLimited(nameErr) {
		return out, ErrRateLimited
	}
	return out, nil
}
