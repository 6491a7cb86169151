package core

import (
	"context"
	"fmt"

	"kitstudio/pkg/domain"
)

// NewKitSoundIntegrityRule blocks commits that leave a kit referencing a sound
// missing from the library, or naming a sound the kit does not list.
func NewKitSoundIntegrityRule() domain.Rule {
	return kitSoundIntegrityRule{}
}

type kitSoundIntegrityRule struct{}

func (kitSoundIntegrityRule) Name() string { return "kit_sound_integrity" }

func (kitSoundIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	checked := make(map[string]struct{})
	for _, change := range changes {
		if change.Entity != domain.EntityKit || change.After == nil {
			continue
		}
		kit, ok := change.After.(domain.Kit)
		if !ok {
			continue
		}
		if _, done := checked[kit.ID]; done {
			continue
		}
		checked[kit.ID] = struct{}{}
		// Re-read so the last write in the transaction wins.
		if current, ok := view.FindKit(kit.ID); ok {
			kit = current
		} else {
			continue
		}
		seen := make(map[string]struct{}, len(kit.SoundIDs))
		for _, soundID := range kit.SoundIDs {
			if _, dup := seen[soundID]; dup {
				res.Violations = append(res.Violations, kitViolation(kit.ID, fmt.Sprintf("kit %s lists sound %s more than once", kit.ID, soundID)))
				continue
			}
			seen[soundID] = struct{}{}
			if _, ok := view.FindSound(soundID); !ok {
				res.Violations = append(res.Violations, kitViolation(kit.ID, fmt.Sprintf("kit %s references missing sound %s", kit.ID, soundID)))
			}
		}
		for soundID := range kit.SoundNamesInKit {
			if _, ok := seen[soundID]; !ok {
				res.Violations = append(res.Violations, kitViolation(kit.ID, fmt.Sprintf("kit %s names sound %s it does not contain", kit.ID, soundID)))
			}
		}
	}
	return res, nil
}

func kitViolation(kitID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "kit_sound_integrity",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityKit,
		EntityID: kitID,
	}
}
