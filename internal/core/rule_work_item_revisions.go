package core

import (
	"context"
	"fmt"

	"kitstudio/pkg/domain"
)

// NewWorkItemRevisionsRule blocks work items whose remaining revision count
// drops below zero and warns when an order has no revisions left.
func NewWorkItemRevisionsRule() domain.Rule {
	return workItemRevisionsRule{}
}

type workItemRevisionsRule struct{}

func (workItemRevisionsRule) Name() string { return "work_item_revisions" }

func (workItemRevisionsRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityWorkItem || change.After == nil {
			continue
		}
		item, ok := change.After.(domain.WorkItem)
		if !ok {
			continue
		}
		switch {
		case item.RevisionsRemaining < 0:
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "work_item_revisions",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("order %s for %s has no revisions remaining", item.OrderNumber, item.Client),
				Entity:   domain.EntityWorkItem,
				EntityID: item.ID,
			})
		case item.RevisionsRemaining == 0 && item.Status == domain.StatusRevision:
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "work_item_revisions",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("order %s for %s used its last revision", item.OrderNumber, item.Client),
				Entity:   domain.EntityWorkItem,
				EntityID: item.ID,
			})
		}
	}
	return res, nil
}
