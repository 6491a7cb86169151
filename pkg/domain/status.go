package domain

import "strings"

// DeliveryStatus enumerates Fiverr order delivery states.
type DeliveryStatus string

// Canonical delivery statuses selected from the order dropdown.
const (
	StatusNotStarted DeliveryStatus = "Not Started"
	StatusInProgress DeliveryStatus = "In Progress"
	StatusRevision   DeliveryStatus = "Revision"
	StatusDelivered  DeliveryStatus = "Delivered"
	StatusCompleted  DeliveryStatus = "Completed"
	StatusCancelled  DeliveryStatus = "Cancelled"
)

var deliveryStatuses = []DeliveryStatus{
	StatusNotStarted,
	StatusInProgress,
	StatusRevision,
	StatusDelivered,
	StatusCompleted,
	StatusCancelled,
}

// TaskColumn identifies a Kanban board column.
type TaskColumn string

// Kanban columns.
const (
	ColumnTodo       TaskColumn = "todo"
	ColumnInProgress TaskColumn = "in_progress"
	ColumnReview     TaskColumn = "review"
	ColumnDone       TaskColumn = "done"
)

// ParseDeliveryStatus resolves a case-insensitive status name.
func ParseDeliveryStatus(raw string) (DeliveryStatus, error) {
	for _, st := range deliveryStatuses {
		if strings.EqualFold(string(st), strings.TrimSpace(raw)) {
			return st, nil
		}
	}
	return "", Invalidf("unknown delivery status %q", raw)
}

// Column returns the Kanban column a linked task moves to for this status.
func (s DeliveryStatus) Column() TaskColumn {
	switch s {
	case StatusInProgress, StatusRevision:
		return ColumnInProgress
	case StatusDelivered:
		return ColumnReview
	case StatusCompleted, StatusCancelled:
		return ColumnDone
	default:
		return ColumnTodo
	}
}

// ParseTaskColumn validates a Kanban column name.
func ParseTaskColumn(raw string) (TaskColumn, error) {
	switch col := TaskColumn(strings.ToLower(strings.TrimSpace(raw))); col {
	case ColumnTodo, ColumnInProgress, ColumnReview, ColumnDone:
		return col, nil
	default:
		return "", Invalidf("unknown task column %q", raw)
	}
}
