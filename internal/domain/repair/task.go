// Package repair contains the task type flowing through the counter
// repair pipeline.
package repair

import "github.com/okian/ember/internal/domain/category"

// Task names one document whose index counter should be re-derived
// from the relational ownership facts.
type Task struct {
	Category   category.Category
	DocumentID string
}

// Key returns a stable identity used to coalesce duplicate tasks.
func (t Task) Key() string {
	return t.Category.String() + "/" + t.DocumentID
}
