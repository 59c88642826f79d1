package notify

import "context"

// Fact is one title/value line of a run report.
type Fact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// RunReport is the summary posted after a billing run.
type RunReport struct {
	Title     string
	Headlines []string
	Facts     []Fact
}

// Notifier sends run reports.
type Notifier interface {
	Notify(ctx context.Context, report RunReport) error
}
