package reporter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/luaidle/luaidle/internal/database"
	"github.com/luaidle/luaidle/internal/models"
	"github.com/luaidle/luaidle/pkg/utils"
)

// Reporter builds idle history reports from the journal
type Reporter struct {
	repo *database.Repository
	now  func() time.Time
}

func New(repo *database.Repository) *Reporter {
	return &Reporter{
		repo: repo,
		now:  time.Now,
	}
}

// GenerateReport generates a report for the specified period
func (r *Reporter) GenerateReport(periodType string) (*models.Report, error) {
	period, err := r.getPeriod(periodType)
	if err != nil {
		return nil, err
	}

	callbacks, err := r.repo.GetCallbackSummarySince(period.Start)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get callback summary")
	}

	actions, err := r.repo.GetOutcomeSummarySince(period.Start)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get action summary")
	}

	locked, err := r.repo.GetLockedSecondsSince(period.Start)
	if err != nil {
		return nil, err
	}

	var totalIdled int64
	for _, c := range callbacks {
		totalIdled += c.Idled
	}

	return &models.Report{
		Period:      *period,
		Callbacks:   callbacks,
		Actions:     actions,
		TotalIdled:  totalIdled,
		LockedSecs:  locked,
		GeneratedAt: r.now(),
	}, nil
}

// getPeriod calculates the time range for the report
func (r *Reporter) getPeriod(periodType string) (*models.ReportPeriod, error) {
	now := r.now()
	var start, end time.Time

	switch periodType {
	case "day", "today":
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		end = start.AddDate(0, 0, 1)

	case "week":
		// weeks start on Monday
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -(weekday - 1))
		end = start.AddDate(0, 0, 7)

	case "month":
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		end = start.AddDate(0, 1, 0)

	default:
		return nil, errors.Errorf("invalid period type: %s (valid: day, week, month)", periodType)
	}

	return &models.ReportPeriod{
		Start: start,
		End:   end,
		Type:  periodType,
	}, nil
}

// FormatReportText formats the report as human-readable text
func (r *Reporter) FormatReportText(report *models.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Idle Report - %s\n", report.Period.Type)
	fmt.Fprintf(&b, "Period: %s to %s\n",
		report.Period.Start.Format("2006-01-02 15:04"),
		report.Period.End.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "%s, time locked: %s\n\n", utils.Plural(report.TotalIdled, "idle period"), utils.FormatSeconds(report.LockedSecs))

	if len(report.Callbacks) == 0 {
		b.WriteString("No idle activity recorded for this period.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "%-30s %10s %10s %10s\n", "Callback", "Idled", "Resumed", "Failures")
	b.WriteString(strings.Repeat("-", 63) + "\n")
	for _, c := range report.Callbacks {
		fmt.Fprintf(&b, "%-30s %10d %10d %10d\n", truncate(c.CallbackName, 30), c.Idled, c.Resumed, c.Failures)
	}

	if len(report.Actions) > 0 {
		b.WriteString("\nLock program\n")
		for _, a := range report.Actions {
			fmt.Fprintf(&b, "  %-10s %d\n", a.Outcome, a.Count)
		}
	}

	return b.String()
}

// FormatReportJSON formats the report as JSON
func (r *Reporter) FormatReportJSON(report *models.Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal JSON")
	}
	return string(data), nil
}

// truncate truncates a string to the specified length
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
