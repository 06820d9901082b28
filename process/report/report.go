// Package report prints pipeline status reports for operators.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/Itypecode/E-DAV/models"
)

// Stalled writes a summary line followed by one pipe-delimited row per submission:
// id|user|lecture|status|failed_stage|last_error|uploaded_at|updated_at
func Stalled(w io.Writer, subs []models.Submission, olderThan time.Duration) error {
	byStatus := map[models.SubmissionStatus]int{}
	for _, s := range subs {
		byStatus[s.Status]++
	}
	statuses := make([]string, 0, len(byStatus))
	for st := range byStatus {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)

	if _, err := fmt.Fprintf(w, "Stalled submissions (untouched for %s): %d\n", olderThan, len(subs)); err != nil {
		return err
	}
	for _, st := range statuses {
		fmt.Fprintf(w, "  %s=%d\n", st, byStatus[models.SubmissionStatus(st)])
	}
	for _, s := range subs {
		_, err := fmt.Fprintf(w, "%s|%s|%s|%s|%s|%s|%s|%s\n",
			s.ID, s.UserID, s.LectureInstanceID, s.Status, s.FailedStage, s.LastError,
			s.UploadedAt.Format(time.RFC3339), s.UpdatedAt.Format(time.RFC3339))
		if err != nil {
			return err
		}
	}
	return nil
}
