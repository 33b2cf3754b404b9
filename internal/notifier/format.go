package notifier

import (
	"fmt"
	"time"

	"pubmatrix/internal/eventbus"
)

// Format renders ev as one line of operator text.
func Format(ev eventbus.Event) string {
	switch d := ev.Data.(type) {
	case eventbus.BatchEvent:
		label := "publish batch"
		if ev.Type == eventbus.TypePublishTick {
			label = "scheduled publish"
		}
		s := fmt.Sprintf("%s: %d ok, %d failed", label, d.Succeeded, d.Failed)
		if d.Skipped > 0 {
			s += fmt.Sprintf(", %d skipped", d.Skipped)
		}
		return s + fmt.Sprintf(" (%s)", d.Took.Round(time.Second))
	case eventbus.ItemEvent:
		prefix := "published"
		if ev.Type == eventbus.TypePublishPlanned {
			prefix = "planned publish"
		}
		if d.Success {
			return fmt.Sprintf("%s: item %d ok", prefix, d.ItemID)
		}
		return fmt.Sprintf("%s: item %d failed: %s", prefix, d.ItemID, d.Message)
	case eventbus.StrandedEvent:
		return fmt.Sprintf("item %d %q stuck in %s since %s; resolve it manually",
			d.ItemID, d.Title, d.State, d.UpdatedAt.Format("2006-01-02 15:04"))
	case eventbus.HealthEvent:
		return fmt.Sprintf("account check: %d healthy, %d unhealthy, %d inconclusive", d.Healthy, d.Unhealthy, d.Inconclusive)
	case eventbus.KickoffEvent:
		s := fmt.Sprintf("daily kickoff: %d added, %d planned", d.Added, d.Planned)
		if d.IngestError != "" {
			s += "; ingest failed: " + d.IngestError
		}
		return s
	case eventbus.JobEvent:
		return fmt.Sprintf("%s job on lane %s: %s", d.Kind, d.LaneID, d.Message)
	}
	return ev.Type
}
