package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"pubmatrix/internal/domain"
	"pubmatrix/internal/health"
	"pubmatrix/internal/orchestrator"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func itemOutcome(r orchestrator.ItemResult) string {
	switch {
	case r.Success:
		return "ok"
	case r.Skipped:
		return "skipped"
	case r.Stranded:
		return "stranded"
	case r.TimedOut:
		return "timed out"
	default:
		return "failed"
	}
}

func printItems(w io.Writer, items []orchestrator.ItemResult) error {
	if jsonOutput {
		return printJSON(w, items)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tRESULT\tMESSAGE")
	for _, r := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", r.ItemID, itemOutcome(r), r.Message)
	}
	return tw.Flush()
}

func printBatch(w io.Writer, res orchestrator.BatchResult) error {
	if jsonOutput {
		return printJSON(w, res)
	}
	if err := printItems(w, res.Items); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nbatch %s: %d ok, %d failed, %d skipped in %s\n",
		res.BatchID, res.Succeeded(), res.Failed(), res.Skipped(), res.Took.Round(time.Millisecond))
	return err
}

func printHealth(w io.Writer, rep health.Report) error {
	if jsonOutput {
		return printJSON(w, rep)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tNAME\tLANE\tSTATUS\tMESSAGE")
	for _, r := range rep.Accounts {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.AccountID, r.Name, r.LaneID, r.Status, r.Message)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d healthy, %d unhealthy, %d inconclusive\n",
		rep.Count(domain.HealthHealthy), rep.Count(domain.HealthUnhealthy), rep.Count(domain.HealthInconclusive))
	return err
}

func printContent(w io.Writer, items []domain.ContentItem) error {
	if jsonOutput {
		return printJSON(w, items)
	}
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "no stranded items")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tSTATE\tSINCE\tTITLE")
	for _, it := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", it.ID, it.State(), it.UpdatedAt.Format("2006-01-02 15:04"), it.Title)
	}
	return tw.Flush()
}
