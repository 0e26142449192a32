package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"speakdrill/internal/domain"
	"speakdrill/internal/ports"
)

const dateLayout = "2006-01-02 15:04"

func writeTopics(out io.Writer, topics []domain.Topic) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSESSIONS\tLAST")
	for _, topic := range topics {
		last := "-"
		if session, ok := topic.LastSession(); ok {
			last = session.Date.Local().Format(dateLayout)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", topic.ID, topic.Title, len(topic.Sessions), last)
	}
	return w.Flush()
}

func writeTopic(out io.Writer, topic domain.Topic) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", topic.Title, topic.ID)
	if len(topic.Sessions) == 0 {
		b.WriteString("no sessions yet\n")
	}
	for i, session := range topic.Sessions {
		fmt.Fprintf(&b, "\n#%d  %s", i+1, session.Date.Local().Format(dateLayout))
		if session.Sync != "" && session.Sync != domain.SyncStatusSynced {
			fmt.Fprintf(&b, "  [%s]", session.Sync)
		}
		b.WriteString("\n")
		if session.Transcription != "" {
			fmt.Fprintf(&b, "  %s\n", session.Transcription)
		}
		writeItems(&b, "valid", session.Analysis.Valid)
		writeItems(&b, "corrections", session.Analysis.Corrections)
		writeItems(&b, "missing", session.Analysis.Missing)
	}
	_, err := io.WriteString(out, b.String())
	return err
}

func writeItems(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "  %s:\n", label)
	for _, item := range items {
		fmt.Fprintf(b, "    - %s\n", item)
	}
}

func writePending(out io.Writer, pending []ports.PendingSession) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tTOPIC\tQUEUED\tLAST ERROR")
	for _, item := range pending {
		lastErr := item.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", item.Session.ID, item.TopicID, item.QueuedAt.Local().Format(dateLayout), lastErr)
	}
	return w.Flush()
}
