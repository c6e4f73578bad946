package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/halcyonmedical/voxmachina/internal/storage"
	"github.com/halcyonmedical/voxmachina/internal/summary"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("voxview", flag.ContinueOnError)
	fs.SetOutput(stderr)

	dbPath := fs.String("db-path", "data/voxmachina.db", "path to the voxmachina SQLite database")
	list := fs.Bool("list", false, "list recent calls")
	limit := fs.Int("limit", 10, "maximum calls to list")
	callID := fs.String("call-id", "", "call to inspect")
	showTranscript := fs.Bool("transcript", false, "print the assembled transcript for --call-id")
	showSummary := fs.Bool("summary", false, "print the stored summary for --call-id")
	exportDir := fs.String("export", "", "write the export document for --call-id into this directory")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if !*list && *callID == "" {
		fmt.Fprintln(stderr, "nothing to do: pass --list or --call-id")
		fs.Usage()
		return 1
	}

	// A viewer should never create a database where none exists.
	if _, err := os.Stat(*dbPath); err != nil {
		fmt.Fprintf(stderr, "database %s: %v\n", *dbPath, err)
		return 1
	}

	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "open database: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	if *list {
		if err := listCalls(stdout, store, *limit); err != nil {
			fmt.Fprintf(stderr, "list calls: %v\n", err)
			return 1
		}
		return 0
	}

	// With no view flag, show everything we have for the call.
	showAll := !*showTranscript && !*showSummary && *exportDir == ""

	if *showTranscript || showAll {
		if err := printTranscript(stdout, store, *callID); err != nil {
			fmt.Fprintf(stderr, "transcript for %s: %v\n", *callID, err)
			return 1
		}
	}
	if *showSummary || showAll {
		if err := printSummary(stdout, store, *callID); err != nil {
			fmt.Fprintf(stderr, "summary for %s: %v\n", *callID, err)
			return 1
		}
	}
	if *exportDir != "" {
		if err := exportCall(stdout, store, *callID, *exportDir); err != nil {
			fmt.Fprintf(stderr, "export %s: %v\n", *callID, err)
			return 1
		}
	}

	return 0
}

func listCalls(w io.Writer, store *storage.SQLiteStore, limit int) error {
	calls, err := store.ListCalls(limit)
	if err != nil {
		return err
	}
	if len(calls) == 0 {
		fmt.Fprintln(w, "no calls recorded")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CALL ID\tAGENT\tSTARTED\tDURATION\tFRAGMENTS\tSUMMARY")
	for _, c := range calls {
		summarized := "-"
		if c.HasSummary {
			summarized = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			c.CallID,
			orDash(c.AgentName),
			c.StartedAt.Local().Format("2006-01-02 15:04:05"),
			c.LastSpoke.Sub(c.StartedAt).Round(time.Second),
			c.Fragments,
			summarized,
		)
	}
	return tw.Flush()
}

func printTranscript(w io.Writer, store *storage.SQLiteStore, callID string) error {
	text, err := store.AssembleTranscript(callID)
	if err != nil {
		return err
	}
	if text == "" {
		fmt.Fprintf(w, "no transcript recorded for %s\n", callID)
		return nil
	}
	fmt.Fprintf(w, "=== transcript %s ===\n%s\n", callID, text)
	return nil
}

func printSummary(w io.Writer, store *storage.SQLiteStore, callID string) error {
	sum, err := store.GetSummary(callID)
	if errors.Is(err, sql.ErrNoRows) {
		fmt.Fprintf(w, "no summary recorded for %s\n", callID)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "=== summary %s ===\n", callID)
	if sum.AgentName != "" {
		fmt.Fprintf(w, "agent:        %s\n", sum.AgentName)
	}
	fmt.Fprintf(w, "created:      %s\n", sum.CreatedAt.Local().Format("2006-01-02 15:04:05"))

	var analysis summary.Analysis
	if sum.SentimentJSON != "" && json.Unmarshal([]byte(sum.SentimentJSON), &analysis) == nil {
		fmt.Fprintf(w, "sentiment:    %s (confidence %d)\n", orDash(analysis.OverallSentiment), analysis.Confidence)
		fmt.Fprintf(w, "satisfaction: %s\n", orDash(analysis.Satisfaction))
		if len(analysis.KeyEmotions) > 0 {
			fmt.Fprintf(w, "emotions:     %s\n", strings.Join(analysis.KeyEmotions, ", "))
		}
		if len(analysis.Concerns) > 0 {
			fmt.Fprintf(w, "concerns:     %s\n", strings.Join(analysis.Concerns, ", "))
		}
	}

	if sum.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", sum.Summary)
	}
	return nil
}

func exportCall(w io.Writer, store *storage.SQLiteStore, callID, dir string) error {
	doc, err := store.ExportCall(callID)
	if err != nil {
		return err
	}
	if len(doc.Fragments) == 0 && doc.Summary == nil {
		return fmt.Errorf("call %s not found", callID)
	}

	path, err := storage.NewExporter(dir).WriteCall(doc)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "wrote %s\n", path)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
