package models

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// ExpenseFileResult carries the outcome of reading a ledger-entry file.
// Malformed lines are skipped and counted rather than aborting the read,
// so one bad export row cannot block a whole matching run.
type ExpenseFileResult struct {
	Entries      []*ExpenseLedgerEntry
	SkippedLines int
	LineErrors   []string
}

// ReadExpenseEntries reads an expense-ledger JSONL file (one entry per
// line). Blank lines are ignored; lines that fail to parse or validate
// are skipped and reported in the result.
func ReadExpenseEntries(path string) (*ExpenseFileResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open expense ledger file: %w", err)
	}
	defer f.Close()

	return ParseExpenseEntries(f)
}

// ParseExpenseEntries parses expense-ledger JSONL from a reader.
func ParseExpenseEntries(r io.Reader) (*ExpenseFileResult, error) {
	result := &ExpenseFileResult{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		entry := &ExpenseLedgerEntry{}
		if err := json.Unmarshal([]byte(line), entry); err != nil {
			result.SkippedLines++
			result.LineErrors = append(result.LineErrors,
				fmt.Sprintf("line %d: %v", lineNo, err))
			continue
		}
		if err := entry.Validate(); err != nil {
			result.SkippedLines++
			result.LineErrors = append(result.LineErrors,
				fmt.Sprintf("line %d: %v", lineNo, err))
			continue
		}
		result.Entries = append(result.Entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read expense ledger: %w", err)
	}
	return result, nil
}

// FilterUnevidenced returns the entries still lacking attached evidence.
func FilterUnevidenced(entries []*ExpenseLedgerEntry) []*ExpenseLedgerEntry {
	var out []*ExpenseLedgerEntry
	for _, e := range entries {
		if !e.HasEvidence {
			out = append(out, e)
		}
	}
	return out
}

// FilterEntriesByMonth returns the entries whose use date falls in the
// given year-month. Matching is closed-world within one month.
func FilterEntriesByMonth(entries []*ExpenseLedgerEntry, year int, month time.Month) []*ExpenseLedgerEntry {
	var out []*ExpenseLedgerEntry
	for _, e := range entries {
		if e.UseDate.Year() == year && e.UseDate.Month() == month {
			out = append(out, e)
		}
	}
	return out
}

// ReadOrderRecords reads harvested OrderRecords from a resume-ledger
// JSONL file for consumption by the matching engine.
func ReadOrderRecords(path string) ([]*OrderRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open order record file: %w", err)
	}
	defer f.Close()

	var records []*OrderRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rec := &OrderRecord{}
		if err := json.Unmarshal([]byte(line), rec); err != nil {
			return nil, fmt.Errorf("order record line %d: %w", lineNo, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read order records: %w", err)
	}
	return records, nil
}
