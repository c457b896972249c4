// Package sniffer detects the delimiter and header of uploaded statement files
// and reads their rows keyed by header name.
package sniffer

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// sampleSize is the number of leading characters inspected for delimiter detection.
const sampleSize = 1024

const maxSampleRows = 5

// candidateDelimiters are tried in order; earlier entries win ties.
var candidateDelimiters = []rune{',', ';', '\t', '|'}

// headerIndicators flag a data row that repeats the header.
var headerIndicators = []string{
	"date", "description", "amount", "balance", "type", "reference",
	"transaction", "debit", "credit", "memo", "merchant",
}

// FileConfig holds the detected layout of a delimited statement file
type FileConfig struct {
	Delimiter   rune       // The field delimiter
	SkipLines   int        // Blank lines before the header
	Headers     []string   // Header names as written in the file
	Fingerprint string     // SHA256 hash of normalized headers
	SampleRows  [][]string // First few data rows for preview
}

// Row is one data row keyed by header name.
type Row struct {
	Line   int // 1-based data row number
	Values map[string]string
}

var (
	ErrEmptyFile        = errors.New("file is empty")
	ErrNoHeadersFound   = errors.New("could not find data headers")
	ErrInvalidDelimiter = errors.New("could not detect valid delimiter")
)

// DetectConfig sniffs the delimiter from the start of text and captures the header row.
func DetectConfig(text string) (*FileConfig, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyFile
	}

	delimiter, err := detectDelimiter(sample(text))
	if err != nil {
		return nil, err
	}

	lines := strings.Split(text, "\n")
	skip := 0
	for skip < len(lines) && strings.TrimSpace(lines[skip]) == "" {
		skip++
	}
	if skip == len(lines) {
		return nil, ErrNoHeadersFound
	}

	records, err := readRecords(text, delimiter, maxSampleRows+1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoHeadersFound
	}

	headers := records[0]
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	return &FileConfig{
		Delimiter:   delimiter,
		SkipLines:   skip,
		Headers:     headers,
		Fingerprint: generateFingerprint(headers),
		SampleRows:  records[1:],
	}, nil
}

// ReadRows returns every data row of text keyed by cfg.Headers. Rows with no
// values and rows that repeat the header are skipped.
func ReadRows(text string, cfg *FileConfig) ([]Row, error) {
	records, err := readRecords(text, cfg.Delimiter, -1)
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, nil
	}

	rows := make([]Row, 0, len(records)-1)
	for i, record := range records[1:] {
		if isBlank(record) || IsHeaderRow(record) {
			continue
		}

		values := make(map[string]string, len(cfg.Headers))
		for col, header := range cfg.Headers {
			if col >= len(record) {
				break
			}
			values[header] = strings.TrimSpace(record[col])
		}
		rows = append(rows, Row{Line: i + 1, Values: values})
	}
	return rows, nil
}

// IsHeaderRow reports whether values mention two or more header words.
func IsHeaderRow(values []string) bool {
	joined := strings.ToLower(strings.Join(values, " "))
	hits := 0
	for _, indicator := range headerIndicators {
		if strings.Contains(joined, indicator) {
			hits++
		}
	}
	return hits >= 2
}

// detectDelimiter prefers a delimiter that occurs the same number of times on
// every sampled line; failing that, the one present on the most lines.
func detectDelimiter(sample string) (rune, error) {
	var lines []string
	for _, line := range strings.Split(sample, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, strings.TrimRight(line, "\r"))
		}
	}
	if len(lines) == 0 {
		return 0, ErrEmptyFile
	}

	var (
		best          rune
		bestCount     int
		fallback      rune
		fallbackLines int
	)
	for _, d := range candidateDelimiters {
		first := countOutsideQuotes(lines[0], d)
		consistent := first > 0
		present := 0
		for _, line := range lines {
			n := countOutsideQuotes(line, d)
			if n > 0 {
				present++
			}
			if n != first {
				consistent = false
			}
		}
		if consistent && first > bestCount {
			best, bestCount = d, first
		}
		if present > fallbackLines {
			fallback, fallbackLines = d, present
		}
	}

	if bestCount > 0 {
		return best, nil
	}
	if fallbackLines > 0 {
		return fallback, nil
	}
	return 0, ErrInvalidDelimiter
}

func countOutsideQuotes(line string, d rune) int {
	inQuotes := false
	n := 0
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == d && !inQuotes:
			n++
		}
	}
	return n
}

// sample returns up to sampleSize characters, dropping a trailing partial line.
func sample(text string) string {
	runes := []rune(text)
	if len(runes) <= sampleSize {
		return text
	}
	cut := string(runes[:sampleSize])
	if i := strings.LastIndex(cut, "\n"); i > 0 {
		return cut[:i]
	}
	return cut
}

// readRecords reads up to limit records (all when limit < 0), skipping blank lines.
func readRecords(text string, delimiter rune, limit int) ([][]string, error) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1 // Allow variable fields

	var records [][]string
	for limit < 0 || len(records) < limit {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read delimited text: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// generateFingerprint creates a unique hash from header names
func generateFingerprint(headers []string) string {
	var normalized []string
	for _, h := range headers {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, h)
		if clean != "" {
			normalized = append(normalized, clean)
		}
	}

	joined := strings.Join(normalized, "|")
	hash := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(hash[:])
}
