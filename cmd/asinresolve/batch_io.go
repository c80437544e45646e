package main

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"asinresolve/internal/lookup"
)

const (
	formatCSV   = "csv"
	formatJSONL = "jsonl"
)

// detectFormat picks a format from an explicit flag or the file extension.
func detectFormat(flag, path string) (string, error) {
	format := strings.ToLower(strings.TrimSpace(flag))
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".csv":
			format = formatCSV
		case ".jsonl", ".ndjson", ".json":
			format = formatJSONL
		default:
			return "", fmt.Errorf("cannot infer format of %q; pass --format csv or --format jsonl", path)
		}
	}
	if format != formatCSV && format != formatJSONL {
		return "", fmt.Errorf("unsupported format %q", format)
	}
	return format, nil
}

// readRequests parses CSV with a title,author,isbn,language header (any
// order, only title or isbn required) or one JSON request per line.
func readRequests(r io.Reader, format string) ([]lookup.Request, error) {
	if format == formatJSONL {
		return readJSONL(r)
	}
	return readCSV(r)
}

func readJSONL(r io.Reader) ([]lookup.Request, error) {
	var reqs []lookup.Request
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var req lookup.Request
		if err := json.Unmarshal([]byte(text), &req); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		reqs = append(reqs, req.Normalized())
	}
	return reqs, scanner.Err()
}

func readCSV(r io.Reader) ([]lookup.Request, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	columns := map[string]int{}
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := columns["title"]; !ok {
		if _, ok := columns["isbn"]; !ok {
			return nil, errors.New("csv header must include a title or isbn column")
		}
	}
	field := func(record []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return record[idx]
	}

	var reqs []lookup.Request
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		reqs = append(reqs, lookup.NewRequest(
			field(record, "title"),
			field(record, "author"),
			field(record, "isbn"),
			field(record, "language"),
		))
	}
	return reqs, nil
}

// writeResults writes results in input order.
func writeResults(w io.Writer, format string, results []lookup.Result) error {
	if format == formatJSONL {
		enc := json.NewEncoder(w)
		for _, res := range results {
			if err := enc.Encode(res); err != nil {
				return err
			}
		}
		return nil
	}
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"title", "author", "isbn", "status", "asin", "source", "confidence", "cached", "error"}); err != nil {
		return err
	}
	for _, res := range results {
		conf := ""
		if res.Found() {
			conf = strconv.FormatFloat(res.Confidence, 'f', 3, 64)
		}
		if err := writer.Write([]string{
			res.Request.Title,
			res.Request.Author,
			res.Request.ISBN,
			string(res.Status),
			res.Identifier,
			res.Source,
			conf,
			strconv.FormatBool(res.Cached),
			res.Error,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
