package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ParseCSV parses a CSV buffer. The first non-empty row is the header;
// every later row becomes one record keyed by header name. Short rows are
// padded with nils, long rows keep only the headered columns with a
// warning.
func ParseCSV(data []byte, opts Options) (*Result, error) {
	data = sanitizeUTF8(data)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	// Skip leading blank rows before the header.
	start := 0
	for start < len(rows) && isEmptyRow(rows[start]) {
		start++
	}
	if start >= len(rows) {
		return nil, ErrEmptyFile
	}

	headers := cleanHeaders(rows[start])
	dataRows := rows[start+1:]

	res := &Result{
		Headers: headers,
		Types:   map[string]FieldType{},
	}

	var truncated int
	for _, row := range dataRows {
		if isEmptyRow(row) {
			continue
		}
		res.TotalRows++
		if opts.MaxRows > 0 && len(res.Records) >= opts.MaxRows {
			continue
		}

		if len(row) > len(headers) {
			truncated++
		}

		fields := make(map[string]any, len(headers))
		for i, h := range headers {
			if i < len(row) {
				fields[h] = strings.TrimSpace(row[i])
			} else {
				fields[h] = nil
			}
		}
		res.Records = append(res.Records, Record{Fields: fields})
	}

	if res.TotalRows == 0 {
		return nil, ErrEmptyFile
	}
	if truncated > 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%d rows had more columns than the header and were truncated", truncated))
	}

	res.Types = DetectTypes(headers, res.Records)
	return res, nil
}

// cleanHeaders trims whitespace and BOM artifacts and fills unnamed columns.
func cleanHeaders(row []string) []string {
	headers := make([]string, len(row))
	for i, h := range row {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		headers[i] = h
	}
	return headers
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// sanitizeUTF8 replaces invalid byte sequences with the replacement rune
// so downstream JSON encoding never fails on bad input encodings.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('�')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}
