package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ParseSpreadsheet parses an Excel workbook buffer. The sheet is selected
// by Options.SheetName or defaults to the first sheet; its first non-empty
// row is treated as the header.
func ParseSpreadsheet(data []byte, opts Options) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := opts.SheetName
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrEmptySheet
		}
		sheet = sheets[0]
	} else if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	start := 0
	for start < len(rows) && isEmptyRow(rows[start]) {
		start++
	}
	if start >= len(rows) || len(rows[start+1:]) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmptySheet, sheet)
	}

	headers := cleanHeaders(rows[start])
	res := &Result{Headers: headers}

	for _, row := range rows[start+1:] {
		if isEmptyRow(row) {
			continue
		}
		res.TotalRows++
		if opts.MaxRows > 0 && len(res.Records) >= opts.MaxRows {
			continue
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
		return nil, fmt.Errorf("%w: %q", ErrEmptySheet, sheet)
	}

	res.Types = DetectTypes(headers, res.Records)
	return res, nil
}
