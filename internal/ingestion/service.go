// Package ingestion parses CSV and XLSX extracts into landing rows.
package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rpattn/ddsetl/internal/domain"
	"github.com/rpattn/ddsetl/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

	dateLayouts = []string{
		"2006-01-02",
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006/01/02",
		"01/02/2006",
		"02.01.2006",
	}

	// NUMERIC(15,2) holds at most 13 integer digits.
	maxLandingAmount = decimal.New(1, 13)
)

// Landing column widths, mirroring t_sql_source_unstructured.
var textWidths = map[string]int{
	"user_id":          50,
	"user_name":        100,
	"product_category": 50,
	"region":           50,
	"customer_status":  20,
}

// landingColumns is every column an extract may supply.
var landingColumns = []string{
	"user_id", "user_name", "age", "salary", "purchase_amount", "product_category",
	"region", "customer_status", "transaction_count", "effective_from", "effective_to", "current_flag",
}

// Service loads tabular extracts into the landing table.
type Service struct {
	rawRepo repository.RawRepository
	logger  *zap.Logger
}

// NewService creates a new ingestion service.
func NewService(rawRepo repository.RawRepository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{rawRepo: rawRepo, logger: logger}
}

// Request describes the ingestion input.
type Request struct {
	FileName       string
	HeaderRowIndex *int
	Data           io.Reader
}

// Summary reports what happened to an extract.
type Summary struct {
	TotalRows      int            `json:"totalRows"`
	LoadedRows     int64          `json:"loadedRows"`
	NullCoercions  map[string]int `json:"nullCoercions"`
	UnknownColumns []string       `json:"unknownColumns"`
	MissingColumns []string       `json:"missingColumns"`
}

type tableData struct {
	headers []string
	rows    [][]string

	// serialDates marks tables whose numeric date cells are spreadsheet serials.
	serialDates bool
}

// Load parses the extract and bulk inserts every data row. Cells that cannot
// be coerced to their landing column type are stored as NULL.
func (s *Service) Load(ctx context.Context, req Request) (Summary, error) {
	summary := Summary{
		NullCoercions:  map[string]int{},
		UnknownColumns: []string{},
		MissingColumns: []string{},
	}

	if req.Data == nil {
		return summary, errors.New("data reader is required")
	}
	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return summary, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return summary, errors.New("uploaded file is empty")
	}

	table, err := parseTable(req.FileName, payload, req.HeaderRowIndex)
	if err != nil {
		return summary, err
	}

	columns := make(map[string]int, len(table.headers))
	for idx, header := range table.headers {
		if !isLandingColumn(header) {
			summary.UnknownColumns = append(summary.UnknownColumns, header)
			continue
		}
		columns[header] = idx
	}
	for _, column := range landingColumns {
		if _, ok := columns[column]; !ok {
			summary.MissingColumns = append(summary.MissingColumns, column)
		}
	}
	if _, ok := columns["user_id"]; !ok {
		return summary, errors.New("extract has no user_id column")
	}

	summary.TotalRows = len(table.rows)
	records := make([]domain.RawRecord, 0, len(table.rows))
	for idx, row := range table.rows {
		rec, coerced := buildRecord(row, columns, table.serialDates)
		for _, column := range coerced {
			summary.NullCoercions[column]++
		}
		if len(coerced) > 0 {
			s.logger.Debug("landing cells coerced to null",
				zap.String("file", req.FileName),
				zap.Int("row", idx+1),
				zap.Strings("columns", coerced),
			)
		}
		records = append(records, rec)
	}

	loaded, err := s.rawRepo.InsertBatch(ctx, records)
	if err != nil {
		return summary, fmt.Errorf("failed to load landing rows: %w", err)
	}
	summary.LoadedRows = loaded

	fields := []zap.Field{
		zap.String("file", req.FileName),
		zap.Int("rows", summary.TotalRows),
		zap.Int64("loaded", loaded),
	}
	if len(summary.NullCoercions) > 0 || len(summary.UnknownColumns) > 0 {
		s.logger.Warn("landing load finished with coercions", append(fields,
			zap.Any("null_coercions", summary.NullCoercions),
			zap.Strings("unknown_columns", summary.UnknownColumns),
		)...)
	} else {
		s.logger.Info("landing load finished", fields...)
	}
	return summary, nil
}

func isLandingColumn(name string) bool {
	for _, column := range landingColumns {
		if column == name {
			return true
		}
	}
	return false
}

// buildRecord maps one row onto a RawRecord, returning the columns whose
// non-empty cell had to become NULL.
func buildRecord(row []string, columns map[string]int, serialDates bool) (domain.RawRecord, []string) {
	var rec domain.RawRecord
	var coerced []string

	cell := func(column string) (string, bool) {
		idx, ok := columns[column]
		if !ok || idx >= len(row) {
			return "", false
		}
		value := strings.TrimSpace(row[idx])
		if value == "" || strings.EqualFold(value, "null") {
			return "", false
		}
		return value, true
	}
	fail := func(column string) { coerced = append(coerced, column) }

	text := func(column string) *string {
		value, ok := cell(column)
		if !ok {
			return nil
		}
		if !utf8.ValidString(value) || utf8.RuneCountInString(value) > textWidths[column] {
			fail(column)
			return nil
		}
		return &value
	}
	integer := func(column string) *int {
		value, ok := cell(column)
		if !ok {
			return nil
		}
		parsed, err := parseInt32(value)
		if err != nil {
			fail(column)
			return nil
		}
		return &parsed
	}
	amount := func(column string) decimal.NullDecimal {
		value, ok := cell(column)
		if !ok {
			return decimal.NullDecimal{}
		}
		parsed, err := decimal.NewFromString(value)
		if err != nil || parsed.Abs().GreaterThanOrEqual(maxLandingAmount) {
			fail(column)
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(parsed.Round(2))
	}
	date := func(column string) *time.Time {
		value, ok := cell(column)
		if !ok {
			return nil
		}
		parsed, err := parseDate(value, serialDates)
		if err != nil {
			fail(column)
			return nil
		}
		return &parsed
	}
	flag := func(column string) *bool {
		value, ok := cell(column)
		if !ok {
			return nil
		}
		parsed, err := parseBool(value)
		if err != nil {
			fail(column)
			return nil
		}
		return &parsed
	}

	rec.UserID = text("user_id")
	rec.UserName = text("user_name")
	rec.Age = integer("age")
	rec.Salary = amount("salary")
	rec.PurchaseAmount = amount("purchase_amount")
	rec.ProductCategory = text("product_category")
	rec.Region = text("region")
	rec.CustomerStatus = text("customer_status")
	rec.TransactionCount = integer("transaction_count")
	rec.EffectiveFrom = date("effective_from")
	rec.EffectiveTo = date("effective_to")
	rec.CurrentFlag = flag("current_flag")

	sort.Strings(coerced)
	return rec, coerced
}

// parseInt32 accepts whole numbers that fit the landing INTEGER column,
// including float spellings such as "42.0" that spreadsheets produce.
func parseInt32(raw string) (int, error) {
	if i, err := strconv.ParseInt(raw, 10, 32); err == nil {
		return int(i), nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.Mod(f, 1) != 0 || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fmt.Errorf("unable to coerce %q to integer", raw)
	}
	return int(f), nil
}

func parseBool(raw string) (bool, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "1", "yes", "y", "t":
		return true, nil
	case "0", "no", "n", "f":
		return false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("unable to coerce %q to boolean", raw)
	}
	return b, nil
}

// parseDate accepts the text layouts and, when serial is set, a spreadsheet
// date serial such as 45047.
func parseDate(raw string, serial bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if serial {
		if days, err := strconv.ParseFloat(raw, 64); err == nil {
			ts, err := excelize.ExcelDateToTime(days, false)
			if err != nil {
				return time.Time{}, fmt.Errorf("unable to coerce serial %q to date: %w", raw, err)
			}
			return domain.TruncateDate(ts), nil
		}
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return domain.TruncateDate(ts), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", raw)
}

func parseTable(fileName string, payload []byte, headerRowIndex *int) (tableData, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload, headerRowIndex)
	case ".xlsx":
		return parseExcel(payload, headerRowIndex)
	default:
		return tableData{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte, headerRowIndex *int) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read csv: %w", err)
	}
	return normalizeTable(records, headerRowIndex)
}

func parseExcel(payload []byte, headerRowIndex *int) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, errors.New("excel file has no sheets")
	}

	// Raw values keep date cells as serials instead of locale-formatted text.
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	table, err := normalizeTable(rows, headerRowIndex)
	if err != nil {
		return tableData{}, err
	}
	table.serialDates = true
	return table, nil
}

// normalizeTable picks the header row (explicit or first non-empty) and pads
// every data row to the header width.
func normalizeTable(records [][]string, headerRowIndex *int) (tableData, error) {
	if len(records) == 0 {
		return tableData{}, errors.New("no rows found in file")
	}

	start := 0
	if headerRowIndex != nil {
		if *headerRowIndex < 0 || *headerRowIndex >= len(records) {
			return tableData{}, fmt.Errorf("header row index %d out of range", *headerRowIndex)
		}
		if isBlank(records[*headerRowIndex]) {
			return tableData{}, fmt.Errorf("selected header row %d is empty", *headerRowIndex+1)
		}
		start = *headerRowIndex
	}

	var headerRow []string
	var dataRows [][]string
	for _, row := range records[start:] {
		if isBlank(row) {
			continue
		}
		if headerRow == nil {
			headerRow = row
			continue
		}
		dataRows = append(dataRows, row)
	}
	if headerRow == nil {
		return tableData{}, errors.New("header row could not be detected")
	}

	headers := sanitizeHeaders(headerRow)
	for i := range dataRows {
		dataRows[i] = padRow(dataRows[i], len(headers))
	}

	return tableData{headers: headers, rows: dataRows}, nil
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// sanitizeHeaders lower-cases labels and maps separators to underscores so
// "Effective From" and "effective-from" both land on effective_from.
func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	replacer := strings.NewReplacer(" ", "_", ".", "_", "-", "_")
	for idx, value := range raw {
		name := strings.ToLower(strings.TrimSpace(value))
		name = strings.Trim(replacer.Replace(name), "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}
