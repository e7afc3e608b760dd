package csvsheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// ReviewHeaderPhrase is matched against lowercased, trimmed headers.
	ReviewHeaderPhrase = "please enter your paper review below"
	// BotOutputHeader is matched exactly.
	BotOutputHeader = "botOutput"
	// MissingReview is reported for rows that carry no review text.
	MissingReview = "ERROR: Review column missing"

	canonicalReviewHeader = "Please enter your paper review below"
	utf8BOM               = "\ufeff"
)

// ErrBinaryContent is returned for input containing NUL bytes, such as a
// spreadsheet uploaded in its native format.
var ErrBinaryContent = errors.New("content is not text")

// Submission is the JSON view of a single CSV row.
type Submission struct {
	Review    string `json:"review"`
	BotOutput string `json:"botOutput"`
}

// Sheet keeps every column of the uploaded CSV so it can be written back
// unchanged apart from the botOutput cells. Line endings and a leading BOM
// are carried over too.
type Sheet struct {
	header       []string
	rows         [][]string
	reviewCol    int
	botOutputCol int
	crlf         bool
	bom          bool
}

// MatchesReviewHeader reports whether h names the review column.
func MatchesReviewHeader(h string) bool {
	return strings.Contains(strings.ToLower(strings.TrimSpace(h)), ReviewHeaderPhrase)
}

// Decode parses a CSV document. Empty input yields an empty sheet. Quoting
// is lenient: a stray quote inside a field is kept as text.
func Decode(r io.Reader) (*Sheet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv failed: %w", err)
	}
	return DecodeBytes(data)
}

// DecodeBytes is Decode over an in-memory document.
func DecodeBytes(data []byte) (*Sheet, error) {
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, ErrBinaryContent
	}

	sheet := &Sheet{reviewCol: -1, botOutputCol: -1}
	if rest, ok := bytes.CutPrefix(data, []byte(utf8BOM)); ok {
		sheet.bom = true
		data = rest
	}
	if i := bytes.IndexByte(data, '\n'); i > 0 && data[i-1] == '\r' {
		sheet.crlf = true
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv failed: %w", err)
	}
	if len(records) == 0 {
		return sheet, nil
	}

	header := records[0]
	sheet.header = header
	sheet.rows = records[1:]

	for i, h := range header {
		if sheet.reviewCol < 0 && MatchesReviewHeader(h) {
			sheet.reviewCol = i
		}
		if sheet.botOutputCol < 0 && h == BotOutputHeader {
			sheet.botOutputCol = i
		}
	}
	return sheet, nil
}

func (s *Sheet) Len() int {
	return len(s.rows)
}

// Header returns a copy of the header row.
func (s *Sheet) Header() []string {
	return append([]string(nil), s.header...)
}

// Row returns a copy of the raw cells of row index.
func (s *Sheet) Row(index int) ([]string, bool) {
	if index < 0 || index >= len(s.rows) {
		return nil, false
	}
	return append([]string(nil), s.rows[index]...), true
}

// Submissions returns the rows in file order.
func (s *Sheet) Submissions() []Submission {
	out := make([]Submission, 0, len(s.rows))
	for _, row := range s.rows {
		review := strings.TrimSpace(cell(row, s.reviewCol))
		if review == "" {
			review = MissingReview
		}
		out = append(out, Submission{
			Review:    review,
			BotOutput: cell(row, s.botOutputCol),
		})
	}
	return out
}

// UpdateAt replaces the botOutput cell of row index. An out-of-range index
// leaves the sheet untouched and returns false.
func (s *Sheet) UpdateAt(index int, botOutput string) bool {
	if index < 0 || index >= len(s.rows) {
		return false
	}
	if s.botOutputCol < 0 {
		s.header = append(s.header, BotOutputHeader)
		s.botOutputCol = len(s.header) - 1
	}

	row := s.rows[index]
	for len(row) <= s.botOutputCol {
		row = append(row, "")
	}
	row[s.botOutputCol] = botOutput
	s.rows[index] = row
	return true
}

// Encode writes the header and every row. Short rows are padded to the
// header width; extra trailing cells are kept. Cells are quoted only where
// needed, so redundant quotes in the source are not reproduced.
func (s *Sheet) Encode(w io.Writer) error {
	if len(s.header) == 0 {
		return nil
	}

	if s.bom {
		if _, err := io.WriteString(w, utf8BOM); err != nil {
			return fmt.Errorf("write csv bom failed: %w", err)
		}
	}

	writer := csv.NewWriter(w)
	writer.UseCRLF = s.crlf
	if err := writer.Write(s.header); err != nil {
		return fmt.Errorf("write csv header failed: %w", err)
	}
	for i, row := range s.rows {
		for len(row) < len(s.header) {
			row = append(row, "")
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write csv row %d failed: %w", i, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv failed: %w", err)
	}
	return nil
}

// Bytes is Encode into a buffer.
func (s *Sheet) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := s.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode builds a two-column document from bare records. Decoding the result
// yields the same records as long as every review is non-empty and trimmed.
func Encode(records []Submission) ([]byte, error) {
	sheet := &Sheet{
		header:       []string{canonicalReviewHeader, BotOutputHeader},
		rows:         make([][]string, 0, len(records)),
		reviewCol:    0,
		botOutputCol: 1,
	}
	for _, rec := range records {
		sheet.rows = append(sheet.rows, []string{rec.Review, rec.BotOutput})
	}
	return sheet.Bytes()
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}
