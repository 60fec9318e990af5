package csvimport

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Encodings reported by CSVParser.Encoding.
const (
	EncodingUTF8        = "utf-8"
	EncodingWindows1252 = "windows-1252"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVParser handles parsing of CSV files with encoding and delimiter detection
// Quotes are read leniently and cells are trimmed.
type CSVParser struct {
	delimiter     rune
	autoDelimiter bool
	encoding      string
	headerMap     map[string]int
	headers       []string
	line          int
	reader        *csv.Reader
}

// ParserOption is a functional option for CSVParser configuration
type ParserOption func(*CSVParser)

// WithDelimiter sets the field delimiter (default is comma)
func WithDelimiter(d rune) ParserOption {
	return func(p *CSVParser) {
		p.delimiter = d
		p.autoDelimiter = false
	}
}

// WithAutoDelimiter picks the delimiter from the header line.
func WithAutoDelimiter() ParserOption {
	return func(p *CSVParser) {
		p.autoDelimiter = true
	}
}

// NewCSVParser creates a new CSV parser from a reader. Input that is not
// valid UTF-8 is decoded as Windows-1252, which covers ISO-8859-1 exports.
func NewCSVParser(r io.Reader, opts ...ParserOption) (*CSVParser, error) {
	parser := &CSVParser{delimiter: ',', headerMap: make(map[string]int)}

	for _, opt := range opts {
		opt(parser)
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyFile
	}

	content, encoding, err := toUTF8(raw)
	if err != nil {
		return nil, err
	}
	parser.encoding = encoding

	if parser.autoDelimiter {
		parser.delimiter = SniffDelimiter(firstLine(content))
	}

	parser.reader = csv.NewReader(bytes.NewReader(content))
	parser.reader.Comma = parser.delimiter
	parser.reader.LazyQuotes = true
	parser.reader.TrimLeadingSpace = true
	parser.reader.FieldsPerRecord = -1

	return parser, nil
}

func toUTF8(raw []byte) ([]byte, string, error) {
	if utf8.Valid(raw) {
		return raw, EncodingUTF8, nil
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return decoded, EncodingWindows1252, nil
}

func firstLine(content []byte) string {
	if i := bytes.IndexByte(content, '\n'); i >= 0 {
		return string(content[:i])
	}
	return string(content)
}

// SniffDelimiter returns the candidate among ';', ',' and TAB that occurs most
// often outside quotes in line. Ties resolve in that order; comma is the
// fallback.
func SniffDelimiter(line string) rune {
	candidates := []rune{';', ',', '\t'}
	counts := make(map[rune]int, len(candidates))
	inQuotes := false
	for _, r := range line {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes {
			counts[r]++
		}
	}

	best, bestCount := ',', 0
	for _, c := range candidates {
		if counts[c] > bestCount {
			best, bestCount = c, counts[c]
		}
	}
	return best
}

// ParseHeader reads and parses the header row
func (p *CSVParser) ParseHeader() error {
	record, err := p.reader.Read()
	if err == io.EOF {
		return ErrMissingHeader
	}
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	p.headers = make([]string, len(record))
	for i, h := range record {
		header := strings.TrimSpace(h)
		p.headers[i] = header
		if _, dup := p.headerMap[header]; !dup {
			p.headerMap[header] = i
		}
	}

	if len(p.headers) == 0 || (len(p.headers) == 1 && p.headers[0] == "") {
		return ErrMissingHeader
	}

	p.line = 1
	return nil
}

// Headers returns the parsed header names
func (p *CSVParser) Headers() []string {
	return p.headers
}

// HasHeader checks if a header exists
func (p *CSVParser) HasHeader(name string) bool {
	_, ok := p.headerMap[name]
	return ok
}

// Delimiter returns the delimiter in use.
func (p *CSVParser) Delimiter() rune {
	return p.delimiter
}

// Encoding returns the detected source encoding.
func (p *CSVParser) Encoding() string {
	return p.encoding
}

// Row represents a parsed CSV row with its data and line number
type Row struct {
	LineNumber int
	Data       map[string]string
}

// Get returns the value for a column by header name
func (r *Row) Get(header string) string {
	return r.Data[header]
}

// GetOrDefault returns the value for a column, or default if not present
func (r *Row) GetOrDefault(header, defaultVal string) string {
	if val, ok := r.Data[header]; ok && val != "" {
		return val
	}
	return defaultVal
}

// GetFirst returns the first non-empty value among the given column aliases.
func (r *Row) GetFirst(aliases ...string) string {
	for _, alias := range aliases {
		if val := r.Data[alias]; val != "" {
			return val
		}
	}
	return ""
}

// IsEmpty returns true if the row has no non-empty values
func (r *Row) IsEmpty() bool {
	for _, v := range r.Data {
		if v != "" {
			return false
		}
	}
	return true
}

// ReadRow returns the next record keyed by header, or io.EOF. Missing
// trailing cells read as empty; with duplicate headers the first wins.
func (p *CSVParser) ReadRow() (*Row, error) {
	record, err := p.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	p.line++
	if err != nil {
		return nil, fmt.Errorf("error reading row %d: %w", p.line, err)
	}

	row := &Row{LineNumber: p.line, Data: make(map[string]string, len(p.headers))}
	for i, header := range p.headers {
		if _, seen := row.Data[header]; seen {
			continue
		}
		if i < len(record) {
			row.Data[header] = strings.TrimSpace(record[i])
		} else {
			row.Data[header] = ""
		}
	}
	return row, nil
}

// ReadAllRows reads all remaining rows, skipping completely empty ones.
func (p *CSVParser) ReadAllRows() ([]*Row, error) {
	var rows []*Row

	for {
		row, err := p.ReadRow()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, err
		}
		if row.IsEmpty() {
			continue
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// Table is a fully read CSV file.
type Table struct {
	Path      string
	Headers   []string
	Rows      []*Row
	Delimiter rune
	Encoding  string

	headerSet map[string]struct{}
}

// HasHeader checks if a header exists
func (t *Table) HasHeader(name string) bool {
	_, ok := t.headerSet[name]
	return ok
}

// MissingHeaders returns the required headers that are missing.
func (t *Table) MissingHeaders(required ...string) []string {
	var missing []string
	for _, h := range required {
		if !t.HasHeader(h) {
			missing = append(missing, h)
		}
	}
	return missing
}

// HasAnyHeader reports whether at least one alias is a header.
func (t *Table) HasAnyHeader(aliases ...string) bool {
	for _, a := range aliases {
		if t.HasHeader(a) {
			return true
		}
	}
	return false
}

// ReadTable parses data into a Table.
func ReadTable(data []byte, opts ...ParserOption) (*Table, error) {
	parser, err := NewCSVParser(bytes.NewReader(data), opts...)
	if err != nil {
		return nil, err
	}
	if err := parser.ParseHeader(); err != nil {
		return nil, err
	}
	rows, err := parser.ReadAllRows()
	if err != nil {
		return nil, err
	}

	t := &Table{
		Headers:   parser.Headers(),
		Rows:      rows,
		Delimiter: parser.Delimiter(),
		Encoding:  parser.Encoding(),
		headerSet: make(map[string]struct{}, len(parser.Headers())),
	}
	for _, h := range t.Headers {
		t.headerSet[h] = struct{}{}
	}
	return t, nil
}

// LoadFile reads and parses the CSV file at path.
func LoadFile(path string, opts ...ParserOption) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := ReadTable(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.Path = path
	return t, nil
}

// LoadFileWithRequired tries each delimiter in order and returns the first
// parse that contains every required column. If none does, the error is a
// *MissingColumnsError for the attempt missing the fewest columns; the
// earlier delimiter wins a tie.
func LoadFileWithRequired(path string, delimiters []rune, required ...string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var best []string
	for _, d := range delimiters {
		t, err := ReadTable(data, WithDelimiter(d))
		if err != nil {
			if errors.Is(err, ErrEmptyFile) || errors.Is(err, ErrInvalidEncoding) {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			continue
		}
		missing := t.MissingHeaders(required...)
		if len(missing) == 0 {
			t.Path = path
			return t, nil
		}
		if best == nil || len(missing) < len(best) {
			best = missing
		}
	}
	if best == nil {
		best = required
	}
	return nil, &MissingColumnsError{Path: path, Missing: best}
}

// FirstExisting returns the first path that exists as a regular file.
func FirstExisting(paths ...string) (string, bool) {
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}
