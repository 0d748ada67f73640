package source

// csv.go implements a streaming reader for delimited text files.
//
// encoding/csv is not used because it cannot be configured with a custom
// enclosure or escape character. The parser below follows the common
// spreadsheet dialect:
//
//   - fields are split on the delimiter outside of enclosures
//   - an enclosed field may span several physical lines
//   - a doubled enclosure inside an enclosed field is a literal enclosure
//   - the escape character keeps the next character from closing the field;
//     both characters are kept in the value
//
// Only one row is held in memory at a time.

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/spf13/afero"
)

// Default dialect used when no options are given.
const (
	DefaultDelimiter = ","
	DefaultEnclosure = `"`
	DefaultEscape    = `\`
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// delimiterAliases maps escape sequences written literally in configuration
// files to the control character they stand for.
var delimiterAliases = map[string]string{
	`\n`: "\n",
	`\t`: "\t",
}

// CSVOption configures a CSV reader.
type CSVOption func(*CSV)

// WithDelimiter sets the field delimiter. The literals `\t` and `\n` are
// accepted as aliases for tab and newline.
func WithDelimiter(d string) CSVOption {
	return func(c *CSV) {
		if alias, ok := delimiterAliases[d]; ok {
			d = alias
		}
		c.delimiterRaw = d
	}
}

// WithEnclosure sets the quote character.
func WithEnclosure(e string) CSVOption {
	return func(c *CSV) { c.enclosureRaw = e }
}

// WithEscape sets the escape character. An empty string disables escaping.
func WithEscape(e string) CSVOption {
	return func(c *CSV) { c.escapeRaw = e }
}

// WithFs reads the file from fs instead of the OS filesystem.
func WithFs(fs afero.Fs) CSVOption {
	return func(c *CSV) {
		if fs != nil {
			c.fs = fs
		}
	}
}

// WithHeaderRow sets the zero-based index of the header row. Records before
// it are read and discarded.
func WithHeaderRow(n int) CSVOption {
	return func(c *CSV) { c.headerRow = n }
}

// CSV is a file-backed [Source]. It owns its file handle until Close.
type CSV struct {
	fs       afero.Fs
	file     afero.File
	path     string
	sourceID string

	delimiterRaw string
	enclosureRaw string
	escapeRaw    string

	delimiter byte
	enclosure byte
	escape    byte // 0 when disabled
	headerRow int

	r    *bufio.Reader
	line int // physical lines consumed since the last rewind
}

// Row is one step of a lazy traversal. Exactly one of Record or Err is set.
type Row struct {
	Line   int
	Record Record
	Err    *RowShapeError
}

// Valid reports whether the row matched the header.
func (r Row) Valid() bool {
	return r.Err == nil
}

// NewCSV opens path for reading and computes its content identifier.
// Open and read failures wrap [ErrOpen].
func NewCSV(path string, opts ...CSVOption) (*CSV, error) {
	c := &CSV{
		path:         path,
		fs:           afero.NewOsFs(),
		delimiterRaw: DefaultDelimiter,
		enclosureRaw: DefaultEnclosure,
		escapeRaw:    DefaultEscape,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.resolveDialect(); err != nil {
		return nil, err
	}

	f, err := c.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrOpen, path, err)
	}

	id, err := hashFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w %s: %w", ErrOpen, path, err)
	}

	c.file = f
	c.sourceID = id
	return c, nil
}

func (c *CSV) resolveDialect() error {
	if len(c.delimiterRaw) != 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", c.delimiterRaw)
	}
	if len(c.enclosureRaw) != 1 {
		return fmt.Errorf("enclosure must be a single character, got %q", c.enclosureRaw)
	}
	if len(c.escapeRaw) > 1 {
		return fmt.Errorf("escape must be at most one character, got %q", c.escapeRaw)
	}
	if c.headerRow < 0 {
		return fmt.Errorf("header row must be non-negative, got %d", c.headerRow)
	}

	c.delimiter = c.delimiterRaw[0]
	c.enclosure = c.enclosureRaw[0]
	if c.escapeRaw != "" && c.escapeRaw[0] != c.enclosure {
		c.escape = c.escapeRaw[0]
	}
	return nil
}

// hashFile returns the MD5 hex digest of f using positional reads, leaving
// the file offset untouched.
func hashFile(f afero.File) (string, error) {
	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	h := md5.New()
	if _, err := io.Copy(h, io.NewSectionReader(f, 0, info.Size())); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Path returns the path the reader was opened with.
func (c *CSV) Path() string {
	return c.path
}

// SourceID returns the MD5 digest of the file content, computed once at
// construction.
func (c *CSV) SourceID() string {
	return c.sourceID
}

// Close releases the file handle.
func (c *CSV) Close() error {
	return c.file.Close()
}

// Count returns the number of physical lines in the file. A final line
// without a terminator is counted. The traversal cursor is not affected.
func (c *CSV) Count() (int, error) {
	info, err := c.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", c.path, err)
	}

	sr := io.NewSectionReader(c.file, 0, info.Size())
	buf := make([]byte, 32*1024)
	var (
		lines int
		last  byte
	)
	for {
		n, err := sr.Read(buf)
		if n > 0 {
			lines += bytes.Count(buf[:n], []byte{'\n'})
			last = buf[n-1]
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("count %s: %w", c.path, err)
		}
	}

	if info.Size() > 0 && last != '\n' {
		lines++
	}
	return lines, nil
}

// Traverse implements [Source].
func (c *CSV) Traverse(onSuccess SuccessFunc, onError ErrorFunc, report Reporter) error {
	for row, err := range c.Rows(report) {
		if err != nil {
			return err
		}
		if !row.Valid() {
			onError(row.Line)
			continue
		}
		onSuccess(row.Line, row.Record)
	}
	return nil
}

// Rows returns a lazy sequence over the data rows. Invalid rows are added
// to report before they are yielded. The sequence rewinds the file when
// iteration starts, so it can be ranged over more than once. Breaking out
// of the loop stops reading.
func (c *CSV) Rows(report Reporter) iter.Seq2[Row, error] {
	if report == nil {
		report = discardReporter{}
	}

	return func(yield func(Row, error) bool) {
		header, err := c.begin()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				yield(Row{}, err)
			}
			return
		}

		for {
			line, fields, err := c.readRecord()
			if errors.Is(err, io.EOF) || errors.Is(err, errBlankLine) {
				return
			}
			if err != nil {
				yield(Row{}, err)
				return
			}

			if len(fields) != len(header) {
				shapeErr := &RowShapeError{Line: line, Fields: len(fields), Header: len(header)}
				report.AddError(shapeErr.Error())
				if !yield(Row{Line: line, Err: shapeErr}, nil) {
					return
				}
				continue
			}

			if !yield(Row{Line: line, Record: NewRecord(header, fields)}, nil) {
				return
			}
		}
	}
}

// Header rewinds the file and returns the parsed header row.
func (c *CSV) Header() ([]string, error) {
	return c.begin()
}

// begin rewinds, skips the rows before the header and returns the header.
// io.EOF means the file ends before the header row.
func (c *CSV) begin() ([]string, error) {
	if err := c.rewind(); err != nil {
		return nil, err
	}

	for i := 0; i < c.headerRow; i++ {
		if _, _, err := c.readRecord(); err != nil && !errors.Is(err, errBlankLine) {
			return nil, err
		}
	}

	raw, err := c.readLine()
	if err != nil {
		return nil, err
	}

	raw = strings.TrimRight(raw, "\r\n")
	raw = strings.TrimRight(raw, string(c.delimiter))

	p := c.newParser()
	p.feed(raw)
	return p.finish(), nil
}

func (c *CSV) rewind() error {
	if _, err := c.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind %s: %w", c.path, err)
	}
	c.r = bufio.NewReader(c.file)
	c.line = 0

	if b, err := c.r.Peek(len(utf8BOM)); err == nil && bytes.Equal(b, utf8BOM) {
		_, _ = c.r.Discard(len(utf8BOM))
	}
	return nil
}

// errBlankLine marks an entirely empty physical line, which ends the data.
var errBlankLine = errors.New("blank line")

// readLine returns the next physical line including its terminator.
// It returns io.EOF only when nothing is left to read.
func (c *CSV) readLine() (string, error) {
	s, err := c.r.ReadString('\n')
	if len(s) > 0 {
		c.line++
		return s, nil
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", fmt.Errorf("read %s: %w", c.path, err)
	}
	return s, nil
}

// readRecord parses the next record, pulling further physical lines while
// inside an enclosure. It returns the line number the record starts on.
func (c *CSV) readRecord() (int, []string, error) {
	start := c.line + 1

	s, err := c.readLine()
	if err != nil {
		return start, nil, err
	}
	if strings.TrimRight(s, "\r\n") == "" {
		return start, nil, errBlankLine
	}

	p := c.newParser()
	for !p.feed(s) {
		s, err = c.readLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return start, nil, err
		}
	}
	return start, p.finish(), nil
}

func (c *CSV) newParser() *fieldParser {
	return &fieldParser{
		delimiter:  c.delimiter,
		enclosure:  c.enclosure,
		escape:     c.escape,
		fieldStart: true,
	}
}

// fieldParser splits one record into fields. It keeps state between feed
// calls so an enclosed field can continue on the next physical line.
type fieldParser struct {
	delimiter byte
	enclosure byte
	escape    byte

	fields     []string
	field      strings.Builder
	inQuotes   bool
	fieldStart bool
}

// feed consumes one physical line. It returns true when the record is
// complete and false when an enclosure is still open at the end of s.
func (p *fieldParser) feed(s string) bool {
	for i := 0; i < len(s); i++ {
		ch := s[i]

		if p.inQuotes {
			switch {
			case p.escape != 0 && ch == p.escape && i+1 < len(s):
				p.field.WriteByte(ch)
				p.field.WriteByte(s[i+1])
				i++
			case ch == p.enclosure:
				if i+1 < len(s) && s[i+1] == p.enclosure {
					p.field.WriteByte(ch)
					i++
				} else {
					p.inQuotes = false
				}
			default:
				p.field.WriteByte(ch)
			}
			continue
		}

		switch {
		case ch == '\n' || (ch == '\r' && (i+1 == len(s) || s[i+1] == '\n')):
			return true
		case ch == p.delimiter:
			p.fields = append(p.fields, p.field.String())
			p.field.Reset()
			p.fieldStart = true
		case ch == p.enclosure && p.fieldStart:
			p.inQuotes = true
			p.fieldStart = false
		default:
			p.field.WriteByte(ch)
			p.fieldStart = false
		}
	}
	return !p.inQuotes
}

// finish closes the current field and returns all fields.
func (p *fieldParser) finish() []string {
	p.fields = append(p.fields, p.field.String())
	p.field.Reset()
	return p.fields
}
