// Package csvstore provides the CSV-backed status store for voiceover
// transactions.
//
// The store owns one tabular snapshot file. For every (locale, voice)
// pair it maintains three namespaced columns per row, so one snapshot can
// carry parallel conversion histories for several locale/voice
// combinations without collision:
//
//	tts_{locale}_{voice}_tx_id
//	tts_{locale}_{voice}_status
//	tts_{locale}_{voice}_details
//
// Every persist rewrites the whole file under one lock. That is
// deliberate: the snapshot is bounded by the item bank, and correctness
// under concurrent workers dominates raw throughput at this scale.
package csvstore

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/book-expert/voiceover/internal/core"
)

// Column naming.
const (
	// DefaultItemIDColumn is the default name of the stable item
	// identifier column.
	DefaultItemIDColumn = "item_id"

	columnPrefix      = "tts"
	columnSuffixTxID  = "tx_id"
	columnSuffixState = "status"
	columnSuffixInfo  = "details"
)

// File permissions.
const (
	filePermissions = 0o600
)

// Static errors.
var (
	// ErrInputFileEmpty indicates no input file path was given.
	ErrInputFileEmpty = errors.New("input file cannot be empty")
	// ErrOutputFileEmpty indicates no output file path was given.
	ErrOutputFileEmpty = errors.New("output file cannot be empty")
	// ErrOutputAlreadySet indicates the output target was selected twice.
	ErrOutputAlreadySet = errors.New("output file was already set")
	// ErrOutputFileExists indicates the requested output file pre-exists.
	ErrOutputFileExists = errors.New("output file already exists")
	// ErrOverwriteEnabled indicates a distinct output file was requested
	// after opting to overwrite the input file.
	ErrOverwriteEnabled = errors.New("input file overwriting is enabled")
	// ErrNoOutputTarget indicates no destination was selected before use.
	ErrNoOutputTarget = errors.New("no output target set")
	// ErrNotConfigured indicates Configure was not called before use.
	ErrNotConfigured = errors.New("store is not configured for a locale and voice")
	// ErrMissingColumn indicates a required input column is absent.
	ErrMissingColumn = errors.New("missing required column")
	// ErrItemNotFound indicates a persist targeted an unknown item id.
	ErrItemNotFound = errors.New("item id not found in snapshot")
)

// Store reads transactions from a CSV snapshot and persists their status
// back to a locked output target. It implements core.StatusStore.
type Store struct {
	inputPath    string
	itemIDColumn string

	locale string
	voice  string

	// mu guards the full read-modify-write cycle of every target file
	// access. Concurrent Persist calls from the worker pool serialize
	// here.
	mu             sync.Mutex
	targetPath     string
	overwriteInput bool
	configured     bool
}

// New creates a store reading from the given input snapshot. An empty
// itemIDColumn falls back to DefaultItemIDColumn. The input file must
// already exist.
func New(inputPath, itemIDColumn string) (*Store, error) {
	if inputPath == "" {
		return nil, ErrInputFileEmpty
	}

	_, err := os.Stat(inputPath)
	if err != nil {
		return nil, fmt.Errorf("input file %q not found: %w", inputPath, err)
	}

	if itemIDColumn == "" {
		itemIDColumn = DefaultItemIDColumn
	}

	return &Store{
		inputPath:    inputPath,
		itemIDColumn: itemIDColumn,
	}, nil
}

// SetOutputFile instructs the store to persist transaction statuses to a
// new, distinct snapshot file. It conflicts with SetOverwriteInput, may
// only be called once, and refuses a pre-existing file rather than
// silently appending or truncating.
func (s *Store) SetOutputFile(outputPath string) error {
	if s.overwriteInput {
		return ErrOverwriteEnabled
	}

	if outputPath == "" {
		return ErrOutputFileEmpty
	}

	if s.targetPath != "" {
		return fmt.Errorf("%w: %q", ErrOutputAlreadySet, s.targetPath)
	}

	_, err := os.Stat(outputPath)
	if err == nil {
		return fmt.Errorf("%w: %q", ErrOutputFileExists, outputPath)
	}

	s.targetPath = outputPath

	return nil
}

// SetOverwriteInput instructs the store to persist transaction statuses
// back into the input snapshot itself. It conflicts with SetOutputFile.
func (s *Store) SetOverwriteInput() error {
	if s.targetPath != "" {
		return fmt.Errorf("%w: %q", ErrOutputAlreadySet, s.targetPath)
	}

	s.overwriteInput = true
	s.targetPath = s.inputPath

	return nil
}

// Configure declares the locale/voice pair this run reads and writes.
// It seeds the output target so the three namespaced columns exist ahead
// of processing; a later single-row persist then never needs to rewrite
// a header. Must be called after an output target was selected and
// before any extraction or persistence.
func (s *Store) Configure(locale, voice string) error {
	if s.targetPath == "" {
		return ErrNoOutputTarget
	}

	s.locale = locale
	s.voice = voice

	s.mu.Lock()
	defer s.mu.Unlock()

	sourcePath := s.targetPath

	_, err := os.Stat(s.targetPath)
	if err != nil {
		// Fresh distinct output: seed it from the input snapshot.
		sourcePath = s.inputPath
	}

	snapshot, err := readTable(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to read snapshot %q: %w", sourcePath, err)
	}

	snapshot.ensureColumns(s.txColumns())

	err = writeTable(s.targetPath, snapshot)
	if err != nil {
		return fmt.Errorf("failed to seed output target %q: %w", s.targetPath, err)
	}

	s.configured = true

	return nil
}

// ExtractTransactions reads the output target and produces one
// transaction per row for the configured locale and voice. Rows with an
// empty status cell are extracted as pending. A missing item-id or
// locale column fails with an error naming the column.
func (s *Store) ExtractTransactions() ([]core.Transaction, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	s.mu.Lock()
	snapshot, err := readTable(s.targetPath)
	s.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %q: %w", s.targetPath, err)
	}

	for _, required := range []string{s.itemIDColumn, s.locale} {
		_, ok := snapshot.index[required]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, required)
		}
	}

	snapshot.ensureColumns(s.txColumns())

	transactions := make([]core.Transaction, 0, len(snapshot.rows))
	for _, row := range snapshot.rows {
		transactions = append(transactions, s.rowToTransaction(snapshot, row))
	}

	return transactions, nil
}

// Persist writes the transaction's transcription id, status, and response
// body into the row matching its item id. The whole read-modify-write
// cycle happens under the store lock.
func (s *Store) Persist(transaction core.Transaction) error {
	if !s.configured {
		return ErrNotConfigured
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := readTable(s.targetPath)
	if err != nil {
		return fmt.Errorf("failed to read snapshot %q: %w", s.targetPath, err)
	}

	snapshot.ensureColumns(s.txColumns())

	found := false

	for _, row := range snapshot.rows {
		if snapshot.get(row, s.itemIDColumn) != transaction.ItemID {
			continue
		}

		snapshot.set(row, s.txIDColumn(), transaction.TranscriptionID)
		snapshot.set(row, s.statusColumn(), transaction.Status)
		snapshot.set(row, s.detailsColumn(), transaction.ResponseBody)

		found = true
	}

	if !found {
		return fmt.Errorf("%w: %q", ErrItemNotFound, transaction.ItemID)
	}

	err = writeTable(s.targetPath, snapshot)
	if err != nil {
		return fmt.Errorf("failed to write snapshot %q: %w", s.targetPath, err)
	}

	return nil
}

func (s *Store) rowToTransaction(snapshot *table, row []string) core.Transaction {
	status := snapshot.get(row, s.statusColumn())
	if status == "" {
		status = core.StatusPending
	}

	return core.Transaction{
		Voice:           s.voice,
		ItemID:          snapshot.get(row, s.itemIDColumn),
		Text:            snapshot.get(row, s.locale),
		TranscriptionID: snapshot.get(row, s.txIDColumn()),
		Status:          status,
		ResponseBody:    snapshot.get(row, s.detailsColumn()),
	}
}

func (s *Store) formatTxColumn(name string) string {
	return fmt.Sprintf("%s_%s_%s_%s", columnPrefix, s.locale, s.voice, name)
}

func (s *Store) txIDColumn() string {
	return s.formatTxColumn(columnSuffixTxID)
}

func (s *Store) statusColumn() string {
	return s.formatTxColumn(columnSuffixState)
}

func (s *Store) detailsColumn() string {
	return s.formatTxColumn(columnSuffixInfo)
}

func (s *Store) txColumns() []string {
	return []string{s.txIDColumn(), s.statusColumn(), s.detailsColumn()}
}

// table is an in-memory CSV snapshot: a header, a name-to-position index,
// and the data rows. Rows are padded to header width on read so column
// access never walks off a short record.
type table struct {
	header []string
	index  map[string]int
	rows   [][]string
}

func readTable(path string) (*table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv %q: %w", path, err)
	}

	parsed := &table{
		header: nil,
		index:  make(map[string]int),
		rows:   nil,
	}

	if len(records) == 0 {
		return parsed, nil
	}

	parsed.header = records[0]
	for position, name := range parsed.header {
		parsed.index[name] = position
	}

	for _, record := range records[1:] {
		row := make([]string, len(parsed.header))
		copy(row, record)
		parsed.rows = append(parsed.rows, row)
	}

	return parsed, nil
}

// writeTable rewrites the full snapshot atomically: the new contents land
// in a temp file in the same directory and replace the target via rename,
// so a crash mid-write cannot truncate the shared snapshot.
func writeTable(path string, t *table) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	tmpPath := tmp.Name()

	writer := csv.NewWriter(tmp)

	writeErr := writer.Write(t.header)
	if writeErr == nil {
		writeErr = writer.WriteAll(t.rows)
	}

	if writeErr == nil {
		writer.Flush()
		writeErr = writer.Error()
	}

	closeErr := tmp.Close()
	if writeErr == nil {
		writeErr = closeErr
	}

	if writeErr != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("failed to write csv: %w", writeErr)
	}

	err = os.Chmod(tmpPath, filePermissions)
	if err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("failed to set csv permissions: %w", err)
	}

	err = os.Rename(tmpPath, path)
	if err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("failed to replace %q: %w", path, err)
	}

	return nil
}

func (t *table) ensureColumns(columns []string) {
	for _, column := range columns {
		_, ok := t.index[column]
		if ok {
			continue
		}

		t.index[column] = len(t.header)
		t.header = append(t.header, column)

		for position, row := range t.rows {
			t.rows[position] = append(row, "")
		}
	}
}

func (t *table) get(row []string, column string) string {
	position, ok := t.index[column]
	if !ok || position >= len(row) {
		return ""
	}

	return row[position]
}

func (t *table) set(row []string, column, value string) {
	position, ok := t.index[column]
	if ok && position < len(row) {
		row[position] = value
	}
}
