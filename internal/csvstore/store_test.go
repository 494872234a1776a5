// Package csvstore_test tests the CSV-backed status store.
package csvstore_test

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/book-expert/voiceover/internal/core"
	"github.com/book-expert/voiceover/internal/csvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testLocale = "es-CO"
	testVoice  = "es-CO-SalomeNeural"

	statusColumn = "tts_es-CO_es-CO-SalomeNeural_status"
	txIDColumn   = "tts_es-CO_es-CO-SalomeNeural_tx_id"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func newInputFile(t *testing.T) string {
	t.Helper()

	return writeFile(t, t.TempDir(), "input.csv",
		"item_id,es-CO,de\n"+
			"item-1,Hola,Hallo\n"+
			"item-2,Adios,Tschuss\n")
}

// newConfiguredStore returns a store in overwrite-input mode, configured
// for the test locale and voice, plus the snapshot path it writes to.
func newConfiguredStore(t *testing.T) (*csvstore.Store, string) {
	t.Helper()

	inputPath := newInputFile(t)

	store, err := csvstore.New(inputPath, "")
	require.NoError(t, err)
	require.NoError(t, store.SetOverwriteInput())
	require.NoError(t, store.Configure(testLocale, testVoice))

	return store, inputPath
}

func readSnapshot(t *testing.T, path string) (header []string, rows map[string][]string) {
	t.Helper()

	file, err := os.Open(path)
	require.NoError(t, err)

	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, records)

	rows = make(map[string][]string)
	for _, record := range records[1:] {
		rows[record[0]] = record
	}

	return records[0], rows
}

func columnValue(t *testing.T, header, row []string, column string) string {
	t.Helper()

	for position, name := range header {
		if name == column {
			return row[position]
		}
	}

	t.Fatalf("column %q not found in header %v", column, header)

	return ""
}

func TestNew_MissingInputFile(t *testing.T) {
	t.Parallel()

	_, err := csvstore.New(filepath.Join(t.TempDir(), "absent.csv"), "")
	require.Error(t, err)
}

func TestSetOutputFile_ConflictsWithOverwrite(t *testing.T) {
	t.Parallel()

	store, err := csvstore.New(newInputFile(t), "")
	require.NoError(t, err)
	require.NoError(t, store.SetOverwriteInput())

	err = store.SetOutputFile(filepath.Join(t.TempDir(), "out.csv"))
	require.ErrorIs(t, err, csvstore.ErrOverwriteEnabled)
}

func TestSetOverwriteInput_ConflictsWithOutputFile(t *testing.T) {
	t.Parallel()

	store, err := csvstore.New(newInputFile(t), "")
	require.NoError(t, err)
	require.NoError(t, store.SetOutputFile(filepath.Join(t.TempDir(), "out.csv")))

	err = store.SetOverwriteInput()
	require.ErrorIs(t, err, csvstore.ErrOutputAlreadySet)
}

func TestSetOutputFile_RejectsSecondCall(t *testing.T) {
	t.Parallel()

	store, err := csvstore.New(newInputFile(t), "")
	require.NoError(t, err)

	outputDir := t.TempDir()
	require.NoError(t, store.SetOutputFile(filepath.Join(outputDir, "out.csv")))

	err = store.SetOutputFile(filepath.Join(outputDir, "other.csv"))
	require.ErrorIs(t, err, csvstore.ErrOutputAlreadySet)
}

func TestSetOutputFile_RejectsExistingFile(t *testing.T) {
	t.Parallel()

	store, err := csvstore.New(newInputFile(t), "")
	require.NoError(t, err)

	existing := writeFile(t, t.TempDir(), "existing.csv", "item_id\n")

	err = store.SetOutputFile(existing)
	require.ErrorIs(t, err, csvstore.ErrOutputFileExists)
}

func TestConfigure_RequiresOutputTarget(t *testing.T) {
	t.Parallel()

	store, err := csvstore.New(newInputFile(t), "")
	require.NoError(t, err)

	err = store.Configure(testLocale, testVoice)
	require.ErrorIs(t, err, csvstore.ErrNoOutputTarget)
}

func TestConfigure_SeedsDistinctOutputFromInput(t *testing.T) {
	t.Parallel()

	store, err := csvstore.New(newInputFile(t), "")
	require.NoError(t, err)

	outputPath := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, store.SetOutputFile(outputPath))
	require.NoError(t, store.Configure(testLocale, testVoice))

	header, rows := readSnapshot(t, outputPath)
	assert.Contains(t, header, txIDColumn)
	assert.Contains(t, header, statusColumn)
	assert.Contains(t, header, "tts_es-CO_es-CO-SalomeNeural_details")
	assert.Len(t, rows, 2, "output is seeded with the input rows")
}

func TestExtractTransactions_MissingLocaleColumn(t *testing.T) {
	t.Parallel()

	inputPath := writeFile(t, t.TempDir(), "input.csv", "item_id,en\nitem-1,Hello\n")

	store, err := csvstore.New(inputPath, "")
	require.NoError(t, err)
	require.NoError(t, store.SetOverwriteInput())
	require.NoError(t, store.Configure(testLocale, testVoice))

	_, err = store.ExtractTransactions()
	require.ErrorIs(t, err, csvstore.ErrMissingColumn)
	assert.Contains(t, err.Error(), testLocale)
}

func TestExtractTransactions_MissingItemIDColumn(t *testing.T) {
	t.Parallel()

	inputPath := writeFile(t, t.TempDir(), "input.csv", "identifier,es-CO\nitem-1,Hola\n")

	store, err := csvstore.New(inputPath, "")
	require.NoError(t, err)
	require.NoError(t, store.SetOverwriteInput())
	require.NoError(t, store.Configure(testLocale, testVoice))

	_, err = store.ExtractTransactions()
	require.ErrorIs(t, err, csvstore.ErrMissingColumn)
	assert.Contains(t, err.Error(), "item_id")
}

func TestExtractTransactions_FreshRowsArePending(t *testing.T) {
	t.Parallel()

	store, _ := newConfiguredStore(t)

	transactions, err := store.ExtractTransactions()
	require.NoError(t, err)
	require.Len(t, transactions, 2)

	first := transactions[0]
	assert.Equal(t, "item-1", first.ItemID)
	assert.Equal(t, "Hola", first.Text)
	assert.Equal(t, testVoice, first.Voice)
	assert.Equal(t, core.StatusPending, first.Status)
	assert.Empty(t, first.TranscriptionID)

	assert.Equal(t, "item-2", transactions[1].ItemID)
	assert.Equal(t, "Adios", transactions[1].Text)
}

func TestExtractTransactions_CarriesPriorHistory(t *testing.T) {
	t.Parallel()

	store, _ := newConfiguredStore(t)

	done := core.NewTransaction(testVoice, "item-1", "Hola").
		WithSubmission("tx-1", "").
		WithStatus("https://media.play.ht/audio-1.mp3", `{"converted":true}`)
	require.NoError(t, store.Persist(done))

	transactions, err := store.ExtractTransactions()
	require.NoError(t, err)
	require.Len(t, transactions, 2)

	assert.Equal(t, "https://media.play.ht/audio-1.mp3", transactions[0].Status)
	assert.Equal(t, "tx-1", transactions[0].TranscriptionID)
	assert.False(t, transactions[0].Submittable(),
		"terminal rows must be skipped on resubmission")

	assert.Equal(t, core.StatusPending, transactions[1].Status)
}

func TestPersist_UpdatesMatchingRowOnly(t *testing.T) {
	t.Parallel()

	store, snapshotPath := newConfiguredStore(t)

	running := core.NewTransaction(testVoice, "item-2", "Adios").
		WithSubmission("tx-2", `{"transcriptionId":"tx-2"}`)
	require.NoError(t, store.Persist(running))

	header, rows := readSnapshot(t, snapshotPath)

	assert.Equal(t, core.StatusInProgress,
		columnValue(t, header, rows["item-2"], statusColumn))
	assert.Equal(t, "tx-2", columnValue(t, header, rows["item-2"], txIDColumn))

	assert.Empty(t, columnValue(t, header, rows["item-1"], statusColumn),
		"other rows stay untouched")
	assert.Equal(t, "Hola", columnValue(t, header, rows["item-1"], "es-CO"),
		"source columns survive the rewrite")
}

func TestPersist_UnknownItemID(t *testing.T) {
	t.Parallel()

	store, _ := newConfiguredStore(t)

	err := store.Persist(core.NewTransaction(testVoice, "item-404", "?"))
	require.ErrorIs(t, err, csvstore.ErrItemNotFound)
}

func TestPersist_RequiresConfigure(t *testing.T) {
	t.Parallel()

	store, err := csvstore.New(newInputFile(t), "")
	require.NoError(t, err)
	require.NoError(t, store.SetOverwriteInput())

	err = store.Persist(core.NewTransaction(testVoice, "item-1", "Hola"))
	require.ErrorIs(t, err, csvstore.ErrNotConfigured)
}

func TestPersist_ConcurrentWorkersLoseNoUpdates(t *testing.T) {
	t.Parallel()

	const workerCount = 16

	dir := t.TempDir()

	var rowsBuilder string
	for i := range workerCount {
		rowsBuilder += fmt.Sprintf("item-%d,texto %d\n", i, i)
	}

	inputPath := writeFile(t, dir, "input.csv", "item_id,es-CO\n"+rowsBuilder)

	store, err := csvstore.New(inputPath, "")
	require.NoError(t, err)
	require.NoError(t, store.SetOverwriteInput())
	require.NoError(t, store.Configure(testLocale, testVoice))

	var waitGroup sync.WaitGroup

	errs := make([]error, workerCount)

	for i := range workerCount {
		waitGroup.Add(1)

		go func(worker int) {
			defer waitGroup.Done()

			itemID := fmt.Sprintf("item-%d", worker)
			transaction := core.NewTransaction(testVoice, itemID, "texto").
				WithSubmission(fmt.Sprintf("tx-%d", worker), "")

			errs[worker] = store.Persist(transaction)
		}(i)
	}

	waitGroup.Wait()

	for worker, err := range errs {
		require.NoError(t, err, "worker %d persist failed", worker)
	}

	header, rows := readSnapshot(t, inputPath)
	require.Len(t, rows, workerCount)

	for i := range workerCount {
		itemID := fmt.Sprintf("item-%d", i)
		assert.Equal(t, fmt.Sprintf("tx-%d", i),
			columnValue(t, header, rows[itemID], txIDColumn))
		assert.Equal(t, core.StatusInProgress,
			columnValue(t, header, rows[itemID], statusColumn))
	}
}
