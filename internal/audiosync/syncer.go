package audiosync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voiceover/internal/core"
	"github.com/google/uuid"
)

// File and directory permissions.
const (
	filePermissions = 0o600
	dirPermissions  = 0o750

	audioFileExtension = ".mp3"

	defaultDownloadTimeout = 60 * time.Second
)

// Log formats.
const (
	logFmtSyncStart   = "Syncing audio for %d completed transactions to %s"
	logFmtItemSynced  = "Synced audio for item %s as %s (%d bytes)"
	logFmtItemFailed  = "Failed to sync audio for item %s: %v"
	logFmtEventFailed = "Failed to publish audio event for item %s: %v"
)

// Publisher publishes a serialized event to a subject. Satisfied by
// *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Syncer downloads the audio URL of every terminal transaction, writes
// the file under {audioDir}/{locale}/{itemID}.mp3, uploads the bytes to
// an object store keyed {locale}/{voice}/{itemID}.mp3, and announces each
// synced file with an AudioChunkCreatedEvent.
type Syncer struct {
	httpClient *http.Client
	store      core.ObjectStore
	publisher  Publisher
	subject    string
	audioDir   string
	workflowID string
	log        *logger.Logger
}

// New creates a syncer. The publisher and subject may be nil/empty in
// which case no events are emitted; the store may be nil to skip bucket
// upload and only write local files.
func New(
	store core.ObjectStore,
	publisher Publisher,
	subject string,
	audioDir string,
	log *logger.Logger,
) *Syncer {
	return &Syncer{
		httpClient: &http.Client{Timeout: defaultDownloadTimeout},
		store:      store,
		publisher:  publisher,
		subject:    subject,
		audioDir:   audioDir,
		workflowID: uuid.NewString(),
		log:        log,
	}
}

// Sync sweeps the batch for transactions holding a terminal audio URL and
// syncs each one. A single item's failure is logged and does not stop the
// sweep; the first failure is returned once the sweep completes.
func (s *Syncer) Sync(ctx context.Context, locale string, transactions []core.Transaction) error {
	completed := make([]core.Transaction, 0, len(transactions))

	for _, transaction := range transactions {
		_, ok := transaction.AudioURL()
		if ok {
			completed = append(completed, transaction)
		}
	}

	s.log.Info(logFmtSyncStart, len(completed), s.audioDir)

	var lastError error

	for position, transaction := range completed {
		err := s.syncItem(ctx, locale, transaction, position+1, len(completed))
		if err != nil {
			if lastError == nil {
				lastError = err
			}

			s.log.Error(logFmtItemFailed, transaction.ItemID, err)
		}
	}

	return lastError
}

func (s *Syncer) syncItem(
	ctx context.Context,
	locale string,
	transaction core.Transaction,
	position, total int,
) error {
	audioURL, _ := transaction.AudioURL()

	data, err := s.download(ctx, audioURL)
	if err != nil {
		return fmt.Errorf("failed to download audio for item '%s': %w", transaction.ItemID, err)
	}

	localPath := filepath.Join(s.audioDir, locale, transaction.ItemID+audioFileExtension)

	err = os.MkdirAll(filepath.Dir(localPath), dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create audio directory: %w", err)
	}

	err = os.WriteFile(localPath, data, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write audio file '%s': %w", localPath, err)
	}

	key := locale + "/" + transaction.Voice + "/" + transaction.ItemID + audioFileExtension

	if s.store != nil {
		err = s.store.Upload(ctx, key, data)
		if err != nil {
			return fmt.Errorf("failed to upload audio for item '%s': %w", transaction.ItemID, err)
		}
	}

	s.publishEvent(transaction, key, position, total)

	s.log.Info(logFmtItemSynced, transaction.ItemID, key, len(data))

	return nil
}

// publishEvent announces one synced audio file. Event delivery is best
// effort: a publish failure is logged, never surfaced, because the audio
// is already safely persisted.
func (s *Syncer) publishEvent(transaction core.Transaction, key string, position, total int) {
	if s.publisher == nil || s.subject == "" {
		return
	}

	event := events.AudioChunkCreatedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: s.workflowID,
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		AudioKey:   key,
		PageNumber: position,
		TotalPages: total,
	}

	data, err := json.Marshal(event)
	if err != nil {
		s.log.Error(logFmtEventFailed, transaction.ItemID, err)

		return
	}

	err = s.publisher.Publish(s.subject, data)
	if err != nil {
		s.log.Error(logFmtEventFailed, transaction.ItemID, err)
	}
}

func (s *Syncer) download(ctx context.Context, audioURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	return data, nil
}
