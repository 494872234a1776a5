// Package core defines the transaction record and the contracts shared by
// the voiceover pipeline components.
package core

// Transaction statuses. Any other non-empty status value is terminal and
// holds the URL of the generated audio file.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusError      = "error"
)

// Transaction represents one text-to-speech conversion job for a single
// item of the item bank. It is an immutable value: every state change
// produces a new Transaction via one of the With methods, so a record
// handed to another goroutine can never observe a torn update.
type Transaction struct {
	// Voice is the vendor voice identifier, e.g. "es-CO-SalomeNeural".
	Voice string

	// ItemID is the stable unique identifier of the source text item.
	ItemID string

	// Text is the source string to synthesize.
	Text string

	// TranscriptionID is the vendor-assigned job identifier. Empty until
	// a submission has been accepted.
	TranscriptionID string

	// Status is one of StatusPending, StatusInProgress, StatusError, or
	// the terminal audio URL.
	Status string

	// ResponseBody holds the last raw vendor response for diagnostics.
	ResponseBody string
}

// NewTransaction builds a pending transaction for the given item.
func NewTransaction(voice, itemID, text string) Transaction {
	return Transaction{
		Voice:           voice,
		ItemID:          itemID,
		Text:            text,
		TranscriptionID: "",
		Status:          StatusPending,
		ResponseBody:    "",
	}
}

// WithSubmission returns a copy carrying an accepted submission: the
// vendor job id is recorded and the status moves to in_progress.
func (t Transaction) WithSubmission(transcriptionID, responseBody string) Transaction {
	t.TranscriptionID = transcriptionID
	t.Status = StatusInProgress
	t.ResponseBody = responseBody

	return t
}

// WithStatus returns a copy with a new status and response body.
func (t Transaction) WithStatus(status, responseBody string) Transaction {
	t.Status = status
	t.ResponseBody = responseBody

	return t
}

// WithResponseBody returns a copy with only the diagnostic response body
// replaced. The status is left untouched.
func (t Transaction) WithResponseBody(responseBody string) Transaction {
	t.ResponseBody = responseBody

	return t
}

// Submittable reports whether the transaction is eligible for (re)submission.
// Only pending and failed transactions are resubmitted; everything else is
// already running or done.
func (t Transaction) Submittable() bool {
	return t.Status == StatusPending || t.Status == StatusError
}

// InProgress reports whether the vendor is still converting this item.
func (t Transaction) InProgress() bool {
	return t.Status == StatusInProgress
}

// Terminal reports whether no further processing will happen for this
// record: either the conversion failed or it produced an audio URL.
func (t Transaction) Terminal() bool {
	if t.Status == StatusError {
		return true
	}

	return t.Status != "" &&
		t.Status != StatusPending &&
		t.Status != StatusInProgress
}

// AudioURL returns the resulting audio URL and true when the conversion
// completed successfully.
func (t Transaction) AudioURL() (string, bool) {
	if t.Terminal() && t.Status != StatusError {
		return t.Status, true
	}

	return "", false
}
