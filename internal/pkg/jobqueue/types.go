package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeExpireCheckoutSession JobType = "expire_checkout_session"
	JobTypeInvoiceReminderSweep  JobType = "invoice_reminder_sweep"
	JobTypeInvoiceAbandonNotice  JobType = "invoice_abandon_notice"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// ExpireSessionJobPayload retries expiring a checkout session at the provider
type ExpireSessionJobPayload struct {
	SessionID string `json:"session_id"`
}

func (p ExpireSessionJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"session_id": p.SessionID,
	}
}

func ExpireSessionJobPayloadFromMap(data map[string]interface{}) (*ExpireSessionJobPayload, error) {
	return payloadFromMap[ExpireSessionJobPayload](data)
}

// ReminderSweepJobPayload triggers one pass over unpaid invoices
type ReminderSweepJobPayload struct {
	TriggeredBy string `json:"triggered_by"` // "schedule" or the admin user id
}

func (p ReminderSweepJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"triggered_by": p.TriggeredBy,
	}
}

func ReminderSweepJobPayloadFromMap(data map[string]interface{}) (*ReminderSweepJobPayload, error) {
	return payloadFromMap[ReminderSweepJobPayload](data)
}

// AbandonNoticeJobPayload sends the "checkout abandoned" email for a cancelled invoice
type AbandonNoticeJobPayload struct {
	InvoiceID string `json:"invoice_id"`
}

func (p AbandonNoticeJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"invoice_id": p.InvoiceID,
	}
}

func AbandonNoticeJobPayloadFromMap(data map[string]interface{}) (*AbandonNoticeJobPayload, error) {
	return payloadFromMap[AbandonNoticeJobPayload](data)
}

func payloadFromMap[T any](data map[string]interface{}) (*T, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var payload T
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
