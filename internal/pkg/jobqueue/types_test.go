package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobType(t *testing.T) {
	tests := []struct {
		name     string
		jobType  JobType
		expected string
	}{
		{"Expire Checkout Session", JobTypeExpireCheckoutSession, "expire_checkout_session"},
		{"Invoice Reminder Sweep", JobTypeInvoiceReminderSweep, "invoice_reminder_sweep"},
		{"Invoice Abandon Notice", JobTypeInvoiceAbandonNotice, "invoice_abandon_notice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.jobType))
		})
	}
}

func TestJob_IsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		job       *Job
		retryable bool
	}{
		{"Failed job with retries remaining", &Job{Status: JobStatusFailed, RetryCount: 1, MaxRetries: 3}, true},
		{"Failed job without retries remaining", &Job{Status: JobStatusFailed, RetryCount: 3, MaxRetries: 3}, false},
		{"Completed job", &Job{Status: JobStatusCompleted, RetryCount: 0, MaxRetries: 3}, false},
		{"Processing job", &Job{Status: JobStatusProcessing, RetryCount: 0, MaxRetries: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.job.IsRetryable())
		})
	}
}

func TestJob_StatusTransitions(t *testing.T) {
	job := &Job{Status: JobStatusPending, MaxRetries: 3}
	before := time.Now()

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)
	assert.False(t, job.UpdatedAt.Before(before))

	job.MarkAsFailed("provider timeout")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "provider timeout", job.ErrorMsg)
	assert.Equal(t, 1, job.RetryCount)
	assert.True(t, job.IsRetryable())

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.ErrorMsg)
}

func TestPayloadsFromMap(t *testing.T) {
	exp, err := ExpireSessionJobPayloadFromMap(ExpireSessionJobPayload{SessionID: "cs_1"}.ToMap())
	require.NoError(t, err)
	assert.Equal(t, "cs_1", exp.SessionID)

	sweep, err := ReminderSweepJobPayloadFromMap(ReminderSweepJobPayload{TriggeredBy: "schedule"}.ToMap())
	require.NoError(t, err)
	assert.Equal(t, "schedule", sweep.TriggeredBy)

	notice, err := AbandonNoticeJobPayloadFromMap(map[string]interface{}{"invoice_id": "inv-1", "extra": 1})
	require.NoError(t, err)
	assert.Equal(t, "inv-1", notice.InvoiceID)
}
