package queue

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewJob_WrapsPayload(t *testing.T) {
	regID := uuid.New()
	job, err := NewJob(JobTypeEmail, EmailPayload{
		EmailType:      "registration_confirmation",
		RecipientEmail: "a@x.com",
		RegistrationID: &regID,
		Data:           map[string]string{"event_title": "Annual Congress"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	require.Equal(t, JobTypeEmail, job.Type)
	require.Zero(t, job.Attempt)

	var got EmailPayload
	require.NoError(t, json.Unmarshal(job.Payload, &got))
	require.Equal(t, "a@x.com", got.RecipientEmail)
	require.Equal(t, regID, *got.RegistrationID)
	require.Equal(t, "Annual Congress", got.Data["event_title"])
}
