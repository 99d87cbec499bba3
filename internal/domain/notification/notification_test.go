package notification

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	id := uuid.New()
	msg := NewMessage(EventApprovalCreated, "Approval requested", &id, map[string]string{"status": "PENDING"})

	require.NotNil(t, msg)
	assert.Equal(t, EventApprovalCreated, msg.Event)
	assert.Equal(t, &id, msg.ResourceID)
	assert.JSONEq(t, `{"status":"PENDING"}`, string(msg.Payload))
	assert.False(t, msg.CreatedAt.IsZero())
	assert.True(t, msg.IsBroadcast())
}

func TestMessage_Targets(t *testing.T) {
	user := uuid.New()
	msg := NewMessage(EventApprovalVoted, "vote", nil, nil).
		ToUsers(user, uuid.Nil).
		ToRoles("admin", "")

	assert.Nil(t, msg.Payload)
	assert.Equal(t, []uuid.UUID{user}, msg.TargetUsers)
	assert.Equal(t, []string{"admin"}, msg.TargetRoles)
	assert.False(t, msg.IsBroadcast())

	// recipients are routing data, not part of the wire form
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "admin")
}

func TestNewSSEClient(t *testing.T) {
	userID := "u1"
	c := NewSSEClient("c1", &userID, []string{"admin"})

	assert.Equal(t, "c1", c.ClientID)
	assert.Equal(t, 100, cap(c.MessageChan))

	c.Close()
	_, ok := <-c.MessageChan
	assert.False(t, ok)
}
