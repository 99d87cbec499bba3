package profile

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/security"
)

func TestApproverUnmarshal(t *testing.T) {
	userID := uuid.New()

	var a Approver
	require.NoError(t, json.Unmarshal([]byte(`{"userUuid":"`+userID.String()+`"}`), &a))
	got, ok := a.User()
	assert.True(t, ok)
	assert.Equal(t, userID, got)
	_, ok = a.Role()
	assert.False(t, ok)

	require.NoError(t, json.Unmarshal([]byte(`{"role":"ra-officer"}`), &a))
	role, ok := a.Role()
	assert.True(t, ok)
	assert.Equal(t, "ra-officer", role)

	err := json.Unmarshal([]byte(`{"userUuid":"`+userID.String()+`","role":"admin"}`), &a)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	err = json.Unmarshal([]byte(`{}`), &a)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestApproverRoundTrip(t *testing.T) {
	in := RoleApprover("admin")
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"admin"}`, string(data))

	var out Approver
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestApproverAllows(t *testing.T) {
	alice := security.Actor{UserUUID: uuid.New(), Roles: []string{"auditor"}}
	bob := security.Actor{UserUUID: uuid.New(), Roles: []string{"admin"}}

	byUser := UserApprover(alice.UserUUID)
	assert.True(t, byUser.Allows(alice))
	assert.False(t, byUser.Allows(bob))

	byRole := RoleApprover("ADMIN")
	assert.False(t, byRole.Allows(alice))
	assert.True(t, byRole.Allows(bob))

	assert.False(t, Approver{}.Allows(alice))
}

func TestValidateSteps(t *testing.T) {
	user := UserApprover(uuid.New())
	tests := []struct {
		name    string
		steps   []Step
		wantErr bool
	}{
		{name: "no steps", steps: nil, wantErr: true},
		{name: "valid", steps: []Step{{Order: 1, RequiredApprovals: 1, Approver: user}, {Order: 2, RequiredApprovals: 2, Approver: RoleApprover("admin")}}},
		{name: "duplicate order", steps: []Step{{Order: 1, RequiredApprovals: 1, Approver: user}, {Order: 1, RequiredApprovals: 1, Approver: user}}, wantErr: true},
		{name: "zero quorum", steps: []Step{{Order: 1, RequiredApprovals: 0, Approver: user}}, wantErr: true},
		{name: "missing approver", steps: []Step{{Order: 1, RequiredApprovals: 1}}, wantErr: true},
		{name: "nil user", steps: []Step{{Order: 1, RequiredApprovals: 1, Approver: UserApprover(uuid.Nil)}}, wantErr: true},
		{name: "blank role", steps: []Step{{Order: 1, RequiredApprovals: 1, Approver: RoleApprover("  ")}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSteps(tt.steps)
			if tt.wantErr {
				assert.True(t, errors.Is(err, apperr.ErrValidation), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewVersionSortsSteps(t *testing.T) {
	req := Request{
		Name:        "p",
		ExpiryHours: 2,
		Steps: []Step{
			{Order: 5, RequiredApprovals: 3, Approver: RoleApprover("admin")},
			{Order: 2, RequiredApprovals: 2, Approver: UserApprover(uuid.New())},
		},
	}
	v := NewVersion(uuid.New(), 1, req, nil)
	require.Len(t, v.Steps, 2)
	assert.Equal(t, 2, v.Steps[0].Order)
	assert.Equal(t, 5, v.Steps[1].Order)
	assert.Equal(t, 5, req.Steps[0].Order, "request must not be reordered")

	step, ok := v.Step(5)
	assert.True(t, ok)
	assert.Equal(t, 3, step.RequiredApprovals)
	_, ok = v.Step(3)
	assert.False(t, ok)
	assert.Equal(t, float64(2), v.Expiry().Hours())
}

func TestValidateRequest(t *testing.T) {
	assert.Error(t, ValidateRequest(nil))
	assert.Error(t, ValidateRequest(&Request{Name: " "}))
	assert.Error(t, ValidateRequest(&Request{Name: "x", ExpiryHours: -1, Steps: []Step{{Order: 1, RequiredApprovals: 1, Approver: RoleApprover("a")}}}))
	assert.NoError(t, ValidateRequest(&Request{Name: "x", Steps: []Step{{Order: 1, RequiredApprovals: 1, Approver: RoleApprover("a")}}}))
}
