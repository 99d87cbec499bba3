package compliance

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	assert.Equal(t, StatusNA, Summarize(nil))
	assert.Equal(t, StatusOK, Summarize(map[string]*RuleOutcome{
		"a": {Status: StatusOK},
		"b": {Status: StatusUnknownRule},
	}))
	assert.Equal(t, StatusNOK, Summarize(map[string]*RuleOutcome{
		"a": {Status: StatusOK},
		"b": {Status: StatusNOK},
	}))
	assert.Equal(t, StatusNA, Summarize(map[string]*RuleOutcome{
		"a": {Status: StatusNA},
		"b": {Status: StatusUnknownRule},
	}))
}

func TestMerge(t *testing.T) {
	now := time.Now().UTC()
	c1 := &CheckResult{ConnectorUUID: uuid.New(), Status: StatusOK}
	c2 := &CheckResult{ConnectorUUID: uuid.New(), Status: StatusFailed, Message: "timeout"}
	c3 := &CheckResult{ConnectorUUID: uuid.New(), Status: StatusNOK}

	a := Merge([]*CheckResult{c1, c2, nil, c3}, now)
	b := Merge([]*CheckResult{c3, c1, c2}, now)

	assert.Equal(t, StatusFailed, a.Status)
	assert.Equal(t, a, b)
	assert.Len(t, a.Checks, 3)
	assert.Same(t, c2, a.Checks[CheckName(ConnectorRef{UUID: c2.ConnectorUUID})])

	empty := Merge(nil, now)
	assert.Equal(t, StatusNA, empty.Status)
	assert.Empty(t, empty.Checks)

	ok := Merge([]*CheckResult{c1, {ConnectorUUID: uuid.New(), Status: StatusNA}}, now)
	assert.Equal(t, StatusOK, ok.Status)
}
