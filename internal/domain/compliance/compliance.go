package compliance

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Kind is the provider-defined category a rule or group belongs to.
type Kind string

// Status is a compliance outcome.
type Status string

const (
	StatusOK  Status = "OK"
	StatusNOK Status = "NOK"
	StatusNA  Status = "NA"
	// StatusFailed marks a check whose connector call failed or timed out.
	StatusFailed Status = "FAILED"
	// StatusUnknownRule marks a rule uuid the index does not know about.
	StatusUnknownRule Status = "UNKNOWN_RULE"
)

// Rule is a provider compliance rule, identified by (connector, kind, uuid).
type Rule struct {
	UUID          uuid.UUID  `json:"uuid"`
	ConnectorUUID uuid.UUID  `json:"connectorUuid"`
	Kind          Kind       `json:"kind"`
	GroupUUID     *uuid.UUID `json:"groupUuid,omitempty"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
}

// Group is a provider compliance group, identified by (connector, kind, uuid).
type Group struct {
	UUID          uuid.UUID `json:"uuid"`
	ConnectorUUID uuid.UUID `json:"connectorUuid"`
	Kind          Kind      `json:"kind"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
}

// ConnectorRef addresses a compliance provider.
type ConnectorRef struct {
	UUID uuid.UUID `json:"uuid"`
	Name string    `json:"name"`
	URL  string    `json:"url"`
	Kind Kind      `json:"kind"`
}

// Provider binds a connector to the rules and groups a profile checks with it.
type Provider struct {
	Connector ConnectorRef `json:"connector"`
	Rules     []uuid.UUID  `json:"rules,omitempty"`
	Groups    []uuid.UUID  `json:"groups,omitempty"`
}

// Profile is a compliance profile: the providers every certificate assigned to it is checked against.
type Profile struct {
	UUID      uuid.UUID  `json:"uuid"`
	Name      string     `json:"name"`
	Providers []Provider `json:"providers"`
}

// RuleResult is one tuple returned by a connector.
type RuleResult struct {
	RuleUUID uuid.UUID `json:"uuid"`
	Status   Status    `json:"status"`
	Detail   string    `json:"detail,omitempty"`
}

// Request is what a connector receives for one certificate.
type Request struct {
	CertificateUUID uuid.UUID   `json:"certificateUuid"`
	Certificate     string      `json:"certificate"`
	Rules           []uuid.UUID `json:"rules,omitempty"`
	Groups          []uuid.UUID `json:"groups,omitempty"`
}

// RuleOutcome is the recorded outcome of one rule.
type RuleOutcome struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
	// ReportedStatus is what the connector said about a rule the index does not know.
	ReportedStatus Status `json:"reportedStatus,omitempty"`
}

// CheckResult is the outcome of one connector, keyed by rule uuid.
type CheckResult struct {
	ConnectorUUID uuid.UUID               `json:"connectorUuid"`
	ConnectorName string                  `json:"connectorName,omitempty"`
	Status        Status                  `json:"status"`
	Message       string                  `json:"message,omitempty"`
	Rules         map[string]*RuleOutcome `json:"rules,omitempty"`
}

// Result is the validation result attached to a certificate; each run replaces it.
type Result struct {
	Status    Status                  `json:"status"`
	CheckedAt time.Time               `json:"checkedAt"`
	Checks    map[string]*CheckResult `json:"checks"`
}

// CheckName is the key a connector's outcome is stored under.
func CheckName(ref ConnectorRef) string {
	return "compliance:" + ref.UUID.String()
}

// Summarize derives a check status from its rule outcomes. Unknown rules do
// not influence the status; they are reported on their own.
func Summarize(rules map[string]*RuleOutcome) Status {
	status := StatusNA
	for _, o := range rules {
		switch o.Status {
		case StatusNOK:
			return StatusNOK
		case StatusOK:
			status = StatusOK
		}
	}
	return status
}

// Merge folds check results into one Result. Checks are visited in
// connector-uuid order so the overall status does not depend on arrival order.
func Merge(checks []*CheckResult, now time.Time) *Result {
	sorted := make([]*CheckResult, 0, len(checks))
	for _, c := range checks {
		if c != nil {
			sorted = append(sorted, c)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ConnectorUUID.String() < sorted[j].ConnectorUUID.String()
	})

	res := &Result{Status: StatusNA, CheckedAt: now, Checks: make(map[string]*CheckResult, len(sorted))}
	for _, c := range sorted {
		res.Checks[CheckName(ConnectorRef{UUID: c.ConnectorUUID})] = c
		res.Status = worse(res.Status, c.Status)
	}
	return res
}

var severity = map[Status]int{
	StatusNA:     0,
	StatusOK:     1,
	StatusNOK:    2,
	StatusFailed: 3,
}

func worse(a, b Status) Status {
	if severity[b] > severity[a] {
		return b
	}
	return a
}
