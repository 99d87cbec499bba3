package trigger

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
)

// Type is the trigger kind.
type Type string

const TypeEvent Type = "EVENT"

// FieldSource selects which field map of an object a condition or execution targets.
type FieldSource string

const (
	SourceProperty FieldSource = "PROPERTY"
	SourceCustom   FieldSource = "CUSTOM"
)

// Operator is a condition comparison.
type Operator string

const (
	OpEquals         Operator = "EQUALS"
	OpNotEquals      Operator = "NOT_EQUALS"
	OpGreater        Operator = "GREATER"
	OpGreaterOrEqual Operator = "GREATER_OR_EQUAL"
	OpLesser         Operator = "LESSER"
	OpLesserOrEqual  Operator = "LESSER_OR_EQUAL"
	OpContains       Operator = "CONTAINS"
	OpNotContains    Operator = "NOT_CONTAINS"
	OpStartsWith     Operator = "STARTS_WITH"
	OpEndsWith       Operator = "ENDS_WITH"
	OpEmpty          Operator = "EMPTY"
	OpNotEmpty       Operator = "NOT_EMPTY"
)

var operators = map[Operator]bool{
	OpEquals: true, OpNotEquals: true, OpGreater: true, OpGreaterOrEqual: true,
	OpLesser: true, OpLesserOrEqual: true, OpContains: true, OpNotContains: true,
	OpStartsWith: true, OpEndsWith: true, OpEmpty: true, OpNotEmpty: true,
}

// NeedsValue reports whether the operator compares against a value.
func (o Operator) NeedsValue() bool {
	return o != OpEmpty && o != OpNotEmpty
}

// Combinator joins condition items or groups. Only AND is supported.
type Combinator string

const CombinatorAnd Combinator = "AND"

// ExecutionType is the kind of mutation an execution performs.
type ExecutionType string

const ExecutionSetField ExecutionType = "SET_FIELD"

// ConditionItem compares one object field against a value.
type ConditionItem struct {
	FieldSource     FieldSource `json:"fieldSource"`
	FieldIdentifier string      `json:"fieldIdentifier"`
	Operator        Operator    `json:"operator"`
	Value           any         `json:"value,omitempty"`
}

// ConditionGroup holds items that must all hold.
type ConditionGroup struct {
	Name       string          `json:"name"`
	Combinator Combinator      `json:"combinator,omitempty"`
	Items      []ConditionItem `json:"items"`
}

// Execution mutates one object field.
type Execution struct {
	Type            ExecutionType `json:"type"`
	FieldSource     FieldSource   `json:"fieldSource"`
	FieldIdentifier string        `json:"fieldIdentifier"`
	Value           any           `json:"value"`
}

// Action is an ordered list of executions.
type Action struct {
	Name       string      `json:"name"`
	Executions []Execution `json:"executions"`
}

// Trigger binds a resource event to conditions and actions.
type Trigger struct {
	UUID                uuid.UUID        `json:"uuid"`
	Name                string           `json:"name"`
	Description         string           `json:"description,omitempty"`
	Type                Type             `json:"type"`
	ResourceType        string           `json:"resource"`
	Event               string           `json:"event"`
	IgnoreTrigger       bool             `json:"ignoreTrigger"`
	Combinator          Combinator       `json:"combinator,omitempty"`
	Conditions          []ConditionGroup `json:"conditions,omitempty"`
	Actions             []Action         `json:"actions,omitempty"`
	ApprovalProfileUUID *uuid.UUID       `json:"approvalProfileUuid,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

// Object is the field view of a resource a trigger reads and mutates.
type Object struct {
	UUID         uuid.UUID      `json:"uuid"`
	ResourceType string         `json:"resource"`
	Properties   map[string]any `json:"properties"`
	Custom       map[string]any `json:"customAttributes"`
}

// Field returns the value stored under source/identifier.
func (o *Object) Field(source FieldSource, id string) (any, bool) {
	var m map[string]any
	switch source {
	case SourceCustom:
		m = o.Custom
	default:
		m = o.Properties
	}
	v, ok := m[id]
	return v, ok
}

// SetField writes value under source/identifier.
func (o *Object) SetField(source FieldSource, id string, value any) {
	switch source {
	case SourceCustom:
		if o.Custom == nil {
			o.Custom = make(map[string]any)
		}
		o.Custom[id] = value
	default:
		if o.Properties == nil {
			o.Properties = make(map[string]any)
		}
		o.Properties[id] = value
	}
}

// Event is a resource event the engine processes.
type Event struct {
	ResourceType  string          `json:"resource"`
	Name          string          `json:"event"`
	ObjectUUID    uuid.UUID       `json:"objectUuid"`
	RequesterUUID uuid.UUID       `json:"requesterUuid"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// Validate checks structural rules of a trigger.
func (t *Trigger) Validate() error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return apperr.Validation("trigger name is required")
	}
	if t.Type == "" {
		t.Type = TypeEvent
	}
	if t.Type != TypeEvent {
		return apperr.Validation("unsupported trigger type %q", t.Type)
	}
	if strings.TrimSpace(t.ResourceType) == "" {
		return apperr.Validation("trigger resource is required")
	}
	if strings.TrimSpace(t.Event) == "" {
		return apperr.Validation("trigger event is required")
	}
	if t.IgnoreTrigger && len(t.Actions) > 0 {
		return apperr.Validation("ignore trigger cannot have actions")
	}
	if !t.IgnoreTrigger && len(t.Actions) == 0 {
		return apperr.Validation("trigger must have at least one action or be an ignore trigger")
	}
	if t.IgnoreTrigger && t.ApprovalProfileUUID != nil {
		return apperr.Validation("ignore trigger cannot require approval")
	}
	if err := checkCombinator(t.Combinator); err != nil {
		return err
	}
	for i := range t.Conditions {
		g := &t.Conditions[i]
		if err := checkCombinator(g.Combinator); err != nil {
			return err
		}
		if len(g.Items) == 0 {
			return apperr.Validation("condition group %q has no items", g.Name)
		}
		for _, item := range g.Items {
			if err := validateItem(item); err != nil {
				return err
			}
		}
	}
	for _, a := range t.Actions {
		if len(a.Executions) == 0 {
			return apperr.Validation("action %q has no executions", a.Name)
		}
		for _, e := range a.Executions {
			if e.Type != ExecutionSetField {
				return apperr.Validation("unsupported execution type %q", e.Type)
			}
			if err := checkField(e.FieldSource, e.FieldIdentifier); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkCombinator(c Combinator) error {
	if c != "" && c != CombinatorAnd {
		return apperr.Validation("unsupported combinator %q", c)
	}
	return nil
}

func validateItem(item ConditionItem) error {
	if err := checkField(item.FieldSource, item.FieldIdentifier); err != nil {
		return err
	}
	if !operators[item.Operator] {
		return apperr.Validation("unsupported operator %q", item.Operator)
	}
	if item.Operator.NeedsValue() && item.Value == nil {
		return apperr.Validation("operator %s requires a value", item.Operator)
	}
	return nil
}

func checkField(source FieldSource, id string) error {
	if source != SourceProperty && source != SourceCustom {
		return apperr.Validation("unsupported field source %q", source)
	}
	if strings.TrimSpace(id) == "" {
		return apperr.Validation("field identifier is required")
	}
	return nil
}
