package schemas

import (
	"encoding/json"
	"fmt"
	"strings"
)

// LegacyAllTarget is the string the first releases used as schedule target to
// mean "every deployment". It is only understood when decoding a bare string.
const LegacyAllTarget = "GLOBAL"

// Target designates what a schedule updates: either every non excluded
// deployment (All) or a single deployment by name.
type Target struct {
	All  bool   `msgpack:"all"`
	Name string `msgpack:"name"`
}

// AllDeployments returns the target matching every non excluded deployment.
func AllDeployments() Target {
	return Target{All: true}
}

// SingleDeployment returns the target matching the deployment called name.
func SingleDeployment(name string) Target {
	return Target{Name: name}
}

// String returns a human readable representation of the target.
func (t Target) String() string {
	if t.All {
		return "*all*"
	}
	return t.Name
}

// Validate ensures exactly one variant is set.
func (t Target) Validate() error {
	switch {
	case t.All && t.Name != "":
		return fmt.Errorf("%w: target cannot be both all deployments and %q", ErrInvalidArgument, t.Name)
	case !t.All && strings.TrimSpace(t.Name) == "":
		return fmt.Errorf("%w: target deployment name is empty", ErrInvalidArgument)
	}
	return nil
}

type targetJSON struct {
	All  bool   `json:"all,omitempty"`
	Name string `json:"name,omitempty"`
}

// MarshalJSON encodes the target as {"all":true} or {"name":"..."}.
func (t Target) MarshalJSON() ([]byte, error) {
	return json.Marshal(targetJSON(t))
}

// UnmarshalJSON accepts the object form, or a bare string where "GLOBAL"
// designates all deployments and anything else a deployment name.
func (t *Target) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s == LegacyAllTarget {
			*t = AllDeployments()
		} else {
			*t = SingleDeployment(s)
		}
		return nil
	}

	var tj targetJSON
	if err := json.Unmarshal(b, &tj); err != nil {
		return err
	}

	*t = Target(tj)
	return nil
}

// TriggerKind tells how a schedule expression must be interpreted.
type TriggerKind string

const (
	// TriggerKindCron is a recurring five field calendar expression.
	TriggerKindCron TriggerKind = "cron"

	// TriggerKindDate is a single fire absolute timestamp.
	TriggerKindDate TriggerKind = "date"
)

// ScheduleEntry is a persisted trigger for an update.
type ScheduleEntry struct {
	ID         int64       `json:"id" msgpack:"id"`
	Target     Target      `json:"target" msgpack:"target"`
	Kind       TriggerKind `json:"task_type" msgpack:"kind"`
	Expression string      `json:"expression" msgpack:"expression"`
	Active     bool        `json:"active" msgpack:"active"`
}

// ScheduleEntries is a list of schedules, ordered by id.
type ScheduleEntries []ScheduleEntry

// Frequency is the recurrence selector of a ScheduleInput.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ScheduleInput is the caller friendly form used to create a schedule.
type ScheduleInput struct {
	Target     Target      `json:"target"`
	Kind       TriggerKind `json:"task_type"`
	Frequency  Frequency   `json:"frequency"`
	WeekDay    string      `json:"week_day"`
	DayOfMonth string      `json:"day_of_month"`
	Hour       int         `json:"hour"`
	Minute     int         `json:"minute"`
	DateISO    string      `json:"date_iso"`

	// Expression, when set on a cron input, is used verbatim instead of
	// being derived from the frequency fields.
	Expression string `json:"expression"`
}

// NewScheduleInput returns an input carrying the defaults of the create form.
func NewScheduleInput() ScheduleInput {
	return ScheduleInput{
		Kind:       TriggerKindCron,
		WeekDay:    "*",
		DayOfMonth: "1",
	}
}

// ToEntry converts the input into an active schedule entry. The returned
// expression is not parsed here, the scheduler owns the grammar.
func (in ScheduleInput) ToEntry() (e ScheduleEntry, err error) {
	if err = in.Target.Validate(); err != nil {
		return
	}

	e.Target = in.Target
	e.Active = true

	switch in.Kind {
	case TriggerKindCron, "":
		e.Kind = TriggerKindCron
		e.Expression, err = in.cronExpression()
	case TriggerKindDate:
		e.Kind = TriggerKindDate
		e.Expression = strings.TrimSpace(in.DateISO)
		if e.Expression == "" {
			err = fmt.Errorf("%w: date_iso is required for date schedules", ErrInvalidArgument)
		}
	default:
		err = fmt.Errorf("%w: unknown task type %q", ErrInvalidArgument, in.Kind)
	}

	return
}

func (in ScheduleInput) cronExpression() (string, error) {
	if expr := strings.TrimSpace(in.Expression); expr != "" {
		return expr, nil
	}

	if in.Hour < 0 || in.Hour > 23 {
		return "", fmt.Errorf("%w: hour %d out of range", ErrInvalidArgument, in.Hour)
	}

	if in.Minute < 0 || in.Minute > 59 {
		return "", fmt.Errorf("%w: minute %d out of range", ErrInvalidArgument, in.Minute)
	}

	weekDay, dayOfMonth := in.WeekDay, in.DayOfMonth
	if weekDay == "" {
		weekDay = "*"
	}
	if dayOfMonth == "" {
		dayOfMonth = "1"
	}

	switch in.Frequency {
	case FrequencyDaily:
		return fmt.Sprintf("%d %d * * *", in.Minute, in.Hour), nil
	case FrequencyWeekly:
		return fmt.Sprintf("%d %d * * %s", in.Minute, in.Hour, weekDay), nil
	case FrequencyMonthly:
		return fmt.Sprintf("%d %d %s * *", in.Minute, in.Hour, dayOfMonth), nil
	}

	return "", fmt.Errorf("%w: unknown frequency %q", ErrInvalidArgument, in.Frequency)
}
