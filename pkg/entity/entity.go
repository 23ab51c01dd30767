package entity

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

type Icon string

const (
	IconFeeding    Icon = "feeding"
	IconBathing    Icon = "bathing"
	IconSleeping   Icon = "sleeping"
	IconActivities Icon = "activities"
)

type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekdays Frequency = "weekdays"
	FrequencyWeekends Frequency = "weekends"
	FrequencyCustom   Frequency = "custom"
)

// Routine is the sole synchronized entity. IDs and both timestamps are
// assigned by the remote store; updated_at is the only field the merge
// policy consults.
type Routine struct {
	ID          uuid.UUID  `json:"id"`
	OwnerID     uuid.UUID  `json:"owner_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Icon        Icon       `json:"icon"`
	Time        string     `json:"time"`
	Frequency   Frequency  `json:"frequency"`
	CustomDays  []int      `json:"custom_days,omitempty"`
	Active      bool       `json:"active"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

var timePattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ValidTime reports whether s is a well-formed 24-hour "HH:MM" string.
func ValidTime(s string) bool {
	return timePattern.MatchString(s)
}

// ActiveOn reports whether the routine's schedule selects the given weekday.
// Inactive routines are never selected.
func (r *Routine) ActiveOn(day time.Weekday) bool {
	if !r.Active {
		return false
	}
	switch r.Frequency {
	case FrequencyDaily:
		return true
	case FrequencyWeekdays:
		return day >= time.Monday && day <= time.Friday
	case FrequencyWeekends:
		return day == time.Saturday || day == time.Sunday
	case FrequencyCustom:
		for _, d := range r.CustomDays {
			if time.Weekday(d) == day {
				return true
			}
		}
		return false
	}
	return false
}

// ActiveToday applies ActiveOn to the current local weekday.
func (r *Routine) ActiveToday() bool {
	return r.ActiveOn(time.Now().Weekday())
}

// RoutineInput is the user-authorable subset of fields accepted on create.
type RoutineInput struct {
	Title       string    `json:"title" validate:"required,min=1,max=200"`
	Description string    `json:"description" validate:"max=2000"`
	Icon        Icon      `json:"icon" validate:"required,oneof=feeding bathing sleeping activities"`
	Time        string    `json:"time" validate:"required,hhmm"`
	Frequency   Frequency `json:"frequency" validate:"required,oneof=daily weekdays weekends custom"`
	CustomDays  []int     `json:"custom_days" validate:"required_if=Frequency custom,omitempty,min=1,max=7,dive,min=0,max=6"`
}

// RoutinePatch is a partial update keyed by ID. Nil fields are left as-is.
type RoutinePatch struct {
	ID          uuid.UUID  `json:"id" validate:"required"`
	Title       *string    `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string    `json:"description,omitempty" validate:"omitempty,max=2000"`
	Icon        *Icon      `json:"icon,omitempty" validate:"omitempty,oneof=feeding bathing sleeping activities"`
	Time        *string    `json:"time,omitempty" validate:"omitempty,hhmm"`
	Frequency   *Frequency `json:"frequency,omitempty" validate:"omitempty,oneof=daily weekdays weekends custom"`
	CustomDays  []int      `json:"custom_days,omitempty" validate:"omitempty,min=1,max=7,dive,min=0,max=6"`
	Active      *bool      `json:"active,omitempty"`
}

type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
	// EventResync is synthesized by the subscription after a reconnect;
	// it carries no record and tells the consumer its view may have holes.
	EventResync EventKind = "resync"
)

// ChangeEvent is one entry on the remote change-notification channel.
// Routine is set for insert/update; delete carries only RoutineID.
type ChangeEvent struct {
	Kind      EventKind `json:"kind"`
	OwnerID   uuid.UUID `json:"owner_id"`
	RoutineID uuid.UUID `json:"routine_id"`
	Routine   *Routine  `json:"routine,omitempty"`
}

type IntentAction string

const (
	IntentUpsert IntentAction = "upsert"
	IntentDelete IntentAction = "delete"
)

// SyncIntent is one entry of the local append-only mutation log.
type SyncIntent struct {
	Seq       int64        `json:"seq"`
	Action    IntentAction `json:"action"`
	RoutineID uuid.UUID    `json:"routine_id"`
	QueuedAt  time.Time    `json:"queued_at"`
}
