// internal/models/event.go
package models

import "time"

// EventKind identifies the class of school fact that triggered evaluation.
type EventKind string

const (
	EventStudentAbsent       EventKind = "student_marked_absent"
	EventStudentLate         EventKind = "student_marked_late"
	EventAttendanceCorrected EventKind = "attendance_corrected"
	EventAnnouncement        EventKind = "announcement_published"
	EventEmergency           EventKind = "emergency_declared"
)

// TriggerEvent is an immutable fact about something that happened at school.
// It is created by the calling context and consumed once per evaluation.
type TriggerEvent struct {
	SubjectID     string                 `json:"subjectId" validate:"required"`
	ClassID       string                 `json:"classId" validate:"required"`
	SchoolID      string                 `json:"schoolId" validate:"required"`
	Kind          EventKind              `json:"kind" validate:"required,oneof=student_marked_absent student_marked_late attendance_corrected announcement_published emergency_declared"`
	EventDate     string                 `json:"eventDate" validate:"required,datetime=2006-01-02"`
	OccurredAt    time.Time              `json:"occurredAt"`
	PreviousState string                 `json:"previousState,omitempty"`
	CurrentState  string                 `json:"currentState,omitempty"`
	ActorID       string                 `json:"actorId" validate:"required"`
	ActorRole     Role                   `json:"actorRole" validate:"required"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Role is the acting or overriding role attached to events and rules.
type Role string

const (
	RoleTeacher     Role = "teacher"
	RoleHeadTeacher Role = "head_teacher"
	RoleAdmin       Role = "school_admin"
	RoleSystem      Role = "system"
)
