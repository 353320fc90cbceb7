// Package ingest turns session submissions from the collection hook or the
// submit form into validated models.Session rows.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/krellgit/claude-autonomy-tracker/internal/models"
	"gorm.io/datatypes"
)

// MaxUsernameLength matches the width of sessions.username.
const MaxUsernameLength = 255

// Messages returned for rejected submissions.
const (
	MsgMissingFields   = "Missing required fields: username, autonomous_duration"
	MsgInvalidDuration = "autonomous_duration must be a non-negative number"
	MsgInvalidActions  = "action_count must be a non-negative number"
	MsgInvalidMetadata = "metadata must be a JSON object"
	MsgInvalidJSON     = "Request body must be a JSON object"
)

// ValidationError reports the first constraint a submission violated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

// Submission is a normalized candidate session.
type Submission struct {
	Username           string                 `json:"username" validate:"required,max=255"`
	TaskDescription    *string                `json:"task_description,omitempty"`
	AutonomousDuration *int64                 `json:"autonomous_duration" validate:"required,min=0"`
	ActionCount        *int64                 `json:"action_count,omitempty" validate:"omitempty,min=0"`
	SessionStart       *time.Time             `json:"session_start,omitempty"`
	SessionEnd         *time.Time             `json:"session_end,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the submission's field constraints.
func (s *Submission) Validate() error {
	s.Username = strings.TrimSpace(s.Username)
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("ingest: validate submission: %w", err)
	}
	return translate(verrs[0])
}

func translate(fe validator.FieldError) *ValidationError {
	switch fe.StructField() {
	case "Username":
		if fe.Tag() == "max" {
			return invalid("username", fmt.Sprintf("username must be at most %d characters", MaxUsernameLength))
		}
		return invalid("username", MsgMissingFields)
	case "AutonomousDuration":
		if fe.Tag() == "required" {
			return invalid("autonomous_duration", MsgMissingFields)
		}
		return invalid("autonomous_duration", MsgInvalidDuration)
	case "ActionCount":
		return invalid("action_count", MsgInvalidActions)
	}
	return invalid(fe.Field(), fmt.Sprintf("%s is invalid", fe.Field()))
}

// Session builds the row to insert. Call Validate first.
func (s *Submission) Session() *models.Session {
	sess := &models.Session{
		Username:        s.Username,
		TaskDescription: s.TaskDescription,
		SessionStart:    s.SessionStart,
		SessionEnd:      s.SessionEnd,
		Metadata:        datatypes.JSONMap{},
	}
	if s.AutonomousDuration != nil {
		sess.AutonomousDuration = *s.AutonomousDuration
	}
	if s.ActionCount != nil {
		sess.ActionCount = *s.ActionCount
	}
	for k, v := range s.Metadata {
		sess.Metadata[k] = v
	}
	return sess
}

type rawSubmission struct {
	Username           json.RawMessage `json:"username"`
	TaskDescription    json.RawMessage `json:"task_description"`
	AutonomousDuration json.RawMessage `json:"autonomous_duration"`
	ActionCount        json.RawMessage `json:"action_count"`
	SessionStart       json.RawMessage `json:"session_start"`
	SessionEnd         json.RawMessage `json:"session_end"`
	Metadata           json.RawMessage `json:"metadata"`
}

// Decode reads a JSON submission and validates it.
func Decode(r io.Reader) (*Submission, error) {
	var raw rawSubmission
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, invalid("", MsgInvalidJSON)
	}

	sub := &Submission{}
	var err error
	if sub.Username, err = jsonString(raw.Username, "username", "username must be a string"); err != nil {
		return nil, err
	}
	task, err := jsonString(raw.TaskDescription, "task_description", "task_description must be a string")
	if err != nil {
		return nil, err
	}
	if task != "" {
		sub.TaskDescription = &task
	}
	if sub.AutonomousDuration, err = jsonCount(raw.AutonomousDuration, "autonomous_duration", MsgInvalidDuration); err != nil {
		return nil, err
	}
	if sub.ActionCount, err = jsonCount(raw.ActionCount, "action_count", MsgInvalidActions); err != nil {
		return nil, err
	}
	if sub.SessionStart, err = jsonTime(raw.SessionStart, "session_start"); err != nil {
		return nil, err
	}
	if sub.SessionEnd, err = jsonTime(raw.SessionEnd, "session_end"); err != nil {
		return nil, err
	}
	if sub.Metadata, err = jsonObject(raw.Metadata); err != nil {
		return nil, err
	}

	if err := sub.Validate(); err != nil {
		return nil, err
	}
	return sub, nil
}

// FromForm reads a submission posted from the HTML submit form.
func FromForm(v url.Values) (*Submission, error) {
	sub := &Submission{Username: v.Get("username")}
	if task := strings.TrimSpace(v.Get("task_description")); task != "" {
		sub.TaskDescription = &task
	}

	var err error
	if sub.AutonomousDuration, err = formCount(v.Get("autonomous_duration"), "autonomous_duration", MsgInvalidDuration); err != nil {
		return nil, err
	}
	if sub.ActionCount, err = formCount(v.Get("action_count"), "action_count", MsgInvalidActions); err != nil {
		return nil, err
	}
	if sub.SessionStart, err = formTime(v.Get("session_start"), "session_start"); err != nil {
		return nil, err
	}
	if sub.SessionEnd, err = formTime(v.Get("session_end"), "session_end"); err != nil {
		return nil, err
	}
	if m := strings.TrimSpace(v.Get("metadata")); m != "" {
		if sub.Metadata, err = jsonObject(json.RawMessage(m)); err != nil {
			return nil, err
		}
	}

	if err := sub.Validate(); err != nil {
		return nil, err
	}
	return sub, nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func jsonString(raw json.RawMessage, field, msg string) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", invalid(field, msg)
	}
	return s, nil
}

// jsonCount accepts any non-negative JSON number and truncates fractions.
// Strings and booleans are rejected; null counts as absent.
func jsonCount(raw json.RawMessage, field, msg string) (*int64, error) {
	if isNull(raw) {
		return nil, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return nil, invalid(field, msg)
	}
	// json.Number also accepts quoted strings.
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte(`"`)) {
		return nil, invalid(field, msg)
	}
	return toCount(n.String(), field, msg)
}

func formCount(s, field, msg string) (*int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	return toCount(s, field, msg)
}

func toCount(s, field, msg string) (*int64, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return nil, invalid(field, msg)
	}
	if f < 0 {
		return nil, invalid(field, msg)
	}
	i := int64(f)
	return &i, nil
}

func timeMessage(field string) string {
	return field + " must be an RFC 3339 timestamp or Unix epoch seconds"
}

// jsonTime accepts an RFC 3339 string or a Unix epoch number.
func jsonTime(raw json.RawMessage, field string) (*time.Time, error) {
	if isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return formTime(s, field)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, invalid(field, timeMessage(field))
	}
	return epoch(f), nil
}

var localTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

func formTime(s, field string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t = t.UTC()
		return &t, nil
	}
	// Zone-less forms, including <input type="datetime-local">, are UTC.
	for _, layout := range localTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return epoch(f), nil
	}
	return nil, invalid(field, timeMessage(field))
}

func epoch(f float64) *time.Time {
	sec, frac := math.Modf(f)
	t := time.Unix(int64(sec), int64(frac*1e9)).UTC()
	return &t
}

func jsonObject(raw json.RawMessage) (map[string]interface{}, error) {
	if isNull(raw) {
		return nil, nil
	}
	if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		return nil, invalid("metadata", MsgInvalidMetadata)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, invalid("metadata", MsgInvalidMetadata)
	}
	return m, nil
}
