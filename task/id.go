package task

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
)

// TaskID is a random 128-bit task identity. It is comparable and can be used
// as a map key.
type TaskID uuid.UUID

func NewTaskID() TaskID {
	return TaskID(uuid.New())
}

// String returns the compact base57 form used for directory names, storage
// keys and API paths.
func (id TaskID) String() string {
	return shortuuid.DefaultEncoder.Encode(uuid.UUID(id))
}

func (id TaskID) IsZero() bool {
	return id == TaskID{}
}

// ParseTaskID accepts both the compact form and the canonical UUID form.
func ParseTaskID(s string) (TaskID, error) {
	if u, err := shortuuid.DefaultEncoder.Decode(s); err == nil {
		return TaskID(u), nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return TaskID{}, fmt.Errorf("invalid task id %q", s)
	}
	return TaskID(u), nil
}

func (id TaskID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *TaskID) UnmarshalText(b []byte) error {
	parsed, err := ParseTaskID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ChatID identifies the conversation a task belongs to.
type ChatID int64

// MessageID identifies a message inside a chat.
type MessageID int
