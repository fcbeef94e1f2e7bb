package task

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMissingTarget = errors.New("task has no target")

// Task is the payload of a queue job. Every task belongs to one crawl target.
type Task interface {
	TaskType() string
	TaskValue() ([]byte, error)
	Target() string
}

func encode(t Task) ([]byte, error) {
	if t.Target() == "" {
		return nil, fmt.Errorf("%s: %w", t.TaskType(), ErrMissingTarget)
	}
	return json.Marshal(t)
}

// UnmarshalTask decodes job data produced by TaskValue.
func UnmarshalTask[T Task](data []byte) (T, error) {
	var t T
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("failed to decode task: %w", err)
	}
	if t.Target() == "" {
		return t, fmt.Errorf("%s: %w", t.TaskType(), ErrMissingTarget)
	}
	return t, nil
}
