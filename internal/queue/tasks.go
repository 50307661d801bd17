package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/fitroom/internal/domain"
)

const TypeTryOn = "tryon:composite"

type TryOnPayload struct {
	JobID       string              `json:"job_id"`
	SourceType  string              `json:"source_type"`
	WebhookURL  string              `json:"webhook_url,omitempty"`
	PersonKey   string              `json:"person_key"`
	DressKey    string              `json:"dress_key"`
	Options     domain.TryOnOptions `json:"options"`
	RequestedAt time.Time           `json:"requested_at"`
}

var ErrMissingJobID = errors.New("try-on payload has no job_id")

func NewTryOnTask(payload TryOnPayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.JobID) == "" {
		return nil, ErrMissingJobID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal try-on payload: %w", err)
	}
	return asynq.NewTask(TypeTryOn, body), nil
}

func ParseTryOnPayload(task *asynq.Task) (TryOnPayload, error) {
	var payload TryOnPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TryOnPayload{}, fmt.Errorf("unmarshal try-on payload: %w", err)
	}
	if strings.TrimSpace(payload.JobID) == "" {
		return TryOnPayload{}, ErrMissingJobID
	}
	return payload, nil
}
