package cdc

import (
	"sync"
	"time"

	"github.com/ajitpratap0/pgcdc/pkg/errors"
	stringpool "github.com/ajitpratap0/pgcdc/pkg/strings"
)

// DeadLetterQueue receives tasks whose handlers failed permanently.
type DeadLetterQueue interface {
	Send(task ProcessingTask, err error) error
	Read(limit int) ([]ProcessingTask, error)
	Acknowledge(taskID string) error
	GetStats() DeadLetterStats
}

// DeadLetterStats contains dead letter queue counters.
type DeadLetterStats struct {
	TotalEvents     int64     `json:"total_events"`
	PendingEvents   int64     `json:"pending_events"`
	ProcessedEvents int64     `json:"processed_events"`
	OldestEvent     time.Time `json:"oldest_event"`
	LastAdded       time.Time `json:"last_added"`
}

// buriedTask is one dead-lettered task with its failure cause.
type buriedTask struct {
	id    string
	task  ProcessingTask
	cause error
	acked bool
}

// MemoryDeadLetterQueue holds failed tasks in memory until an operator
// acknowledges them. Contents do not survive a restart; replication
// offsets are only committed for produced events, so unacknowledged
// failures replay from the slot instead.
type MemoryDeadLetterQueue struct {
	mutex   sync.RWMutex
	buried  []buriedTask
	stats   DeadLetterStats
	maxSize int
}

// NewMemoryDeadLetterQueue creates an in-memory dead letter queue
// bounded to maxSize tasks.
func NewMemoryDeadLetterQueue(maxSize int) *MemoryDeadLetterQueue {
	return &MemoryDeadLetterQueue{maxSize: maxSize}
}

// taskID derives the stable identifier a task is acknowledged under.
func taskID(task ProcessingTask) string {
	return stringpool.Sprintf("dlq_%d_%s", task.Timestamp.UnixNano(), task.Handler)
}

// Send buries a failed task.
func (dlq *MemoryDeadLetterQueue) Send(task ProcessingTask, err error) error {
	dlq.mutex.Lock()
	defer dlq.mutex.Unlock()

	if len(dlq.buried) >= dlq.maxSize {
		return errors.New(errors.ErrorTypeRateLimit, "dead letter queue is full").
			WithDetail("max_size", dlq.maxSize)
	}

	if task.Timestamp.IsZero() {
		task.Timestamp = time.Now()
	}

	dlq.buried = append(dlq.buried, buriedTask{
		id:    taskID(task),
		task:  task,
		cause: err,
	})

	dlq.stats.TotalEvents += int64(len(task.Events))
	dlq.stats.PendingEvents += int64(len(task.Events))
	dlq.stats.LastAdded = time.Now()
	if dlq.stats.OldestEvent.IsZero() {
		dlq.stats.OldestEvent = task.Timestamp
	}

	return nil
}

// Read returns up to limit unacknowledged tasks, oldest first.
func (dlq *MemoryDeadLetterQueue) Read(limit int) ([]ProcessingTask, error) {
	dlq.mutex.RLock()
	defer dlq.mutex.RUnlock()

	pending := make([]ProcessingTask, 0, limit)
	for i := range dlq.buried {
		if dlq.buried[i].acked {
			continue
		}
		pending = append(pending, dlq.buried[i].task)
		if len(pending) == limit {
			break
		}
	}

	return pending, nil
}

// Acknowledge marks a task as handled. Unknown IDs are ignored.
func (dlq *MemoryDeadLetterQueue) Acknowledge(taskID string) error {
	dlq.mutex.Lock()
	defer dlq.mutex.Unlock()

	for i := range dlq.buried {
		if dlq.buried[i].id != taskID || dlq.buried[i].acked {
			continue
		}
		dlq.buried[i].acked = true
		dlq.stats.PendingEvents -= int64(len(dlq.buried[i].task.Events))
		dlq.stats.ProcessedEvents += int64(len(dlq.buried[i].task.Events))
		break
	}

	return nil
}

// GetStats returns dead letter queue counters.
func (dlq *MemoryDeadLetterQueue) GetStats() DeadLetterStats {
	dlq.mutex.RLock()
	defer dlq.mutex.RUnlock()

	return dlq.stats
}
