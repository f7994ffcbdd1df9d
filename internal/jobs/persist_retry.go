package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"careline/internal/models"
	"careline/internal/store"
)

// maxPendingMessages bounds the retry queue. Beyond it the oldest entry is
// dropped; the reply already reached the user, only the transcript suffers.
const maxPendingMessages = 1000

// PersistRetryJob re-attempts assistant message writes that failed during
// the turn. It satisfies the pipeline's PersistQueue.
type PersistRetryJob struct {
	convs    *store.ConversationStore
	interval time.Duration

	mu      sync.Mutex
	pending []models.Message
}

// NewPersistRetryJob creates the retry job flushing on interval.
func NewPersistRetryJob(convs *store.ConversationStore, interval time.Duration) *PersistRetryJob {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &PersistRetryJob{convs: convs, interval: interval}
}

// Enqueue buffers a message for the next flush.
func (j *PersistRetryJob) Enqueue(msg models.Message) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.pending) >= maxPendingMessages {
		log.Printf("⚠️ [PERSIST-RETRY] Queue full, dropping oldest message for conversation %s", j.pending[0].ConversationID)
		j.pending = j.pending[1:]
	}
	j.pending = append(j.pending, msg)
}

// Pending reports the current queue depth.
func (j *PersistRetryJob) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

// Interval implements Job.
func (j *PersistRetryJob) Interval() time.Duration {
	return j.interval
}

// Run flushes the queue. Messages that fail again go back for the next pass.
func (j *PersistRetryJob) Run(ctx context.Context) error {
	j.mu.Lock()
	batch := j.pending
	j.pending = nil
	j.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var failed []models.Message
	for i := range batch {
		msg := batch[i]
		if err := j.convs.AppendMessage(ctx, &msg); err != nil {
			log.Printf("⚠️ [PERSIST-RETRY] Write still failing for conversation %s: %v", msg.ConversationID, err)
			failed = append(failed, batch[i])
		}
	}

	if len(failed) > 0 {
		j.mu.Lock()
		j.pending = append(failed, j.pending...)
		j.mu.Unlock()
	}
	log.Printf("💾 [PERSIST-RETRY] Flushed %d messages, %d still pending", len(batch)-len(failed), len(failed))
	return nil
}
