package processor

import (
	"sync"
	"time"
)

// Job states reported by GET /api/index/{taskID}.
const (
	JobSubmitted  = "submitted"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobError      = "error"
)

type job struct {
	TaskID    string
	SessionID string
	Status    string
	Message   string
	UpdatedAt time.Time
}

// jobTable holds job states for this process only. After a restart the
// tracker sees unknown task ids as not found.
type jobTable struct {
	mu   sync.RWMutex
	jobs map[string]*job
}

func newJobTable() *jobTable {
	return &jobTable{jobs: make(map[string]*job)}
}

func (t *jobTable) put(j *job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j.UpdatedAt = time.Now().UTC()
	t.jobs[j.TaskID] = j
}

func (t *jobTable) set(taskID, status, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.jobs[taskID]; ok {
		j.Status = status
		j.Message = message
		j.UpdatedAt = time.Now().UTC()
	}
}

func (t *jobTable) get(taskID string) (job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.jobs[taskID]
	if !ok {
		return job{}, false
	}
	return *j, true
}

func (t *jobTable) remove(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, taskID)
}
