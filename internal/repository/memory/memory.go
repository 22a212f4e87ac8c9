// Package memory is an in-process repository for tests and single-node runs.
package memory

import (
	"github.com/bull/confrag/internal/repository"
)

type Memory struct {
	content  *contentRepository
	files    *fileRepository
	tasks    *taskRepository
	sessions *sessionRepository
}

var _ repository.Repository = &Memory{}

func New() *Memory {
	return &Memory{
		content:  newContentRepository(),
		files:    newFileRepository(),
		tasks:    newTaskRepository(),
		sessions: newSessionRepository(),
	}
}

func (m *Memory) Content() repository.ContentRepository {
	return m.content
}

func (m *Memory) Files() repository.FileRepository {
	return m.files
}

func (m *Memory) Tasks() repository.TaskRepository {
	return m.tasks
}

func (m *Memory) Sessions() repository.SessionRepository {
	return m.sessions
}

func (m *Memory) Close() error {
	return nil
}
