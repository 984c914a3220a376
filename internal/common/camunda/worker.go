// internal/common/camunda/worker.go
package camunda

import (
	"leadflow/internal/common/config"
	"leadflow/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// Workers tracks the job workers opened by Start so they can be
// closed together on shutdown.
type Workers struct {
	open   []worker.JobWorker
	logger logger.Logger
}

func NewWorkers(log logger.Logger) *Workers {
	return &Workers{logger: log.WithFields(map[string]interface{}{"component": "zeebe-workers"})}
}

// Start opens a job worker for taskType unless wcfg disables it. It reports
// whether a worker was opened.
func (w *Workers) Start(client zbc.Client, taskType string, wcfg config.WorkerConfig, handler worker.JobHandler) bool {
	if !wcfg.Enabled {
		w.logger.Info("worker disabled", map[string]interface{}{"taskType": taskType})
		return false
	}

	jobWorker := client.NewJobWorker().
		JobType(taskType).
		Handler(handler).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(config.GetDuration(wcfg.Timeout)).
		Open()
	w.open = append(w.open, jobWorker)

	w.logger.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": wcfg.MaxJobsActive,
		"timeout_ms":    wcfg.Timeout,
	})
	return true
}

func (w *Workers) Count() int {
	return len(w.open)
}

// Close stops every worker and waits for in-flight jobs.
func (w *Workers) Close() {
	for _, jw := range w.open {
		jw.Close()
		jw.AwaitClose()
	}
	w.open = nil
}
