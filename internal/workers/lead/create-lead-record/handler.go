// internal/workers/lead/create-lead-record/handler.go
package createleadrecord

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	apperrors "leadflow/internal/common/errors"
	"leadflow/internal/common/logger"
	"leadflow/internal/common/metrics"
	"leadflow/internal/intake"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "create-lead-record"
)

type Handler struct {
	config       *Config
	intake       *intake.Service
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, svc *intake.Service, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		intake:       svc,
		errorHandler: apperrors.NewErrorHandler(log),
		logger:       log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var raw intake.RawSubmission
	if err := json.Unmarshal([]byte(job.Variables), &raw); err != nil {
		h.fail(ctx, client, job, apperrors.NewBadRequestError(fmt.Sprintf("parse job variables: %v", err)))
		return
	}

	output, err := h.Execute(ctx, job.Key, raw)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

// Execute runs intake for one submission. Validation failures come back as
// *intake.ValidationErrors, store failures as the store reports them.
// Zeebe redelivers a job under the same key, so every activation of one job
// resolves to the same record.
func (h *Handler) Execute(ctx context.Context, jobKey int64, raw intake.RawSubmission) (*Output, error) {
	lead, err := h.intake.SubmitOnce(ctx, intake.SourceWorkflow, requestKey(jobKey), raw)
	if err != nil {
		return nil, err
	}

	return &Output{
		LeadID:    lead.ID,
		Status:    string(lead.Status),
		CreatedAt: lead.CreatedAt.Format(time.RFC3339Nano),
	}, nil
}

func requestKey(jobKey int64) string {
	return TaskType + "/" + strconv.FormatInt(jobKey, 10)
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	h.logger.Info("job completed successfully", map[string]interface{}{
		"jobKey": job.Key,
		"leadId": output.LeadID,
	})
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.FromError(err).Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}
