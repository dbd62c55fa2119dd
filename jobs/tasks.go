// Package jobs wires background processing on Asynq: the nightly expiry
// sweep, barcode counter resync and stock aggregate repair.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskExpirySweep retires batches past their expiry date.
	TaskExpirySweep = "expiry:sweep"
	// TaskBarcodeResync recomputes the barcode counter from issued codes.
	TaskBarcodeResync = "barcode:resync"
	// TaskStockRepair reconciles product stock aggregates with batches.
	TaskStockRepair = "catalog:stock_repair"
	// TaskSaleRefCleanup prunes old processed sale references.
	TaskSaleRefCleanup = "sales:ref_cleanup"
)

// ExpirySweepPayload carries scheduling metadata.
type ExpirySweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewExpirySweepTask constructs the sweep task.
func NewExpirySweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ExpirySweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpirySweep, body, asynq.Queue(QueueDefault)), nil
}

// BarcodeResyncPayload selects between reporting and committing.
type BarcodeResyncPayload struct {
	DryRun bool `json:"dry_run"`
}

// NewBarcodeResyncTask constructs the resync task.
func NewBarcodeResyncTask(dryRun bool) (*asynq.Task, error) {
	body, err := json.Marshal(BarcodeResyncPayload{DryRun: dryRun})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBarcodeResync, body, asynq.Queue(QueueDefault)), nil
}

// NewStockRepairTask constructs the repair task.
func NewStockRepairTask() *asynq.Task {
	return asynq.NewTask(TaskStockRepair, nil, asynq.Queue(QueueDefault))
}

// SaleRefCleanupPayload bounds the retention window.
type SaleRefCleanupPayload struct {
	OlderThanHours int `json:"older_than_hours"`
}

// NewSaleRefCleanupTask constructs the cleanup task.
func NewSaleRefCleanupTask(olderThanHours int) (*asynq.Task, error) {
	body, err := json.Marshal(SaleRefCleanupPayload{OlderThanHours: olderThanHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSaleRefCleanup, body, asynq.Queue(QueueDefault)), nil
}
