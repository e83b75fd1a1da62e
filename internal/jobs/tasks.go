package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	// QueueDefault is the queue every stock maintenance task runs on.
	QueueDefault = "default"
	// TaskPurgeExpired deletes units whose expiry date has passed.
	TaskPurgeExpired = "stock:purge-expired"
	// TaskPurgeInactive deletes inactive units.
	TaskPurgeInactive = "stock:purge-inactive"
)

// Sweeper is the slice of the stock service the maintenance tasks drive.
type Sweeper interface {
	PurgeExpired(ctx context.Context, asOf time.Time) (int, error)
	PurgeInactiveUnits(ctx context.Context, productID string) (int, error)
}

// PurgeExpiredPayload pins the sweep date. An empty AsOf means the time the
// task runs, which is what scheduled sweeps use.
type PurgeExpiredPayload struct {
	AsOf string `json:"as_of,omitempty"`
}

// PurgeInactivePayload limits the purge to one product when set.
type PurgeInactivePayload struct {
	ProductID string `json:"product_id,omitempty"`
}

func NewPurgeExpiredTask(asOf *time.Time) (*asynq.Task, error) {
	var payload PurgeExpiredPayload
	if asOf != nil {
		payload.AsOf = asOf.UTC().Format(time.RFC3339)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPurgeExpired, body, asynq.Queue(QueueDefault)), nil
}

func NewPurgeInactiveTask(productID string) (*asynq.Task, error) {
	body, err := json.Marshal(PurgeInactivePayload{ProductID: strings.TrimSpace(productID)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPurgeInactive, body, asynq.Queue(QueueDefault)), nil
}

// StockJobs handles the stock maintenance tasks.
type StockJobs struct {
	sweeper Sweeper
	logger  *zap.Logger
	timeout time.Duration
	clock   func() time.Time
}

func NewStockJobs(sweeper Sweeper, log *zap.Logger, timeout time.Duration) *StockJobs {
	if log == nil {
		log = zap.NewNop()
	}
	return &StockJobs{
		sweeper: sweeper,
		logger:  log.Named("jobs"),
		timeout: timeout,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handlers lists the task handlers for worker registration.
func (j *StockJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskPurgeExpired, Handler: j.HandlePurgeExpired},
		{Type: TaskPurgeInactive, Handler: j.HandlePurgeInactive},
	}
}

func (j *StockJobs) HandlePurgeExpired(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.sweeper == nil {
		return errors.New("purge expired: handler not configured")
	}
	var payload PurgeExpiredPayload
	if err := decodePayload(t.Payload(), &payload); err != nil {
		return fmt.Errorf("purge expired: %v: %w", err, asynq.SkipRetry)
	}

	asOf := j.clock()
	if raw := strings.TrimSpace(payload.AsOf); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("purge expired: as_of %q: %w", raw, asynq.SkipRetry)
		}
		asOf = parsed.UTC()
	}

	ctx, cancel := j.withTimeout(ctx)
	defer cancel()

	startedAt := j.clock()
	deleted, err := j.sweeper.PurgeExpired(ctx, asOf)
	if err != nil {
		j.logger.Error("expiry sweep failed", zap.Time("as_of", asOf), zap.Error(err))
		return err
	}
	j.logger.Info("expiry sweep finished",
		zap.Time("as_of", asOf),
		zap.Int("deleted", deleted),
		zap.Duration("took", j.clock().Sub(startedAt)))
	return nil
}

func (j *StockJobs) HandlePurgeInactive(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.sweeper == nil {
		return errors.New("purge inactive: handler not configured")
	}
	var payload PurgeInactivePayload
	if err := decodePayload(t.Payload(), &payload); err != nil {
		return fmt.Errorf("purge inactive: %v: %w", err, asynq.SkipRetry)
	}

	ctx, cancel := j.withTimeout(ctx)
	defer cancel()

	deleted, err := j.sweeper.PurgeInactiveUnits(ctx, payload.ProductID)
	if err != nil {
		j.logger.Error("inactive purge failed", zap.String("product_id", payload.ProductID), zap.Error(err))
		return err
	}
	j.logger.Info("inactive purge finished", zap.String("product_id", payload.ProductID), zap.Int("deleted", deleted))
	return nil
}

func (j *StockJobs) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if j.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, j.timeout)
}

// decodePayload treats an empty body as an empty object.
func decodePayload(body []byte, dest any) error {
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, dest)
}
