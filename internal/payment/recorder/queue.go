package recorder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/smallbiznis/folio/internal/payment/domain"
	"github.com/smallbiznis/folio/pkg/db"
	"go.uber.org/zap"
)

const (
	NameQueue         = "queue"
	TypePaymentRecord = "payment:record"
	QueueAudit        = "audit"

	defaultMaxRetry = 10
)

// Enqueuer is the part of *asynq.Client the recorder needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueRecorder hands the audit record to an asynq worker so the deposit
// never waits on the audit insert.
type QueueRecorder struct {
	enqueuer Enqueuer
	maxRetry int
}

func NewQueueRecorder(enqueuer Enqueuer) *QueueRecorder {
	return &QueueRecorder{enqueuer: enqueuer, maxRetry: defaultMaxRetry}
}

func (r *QueueRecorder) Name() string { return NameQueue }

func (r *QueueRecorder) Record(ctx context.Context, payment domain.Payment) error {
	task, err := NewPaymentRecordTask(payment)
	if err != nil {
		return err
	}
	_, err = r.enqueuer.EnqueueContext(ctx, task,
		asynq.Queue(QueueAudit),
		asynq.MaxRetry(r.maxRetry),
		asynq.TaskID(TypePaymentRecord+":"+payment.ID.String()),
	)
	return err
}

func NewPaymentRecordTask(payment domain.Payment) (*asynq.Task, error) {
	b, err := json.Marshal(payment)
	if err != nil {
		return nil, fmt.Errorf("marshal payment record: %w", err)
	}
	return asynq.NewTask(TypePaymentRecord, b), nil
}

// HandlePaymentRecord inserts queued audit records. A duplicate insert means an
// earlier attempt already landed, so it is treated as success.
func HandlePaymentRecord(direct *DirectRecorder, log *zap.Logger) asynq.HandlerFunc {
	log = log.Named("payment.recorder")
	return func(ctx context.Context, task *asynq.Task) error {
		var payment domain.Payment
		if err := json.Unmarshal(task.Payload(), &payment); err != nil {
			log.Error("invalid payment record payload", zap.Error(err))
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		status, err := domain.ParseRecordStatus(string(payment.Status))
		if err != nil {
			log.Error("invalid payment record status",
				zap.String("payment_id", payment.ID.String()),
				zap.String("status", string(payment.Status)),
			)
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		payment.Status = status
		if retried, ok := asynq.GetRetryCount(ctx); ok {
			payment.RetryCount = retried
		}

		if err := direct.Record(ctx, payment); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return nil
			}
			log.Warn("payment record insert failed",
				zap.String("payment_id", payment.ID.String()),
				zap.String("invoice_id", payment.InvoiceID.String()),
				zap.Int("retry_count", payment.RetryCount),
				zap.Error(err),
			)
			return err
		}
		return nil
	}
}
