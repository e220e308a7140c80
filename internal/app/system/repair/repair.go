// Package repair restores agreement between a community's member list and
// the per-user index after a multi-write failed half way and could not be
// compensated in line.
//
// Tasks are queued (Kafka, or an in-process channel when no brokers are
// configured) and applied by workers.RepairWorker. Applying a task is
// idempotent.
package repair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	communitystore "github.com/dalemusser/vecinal/internal/app/store/communities"
	usercommunitystore "github.com/dalemusser/vecinal/internal/app/store/usercommunities"
	"github.com/dalemusser/vecinal/internal/domain/models"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Kind names the interrupted operation.
type Kind string

const (
	// RollbackCreate: the community was written but its creator's index
	// record was not, and deleting the community failed.
	RollbackCreate Kind = "rollback_create"
	// RollbackJoin: the index record was written but the member append
	// failed, and deleting the index record failed.
	RollbackJoin Kind = "rollback_join"
)

// Task is one queued repair.
type Task struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	UserID      string    `json:"user_id"`
	CommunityID string    `json:"community_id"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewTask stamps an id and creation time.
func NewTask(kind Kind, userID string, communityID primitive.ObjectID, reason error) Task {
	t := Task{
		ID:          uuid.NewString(),
		Kind:        kind,
		UserID:      userID,
		CommunityID: communityID.Hex(),
		CreatedAt:   time.Now().UTC(),
	}
	if reason != nil {
		t.Reason = reason.Error()
	}
	return t
}

/*─────────────────────────────────────────────────────────────────────────────*
| Queues                                                                      |
*─────────────────────────────────────────────────────────────────────────────*/

// Queue accepts repair tasks.
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaQueue writes tasks to the repair topic keyed by community id.
type KafkaQueue struct {
	w messageWriter
}

func NewKafkaQueue(brokers []string, topic string) *KafkaQueue {
	return &KafkaQueue{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

func (q *KafkaQueue) Enqueue(ctx context.Context, t Task) error {
	value, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal repair task: %w", err)
	}
	if err := q.w.WriteMessages(ctx, kafka.Message{Key: []byte(t.CommunityID), Value: value}); err != nil {
		return fmt.Errorf("enqueue repair task: %w", err)
	}
	return nil
}

func (q *KafkaQueue) Close() error {
	if q == nil || q.w == nil {
		return nil
	}
	return q.w.Close()
}

// ErrQueueFull is returned by LocalQueue when its buffer is full.
var ErrQueueFull = errors.New("repair queue is full")

// LocalQueue buffers tasks in process. Tasks are lost on restart.
type LocalQueue struct {
	ch chan Task
}

func NewLocalQueue(size int) *LocalQueue {
	if size < 1 {
		size = 1
	}
	return &LocalQueue{ch: make(chan Task, size)}
}

func (q *LocalQueue) Enqueue(ctx context.Context, t Task) error {
	select {
	case q.ch <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Tasks is the receive side consumed by the worker.
func (q *LocalQueue) Tasks() <-chan Task { return q.ch }

/*─────────────────────────────────────────────────────────────────────────────*
| Reconciler                                                                  |
*─────────────────────────────────────────────────────────────────────────────*/

// CommunityStore is the subset of communitystore.Store used by repairs.
type CommunityStore interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (models.Community, error)
	Delete(ctx context.Context, id primitive.ObjectID) (int64, error)
}

// IndexStore is the subset of usercommunitystore.Store used by repairs.
type IndexStore interface {
	Insert(ctx context.Context, rec models.UserCommunity) error
	Exists(ctx context.Context, userID string, communityID primitive.ObjectID) (bool, error)
	Delete(ctx context.Context, userID string, communityID primitive.ObjectID) (int64, error)
}

// Outcome reports what Apply did.
type Outcome string

const (
	OutcomeConsistent        Outcome = "already_consistent"
	OutcomeDeletedCommunity  Outcome = "deleted_community"
	OutcomeDeletedIndex      Outcome = "deleted_index"
	OutcomeInsertedIndex     Outcome = "inserted_index"
	OutcomeNothingToRollback Outcome = "nothing_to_rollback"
)

var errUnknownKind = errors.New("unknown repair kind")

type Reconciler struct {
	communities CommunityStore
	index       IndexStore
	log         *zap.Logger
}

func NewReconciler(c CommunityStore, idx IndexStore, logger *zap.Logger) *Reconciler {
	return &Reconciler{communities: c, index: idx, log: logger}
}

// Apply makes the index and member list agree for the task's
// (user, community). A returned error means the task should be retried.
func (r *Reconciler) Apply(ctx context.Context, t Task) (Outcome, error) {
	cid, err := primitive.ObjectIDFromHex(t.CommunityID)
	if err != nil {
		return "", fmt.Errorf("repair %s: bad community id %q: %w", t.ID, t.CommunityID, err)
	}

	var out Outcome
	switch t.Kind {
	case RollbackCreate:
		out, err = r.rollbackCreate(ctx, t.UserID, cid)
	case RollbackJoin:
		out, err = r.rollbackJoin(ctx, t.UserID, cid)
	default:
		return "", fmt.Errorf("repair %s: %w: %q", t.ID, errUnknownKind, t.Kind)
	}
	if err != nil {
		return "", fmt.Errorf("repair %s (%s): %w", t.ID, t.Kind, err)
	}
	r.log.Info("repair applied",
		zap.String("task_id", t.ID),
		zap.String("kind", string(t.Kind)),
		zap.String("user_id", t.UserID),
		zap.String("community_id", t.CommunityID),
		zap.String("outcome", string(out)))
	return out, nil
}

func (r *Reconciler) rollbackCreate(ctx context.Context, userID string, cid primitive.ObjectID) (Outcome, error) {
	c, err := r.communities.GetByID(ctx, cid)
	if errors.Is(err, communitystore.ErrNotFound) {
		return OutcomeNothingToRollback, nil
	}
	if err != nil {
		return "", err
	}

	indexed, err := r.index.Exists(ctx, userID, cid)
	if err != nil {
		return "", err
	}
	if indexed {
		return OutcomeConsistent, nil
	}

	// Someone found and joined the community in the meantime. Deleting it
	// would strand their index records, so finish the creation instead.
	if len(c.Members) > 1 {
		err := r.index.Insert(ctx, models.UserCommunity{
			UserID:      userID,
			CommunityID: cid,
			Role:        models.IndexRoleAdmin,
			JoinedAt:    c.CreatedAt.UnixMilli(),
		})
		if err != nil && !errors.Is(err, usercommunitystore.ErrDuplicate) {
			return "", err
		}
		return OutcomeInsertedIndex, nil
	}

	if _, err := r.communities.Delete(ctx, cid); err != nil {
		return "", err
	}
	return OutcomeDeletedCommunity, nil
}

func (r *Reconciler) rollbackJoin(ctx context.Context, userID string, cid primitive.ObjectID) (Outcome, error) {
	c, err := r.communities.GetByID(ctx, cid)
	switch {
	case errors.Is(err, communitystore.ErrNotFound):
		// fall through to deleting the index record
	case err != nil:
		return "", err
	case c.HasMember(userID):
		return OutcomeConsistent, nil
	}

	n, err := r.index.Delete(ctx, userID, cid)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return OutcomeNothingToRollback, nil
	}
	return OutcomeDeletedIndex, nil
}
