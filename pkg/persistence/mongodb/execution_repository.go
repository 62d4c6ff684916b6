package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/metis/pkg/models"
	"github.com/dukex/metis/pkg/persistence"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var activeStatuses = bson.A{string(models.WorkflowStatusInQueue), string(models.WorkflowStatusRunning)}

// ExecutionRepository handles execution-related collection operations.
type ExecutionRepository struct {
	collection *mongo.Collection
	logger     *slog.Logger
}

func NewExecutionRepository(collection *mongo.Collection, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{collection: collection, logger: logger}
}

func (er *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	doc, err := toDocument(execution)
	if err != nil {
		return err
	}

	_, err = er.collection.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
		}

		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

func (er *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	return er.findOne(ctx, "GetByID", id, er.collection.FindOne(ctx, bson.M{"_id": id}))
}

// ClaimExecution uses FindOneAndUpdate so the eligibility check and the ownership write are
// a single atomic document operation.
func (er *ExecutionRepository) ClaimExecution(ctx context.Context, id string, claim persistence.Claim) (*models.Execution, error) {
	result := er.collection.FindOneAndUpdate(ctx,
		claimFilter(id, claim.StaleBefore),
		claimUpdate(claim),
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)

	execution, err := er.findOne(ctx, "ClaimExecution", id, result)
	if persistence.IsExecutionNotFound(err) {
		return nil, persistence.NewExecutionError("ClaimExecution", id, persistence.ErrExecutionNotClaimable)
	}

	return execution, err
}

func claimFilter(id string, staleBefore time.Time) bson.M {
	return bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{"status": string(models.WorkflowStatusInQueue)},
			bson.M{
				"status": string(models.WorkflowStatusRunning),
				"$or": bson.A{
					bson.M{"updated_date": nil},
					bson.M{"updated_date": bson.M{"$lt": staleBefore}},
				},
			},
		},
	}
}

func claimUpdate(claim persistence.Claim) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "status", Value: bson.D{{Key: "$literal", Value: string(models.WorkflowStatusRunning)}}},
			{Key: "claimed_by", Value: bson.D{{Key: "$literal", Value: claim.Owner}}},
			{Key: "updated_date", Value: claim.At},
			{Key: "started_date", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$started_date", claim.At}}}},
		}}},
	}
}

func (er *ExecutionRepository) IsCancelling(ctx context.Context, id string) (bool, error) {
	var doc struct {
		Cancelling bool `bson:"cancelling"`
	}

	err := er.collection.FindOne(ctx, bson.M{"_id": id},
		options.FindOne().SetProjection(bson.M{"cancelling": 1})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, persistence.NewExecutionError("IsCancelling", id, persistence.ErrExecutionNotFound)
		}

		return false, fmt.Errorf("failed to query cancelling state: %w", err)
	}

	return doc.Cancelling, nil
}

func (er *ExecutionRepository) SetCancellingState(ctx context.Context, id string) error {
	return er.updateOne(ctx, "SetCancellingState", id, bson.M{"$set": bson.M{"cancelling": true}})
}

func (er *ExecutionRepository) Overwrite(ctx context.Context, execution *models.Execution) error {
	doc, err := toDocument(execution)
	if err != nil {
		return err
	}

	result, err := er.collection.ReplaceOne(ctx, bson.M{"_id": execution.ID}, doc)
	if err != nil {
		return persistence.NewExecutionError("Overwrite", execution.ID, err)
	}

	if result.MatchedCount == 0 {
		return persistence.NewExecutionError("Overwrite", execution.ID, persistence.ErrExecutionNotFound)
	}

	return nil
}

func (er *ExecutionRepository) PatchPlugins(ctx context.Context, execution *models.Execution) error {
	plugins, err := encodePlugins(execution.Plugins)
	if err != nil {
		return err
	}

	return er.updateOne(ctx, "PatchPlugins", execution.ID, bson.M{"$set": bson.M{"plugins": plugins}})
}

func (er *ExecutionRepository) PatchMonitorInformation(ctx context.Context, execution *models.Execution) error {
	plugins, err := encodePlugins(execution.Plugins)
	if err != nil {
		return err
	}

	return er.updateOne(ctx, "PatchMonitorInformation", execution.ID, bson.M{"$set": bson.M{
		"plugins":      plugins,
		"updated_date": execution.UpdatedDate,
	}})
}

func (er *ExecutionRepository) ExistsAndNotCompleted(ctx context.Context, datasetID string) (string, error) {
	var doc struct {
		ID string `bson:"_id"`
	}

	err := er.collection.FindOne(ctx,
		bson.M{"dataset_id": datasetID, "status": bson.M{"$in": activeStatuses}},
		options.FindOne().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "created_date", Value: 1}}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", nil
		}

		return "", fmt.Errorf("failed to query active execution: %w", err)
	}

	return doc.ID, nil
}

func (er *ExecutionRepository) StaleExecutions(ctx context.Context, olderThan time.Time, limit int) ([]*models.Execution, error) {
	filter := bson.M{
		"status": bson.M{"$in": activeStatuses},
		"$or": bson.A{
			bson.M{"updated_date": bson.M{"$lt": olderThan}},
			bson.M{"updated_date": nil, "created_date": bson.M{"$lt": olderThan}},
		},
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "priority", Value: -1}, {Key: "created_date", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := er.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale executions: %w", err)
	}

	var docs []*executionDocument

	err = cursor.All(ctx, &docs)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stale executions: %w", err)
	}

	executions := make([]*models.Execution, 0, len(docs))

	for _, doc := range docs {
		execution, err := fromDocument(doc)
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	return executions, nil
}

func (er *ExecutionRepository) findOne(_ context.Context, op, id string, result *mongo.SingleResult) (*models.Execution, error) {
	var doc executionDocument

	err := result.Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, persistence.NewExecutionError(op, id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError(op, id, err)
	}

	return fromDocument(&doc)
}

func (er *ExecutionRepository) updateOne(ctx context.Context, op, id string, update bson.M) error {
	result, err := er.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return persistence.NewExecutionError(op, id, err)
	}

	if result.MatchedCount == 0 {
		return persistence.NewExecutionError(op, id, persistence.ErrExecutionNotFound)
	}

	return nil
}
