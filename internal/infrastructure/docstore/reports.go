package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"safereport/internal/domain/apperr"
	"safereport/internal/domain/models"
)

// reportDocument is the stored shape of a report
type reportDocument struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Location    string             `bson:"location"`
	Description string             `bson:"description"`
	Images      []string           `bson:"images"`
	AudioURL    string             `bson:"audioUrl"`
	Timestamp   time.Time          `bson:"timestamp"`
	Status      string             `bson:"status"`
}

func toDocument(r *models.StoredReport) reportDocument {
	images := r.Images
	if images == nil {
		images = []string{}
	}
	return reportDocument{
		Location:    r.Location,
		Description: r.Description,
		Images:      images,
		AudioURL:    r.AudioURL,
		Timestamp:   r.Timestamp,
		Status:      string(r.Status),
	}
}

func (d reportDocument) toModel() (*models.StoredReport, error) {
	status := models.ReportStatus(d.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("report %s: unknown report status %q", d.ID.Hex(), d.Status)
	}
	images := d.Images
	if images == nil {
		images = []string{}
	}
	return &models.StoredReport{
		ID:          d.ID.Hex(),
		Location:    d.Location,
		Description: d.Description,
		Images:      images,
		AudioURL:    d.AudioURL,
		Timestamp:   d.Timestamp.UTC(),
		Status:      status,
	}, nil
}

// statusFilter builds the query document for a listing
// listSort orders newest first; equal timestamps fall back to id ascending.
func listSort() bson.D {
	return bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: 1}}
}

func statusFilter(filter models.ReportFilter) bson.M {
	q := bson.M{}
	if filter.Status != "" {
		q["status"] = string(filter.Status)
	}
	return q
}

// ReportStore implements report persistence on a Mongo collection
type ReportStore struct {
	col *mongo.Collection
}

// NewReportStore creates a store over the given collection
func NewReportStore(col *mongo.Collection) *ReportStore {
	return &ReportStore{col: col}
}

// Create inserts a report and returns its ObjectID hex
func (s *ReportStore) Create(ctx context.Context, report *models.StoredReport) (string, error) {
	res, err := s.col.InsertOne(ctx, toDocument(report))
	if err != nil {
		return "", fmt.Errorf("failed to insert report: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

// Get fetches one report
func (s *ReportStore) Get(ctx context.Context, id string) (*models.StoredReport, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, apperr.NotFound("get", "report %s not found", id)
	}
	var doc reportDocument
	err = s.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("get", "report %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return doc.toModel()
}

// List returns matching reports, newest first
func (s *ReportStore) List(ctx context.Context, filter models.ReportFilter) ([]*models.StoredReport, error) {
	opts := options.Find().SetSort(listSort())

	cur, err := s.col.Find(ctx, statusFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer cur.Close(ctx)

	var reports []*models.StoredReport
	for cur.Next(ctx) {
		var doc reportDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode report: %w", err)
		}
		report, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}
	return reports, nil
}

// UpdateStatus sets only the status field
func (s *ReportStore) UpdateStatus(ctx context.Context, id string, status models.ReportStatus) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return apperr.NotFound("update_status", "report %s not found", id)
	}
	res, err := s.col.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"status": string(status)}})
	if err != nil {
		return fmt.Errorf("failed to update report status: %w", err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("update_status", "report %s not found", id)
	}
	return nil
}
