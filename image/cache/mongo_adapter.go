package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoAdapter persists entries in a MongoDB collection.
type MongoAdapter struct {
	coll *mongo.Collection
}

// NewMongoAdapter ensures the lookup index exists and returns the adapter.
func NewMongoAdapter(ctx context.Context, db *mongo.Database, collection string) (*MongoAdapter, error) {
	if db == nil {
		return nil, fmt.Errorf("mongo cache adapter: database is nil")
	}
	if collection == "" {
		collection = "image_cache"
	}
	coll := db.Collection(collection)

	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "prompt_hash", Value: 1}, {Key: "provider", Value: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create image_cache index: %w", err)
	}
	return &MongoAdapter{coll: coll}, nil
}

func (a *MongoAdapter) FindExactMatch(ctx context.Context, hash, provider string) (*Entry, error) {
	var entry Entry
	err := a.coll.FindOne(ctx, bson.M{"prompt_hash": hash, "provider": provider}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (a *MongoAdapter) Store(ctx context.Context, entry *Entry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastAccessedAt.IsZero() {
		entry.LastAccessedAt = now
	}
	if entry.Metadata == "" {
		entry.Metadata = "{}"
	}
	if _, err := a.coll.InsertOne(ctx, entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

func (a *MongoAdapter) FindSimilar(ctx context.Context, q SimilarQuery) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 5
	}
	filter := bson.M{
		"theme":      q.Theme,
		"difficulty": q.Difficulty,
		"subject":    bson.M{"$regex": q.Subject, "$options": "i"},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "access_count", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := a.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (a *MongoAdapter) GalleryImages(ctx context.Context, opts GalleryOptions) ([]Entry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	filter := bson.M{"image_url": bson.M{"$ne": nil}}
	if opts.Theme != "" && opts.Theme != "all" {
		filter["theme"] = opts.Theme
	}

	sort := bson.D{{Key: "access_count", Value: -1}}
	if opts.OrderBy == OrderRecent {
		sort = bson.D{{Key: "created_at", Value: -1}}
	}

	findOpts := options.Find().
		SetSort(sort).
		SetLimit(int64(limit)).
		SetSkip(int64(opts.Offset))

	cursor, err := a.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (a *MongoAdapter) IncrementAccessCount(ctx context.Context, id string) error {
	_, err := a.coll.UpdateByID(ctx, id, bson.M{
		"$inc": bson.M{"access_count": 1},
		"$set": bson.M{"last_accessed_at": time.Now()},
	})
	return err
}

func (a *MongoAdapter) Cleanup(ctx context.Context, cutoff time.Time, minAccessCount int64) (int64, error) {
	result, err := a.coll.DeleteMany(ctx, bson.M{
		"last_accessed_at": bson.M{"$lt": cutoff},
		"access_count":     bson.M{"$lte": minAccessCount},
	})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

func (a *MongoAdapter) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{TopThemes: []ThemeCount{}}

	total, err := a.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	stats.TotalEntries = total

	// 总命中数
	hitsCursor, err := a.coll.Aggregate(ctx, mongo.Pipeline{
		bson.D{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$access_count"}}}},
	})
	if err != nil {
		return nil, err
	}
	var hits []struct {
		Total int64 `bson:"total"`
	}
	if err := hitsCursor.All(ctx, &hits); err != nil {
		return nil, err
	}
	if len(hits) > 0 {
		stats.TotalHits = hits[0].Total
	}

	// 前五热门主题
	themesCursor, err := a.coll.Aggregate(ctx, mongo.Pipeline{
		bson.D{{Key: "$group", Value: bson.M{"_id": "$theme", "count": bson.M{"$sum": 1}}}},
		bson.D{{Key: "$sort", Value: bson.M{"count": -1}}},
		bson.D{{Key: "$limit", Value: 5}},
	})
	if err != nil {
		return nil, err
	}
	if err := themesCursor.All(ctx, &stats.TopThemes); err != nil {
		return nil, err
	}
	return stats, nil
}
