package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// SearchQuery filters events by AND of the provided fields. Timestamp bounds
// apply to received_at.
type SearchQuery struct {
	Status    *string
	EventType *string
	From      *time.Time
	To        *time.Time
	Skip      int64
	Limit     int64
}

// HistogramBucket is one UTC hour of received events, keyed "YYYY-MM-DD HH:00".
type HistogramBucket struct {
	ID    string `json:"_id"`
	Count int64  `json:"count"`
}

// SearchSummary aggregates the filtered events.
type SearchSummary struct {
	StatusCounts    map[string]int64  `json:"status_counts"`
	EventTypeCounts map[string]int64  `json:"event_type_counts"`
	HourlyHistogram []HistogramBucket `json:"hourly_histogram"`
}

// SearchResult is a page of matching events plus summary aggregations over
// the full filtered set.
type SearchResult struct {
	Data    []Event       `json:"data"`
	Summary SearchSummary `json:"summary"`
}

// Search returns a page of events matching the query together with status
// counts, event-type counts, and an ascending hourly histogram.
func (s *EventStore) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	filter := buildSearchFilter(q)

	cursor, err := s.events.Find(ctx, filter,
		options.Find().SetSkip(q.Skip).SetLimit(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("search find: %w", err)
	}
	data := []Event{}
	if err := cursor.All(ctx, &data); err != nil {
		return nil, fmt.Errorf("search decode: %w", err)
	}

	statusCounts, err := s.groupCounts(ctx, filter, "$status")
	if err != nil {
		return nil, err
	}
	typeCounts, err := s.groupCounts(ctx, filter, "$event_type")
	if err != nil {
		return nil, err
	}
	histogram, err := s.hourlyHistogram(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &SearchResult{
		Data: data,
		Summary: SearchSummary{
			StatusCounts:    statusCounts,
			EventTypeCounts: typeCounts,
			HourlyHistogram: histogram,
		},
	}, nil
}

// buildSearchFilter translates a SearchQuery into a Mongo filter document.
func buildSearchFilter(q SearchQuery) bson.M {
	filter := bson.M{}
	if q.Status != nil {
		filter["status"] = *q.Status
	}
	if q.EventType != nil {
		filter["event_type"] = *q.EventType
	}
	if q.From != nil || q.To != nil {
		ts := bson.M{}
		if q.From != nil {
			ts["$gte"] = *q.From
		}
		if q.To != nil {
			ts["$lte"] = *q.To
		}
		filter["received_at"] = ts
	}
	return filter
}

func (s *EventStore) groupCounts(ctx context.Context, filter bson.M, field string) (map[string]int64, error) {
	pipeline := []bson.M{
		{"$match": filter},
		{"$group": bson.M{"_id": field, "count": bson.M{"$sum": 1}}},
	}

	cursor, err := s.events.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", field, err)
	}
	var rows []struct {
		ID    *string `bson:"_id"`
		Count int64   `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("aggregate %s decode: %w", field, err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		key := "null"
		if row.ID != nil {
			key = *row.ID
		}
		counts[key] = row.Count
	}
	return counts, nil
}

func (s *EventStore) hourlyHistogram(ctx context.Context, filter bson.M) ([]HistogramBucket, error) {
	pipeline := []bson.M{
		{"$match": filter},
		{"$group": bson.M{
			"_id": bson.M{
				"year":  bson.M{"$year": "$received_at"},
				"month": bson.M{"$month": "$received_at"},
				"day":   bson.M{"$dayOfMonth": "$received_at"},
				"hour":  bson.M{"$hour": "$received_at"},
			},
			"count": bson.M{"$sum": 1},
		}},
		{"$sort": bson.M{"_id": 1}},
	}

	cursor, err := s.events.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate histogram: %w", err)
	}
	var rows []struct {
		ID    hourBucketKey `bson:"_id"`
		Count int64         `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("aggregate histogram decode: %w", err)
	}

	buckets := make([]HistogramBucket, 0, len(rows))
	for _, row := range rows {
		buckets = append(buckets, HistogramBucket{ID: row.ID.String(), Count: row.Count})
	}
	return buckets, nil
}

type hourBucketKey struct {
	Year  int `bson:"year"`
	Month int `bson:"month"`
	Day   int `bson:"day"`
	Hour  int `bson:"hour"`
}

// String renders the bucket key in the "YYYY-MM-DD HH:00" form.
func (k hourBucketKey) String() string {
	return fmt.Sprintf("%d-%02d-%02d %02d:00", k.Year, k.Month, k.Day, k.Hour)
}
