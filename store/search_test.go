package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestBuildSearchFilter_Empty(t *testing.T) {
	assert.Equal(t, bson.M{}, buildSearchFilter(SearchQuery{}))
}

func TestBuildSearchFilter_AllFields(t *testing.T) {
	status := StatusDelivered
	eventType := "order.created"
	from := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	filter := buildSearchFilter(SearchQuery{
		Status:    &status,
		EventType: &eventType,
		From:      &from,
		To:        &to,
	})

	assert.Equal(t, bson.M{
		"status":      StatusDelivered,
		"event_type":  "order.created",
		"received_at": bson.M{"$gte": from, "$lte": to},
	}, filter)
}

func TestBuildSearchFilter_OpenEndedRanges(t *testing.T) {
	from := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)

	filter := buildSearchFilter(SearchQuery{From: &from})
	assert.Equal(t, bson.M{"received_at": bson.M{"$gte": from}}, filter)

	filter = buildSearchFilter(SearchQuery{To: &from})
	assert.Equal(t, bson.M{"received_at": bson.M{"$lte": from}}, filter)
}

func TestHourBucketKey_String(t *testing.T) {
	k := hourBucketKey{Year: 2026, Month: 8, Day: 25, Hour: 9}
	assert.Equal(t, "2026-08-25 09:00", k.String())

	k = hourBucketKey{Year: 2026, Month: 12, Day: 1, Hour: 23}
	assert.Equal(t, "2026-12-01 23:00", k.String())
}
