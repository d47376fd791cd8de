package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventJSONRoundTrip(t *testing.T) {
	event := &AuditEvent{
		ID:           7,
		Timestamp:    time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		EventType:    EventTypeUserImport,
		Status:       EventStatusSuccess,
		AppKey:       "admin-console",
		ResourceType: ResourceTypeUser,
		ResourceID:   "batch",
		Metadata:     map[string]interface{}{"rows": float64(12)},
	}

	data, err := event.ToJSON()
	require.NoError(t, err)

	parsed, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, event, parsed)
}

func TestSearchFilterMatches(t *testing.T) {
	now := time.Now().UTC()
	event := &AuditEvent{
		Timestamp:    now,
		EventType:    EventTypeSettingsWrite,
		Status:       EventStatusSuccess,
		AppKey:       "wiki",
		UserID:       "user-jane",
		ResourceType: ResourceTypeSettings,
	}

	assert.True(t, (&SearchFilter{}).Matches(event))
	assert.True(t, (&SearchFilter{AppKey: "wiki"}).Matches(event))
	assert.False(t, (&SearchFilter{AppKey: "payroll"}).Matches(event))
	assert.True(t, (&SearchFilter{UserID: "user-jane"}).Matches(event))
	assert.False(t, (&SearchFilter{UserID: "user-bob"}).Matches(event))

	denied := EventStatusDenied
	assert.False(t, (&SearchFilter{Status: &denied}).Matches(event))

	assert.True(t, (&SearchFilter{
		EventTypes: []EventType{EventTypeSettingsRead, EventTypeSettingsWrite},
	}).Matches(event))
	assert.False(t, (&SearchFilter{
		EventTypes: []EventType{EventTypeSettingsRead},
	}).Matches(event))

	earlier := now.Add(-time.Hour)
	later := now.Add(time.Hour)
	assert.True(t, (&SearchFilter{StartTime: &earlier, EndTime: &later}).Matches(event))
	assert.False(t, (&SearchFilter{StartTime: &later}).Matches(event))
	assert.False(t, (&SearchFilter{EndTime: &earlier}).Matches(event))
}
