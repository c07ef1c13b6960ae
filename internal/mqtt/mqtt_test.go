package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/cell-balancer/internal/model"
)

type fakeMessage struct {
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return "bms/cell/command" }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestNewTopics(t *testing.T) {
	topics := NewTopics("bms/cell/7")
	assert.Equal(t, "bms/cell/7/status", topics.Status)
	assert.Equal(t, "bms/cell/7/events", topics.Events)
	assert.Equal(t, "bms/cell/7/command", topics.Command)
	assert.Equal(t, "bms/cell/7/reply", topics.Reply)
}

func TestFormatEvent(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))
	payload, err := FormatEvent(Event{Timestamp: ts, Name: EventThermalStop, Reason: "safety_cutoff"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"event":{"timestamp":"2026-03-01T11:30:00Z","name":"THERMAL_STOP","reason":"safety_cutoff"}}`, string(payload))
}

func TestFormatEvent_OmitsEmptyReason(t *testing.T) {
	payload, err := FormatEvent(Event{Timestamp: time.Unix(0, 0), Name: EventStartup})
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "reason")
}

func TestFormatStatus(t *testing.T) {
	payload, err := FormatStatus(model.Status{State: model.StateActive, Duty: 200, ChargeMAh: 1.5})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "active", decoded["state"])
	assert.Equal(t, float64(200), decoded["duty"])
}

func TestCommandHandler_RepliesWhenHandlerAnswers(t *testing.T) {
	var seen []byte
	var replies [][]byte
	handler := commandHandler(func(p []byte) []byte {
		seen = p
		return []byte(`{"ok":true}`)
	}, func(p []byte) { replies = append(replies, p) })

	handler(nil, fakeMessage{payload: []byte(`{"op":"status"}`)})

	assert.Equal(t, `{"op":"status"}`, string(seen))
	require.Len(t, replies, 1)
	assert.Equal(t, `{"ok":true}`, string(replies[0]))
}

func TestCommandHandler_NilReplyPublishesNothing(t *testing.T) {
	replied := false
	handler := commandHandler(func([]byte) []byte { return nil }, func([]byte) { replied = true })

	handler(nil, fakeMessage{payload: []byte(`x`)})
	assert.False(t, replied)
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()
	var p Publisher = f

	require.NoError(t, p.PublishEvent(Event{Name: EventStartup}))
	require.NoError(t, p.PublishStatus(model.Status{Iteration: 3}))
	require.NoError(t, p.Close())

	assert.Equal(t, []string{EventStartup}, f.EventNames())
	assert.Equal(t, uint64(3), f.Statuses()[0].Iteration)
	assert.True(t, f.Closed())

	f.PublishError = errors.New("broker down")
	assert.Error(t, p.PublishEvent(Event{Name: EventShutdown}))
	assert.Len(t, f.Events(), 1)
}

func TestDiscard(t *testing.T) {
	var p Publisher = Discard{}
	assert.NoError(t, p.PublishStatus(model.Status{}))
	assert.NoError(t, p.PublishEvent(Event{}))
	assert.NoError(t, p.Close())
}
