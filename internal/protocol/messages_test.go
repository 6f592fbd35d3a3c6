package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientMessage_LocationUpdate(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"location:update","lat":52.52,"lng":13.405}`))
	require.NoError(t, err)
	assert.Equal(t, TypeLocationUpdate, msgType)

	loc, ok := msg.(LocationUpdateMsg)
	require.True(t, ok, "got %T", msg)
	assert.InDelta(t, 52.52, *loc.Lat, 1e-9)
	assert.InDelta(t, 13.405, *loc.Lng, 1e-9)
}

func TestParseClientMessage_LocationOutOfRange(t *testing.T) {
	cases := []string{
		`{"type":"location:update","lat":91,"lng":0}`,
		`{"type":"location:update","lat":0,"lng":-181}`,
		`{"type":"location:update","lat":0}`,
	}
	for _, c := range cases {
		_, _, err := ParseClientMessage([]byte(c))
		assert.Error(t, err, c)
	}
}

func TestParseClientMessage_ChatRequest(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"chat:request","target_id":"abc-123"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeChatRequest, msgType)
	assert.Equal(t, ChatRequestMsg{TargetID: "abc-123"}, msg)
}

func TestParseClientMessage_MissingIDs(t *testing.T) {
	for _, typ := range []string{TypeChatRequest, TypeChatAccept, TypeChatDecline, TypeChatEnd, TypeUserBlock, TypeUserReport} {
		_, _, err := ParseClientMessage([]byte(`{"type":"` + typ + `"}`))
		assert.Error(t, err, typ)
	}
}

func TestParseClientMessage_Report(t *testing.T) {
	_, msg, err := ParseClientMessage([]byte(`{"type":"user:report","target_id":"t1","category":"spam"}`))
	require.NoError(t, err)
	assert.Equal(t, ReportUserMsg{TargetID: "t1", Category: "spam"}, msg)

	_, _, err = ParseClientMessage([]byte(`{"type":"user:report","target_id":"t1"}`))
	assert.Error(t, err)
}

func TestParseClientMessage_Visibility(t *testing.T) {
	_, msg, err := ParseClientMessage([]byte(`{"type":"visibility:update","visible":false}`))
	require.NoError(t, err)
	v := msg.(VisibilityUpdateMsg)
	require.NotNil(t, v.Visible)
	assert.False(t, *v.Visible)

	_, _, err = ParseClientMessage([]byte(`{"type":"visibility:update","visible":"no"}`))
	assert.Error(t, err)
	_, _, err = ParseClientMessage([]byte(`{"type":"visibility:update"}`))
	assert.Error(t, err)
}

func TestParseClientMessage_EmergencyContact(t *testing.T) {
	_, msg, err := ParseClientMessage([]byte(`{"type":"emergency_contact:update","contact":"+4915112345678"}`))
	require.NoError(t, err)
	assert.Equal(t, "+4915112345678", *msg.(EmergencyContactUpdateMsg).Contact)

	_, msg, err = ParseClientMessage([]byte(`{"type":"emergency_contact:update","contact":null}`))
	require.NoError(t, err)
	assert.Nil(t, msg.(EmergencyContactUpdateMsg).Contact)

	_, _, err = ParseClientMessage([]byte(`{"type":"emergency_contact:update","contact":"call me"}`))
	assert.Error(t, err)
}

func TestParseClientMessage_Bare(t *testing.T) {
	for typ, want := range map[string]ClientMessage{
		TypePing:             PingMsg{},
		TypePanicTrigger:     PanicTriggerMsg{},
		TypeRadarSubscribe:   RadarSubscribeMsg{},
		TypeRadarUnsubscribe: RadarUnsubscribeMsg{},
	} {
		msgType, msg, err := ParseClientMessage([]byte(`{"type":"` + typ + `"}`))
		require.NoError(t, err, typ)
		assert.Equal(t, typ, msgType)
		assert.Equal(t, want, msg)
	}
}

func TestParseClientMessage_Errors(t *testing.T) {
	cases := map[string]string{
		"unknown type":     `{"type":"warp_drive"}`,
		"server-only type": `{"type":"radar:update"}`,
		"missing type":     `{"target_id":"x"}`,
		"empty type":       `{"type":""}`,
		"invalid json":     `{not json}`,
		"wrong field type": `{"type":"chat:request","target_id":42}`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, msg, err := ParseClientMessage([]byte(input))
			assert.Error(t, err)
			assert.Nil(t, msg)
		})
	}
}

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeError, ErrorMsg{Code: "in_cooldown", Message: "wait", ExpiresAt: 1700000000000})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "error", m["type"])
	assert.Equal(t, "in_cooldown", m["code"])
	assert.Equal(t, float64(1700000000000), m["expires_at"])
}

func TestNewServerMessage_OmitsZeroExpiry(t *testing.T) {
	data, err := NewServerMessage(TypeError, ErrorMsg{Code: "blocked", Message: "no"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "expires_at")
}

func TestNewServerMessage_EmptyPayload(t *testing.T) {
	data, err := NewServerMessage(TypePong, PongMsg{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(data))
}

func TestNewServerMessage_RejectsNonObject(t *testing.T) {
	_, err := NewServerMessage(TypePong, []int{1, 2})
	assert.Error(t, err)
}

func TestValidateEmergencyContact(t *testing.T) {
	for _, ok := range []string{"+14155550123", "a@b.co", " friend@example.org "} {
		assert.NoError(t, ValidateEmergencyContact(ok), ok)
	}
	for _, bad := range []string{"", "0123", "+0123", "no-at.example", "a@b"} {
		assert.Error(t, ValidateEmergencyContact(bad), bad)
	}
}

func TestValidateTags(t *testing.T) {
	assert.NoError(t, ValidateTags(nil))
	assert.NoError(t, ValidateTags([]string{"music", "coffee"}))
	assert.Error(t, ValidateTags([]string{" "}))
	assert.Error(t, ValidateTags(make([]string, MaxTags+1)))
}
