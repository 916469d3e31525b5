package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Event Codec ────────────────────────────────────────────────────────────

func TestEncodeDecode_RoundTrip(t *testing.T) {
	events := []Event{
		Connect("detector-a"),
		Report(KindConnected, NoError),
		Report(KindConnected, UnknownChild),
		Schedule("obs-42"),
		Report(KindScheduled, InvalidSchedule),
		NewEvent(KindCancelSchedule),
		Report(KindScheduleCancelled, NoError),
		NewEvent(KindClaim),
		Report(KindClaimed, LowQuality),
		NewEvent(KindPrepare),
		Report(KindPrepared, NoError),
		NewEvent(KindResume),
		Report(KindResumed, NoError),
		NewEvent(KindSuspend),
		Report(KindSuspended, Disabled),
		NewEvent(KindRelease),
		Report(KindReleased, Timeout),
	}

	for _, ev := range events {
		t.Run(ev.Kind.String(), func(t *testing.T) {
			data, err := Encode(ev)
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, ev, got)
		})
	}
}

func TestEncode_UsesNames(t *testing.T) {
	data, err := Encode(Report(KindClaimed, LowQuality))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "CLAIMED", raw["kind"])
	assert.Equal(t, "LowQuality", raw["result"])
	assert.NotEmpty(t, raw["id"])
}

func TestEncode_InvalidKind(t *testing.T) {
	_, err := Encode(Event{Kind: KindUnknown})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{"kind":`},
		{"missing kind", `{"id":"x"}`},
		{"unknown kind", `{"id":"x","kind":"EXPLODE"}`},
		{"unknown result", `{"id":"x","kind":"CLAIMED","result":"Maybe"}`},
		{"numeric kind", `{"id":"x","kind":3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.payload))
			assert.Error(t, err)
		})
	}
}

// ─── Kinds, States and Results ──────────────────────────────────────────────

func TestKind_Reply(t *testing.T) {
	assert.Equal(t, KindConnected, KindConnect.Reply())
	assert.Equal(t, KindScheduled, KindSchedule.Reply())
	assert.Equal(t, KindScheduleCancelled, KindCancelSchedule.Reply())
	assert.Equal(t, KindClaimed, KindClaim.Reply())
	assert.Equal(t, KindPrepared, KindPrepare.Reply())
	assert.Equal(t, KindResumed, KindResume.Reply())
	assert.Equal(t, KindSuspended, KindSuspend.Reply())
	assert.Equal(t, KindReleased, KindRelease.Reply())
	assert.Equal(t, KindUnknown, KindClaimed.Reply())
}

func TestKind_Classes(t *testing.T) {
	assert.True(t, KindRelease.IsRequest())
	assert.False(t, KindConnect.IsRequest())
	assert.True(t, KindPrepared.IsReport())
	assert.False(t, KindScheduled.IsReport())
}

func TestState_TextRoundTrip(t *testing.T) {
	for s := StateDisabled; s <= StateGoingDown; s++ {
		text, err := s.MarshalText()
		require.NoError(t, err)

		var got State
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, s, got)
	}

	_, err := ParseState("sleeping")
	assert.ErrorIs(t, err, ErrUnknownState)
}

func TestState_Classes(t *testing.T) {
	assert.True(t, StateDisabled.Terminal())
	assert.True(t, StateGoingDown.Terminal())
	assert.False(t, StateIdle.Terminal())
	assert.True(t, StateClaiming.Waiting())
	assert.False(t, StateClaimed.Waiting())
}

func TestResult_Err(t *testing.T) {
	assert.NoError(t, NoError.Err())

	err := LowQuality.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LowQuality")

	wrapped := errors.Join(errors.New("context"), err)
	got, ok := AsResult(wrapped)
	require.True(t, ok)
	assert.Equal(t, LowQuality, got)

	_, ok = AsResult(errors.New("plain"))
	assert.False(t, ok)
}

// ─── Command Text ───────────────────────────────────────────────────────────

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text     string
		wantKind Kind
		wantArgs []string
		want     Result
	}{
		{"CLAIM", KindClaim, nil, NoError},
		{"  release  ", KindRelease, nil, NoError},
		{"SCHEDULE obs-42", KindSchedule, []string{"obs-42"}, NoError},
		{"SCHEDULE  obs-42 ", KindSchedule, []string{"obs-42"}, NoError},
		{"CANCELSCHEDULE", KindCancelSchedule, nil, NoError},
		{"SCHEDULE", KindUnknown, nil, IncorrectParameterCount},
		{"SCHEDULE a,b", KindUnknown, nil, IncorrectParameterCount},
		{"SCHEDULE a,", KindUnknown, nil, IncorrectParameterCount},
		{"CLAIM now", KindUnknown, nil, IncorrectParameterCount},
		{"CLAIMED", KindUnknown, nil, UnknownCommand},
		{"CONNECT node", KindUnknown, nil, UnknownCommand},
		{"LAUNCH", KindUnknown, nil, UnknownCommand},
		{"", KindUnknown, nil, UnknownCommand},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			cmd, result := ParseCommand(tt.text)
			assert.Equal(t, tt.want, result)
			assert.Equal(t, tt.wantKind, cmd.Kind)
			assert.Equal(t, tt.wantArgs, cmd.Args)
		})
	}
}

func TestCommand_StringAndEvent(t *testing.T) {
	cmd, result := ParseCommand("schedule obs-7")
	require.Equal(t, NoError, result)
	assert.Equal(t, "SCHEDULE obs-7", cmd.String())

	ev := cmd.Event()
	assert.Equal(t, KindSchedule, ev.Kind)
	assert.Equal(t, "obs-7", ev.ConfigRef)
	assert.NotEmpty(t, ev.ID)

	cmd, _ = ParseCommand("SUSPEND")
	assert.Equal(t, "SUSPEND", cmd.String())
	assert.Equal(t, KindSuspend, cmd.Event().Kind)
}
