package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/satlink/model"
)

func TestDecodeIngest(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		shape   IngestShape
		level   model.Level
		source  string
		event   string
		wantErr bool
	}{
		{
			name:   "bare",
			body:   `{"level":"warn","source":"ground","event":"crc","details":{"seq":3}}`,
			shape:  ShapeBare,
			level:  model.LevelWarn,
			source: "ground",
			event:  "crc",
		},
		{
			name:   "envelope",
			body:   `{"status":"ok","data":{"level":"ALERT","source":"satellite","event":"WIPE_LOGS"},"ts":12}`,
			shape:  ShapeEnvelope,
			level:  model.LevelAlert,
			source: "satellite",
			event:  "WIPE_LOGS",
		},
		{
			name:   "defaults",
			body:   `{"event":"conn:open"}`,
			shape:  ShapeBare,
			level:  model.LevelInfo,
			source: "unknown",
			event:  "conn:open",
		},
		{name: "array", body: `[1,2]`, wantErr: true},
		{name: "empty object", body: `{}`, wantErr: true},
		{name: "details not object", body: `{"event":"x","details":[1]}`, wantErr: true},
		{name: "garbage", body: `{"event":`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, err := DecodeIngest([]byte(tc.body))
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidEntry)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.shape, in.Shape)
			assert.Equal(t, tc.level, in.Level)
			assert.Equal(t, tc.source, in.Source)
			assert.Equal(t, tc.event, in.Event)
			assert.NotNil(t, in.Details)
		})
	}
}
