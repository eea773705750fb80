package overpass

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMaxspeed(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		want  *float64
		delta float64
	}{
		{name: "bare number is km/h", raw: "50", want: floatPtr(31.07), delta: 0.01},
		{name: "explicit mph", raw: "30 mph", want: floatPtr(30), delta: 0},
		{name: "mph without space", raw: "30mph", want: floatPtr(30), delta: 0},
		{name: "none means no limit", raw: "none", want: nil},
		{name: "empty string", raw: "", want: nil},
		{name: "unparseable", raw: "walk", want: nil},
		{name: "garbage suffix", raw: "fifty mph", want: nil},
		{name: "100 km/h", raw: "100", want: floatPtr(62.14), delta: 0.01},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseMaxspeed(tc.raw)
			if tc.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tc.want, *got, tc.delta)
		})
	}
}

func TestSpeedLimit_FirstTaggedValueWins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		require.NoError(t, r.ParseForm())
		assert.Contains(t, r.Form.Get("data"), "maxspeed")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"elements":[
			{"id":1,"type":"way","tags":{"maxspeed":"50","name":"Main St"}},
			{"id":2,"type":"way","tags":{"maxspeed":"30 mph"}}
		]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	limit, err := client.SpeedLimit(context.Background(), 38.0675, -120.5436, 60)
	require.NoError(t, err)
	require.NotNil(t, limit)
	assert.InDelta(t, 31.07, *limit, 0.01)
}

func TestSpeedLimit_NoTaggedWays(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"elements":[]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	limit, err := client.SpeedLimit(context.Background(), 38.0675, -120.5436, 60)
	require.NoError(t, err)
	assert.Nil(t, limit)
}

func TestSpeedLimit_DerestrictedRoad(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"elements":[{"id":1,"type":"way","tags":{"maxspeed":"none"}}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	limit, err := client.SpeedLimit(context.Background(), 48.1, 11.5, 60)
	require.NoError(t, err)
	assert.Nil(t, limit, "maxspeed=none means unknown, not zero")
}

func TestSpeedLimit_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too busy", http.StatusGatewayTimeout)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.SpeedLimit(context.Background(), 38.0675, -120.5436, 60)
	assert.Error(t, err)
}

func TestSpeedLimit_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.SpeedLimit(context.Background(), 38.0675, -120.5436, 60)
	assert.Error(t, err)
}

func floatPtr(f float64) *float64 { return &f }
