package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/drivewatch/drivewatch/internal/alerts"
	"github.com/drivewatch/drivewatch/internal/monitor"
)

// newServer builds the local HTTP surface: status page, websocket alert
// stream, monitor controls, position ingest and media upload.
func newServer(addr string, manager *monitor.Manager, speed *monitor.SpeedMonitor,
	positions *monitor.ChannelPositionSource, hub *alerts.Hub, maxUploadBytes int64,
	logger *zap.SugaredLogger) *http.Server {

	mux := http.NewServeMux()
	mux.HandleFunc("/", homepageHandler)
	mux.Handle("/ws", hub)

	mux.HandleFunc("/api/monitor/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := manager.StartMonitoring(r.Context()); err != nil {
			var perm *monitor.PermissionError
			if errors.As(err, &perm) {
				writeJSONError(w, http.StatusForbidden, err.Error())
				return
			}
			writeJSONError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, map[string]bool{"monitoring": true})
	})

	mux.HandleFunc("/api/monitor/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		manager.StopMonitoring()
		writeJSON(w, map[string]bool{"monitoring": false})
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"monitoring": manager.Monitoring(),
			"result":     manager.CurrentResult(),
			"speed_mph":  speed.CurrentSpeedMph(),
			"limit_mph":  speed.CurrentLimitMph(),
		}
		writeJSON(w, status)
	})

	mux.HandleFunc("/api/positions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Latitude    float64  `json:"latitude"`
			Longitude   float64  `json:"longitude"`
			SpeedMps    *float64 `json:"speed_mps"`
			TimestampMs int64    `json:"timestamp_ms"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid position payload: %v", err))
			return
		}
		ts := time.UnixMilli(payload.TimestampMs)
		if payload.TimestampMs == 0 {
			ts = time.Now()
		}
		positions.Publish(monitor.PositionUpdate{
			Latitude:  payload.Latitude,
			Longitude: payload.Longitude,
			SpeedMps:  payload.SpeedMps,
			Timestamp: ts,
		})
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("/api/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read upload body")
			return
		}

		result, err := manager.AnalyzeUpload(r.Context(), data, r.Header.Get("Content-Type"))
		if err != nil {
			var validation *monitor.ValidationError
			if errors.As(err, &validation) {
				writeJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			logger.Warnw("Upload analysis failed", "error", err)
			writeJSONError(w, http.StatusBadGateway, "analysis failed")
			return
		}
		writeJSON(w, result)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// homepageHandler serves a simple HTML homepage at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	// Only handle the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>drivewatch</title>
    <style>
        body {
            font-family: 'Courier New', Consolas, monospace;
            background: #000;
            color: #0f0;
            padding: 20px;
            line-height: 1.4;
        }
        a { color: #0ff; text-decoration: none; }
        a:hover { text-decoration: underline; }
        pre { margin: 0; }
        .header { color: #ff0; }
    </style>
</head>
<body>
<pre>
<span class="header">drivewatch</span>

Local driver vigilance monitor. Periodically classifies camera frames
for impairment signs and tracks vehicle speed against posted limits.

<span class="header">API Endpoints:</span>

  POST <a href="/api/monitor/start">/api/monitor/start</a>   - Arm the live capture loop
  POST /api/monitor/stop    - Disarm and release the camera
  GET  <a href="/api/status">/api/status</a>          - Current classification and speed
  POST /api/positions       - Ingest a geolocation fix
  POST /api/upload          - Analyze an uploaded image or video
  GET  /ws                  - Websocket alert stream (overlay/toast/notification)

<span class="header">Data Sources:</span>
  • OpenAI Vision API    - Frame impairment classification
  • Overpass API         - Posted speed limits (OpenStreetMap)
</pre>
</body>
</html>`

	if _, err := fmt.Fprint(w, html); err != nil {
		// Client went away mid-write; nothing useful to do.
		_ = err
	}
}
