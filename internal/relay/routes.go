package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/secureera/secureera/internal/rooms"
	"github.com/secureera/secureera/internal/version"
)

// HealthStats is the stats block of the health response.
type HealthStats struct {
	rooms.Stats
	TotalConnections int `json:"totalConnections"`
}

// HealthResponse is served on /health.
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Stats     HealthStats `json:"stats"`
}

// originAllowed reports whether origin may open a websocket. An empty origin
// (non-browser client) is always allowed, and "*" allows everything.
func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// NewUpgrader returns a websocket upgrader restricted to allowed origins.
func NewUpgrader(allowed []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(allowed, r.Header.Get("Origin"))
		},
	}
}

// ServeWs returns an http.HandlerFunc that upgrades to a websocket and
// attaches the connection to hub.
func ServeWs(hub *Hub, upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("failed to upgrade connection", "remote", r.RemoteAddr, "error", err)
			return
		}
		hub.Attach(conn)
	}
}

// HealthHandler reports liveness and room statistics.
func HealthHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, HealthResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC(),
			Stats: HealthStats{
				Stats:            hub.rooms.Snapshot(),
				TotalConnections: hub.conns.Len(),
			},
		})
	}
}

// RootHandler describes the service.
func RootHandler(w http.ResponseWriter, r *http.Request) {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	writeJSON(w, map[string]any{
		"name":        "SecureEra Signaling Server",
		"version":     version.Version,
		"description": "WebSocket signaling server for P2P file sharing",
		"endpoints": map[string]string{
			"health":    "/health",
			"websocket": scheme + "://" + r.Host + "/ws",
		},
	})
}

// NewRouter wires the relay endpoints. Plain HTTP routes get CORS headers
// for allowed origins; the websocket route enforces them at upgrade.
func NewRouter(hub *Hub, allowedOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", ServeWs(hub, NewUpgrader(allowedOrigins)))
	r.HandleFunc("/health", HealthHandler(hub)).Methods(http.MethodGet)
	r.HandleFunc("/", RootHandler).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
