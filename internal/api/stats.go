package api

import (
	"net/http"

	"github.com/yellowcooln/meshmap-engine/internal/broadcast"
	"github.com/yellowcooln/meshmap-engine/internal/ingest"
	"github.com/yellowcooln/meshmap-engine/internal/mqttclient"
)

// StatsResponse surfaces ingest/broadcast counters for dashboards and
// troubleshooting; distinct from /metrics, which is prometheus's own
// scrape format.
type StatsResponse struct {
	MQTTConnected    bool             `json:"mqtt_connected"`
	MessagesReceived int64            `json:"messages_received"`
	ParseResults     map[string]int64 `json:"parse_results"`
	TopTopics        map[string]int64 `json:"top_topics"`
	DecoderReady     bool             `json:"decoder_ready"`
	WSSubscribers    int              `json:"ws_subscribers"`
	QueueDropped     uint64           `json:"broadcast_queue_dropped"`
}

func StatsHandler(d *ingest.Dispatcher, hub *broadcast.Hub, bcast *broadcast.Broadcaster, mqtt *mqttclient.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := d.Snapshot()
		results := make(map[string]int64, len(s.ParseResults))
		for tag, n := range s.ParseResults {
			results[string(tag)] = n
		}

		resp := StatsResponse{
			MQTTConnected:    mqtt != nil && mqtt.IsConnected(),
			MessagesReceived: s.Received,
			ParseResults:     results,
			TopTopics:        s.TopTopics,
			DecoderReady:     s.DecoderReady,
			WSSubscribers:    hub.Count(),
			QueueDropped:     bcast.DroppedCount(),
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
