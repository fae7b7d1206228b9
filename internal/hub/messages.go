package hub

import (
	"encoding/json"
)

// HandleMessage dispatches one client message from subscriber id.
// Malformed and unknown messages are logged and dropped.
func (r *Registry) HandleMessage(id string, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		r.logger.Warn("invalid client message", "id", id, "error", err)
		return
	}

	var err error
	switch msg.Type {
	case TypePing:
		r.RecordHeartbeat(id)
		err = r.Send(id, TypePong, nil)

	case TypeGetCurrentPrice:
		if latest, ok := r.history.Latest(); ok {
			err = r.Send(id, TypeCurrentPrice, latest)
		} else {
			err = r.Send(id, TypeCurrentPrice, map[string]string{"error": "No price data available"})
		}

	case TypeGetPriceHistory:
		limit := r.historyLimit(msg.Data)
		err = r.Send(id, TypePriceHistory, historyData(r.history.Snapshot(limit)))

	case TypeStartStreaming:
		r.logger.Info("subscriber started streaming", "id", id)
		if err = r.SetActive(id, true); err == nil {
			err = r.Send(id, TypeStreamingStarted, map[string]string{"status": TypeStreamingStarted})
		}

	case TypeStopStreaming:
		r.logger.Info("subscriber stopped streaming", "id", id)
		if err = r.SetActive(id, false); err == nil {
			err = r.Send(id, TypeStreamingStopped, map[string]string{"status": TypeStreamingStopped})
		}

	default:
		r.logger.Warn("unknown client message type", "id", id, "type", msg.Type)
		return
	}

	if err != nil {
		r.logger.Debug("reply to client message failed", "id", id, "type", msg.Type, "error", err)
	}
}

// historyLimit reads {"limit": n} from a get_price_history request.
func (r *Registry) historyLimit(raw json.RawMessage) int {
	limit := r.cfg.DefaultHistoryLimit
	if len(raw) == 0 {
		return limit
	}

	var params struct {
		Limit *int `json:"limit"`
	}
	if err := json.Unmarshal(raw, &params); err != nil || params.Limit == nil || *params.Limit <= 0 {
		return limit
	}
	return *params.Limit
}
