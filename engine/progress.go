package engine

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/url"

	"github.com/gorilla/websocket"

	flowpilot "github.com/goliatone/go-flowpilot"
	"github.com/goliatone/go-flowpilot/graph"
)

// PreviewPayload is an in-flight preview image pushed by the engine.
type PreviewPayload struct {
	Image    []byte
	MimeType string
}

// ProgressEvent is one sampled progress update for a running prompt.
type ProgressEvent struct {
	PromptID string
	NodeID   string
	Value    float64
	Max      float64
	Preview  *PreviewPayload
}

// ExecutionResult is the terminal frame for a prompt, either a
// completed execution or an execution error.
type ExecutionResult struct {
	PromptID string
	Data     map[string]any
}

// Event is a tracking stream item: *ProgressEvent or *ExecutionResult.
type Event interface {
	trackEvent()
}

func (*ProgressEvent) trackEvent()   {}
func (*ExecutionResult) trackEvent() {}

// TrackProgress connects to the engine's tracking socket and streams
// progress events for promptID until a terminal frame, a server close,
// or context cancellation. The returned channel is closed when the
// stream ends.
func (c *Client) TrackProgress(ctx context.Context, clientID, promptID string) (<-chan Event, error) {
	if err := c.ensureEndpoint(ctx, false); err != nil {
		return nil, err
	}

	c.mu.Lock()
	wsBase := c.wsURL
	c.mu.Unlock()

	target := wsBase + "?clientId=" + url.QueryEscape(clientID)
	c.logger.Debug("tracking progress", "ws_url", target, "prompt_id", promptID)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, flowpilot.NewFetchFailure("failed to open tracking socket", err, map[string]any{
			"ws_url": wsBase,
		})
	}

	events := make(chan Event)
	go c.trackLoop(ctx, conn, promptID, events)
	return events, nil
}

// trackLoop owns the socket. Frames the engine sends that we do not
// understand are skipped, never fatal.
func (c *Client) trackLoop(ctx context.Context, conn *websocket.Conn, promptID string, events chan<- Event) {
	defer close(events)
	defer conn.Close()

	// Unblock the read loop when the caller gives up.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	var (
		lastNodeID   string
		lastValue    float64
		lastMax      = 100.0
		seenProgress bool
	)

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			c.logger.Debug("tracking socket closed", "error", err)
			return
		}

		if msgType == websocket.BinaryMessage {
			preview := parseBinaryPreview(payload)
			if preview == nil {
				c.logger.Debug("skipping unknown binary frame", "len", len(payload))
				continue
			}
			if !seenProgress {
				// Preview frames before any progress carry no node context.
				continue
			}
			if !emit(&ProgressEvent{
				PromptID: promptID,
				NodeID:   lastNodeID,
				Value:    lastValue,
				Max:      lastMax,
				Preview:  preview,
			}) {
				return
			}
			continue
		}

		var frame map[string]any
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.logger.Debug("skipping non-JSON frame")
			continue
		}

		frameType, _ := frame["type"].(string)
		switch frameType {
		case "progress":
			update := normalizeProgressFrame(frame)
			if update == nil {
				continue
			}
			lastNodeID = update.NodeID
			lastValue = update.Value
			if update.Max > 0 {
				lastMax = update.Max
			}
			seenProgress = true

			if pid, ok := frame["prompt_id"].(string); ok && pid != "" {
				update.PromptID = pid
			} else {
				update.PromptID = promptID
			}
			if !emit(update) {
				return
			}
		case "executed", "execution_error":
			emit(&ExecutionResult{PromptID: promptID, Data: frame})
			return
		}
	}
}

// normalizeProgressFrame flattens the engine's drifting progress frame
// shapes (top-level data, nested status, nested exec info) into one
// event. Frames with neither value nor max are reported as nil.
func normalizeProgressFrame(frame map[string]any) *ProgressEvent {
	payload, ok := frame["data"].(map[string]any)
	if !ok {
		return nil
	}

	nodeID := extractNodeID(payload)
	value := extractNumber(payload, "value", "progress")
	max := extractNumber(payload, "max", "maximum")
	preview := extractPreview(payload["preview"])

	if status, ok := payload["status"].(map[string]any); ok {
		if nodeID == "" {
			nodeID = extractNodeID(status)
		}
		if value == nil {
			value = extractNumber(status, "value", "progress")
		}
		if max == nil {
			max = extractNumber(status, "max", "maximum")
		}
		if preview == nil {
			preview = extractPreview(status["preview"])
		}

		for _, key := range []string{"exec_info", "execution", "exec"} {
			execInfo, ok := status[key].(map[string]any)
			if !ok {
				continue
			}
			if nodeID == "" {
				nodeID = extractNodeID(execInfo)
			}
			if value == nil {
				value = extractNumber(execInfo, "value", "progress")
			}
			if max == nil {
				max = extractNumber(execInfo, "max", "maximum")
			}
			if preview == nil {
				preview = extractPreview(execInfo["preview"])
			}
			break
		}
	}

	if value == nil && max == nil {
		return nil
	}

	ev := &ProgressEvent{NodeID: nodeID, Max: 100, Preview: preview}
	if value != nil {
		ev.Value = *value
	}
	if max != nil && *max > 0 {
		ev.Max = *max
	}
	if ev.Value > ev.Max {
		ev.Value = ev.Max
	}
	return ev
}

func extractNumber(source map[string]any, keys ...string) *float64 {
	for _, key := range keys {
		raw, ok := source[key]
		if !ok || raw == nil {
			continue
		}
		switch raw.(type) {
		case float64, float32, int, int64, string:
			n := graph.CoerceFiniteNumber(raw, -1)
			if n >= 0 {
				return &n
			}
		}
	}
	return nil
}

func extractNodeID(source map[string]any) string {
	for _, key := range []string{"node_id", "node", "current_node", "id"} {
		if raw, ok := source[key]; ok && raw != nil {
			if s := graph.Stringify(raw); s != "" {
				return s
			}
		}
	}
	return ""
}

// extractPreview handles inline preview payloads carried inside JSON
// frames: an object with a base64 image under one of several keys.
func extractPreview(raw any) *PreviewPayload {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil
	}

	var encoded string
	for _, key := range []string{"image", "image_base64", "img", "data"} {
		if s, ok := obj[key].(string); ok && s != "" {
			encoded = s
			break
		}
	}
	if encoded == "" {
		return nil
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(decoded) == 0 {
		return nil
	}

	mime := "image/png"
	for _, key := range []string{"mime", "mime_type", "type"} {
		if s, ok := obj[key].(string); ok && s != "" {
			mime = s
			break
		}
	}
	return &PreviewPayload{Image: decoded, MimeType: mime}
}

// parseBinaryPreview decodes the engine's binary preview frames: an
// 8-byte header whose leading big-endian uint32 must be 1, followed by
// the image bytes.
func parseBinaryPreview(payload []byte) *PreviewPayload {
	if len(payload) <= 8 {
		return nil
	}
	if binary.BigEndian.Uint32(payload[0:4]) != 1 {
		return nil
	}

	image := payload[8:]
	if len(image) == 0 {
		return nil
	}

	return &PreviewPayload{Image: image, MimeType: sniffImageMime(image)}
}

func sniffImageMime(image []byte) string {
	switch {
	case len(image) >= 4 && string(image[:4]) == "\x89PNG":
		return "image/png"
	case len(image) >= 3 && image[0] == 0xff && image[1] == 0xd8 && image[2] == 0xff:
		return "image/jpeg"
	case len(image) >= 4 && string(image[:4]) == "RIFF":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
