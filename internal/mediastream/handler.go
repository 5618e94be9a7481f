package mediastream

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const readLimitBytes = 1 << 20

// ConnStats is a live snapshot of one streaming connection.
type ConnStats struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	Frames         int64     `json:"frames"`
	SilentFrames   int64     `json:"silent_frames"`
	Bytes          int64     `json:"bytes"`
}

type conn struct {
	mu    sync.Mutex
	stats ConnStats
}

// Handler terminates the calling platform's outbound media streaming
// websocket. Frames are decoded and counted; the audio itself is not
// persisted.
type Handler struct {
	log *slog.Logger

	mu    sync.Mutex
	conns map[string]*conn
}

func NewHandler(log *slog.Logger) *Handler {
	return &Handler{log: log, conns: make(map[string]*conn)}
}

// Serve is the gin handler for the streaming endpoint.
func (h *Handler) Serve(c *gin.Context) {
	// The platform dials from its own infrastructure with no Origin
	// header we could usefully check.
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("media stream upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(readLimitBytes)

	id := uuid.NewString()
	cn := &conn{stats: ConnStats{ID: id, StartedAt: time.Now()}}
	h.register(id, cn)
	defer h.unregister(id)

	h.log.Info("media stream connected", "stream_id", id)
	defer func() {
		snap := cn.snapshot()
		h.log.Info("media stream closed",
			"stream_id", id,
			"frames", snap.Frames,
			"silent_frames", snap.SilentFrames,
			"bytes", snap.Bytes,
		)
	}()

	for {
		msgType, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("media stream read failed", "stream_id", id, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		pkt, err := DecodePacket(raw)
		if err != nil {
			h.log.Warn("dropping malformed media packet", "stream_id", id, "error", err)
			continue
		}
		switch pkt.Kind {
		case KindAudioMetadata:
			cn.setMetadata(pkt.AudioMetadata)
			h.log.Info("media stream format negotiated",
				"stream_id", id,
				"subscription_id", pkt.AudioMetadata.SubscriptionID,
				"encoding", pkt.AudioMetadata.Encoding,
				"sample_rate", pkt.AudioMetadata.SampleRate,
			)
		case KindAudioData:
			pcm, err := pkt.AudioData.PCM()
			if err != nil {
				h.log.Warn("dropping undecodable audio frame", "stream_id", id, "error", err)
				continue
			}
			cn.addFrame(len(pcm), pkt.AudioData.Silent)
		}
	}
}

// Stats lists the live connections for the operational API.
func (h *Handler) Stats() []ConnStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ConnStats, 0, len(h.conns))
	for _, cn := range h.conns {
		out = append(out, cn.snapshot())
	}
	return out
}

func (h *Handler) register(id string, cn *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[id] = cn
}

func (h *Handler) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}

func (c *conn) setMetadata(md *AudioMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.SubscriptionID = md.SubscriptionID
}

func (c *conn) addFrame(n int, silent bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Frames++
	c.stats.Bytes += int64(n)
	if silent {
		c.stats.SilentFrames++
	}
}

func (c *conn) snapshot() ConnStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
