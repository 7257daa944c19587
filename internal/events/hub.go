package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies what happened in a background task.
type Type string

const (
	TypeLog                       Type = "log_message"
	TypeScrapingStarted           Type = "scraping_started"
	TypeScrapingProgress          Type = "scraping_progress"
	TypeScrapingCompleted         Type = "scraping_completed"
	TypeScrapingStopped           Type = "scraping_stopped"
	TypeCustomerDiscovered        Type = "customer_discovered"
	TypeWhatsAppLog               Type = "whatsapp_log"
	TypeWhatsAppQRReady           Type = "whatsapp_qr_ready"
	TypeWhatsAppReady             Type = "whatsapp_ready"
	TypeWhatsAppMessage           Type = "whatsapp_message"
	TypeWhatsAppCampaignStarted   Type = "whatsapp_campaign_started"
	TypeWhatsAppCampaignCompleted Type = "whatsapp_campaign_completed"
	TypeWhatsAppStopped           Type = "whatsapp_stopped"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Event struct {
	ID      string                 `json:"id"`
	Type    Type                   `json:"type"`
	Level   Level                  `json:"level"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Time    time.Time              `json:"time"`
}

// Publisher is what background tasks need from the hub.
type Publisher interface {
	Publish(e Event)
}

const (
	DefaultHistory = 200
	DefaultBuffer  = 64
)

// Hub fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	recent  []Event
	history int
	dropped int
	logger  *slog.Logger
}

func NewHub(history int, logger *slog.Logger) *Hub {
	if history <= 0 {
		history = DefaultHistory
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:    make(map[int]chan Event),
		history: history,
		logger:  logger.With("component", "events"),
	}
}

func (h *Hub) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.recent = append(h.recent, e)
	if len(h.recent) > h.history {
		h.recent = h.recent[len(h.recent)-h.history:]
	}

	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped++
			h.logger.Debug("subscriber buffer full, dropping event", "subscriber", id, "type", e.Type)
		}
	}
}

// Log publishes a log_message event.
func (h *Hub) Log(level Level, message string) {
	h.Publish(Event{Type: TypeLog, Level: level, Message: message})
}

// Subscribe returns a channel receiving events published from now on and a
// cancel func that unregisters and closes it.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Recent returns up to limit of the newest events, oldest first. A limit of
// zero returns the whole history.
func (h *Hub) Recent(limit int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	start := 0
	if limit > 0 && limit < len(h.recent) {
		start = len(h.recent) - limit
	}
	out := make([]Event, len(h.recent)-start)
	copy(out, h.recent[start:])
	return out
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
