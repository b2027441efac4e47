package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/scheduler"
)

const statsInterval = 7 * time.Second

// TimerLister exposes the armed session timers.
type TimerLister interface {
	Entries() []scheduler.Entry
}

// SystemHandler reports the engine's own state: armed timers, worker queue
// depth and Go runtime figures. Host metrics come from /metrics.
type SystemHandler struct {
	rdb       *redis.Client
	timers    TimerLister
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler. rdb may be nil.
func NewSystemHandler(rdb *redis.Client, timers TimerLister, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:       rdb,
		timers:    timers,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type timerView struct {
	SessionID        string     `json:"sessionId"`
	SectionIndex     int        `json:"sectionIndex"`
	SectionDeadline  *time.Time `json:"sectionDeadline,omitempty"`
	SessionDeadline  *time.Time `json:"sessionDeadline,omitempty"`
	RemainingSeconds int        `json:"remainingSeconds"`
	State            string     `json:"state"`
	SectionArmed     bool       `json:"sectionArmed"`
	SessionArmed     bool       `json:"sessionArmed"`
	SectionAttempts  int        `json:"sectionAttempts"`
	SessionAttempts  int        `json:"sessionAttempts"`
}

type systemStats struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`

	ArmedTimers int         `json:"armedTimers"`
	Timers      []timerView `json:"timers,omitempty"`

	// Worker queues
	QueueAnswers   int64 `json:"queueAnswers"`
	QueueCompleted int64 `json:"queueCompleted"`

	// Go runtime
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heapAlloc"`
	NumGC      uint32 `json:"numGc"`
	GoVersion  string `json:"goVersion"`
}

// Stats godoc
// GET /system/stats?timers=true
func (h *SystemHandler) Stats(c *gin.Context) {
	response.Success(c, http.StatusOK, h.collect(c.Request.Context(), c.Query("timers") == "true"))
}

// StatsStream godoc
// GET /system/stats/stream
// Pushes a stats snapshot as server-sent events until the client leaves.
func (h *SystemHandler) StatsStream(c *gin.Context) {
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.log.Info().Msg("Operator connected to stats stream")

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	h.writeStats(c)
	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Msg("Operator disconnected from stats stream")
			return
		case <-ticker.C:
			h.writeStats(c)
		}
	}
}

func (h *SystemHandler) writeStats(c *gin.Context) {
	data, err := json.Marshal(h.collect(c.Request.Context(), false))
	if err != nil {
		return
	}
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(data)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

func (h *SystemHandler) collect(ctx context.Context, withTimers bool) systemStats {
	m := systemStats{
		Timestamp: time.Now().Unix(),
		Uptime:    time.Since(h.startTime).Truncate(time.Second).String(),
		GoVersion: runtime.Version(),
	}

	if h.timers != nil {
		entries := h.timers.Entries()
		m.ArmedTimers = len(entries)
		if withTimers {
			m.Timers = make([]timerView, 0, len(entries))
			for _, e := range entries {
				v := timerView{
					SessionID:        e.SessionID.String(),
					SectionIndex:     e.SectionIndex,
					SectionDeadline:  e.SectionDeadline,
					RemainingSeconds: int(e.Remaining.Seconds()),
					State:            string(e.State),
					SectionArmed:     e.SectionArmed,
					SessionArmed:     e.SessionArmed,
					SectionAttempts:  e.SectionAttempts,
					SessionAttempts:  e.SessionAttempts,
				}
				if !e.SessionDeadline.IsZero() {
					d := e.SessionDeadline
					v.SessionDeadline = &d
				}
				m.Timers = append(m.Timers, v)
			}
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.Goroutines = runtime.NumGoroutine()
	m.HeapAlloc = ms.HeapAlloc
	m.NumGC = ms.NumGC

	// Worker queues (pipelined LLEN)
	if h.rdb != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		pipe := h.rdb.Pipeline()
		answersCmd := pipe.LLen(ctx, config.WorkerKey.PersistAnswersQueue)
		completedCmd := pipe.LLen(ctx, config.WorkerKey.SessionCompletedQueue)
		if _, err := pipe.Exec(ctx); err != nil {
			h.log.Warn().Err(err).Msg("Queue depth lookup failed")
		} else {
			m.QueueAnswers, _ = answersCmd.Result()
			m.QueueCompleted, _ = completedCmd.Result()
		}
	}

	return m
}
