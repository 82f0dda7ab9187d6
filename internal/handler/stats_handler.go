package handler

import (
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"tripgen/internal/middleware"
	"tripgen/internal/store"
)

// Stats tracks server-wide counters.
type Stats struct {
	startTime        time.Time
	requestCount     atomic.Int64
	runsGenerated    atomic.Int64
	tripsGenerated   atomic.Int64
	wsConnections    atomic.Int64
	wsMessagesIn     atomic.Int64
	wsMessagesOut    atomic.Int64
	cacheHits        atomic.Int64
	cacheMisses      atomic.Int64
	rateLimitBlocked atomic.Int64
}

var ServerStats = &Stats{
	startTime: time.Now(),
}

func (s *Stats) IncRequests()      { s.requestCount.Add(1) }
func (s *Stats) IncWSConnections() { s.wsConnections.Add(1) }
func (s *Stats) DecWSConnections() { s.wsConnections.Add(-1) }
func (s *Stats) IncWSMessagesIn()  { s.wsMessagesIn.Add(1) }
func (s *Stats) IncWSMessagesOut() { s.wsMessagesOut.Add(1) }
func (s *Stats) IncCacheHits()     { s.cacheHits.Add(1) }
func (s *Stats) IncCacheMisses()   { s.cacheMisses.Add(1) }

func (s *Stats) IncRateLimitBlocked() { s.rateLimitBlocked.Add(1) }

// IncRuns records one finished run of n trips.
func (s *Stats) IncRuns(n int) {
	s.runsGenerated.Add(1)
	s.tripsGenerated.Add(int64(n))
}

type StatsHandler struct {
	store   *store.Store
	refs    ReferenceSource
	limiter *middleware.RateLimiter
}

// NewStatsHandler reports on s and refs; limiter may be nil.
func NewStatsHandler(s *store.Store, refs ReferenceSource, limiter *middleware.RateLimiter) *StatsHandler {
	return &StatsHandler{
		store:   s,
		refs:    refs,
		limiter: limiter,
	}
}

type StatsResponse struct {
	Server     ServerStatsResponse      `json:"server"`
	Runs       RunStatsResponse         `json:"runs"`
	References ReferenceStatsResponse   `json:"references"`
	WebSocket  WebSocketStatsResponse   `json:"websocket"`
	Cache      CacheStatsResponse       `json:"cache"`
	Limiter    *middleware.LimiterStats `json:"limiter,omitempty"`
	Go         GoStatsResponse          `json:"go"`
}

type ServerStatsResponse struct {
	Uptime        string    `json:"uptime"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	StartTime     time.Time `json:"start_time"`
	RequestCount  int64     `json:"request_count"`
	RateLimited   int64     `json:"rate_limited"`
}

type RunStatsResponse struct {
	Stored         int   `json:"stored"`
	StoredTrips    int   `json:"stored_trips"`
	Generated      int64 `json:"generated"`
	TripsGenerated int64 `json:"trips_generated"`
}

type ReferenceStatsResponse struct {
	Scenario string    `json:"scenario,omitempty"`
	Zones    int       `json:"zones"`
	ODPairs  int       `json:"od_pairs"`
	IsLoaded bool      `json:"is_loaded"`
	LoadedAt time.Time `json:"loaded_at,omitzero"`
}

type WebSocketStatsResponse struct {
	Connections int64 `json:"connections"`
	MessagesIn  int64 `json:"messages_in"`
	MessagesOut int64 `json:"messages_out"`
}

type CacheStatsResponse struct {
	Hits   int64   `json:"hits"`
	Misses int64   `json:"misses"`
	Ratio  float64 `json:"hit_ratio"`
}

type GoStatsResponse struct {
	Goroutines  int     `json:"goroutines"`
	HeapAlloc   uint64  `json:"heap_alloc_bytes"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	NumGC       uint32  `json:"num_gc"`
	GoVersion   string  `json:"go_version"`
}

func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ServerStats.IncRequests()

	uptime := time.Since(ServerStats.startTime)

	var refStats ReferenceStatsResponse
	if refs := h.refs.References(); refs != nil {
		refStats = ReferenceStatsResponse{
			Scenario: refs.Scenario.Name,
			Zones:    refs.Zones.Len(),
			ODPairs:  len(refs.Counts),
			IsLoaded: true,
			LoadedAt: refs.LoadedAt,
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	hits := ServerStats.cacheHits.Load()
	misses := ServerStats.cacheMisses.Load()
	var ratio float64
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}

	response := StatsResponse{
		Server: ServerStatsResponse{
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			StartTime:     ServerStats.startTime,
			RequestCount:  ServerStats.requestCount.Load(),
			RateLimited:   ServerStats.rateLimitBlocked.Load(),
		},
		Runs: RunStatsResponse{
			Stored:         h.store.Count(),
			StoredTrips:    h.store.TripCount(),
			Generated:      ServerStats.runsGenerated.Load(),
			TripsGenerated: ServerStats.tripsGenerated.Load(),
		},
		References: refStats,
		WebSocket: WebSocketStatsResponse{
			Connections: ServerStats.wsConnections.Load(),
			MessagesIn:  ServerStats.wsMessagesIn.Load(),
			MessagesOut: ServerStats.wsMessagesOut.Load(),
		},
		Cache: CacheStatsResponse{
			Hits:   hits,
			Misses: misses,
			Ratio:  ratio,
		},
		Go: GoStatsResponse{
			Goroutines:  runtime.NumGoroutine(),
			HeapAlloc:   mem.HeapAlloc,
			HeapAllocMB: float64(mem.HeapAlloc) / 1024 / 1024,
			NumGC:       mem.NumGC,
			GoVersion:   runtime.Version(),
		},
	}
	if h.limiter != nil {
		ls := h.limiter.Stats()
		response.Limiter = &ls
	}

	w.Header().Set("Cache-Control", "no-cache")
	respondJSON(w, http.StatusOK, response)
}
