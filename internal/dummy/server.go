package dummy

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ServerConfig tunes the simulated job API.
type ServerConfig struct {
	Port int

	// How long a job sits in PENDING and then EXECUTING.
	PendingFor   time.Duration
	ExecutingFor time.Duration

	// Probability that a job ends FAILED instead of SUCCESS.
	FailureRate float64

	// Probability that a save request is rejected with HTTP 500.
	SaveFailureRate float64
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.PendingFor == 0 {
		c.PendingFor = 200 * time.Millisecond
	}
	if c.ExecutingFor == 0 {
		c.ExecutingFor = 2 * time.Second
	}
	return c
}

// job is one simulated remote job walking PENDING -> EXECUTING -> terminal.
type job struct {
	id        string
	createdAt time.Time
	fails     bool
}

// Server simulates the remote job API: identifier minting, submission,
// status polling and detail fetch. Status is derived from elapsed time,
// so polling the same terminal job is idempotent.
type Server struct {
	cfg ServerConfig

	mu   sync.Mutex
	jobs map[string]*job
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		cfg:  cfg.withDefaults(),
		jobs: make(map[string]*job),
	}
}

// Handler exposes the mux so tests can mount it on httptest servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/uuid", s.handleUUID)
	mux.HandleFunc("/api/brief/save", s.handleSave)
	mux.HandleFunc("/api/brief/query/", s.handleQuery)
	mux.HandleFunc("/api/brief/detail/", s.handleDetail)
	return mux
}

func (s *Server) handleUUID(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"result": uuid.New().String()})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SaveFailureRate > 0 && rand.Float64() < s.cfg.SaveFailureRate {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "simulated save failure"})
		return
	}

	var body struct {
		BasicInfo struct {
			TaskID string `json:"taskId"`
		} `json:"basicInfo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.BasicInfo.TaskID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing basicInfo.taskId"})
		return
	}

	id := body.BasicInfo.TaskID
	jobID := "job-" + uuid.New().String()[:8]

	s.mu.Lock()
	s.jobs[id] = &job{
		id:        jobID,
		createdAt: time.Now(),
		fails:     s.cfg.FailureRate > 0 && rand.Float64() < s.cfg.FailureRate,
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"result": jobID})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/brief/query/")

	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown job"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"result": map[string]any{
			"jobStatus": s.statusOf(j),
			"jobId":     j.id,
		},
	})
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/brief/detail/")

	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown job"})
		return
	}
	if s.statusOf(j) != "SUCCESS" {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "job not finished"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"result": map[string]any{
			"jobId":  j.id,
			"taskId": id,
			"rows":   rand.Intn(40) + 10,
		},
	})
}

// statusOf derives the lifecycle phase from elapsed time.
func (s *Server) statusOf(j *job) string {
	elapsed := time.Since(j.createdAt)
	switch {
	case elapsed < s.cfg.PendingFor:
		return "PENDING"
	case elapsed < s.cfg.PendingFor+s.cfg.ExecutingFor:
		return "EXECUTING"
	case j.fails:
		return "FAILED"
	default:
		return "SUCCESS"
	}
}

// Start serves the simulator in the background.
func Start(cfg ServerConfig) *Server {
	s := NewServer(cfg)

	addr := fmt.Sprintf(":%d", cfg.Port)
	fmt.Printf("👻 Dummy job server running on http://localhost%s\n", addr)
	fmt.Println("   Endpoints: /api/uuid, /api/brief/save, /api/brief/query/{id}, /api/brief/detail/{id}")

	server := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Server failed: %v\n", err)
		}
	}()

	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
