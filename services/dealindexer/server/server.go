package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"safedeal/crypto"
	"safedeal/observability"
	"safedeal/services/dealindexer/storage"
	"safedeal/services/dealindexer/watcher"
)

const metricsModule = "dealindexer"

// Config captures the dependencies required to construct the server.
type Config struct {
	Store       *storage.Store
	Logger      *slog.Logger
	AdminSecret string
	AdminIssuer string
	ExportDir   string
}

// Server exposes indexed deals over REST.
type Server struct {
	store     *storage.Store
	logger    *slog.Logger
	admin     *adminAuth
	exportDir string

	exports sync.WaitGroup
	router  http.Handler
}

// New constructs the router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		store:     cfg.Store,
		logger:    logger.With(slog.String("component", "server")),
		admin:     newAdminAuth(cfg.AdminSecret, cfg.AdminIssuer),
		exportDir: cfg.ExportDir,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Wait blocks until in-flight exports finish.
func (s *Server) Wait() {
	s.exports.Wait()
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/v1", func(api chi.Router) {
		api.Get("/deals/{id}", s.instrument("getDeal", s.GetDeal))
		api.Get("/users/{address}/deals", s.instrument("userDeals", s.UserDeals))
		api.Get("/stats", s.instrument("stats", s.Stats))
		api.Route("/admin", func(admin chi.Router) {
			admin.Use(s.admin.Middleware)
			admin.Post("/exports", s.instrument("createExport", s.CreateExport))
			admin.Get("/exports/{id}", s.instrument("getExport", s.GetExport))
		})
	})
	return otelhttp.NewHandler(r, "dealindexer.http")
}

func (s *Server) instrument(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.ModuleMetrics().Observe(metricsModule, method, status, time.Since(start))
	}
}

// DealView is the REST representation of an indexed deal.
type DealView struct {
	ID           uint64    `json:"id"`
	Client       string    `json:"client"`
	Freelancer   string    `json:"freelancer"`
	AssetType    string    `json:"assetType"`
	Token        string    `json:"token,omitempty"`
	Amount       string    `json:"amount"`
	DeadlineSlot uint64    `json:"deadlineSlot"`
	Mode         string    `json:"mode"`
	Status       string    `json:"status"`
	CreatedSlot  uint64    `json:"createdSlot"`
	Note         string    `json:"note,omitempty"`
	IndexedAt    time.Time `json:"indexedAt"`
}

func viewDeal(d storage.Deal) DealView {
	return DealView{
		ID:           d.ID,
		Client:       d.Client,
		Freelancer:   d.Freelancer,
		AssetType:    d.AssetType,
		Token:        d.Token,
		Amount:       d.Amount,
		DeadlineSlot: d.DeadlineSlot,
		Mode:         d.Mode,
		Status:       d.Status,
		CreatedSlot:  d.CreatedSlot,
		Note:         d.Note,
		IndexedAt:    d.UpdatedAt.UTC(),
	}
}

// GetDeal returns one indexed deal.
func (s *Server) GetDeal(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid deal id")
		return
	}
	deal, err := s.store.GetDeal(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "deal not indexed")
		return
	}
	if err != nil {
		s.internalError(w, "load deal", err)
		return
	}
	writeJSON(w, http.StatusOK, viewDeal(*deal))
}

// UserDealsResponse bundles a user's deals with dashboard figures.
type UserDealsResponse struct {
	Address string            `json:"address"`
	Role    string            `json:"role"`
	Deals   []DealView        `json:"deals"`
	Stats   storage.UserStats `json:"stats"`
}

// UserDeals lists the deals an address participates in. The optional role
// query parameter narrows the list to "client" or "freelancer".
func (s *Server) UserDeals(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(chi.URLParam(r, "address"))
	if _, err := crypto.DecodeAddress(address); err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	role := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("role")))
	if role == "any" {
		role = storage.RoleAny
	}
	if role != storage.RoleAny && role != storage.RoleClient && role != storage.RoleFreelancer {
		writeError(w, http.StatusBadRequest, "role must be client or freelancer")
		return
	}
	deals, err := s.store.DealsByUser(r.Context(), address, role)
	if err != nil {
		s.internalError(w, "list deals", err)
		return
	}
	stats, err := storage.SummarizeDeals(deals)
	if err != nil {
		s.internalError(w, "summarize deals", err)
		return
	}
	resp := UserDealsResponse{Address: address, Role: role, Deals: make([]DealView, 0, len(deals)), Stats: stats}
	if resp.Role == storage.RoleAny {
		resp.Role = "any"
	}
	for _, deal := range deals {
		resp.Deals = append(resp.Deals, viewDeal(deal))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stats returns global figures across every indexed deal.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context(), watcher.CursorName)
	if err != nil {
		s.internalError(w, "compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ExportView reports an export job.
type ExportView struct {
	ID          uuid.UUID  `json:"id"`
	Status      string     `json:"status"`
	RequestedBy string     `json:"requestedBy,omitempty"`
	Path        string     `json:"path,omitempty"`
	Rows        int        `json:"rows"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func viewExport(job *storage.ExportJob) ExportView {
	return ExportView{
		ID:          job.ID,
		Status:      job.Status,
		RequestedBy: job.RequestedBy,
		Path:        job.Path,
		Rows:        job.Rows,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}
}

// CreateExport queues a parquet snapshot of every indexed deal.
func (s *Server) CreateExport(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.CreateExportJob(r.Context(), subjectFromContext(r.Context()))
	if err != nil {
		s.internalError(w, "create export job", err)
		return
	}
	s.exports.Add(1)
	go func() {
		defer s.exports.Done()
		s.runExport(job)
	}()
	writeJSON(w, http.StatusAccepted, viewExport(job))
}

// GetExport reports the state of an export job.
func (s *Server) GetExport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid export id")
		return
	}
	job, err := s.store.GetExportJob(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "export not found")
		return
	}
	if err != nil {
		s.internalError(w, "load export job", err)
		return
	}
	writeJSON(w, http.StatusOK, viewExport(job))
}

func (s *Server) internalError(w http.ResponseWriter, action string, err error) {
	s.logger.Error(action, slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
