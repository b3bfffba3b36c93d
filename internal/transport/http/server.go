package http

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "emvcli/internal/errors"
	"emvcli/internal/license"
	"emvcli/internal/middleware"
)

// sealFormFields are the metadata fields a seal request must carry.
var sealFormFields = []string{
	"org_id", "project_id", "baseline_id", "created_by",
	"meter_ids_csv", "start_date", "end_date", "calc_params_json",
	"license_id",
}

// StubService is a minimal in-process implementation of the license
// service contract the client depends on: an idempotent seal endpoint
// and an online verification endpoint. It backs the selftest command
// and the sync engine's tests; the production service lives elsewhere.
type StubService struct {
	apiKey   string
	verifier *license.Verifier
	logger   *slog.Logger

	mu     sync.Mutex
	sealed map[string]sealRecord
}

type sealRecord struct {
	OrgID     string
	ProjectID string
	FileCount int
}

// NewStubService creates a stub service. verifier may be nil when the
// verification endpoint is not exercised.
func NewStubService(apiKey string, verifier *license.Verifier, logger *slog.Logger) *StubService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubService{
		apiKey:   apiKey,
		verifier: verifier,
		logger:   logger,
		sealed:   make(map[string]sealRecord),
	}
}

// Handler returns the HTTP handler implementing the wire contract.
func (s *StubService) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredLogger(s.logger))
	r.Use(middleware.Recoverer(s.logger))
	r.Use(s.requireAPIKey)

	r.Post("/api/baselines/seal", s.handleSeal)
	r.Post("/api/licenses/verify", s.handleVerify)
	return r
}

// SealedCount reports how many distinct baselines were sealed.
func (s *StubService) SealedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sealed)
}

func (s *StubService) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The verify endpoint accepts anonymous callers; the seal
		// endpoint never does.
		if r.URL.Path == verifyPath && r.Header.Get(apiKeyHeader) == "" {
			next.ServeHTTP(w, r)
			return
		}
		if s.apiKey == "" || r.Header.Get(apiKeyHeader) == s.apiKey {
			next.ServeHTTP(w, r)
			return
		}
		render.Render(w, r, apierrors.ErrUnauthorized)
	})
}

type sealResponse struct {
	Status     string `json:"status"`
	BaselineID string `json:"baseline_id"`
	Replay     bool   `json:"replay"`
}

func (s *StubService) handleSeal(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	for _, field := range sealFormFields {
		if r.FormValue(field) == "" {
			render.Render(w, r, apierrors.MissingParameterError(field))
			return
		}
	}

	baselineID := r.FormValue("baseline_id")
	files := r.MultipartForm.File["raw_files"]
	if len(files) == 0 {
		render.Render(w, r, apierrors.MissingParameterError("raw_files"))
		return
	}

	s.mu.Lock()
	_, replay := s.sealed[baselineID]
	if !replay {
		s.sealed[baselineID] = sealRecord{
			OrgID:     r.FormValue("org_id"),
			ProjectID: r.FormValue("project_id"),
			FileCount: len(files),
		}
	}
	s.mu.Unlock()

	s.logger.Info("baseline seal accepted",
		slog.String("baseline_id", baselineID),
		slog.Bool("replay", replay),
		slog.Int("files", len(files)),
	)

	// A replay of an already sealed baseline_id returns 200 again;
	// that idempotency is what makes client retries safe.
	render.JSON(w, r, sealResponse{Status: "sealed", BaselineID: baselineID, Replay: replay})
}

func (s *StubService) handleVerify(w http.ResponseWriter, r *http.Request) {
	var doc license.Document
	if err := render.DecodeJSON(r.Body, &doc); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	if s.verifier == nil {
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}

	result := s.verifier.Verify(&doc)
	render.JSON(w, r, VerifyResponse{Valid: result.OK, Reason: result.Reason})
}
