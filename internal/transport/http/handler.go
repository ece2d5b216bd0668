package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ayoubkefii/e-learning/internal/app"
	"github.com/ayoubkefii/e-learning/internal/auth"
	"github.com/ayoubkefii/e-learning/internal/domain"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Authenticator resolves a bearer token to the calling user.
type Authenticator interface {
	Authenticate(token string) (auth.Identity, error)
}

// Handler serves the REST API over the attempt service.
type Handler struct {
	service *app.AttemptService
	authn   Authenticator
	log     *zap.Logger
}

func NewHandler(service *app.AttemptService, authn Authenticator, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{service: service, authn: authn, log: log}
}

// Register mounts the REST routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("POST /api/quizzes/start", h.authed(h.startAttempt))
	mux.Handle("POST /api/quizzes/submit", h.authed(h.submitAttempt))
	mux.Handle("GET /api/quizzes/attempts", h.authed(h.listAttempts))
	mux.Handle("GET /api/certificates", h.authed(h.listCertificates))
}

type startRequest struct {
	QuizID int64 `json:"quiz_id"`
}

type submitRequest struct {
	AttemptID int64                     `json:"attempt_id"`
	Answers   []domain.AnswerSubmission `json:"answers"`
}

// submitResponse is the closed attempt plus its score breakdown.
type submitResponse struct {
	domain.Attempt
	EarnedPoints      int     `json:"earned_points"`
	TotalPoints       int     `json:"total_points"`
	CertificateNumber *string `json:"certificate_number"`
}

func newSubmitResponse(outcome domain.Outcome) submitResponse {
	resp := submitResponse{
		Attempt:      outcome.Attempt,
		EarnedPoints: outcome.Result.Earned,
		TotalPoints:  outcome.Result.Total,
	}
	if outcome.Certificate != nil {
		number := outcome.Certificate.Number
		resp.CertificateNumber = &number
	}
	return resp
}

type attemptsResponse struct {
	Status   string                  `json:"status"`
	Attempts []domain.AttemptSummary `json:"attempts"`
}

type certificatesResponse struct {
	Status       string               `json:"status"`
	Certificates []domain.Certificate `json:"certificates"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (h *Handler) startAttempt(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req startRequest
	if !decodeBody(w, r, &req) {
		return
	}
	attempt, err := h.service.StartAttempt(r.Context(), id.UserID, req.QuizID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (h *Handler) submitAttempt(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req submitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	outcome, err := h.service.SubmitAttempt(r.Context(), id.UserID, req.AttemptID, req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSubmitResponse(outcome))
}

func (h *Handler) listAttempts(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	quizID, err := strconv.ParseInt(r.URL.Query().Get("quiz_id"), 10, 64)
	if err != nil {
		writeError(w, domain.ErrInvalidID)
		return
	}
	attempts, err := h.service.ListAttempts(r.Context(), id.UserID, quizID)
	if err != nil {
		writeError(w, err)
		return
	}
	if attempts == nil {
		attempts = []domain.AttemptSummary{}
	}
	writeJSON(w, http.StatusOK, attemptsResponse{Status: "success", Attempts: attempts})
}

func (h *Handler) listCertificates(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	certs, err := h.service.ListCertificates(r.Context(), id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if certs == nil {
		certs = []domain.Certificate{}
	}
	writeJSON(w, http.StatusOK, certificatesResponse{Status: "success", Certificates: certs})
}

// authed checks the bearer token, then logs the request once it completes.
func (h *Handler) authed(next func(http.ResponseWriter, *http.Request, auth.Identity)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		id, err := h.authn.Authenticate(strings.TrimSpace(token))
		if err != nil {
			writeError(rec, domain.ErrUnauthorized)
		} else {
			next(rec, r, id)
		}

		h.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int64("user_id", id.UserID),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Status:  "error",
			Kind:    string(domain.KindInvalidInput),
			Message: "invalid request body",
		})
		return false
	}
	return true
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	writeJSON(w, StatusFor(kind), errorResponse{
		Status:  "error",
		Kind:    string(kind),
		Message: domain.Message(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
