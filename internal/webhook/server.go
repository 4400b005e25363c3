package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/digkill/TGImagineBot/internal/config"
	"github.com/digkill/TGImagineBot/internal/event"
	"github.com/digkill/TGImagineBot/internal/models"
	"github.com/digkill/TGImagineBot/internal/worker"
)

// CreditLedger is the balance-transition surface the handler needs.
type CreditLedger interface {
	EnsureUser(ctx context.Context, userID int64, firstName string) (bool, error)
	TopUp(ctx context.Context, userID int64, eventID string, credits int, rawPayload string) (bool, error)
	Admit(ctx context.Context, userID int64) (bool, error)
	Refund(ctx context.Context, userID int64, credits int) error
}

// Notifier delivers best-effort messages to users.
type Notifier interface {
	SendText(chatID int64, text string) error
	SendPhotoURL(chatID int64, url, caption string) error
	SendTyping(chatID int64) error
}

// Dispatcher hands a job to the worker pool and returns once it is accepted.
type Dispatcher interface {
	Submit(ctx context.Context, job worker.Job) error
}

// GenerationLog tracks dispatched jobs through their lifecycle. Transition is
// conditional: it reports false when the job already left the from-status,
// which keeps compensations single-shot under redelivered callbacks.
type GenerationLog interface {
	Create(ctx context.Context, jobID string, userID int64, prompt string) error
	Transition(ctx context.Context, jobID string, from, to models.GenerationStatus) (bool, error)
}

// Archiver stores a copy of a delivered image. May be left nil.
type Archiver interface {
	Archive(ctx context.Context, data []byte, contentType string) (string, error)
}

// Server terminates the shared inbound webhook and the worker callback.
// Whatever happens downstream, the webhook caller always gets a 2xx: payment
// providers and Telegram key their retries on transport success, not on
// business outcome.
type Server struct {
	cfg         config.Config
	log         *slog.Logger
	credits     CreditLedger
	notifier    Notifier
	dispatcher  Dispatcher
	generations GenerationLog
	archiver    Archiver
	httpClient  *http.Client
	router      *chi.Mux
	dropped     atomic.Int64
}

func NewServer(cfg config.Config, log *slog.Logger, credits CreditLedger, notifier Notifier, dispatcher Dispatcher, generations GenerationLog, archiver Archiver) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:         cfg,
		log:         log,
		credits:     credits,
		notifier:    notifier,
		dispatcher:  dispatcher,
		generations: generations,
		archiver:    archiver,
		httpClient:  &http.Client{Timeout: cfg.RequestTimeout},
		router:      r,
	}
	r.Post("/webhook", s.handleWebhook)
	r.Post("/worker/callback", s.handleWorkerCallback)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Dropped reports how many unrecognized payloads were acknowledged and
// discarded since startup.
func (s *Server) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("webhook shutdown error", "err", err)
		}
	}()

	s.log.Info("webhook server listening", "addr", s.cfg.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook listen: %w", err)
	}
	return nil
}

// handleWebhook classifies the shared inbound payload and runs the matching
// branch. Each branch runs under its own bounded deadline, detached from the
// request context, so one slow downstream cannot hold the webhook open.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.log.Error("read webhook body", "err", err)
		s.ack(w)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.BranchTimeout)
	defer cancel()

	switch ev := event.Classify(body).(type) {
	case event.Payment:
		s.handlePayment(ctx, ev, body)
	case event.NewUser:
		s.handleNewUser(ctx, ev)
	case event.GenerationRequest:
		s.handleGeneration(ctx, ev)
	case event.Unrecognized:
		s.dropped.Add(1)
		s.log.Warn("unrecognized webhook payload dropped", "reason", ev.Reason, "total_dropped", s.dropped.Load())
	}

	s.ack(w)
}

func (s *Server) handlePayment(ctx context.Context, ev event.Payment, raw []byte) {
	applied, err := s.credits.TopUp(ctx, ev.UserID, ev.EventID, s.cfg.TopUpCredits, string(raw))
	if err != nil {
		s.log.Error("top up", "user", ev.UserID, "event", ev.EventID, "err", err)
		s.notifyText(ev.UserID, "We received a payment confirmation but could not credit your account. Please try again later.")
		return
	}
	if !applied {
		s.log.Info("duplicate payment event ignored", "user", ev.UserID, "event", ev.EventID)
		return
	}
	s.notifyText(ev.UserID, fmt.Sprintf("Your account has been credited with %d credits. You can now generate images.", s.cfg.TopUpCredits))
}

func (s *Server) handleNewUser(ctx context.Context, ev event.NewUser) {
	if _, err := s.credits.EnsureUser(ctx, ev.UserID, ev.FirstName); err != nil {
		s.log.Error("ensure user", "user", ev.UserID, "err", err)
		return
	}
	s.notifyText(ev.UserID, fmt.Sprintf("Hi %s, I am a bot that can generate images from text. Please enter a prompt.", ev.FirstName))
}

func (s *Server) handleGeneration(ctx context.Context, ev event.GenerationRequest) {
	admitted, err := s.credits.Admit(ctx, ev.UserID)
	if err != nil {
		// Ledger unreachable: deny admission, never fail open.
		s.log.Error("admit", "user", ev.UserID, "err", err)
		s.notifyText(ev.UserID, fmt.Sprintf("Sorry %s, something went wrong. Please try again later.", ev.FirstName))
		return
	}
	if !admitted {
		s.notifyText(ev.UserID, fmt.Sprintf(
			"Sorry %s, you do not have enough credits to generate an image. Purchase %d credits for %.2f %s here: %s?client_reference_id=%d",
			ev.FirstName, s.cfg.TopUpCredits, float64(s.cfg.TopUpPriceMinorUnits)/100, s.cfg.TopUpCurrency, s.cfg.PaymentLink, ev.UserID,
		))
		return
	}

	s.notifyText(ev.UserID, fmt.Sprintf("Sure %s, generating an image for the prompt: %s", ev.FirstName, ev.Prompt))
	if err := s.notifier.SendTyping(ev.UserID); err != nil {
		s.log.Error("send typing", "user", ev.UserID, "err", err)
	}

	jobID := uuid.NewString()
	if err := s.generations.Create(ctx, jobID, ev.UserID, ev.Prompt); err != nil {
		// Without the queued row the callback cannot settle this job, so it
		// must not be dispatched at all: give the credit back now.
		s.log.Error("record generation", "job", jobID, "err", err)
		if refundErr := s.credits.Refund(ctx, ev.UserID, 1); refundErr != nil {
			s.log.Error("refund after failed generation record", "user", ev.UserID, "err", refundErr)
		}
		s.notifyText(ev.UserID, fmt.Sprintf("Sorry %s, generation could not be started. Your credit has been refunded.", ev.FirstName))
		return
	}

	job := worker.Job{
		JobID:       jobID,
		ChatID:      ev.UserID,
		Prompt:      ev.Prompt,
		CallbackURL: s.cfg.CallbackBaseURL + "/worker/callback",
	}
	if err := s.dispatcher.Submit(ctx, job); err != nil {
		s.log.Error("submit job", "job", jobID, "user", ev.UserID, "err", err)
		if refundErr := s.credits.Refund(ctx, ev.UserID, 1); refundErr != nil {
			s.log.Error("refund after failed submit", "user", ev.UserID, "err", refundErr)
		}
		if _, trErr := s.generations.Transition(ctx, jobID, models.StatusQueued, models.StatusFailed); trErr != nil {
			s.log.Error("mark generation failed", "job", jobID, "err", trErr)
		}
		s.notifyText(ev.UserID, fmt.Sprintf("Sorry %s, generation could not be started. Your credit has been refunded.", ev.FirstName))
	}
}

// handleWorkerCallback receives completion reports from the worker pool.
// Credits were consumed at admission, so a successful job only delivers the
// image; a failed one refunds the credit.
func (s *Server) handleWorkerCallback(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Worker-Token") != s.cfg.WorkerAPIKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	cb, err := worker.ParseCallback(body)
	if err != nil {
		s.log.Error("worker callback", "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.BranchTimeout)
	defer cancel()

	switch cb.Status {
	case worker.StatusSucceeded:
		moved, err := s.generations.Transition(ctx, cb.JobID, models.StatusQueued, models.StatusDelivered)
		if err != nil {
			s.log.Error("mark generation delivered", "job", cb.JobID, "err", err)
		}
		if err == nil && !moved {
			s.log.Info("duplicate worker callback ignored", "job", cb.JobID)
			break
		}
		if err := s.notifier.SendPhotoURL(cb.ChatID, cb.ImageURL, ""); err != nil {
			s.log.Error("deliver image", "job", cb.JobID, "err", err)
		}
		s.archiveImage(ctx, cb)
	case worker.StatusFailed:
		s.log.Warn("generation failed", "job", cb.JobID, "worker_error", cb.Error)
		moved, err := s.generations.Transition(ctx, cb.JobID, models.StatusQueued, models.StatusFailed)
		if err != nil {
			s.log.Error("mark generation failed", "job", cb.JobID, "err", err)
			break
		}
		if !moved {
			s.log.Info("duplicate worker callback ignored", "job", cb.JobID)
			break
		}
		if err := s.credits.Refund(ctx, cb.ChatID, 1); err != nil {
			s.log.Error("refund after failed generation", "job", cb.JobID, "err", err)
		}
		s.notifyText(cb.ChatID, "Sorry, your image could not be generated. Your credit has been refunded.")
	}

	s.ack(w)
}

// archiveImage stores a copy of the result in S3 when an archiver is
// configured. Best effort only.
func (s *Server) archiveImage(ctx context.Context, cb *worker.Callback) {
	if s.archiver == nil {
		return
	}
	data, contentType, err := s.downloadImage(ctx, cb.ImageURL)
	if err != nil {
		s.log.Error("download result image", "job", cb.JobID, "err", err)
		return
	}
	url, err := s.archiver.Archive(ctx, data, contentType)
	if err != nil {
		s.log.Error("archive result image", "job", cb.JobID, "err", err)
		return
	}
	s.log.Info("result archived", "job", cb.JobID, "url", url)
}

func (s *Server) downloadImage(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("image status: %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read image body: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func (s *Server) notifyText(chatID int64, text string) {
	if err := s.notifier.SendText(chatID, text); err != nil {
		s.log.Error("send text", "chat", chatID, "err", err)
	}
}

func (s *Server) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}
