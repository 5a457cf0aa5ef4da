// Sink is a webhook receiver for exercising the dispatcher locally.
// It accepts messages on /deliver and fails a configurable share of them.
//
// Usage:
//
//	go run ./cmd/sink -port 9001 -fail-ratio 0.3
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angeloszaimis/dispatcher/internal/backend"
	"github.com/angeloszaimis/dispatcher/pkg/logger"
)

// Receipt acknowledges one delivered message.
type Receipt struct {
	ReceiptID string `json:"receipt_id"`
	MessageID string `json:"message_id"`
	Duplicate bool   `json:"duplicate"`
}

type sink struct {
	log       *slog.Logger
	failRatio float64
	roll      func() float64

	mutex sync.Mutex
	seen  map[string]string
}

func newSink(log *slog.Logger, failRatio float64, roll func() float64) http.Handler {
	if roll == nil {
		roll = rand.Float64
	}
	s := &sink{
		log:       log,
		failRatio: failRatio,
		roll:      roll,
		seen:      make(map[string]string),
	}

	r := chi.NewRouter()
	r.Post("/deliver", s.deliver)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return r
}

func (s *sink) deliver(w http.ResponseWriter, r *http.Request) {
	var msg backend.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if s.roll() < s.failRatio {
		s.log.Warn("Injected failure", slog.String("message_id", msg.ID))
		http.Error(w, "injected failure", http.StatusServiceUnavailable)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = msg.ID
	}

	s.mutex.Lock()
	receiptID, dup := s.seen[key]
	if !dup {
		receiptID = uuid.New().String()
		s.seen[key] = receiptID
	}
	s.mutex.Unlock()

	s.log.Info("Message received",
		slog.String("message_id", msg.ID),
		slog.String("to", msg.To),
		slog.Bool("duplicate", dup))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(Receipt{ReceiptID: receiptID, MessageID: msg.ID, Duplicate: dup})
}

func main() {
	port := flag.Int("port", 9001, "port to listen on")
	failRatio := flag.Float64("fail-ratio", 0, "share of deliveries answered with 503, between 0 and 1")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	log := logger.New(*level, false, "dev").With(slog.String("component", "sink"))

	addr := fmt.Sprintf(":%d", *port)
	log.Info("Starting sink", slog.String("address", addr), slog.Float64("fail_ratio", *failRatio))
	if err := http.ListenAndServe(addr, newSink(log, *failRatio, nil)); err != nil {
		log.Error("Sink failed", slog.Any("err", err))
		os.Exit(1)
	}
}
