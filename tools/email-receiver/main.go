// Command email-receiver is a local stand-in for the email service. It
// accepts POST /send-email, keeps the most recent messages for inspection
// and can be told to fail the first N sends with FAIL_FIRST.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

type email struct {
	Timestamp     string `json:"timestamp"`
	Email         string `json:"email"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type stats struct {
	Count    int64   `json:"count"`
	Failed   int64   `json:"failed"`
	LastSent []email `json:"last_sent"`
	Since    string  `json:"since"`
}

const maxStored = 50

type receiver struct {
	failFirst int64

	mu     sync.Mutex
	count  int64
	failed int64
	last   []email
	since  time.Time
}

func newReceiver(failFirst int64) *receiver {
	return &receiver{failFirst: failFirst, since: time.Now().UTC()}
}

func (rc *receiver) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/send-email", rc.sendHandler)
	mux.HandleFunc("/stats", rc.statsHandler)
	mux.HandleFunc("/reset", rc.resetHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

func main() {
	addr := ":8081"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	var failFirst int64
	if v := os.Getenv("FAIL_FIRST"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			log.Fatalf("invalid FAIL_FIRST %q", v)
		}
		failFirst = n
	}

	rc := newReceiver(failFirst)
	log.Printf("email-receiver listening on %s (fail_first=%d)", addr, failFirst)
	log.Fatal(http.ListenAndServe(addr, rc.routes()))
}

func (rc *receiver) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	var msg email
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil || msg.Email == "" {
		http.Error(w, "body must be {\"email\",\"message\"}", http.StatusBadRequest)
		return
	}
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	msg.CorrelationID = r.Header.Get("X-Correlation-ID")

	rc.mu.Lock()
	if rc.failed < rc.failFirst {
		rc.failed++
		n := rc.failed
		rc.mu.Unlock()
		log.Printf("send #%d to %s failed on purpose", n, msg.Email)
		http.Error(w, "simulated failure", http.StatusInternalServerError)
		return
	}
	rc.count++
	rc.last = append(rc.last, msg)
	if len(rc.last) > maxStored {
		rc.last = rc.last[len(rc.last)-maxStored:]
	}
	current := rc.count
	rc.mu.Unlock()

	log.Printf("email #%d to %s: %s", current, msg.Email, msg.Message)
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"sent":%d}`, current)
}

func (rc *receiver) statsHandler(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	s := stats{
		Count:    rc.count,
		Failed:   rc.failed,
		LastSent: append([]email(nil), rc.last...),
		Since:    rc.since.Format(time.RFC3339),
	}
	rc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s)
}

// resetHandler clears counters. The FAIL_FIRST budget starts over.
func (rc *receiver) resetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rc.mu.Lock()
	rc.count = 0
	rc.failed = 0
	rc.last = nil
	rc.since = time.Now().UTC()
	rc.mu.Unlock()
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "reset")
}
