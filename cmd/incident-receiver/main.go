// Command incident-receiver is a development endpoint for the webhook sink.
// It decodes each posted incident and logs a one-line summary.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/redactai/redactai/internal/notify"
	"github.com/redactai/redactai/internal/redact"
)

const maxIncidentBytes = 64 << 10

func main() {
	addr := flag.String("addr", ":8099", "listen address for incident receiver")
	flag.Parse()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("incident receiver listening on %s (POST JSON to /incidents)...", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("receiver error: %v", err)
	}
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /incidents", handleIncident)
	mux.HandleFunc("POST /", handleIncident)
	return mux
}

func handleIncident(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIncidentBytes))
	_ = r.Body.Close()
	if err != nil {
		http.Error(w, `{"status":"too_large"}`, http.StatusRequestEntityTooLarge)
		return
	}

	var inc notify.Incident
	if err := json.Unmarshal(body, &inc); err != nil || inc.RecordID == "" {
		log.Printf("rejected payload: path=%s content-type=%s len=%d", r.URL.Path, r.Header.Get("Content-Type"), len(body))
		http.Error(w, `{"status":"invalid_incident"}`, http.StatusBadRequest)
		return
	}

	log.Printf("incident %s: record=%s user=%s decision=%s score=%d platform=%s types=%s excerpt=%q",
		inc.IncidentID, inc.RecordID, inc.UserID, inc.Decision, inc.OverallScore, inc.Platform,
		strings.Join(inc.DetectionTags, ","), redact.String(inc.Excerpt))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintln(w, `{"status":"ok"}`)
}
