// Package stubscanner is a small in-memory imitation of the scanner's JSON
// API, good enough to exercise the full scan workflow end to end without a
// real scanner. Crawls and attack scans advance a fixed percentage per
// status poll, the passive queue drains two records per poll, and the alert
// store serves a canned set of findings.
package stubscanner

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// StubScanner is a simple HTTP server imitating the scanner JSON API.
type StubScanner struct {
	cfg Config

	mu         sync.Mutex
	nextScanID int
	spiders    map[string]int // scan id -> progress pct
	ascans     map[string]int
	ajaxPolls  int  // polls since the browser crawl started
	ajaxActive bool // a browser crawl is in flight
	passive    int  // records left in the passive queue
	sessions   []string
}

// New creates a stub scanner instance.
func New(cfg Config) *StubScanner {
	return &StubScanner{
		cfg:     cfg,
		spiders: make(map[string]int),
		ascans:  make(map[string]int),
		passive: cfg.PassiveBacklog,
	}
}

// Handler returns the http.Handler serving the JSON API.
func (s *StubScanner) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/JSON/core/view/version/", s.versionHandler)
	mux.HandleFunc("/JSON/core/action/newSession/", s.newSessionHandler)
	mux.HandleFunc("/JSON/core/action/deleteAllAlerts/", okHandler)
	mux.HandleFunc("/JSON/core/action/accessUrl/", okHandler)
	mux.HandleFunc("/JSON/core/view/alertsSummary/", s.alertsSummaryHandler)
	mux.HandleFunc("/JSON/core/view/alerts/", s.alertsHandler)
	mux.HandleFunc("/JSON/core/view/numberOfAlerts/", s.numberOfAlertsHandler)

	mux.HandleFunc("/JSON/spider/action/scan/", s.startSpiderHandler)
	mux.HandleFunc("/JSON/spider/view/status/", s.spiderStatusHandler)

	mux.HandleFunc("/JSON/ascan/action/scan/", s.startActiveHandler)
	mux.HandleFunc("/JSON/ascan/view/status/", s.activeStatusHandler)

	mux.HandleFunc("/JSON/ajaxSpider/action/", s.ajaxActionHandler)
	mux.HandleFunc("/JSON/ajaxSpider/view/status/", s.ajaxStatusHandler)
	mux.HandleFunc("/JSON/ajaxSpider/view/numberOfResults/", s.ajaxResultsHandler)

	mux.HandleFunc("/JSON/pscan/view/recordsToScan/", s.passiveQueueHandler)
	mux.HandleFunc("/JSON/pscan/action/setEnabled/", okHandler)
	mux.HandleFunc("/JSON/pscan/action/enableAllScanners/", okHandler)

	return mux
}

// Start starts the stub scanner.
func (s *StubScanner) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	fmt.Printf("Stub scanner listening on http://localhost%s\n", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func writeResult(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	writeResult(w, map[string]string{"Result": "OK"})
}

func (s *StubScanner) versionHandler(w http.ResponseWriter, r *http.Request) {
	writeResult(w, map[string]string{"version": "2.15.0"})
}

func (s *StubScanner) newSessionHandler(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	s.mu.Lock()
	s.sessions = append(s.sessions, name)
	// A fresh session starts with an empty passive backlog again.
	s.passive = s.cfg.PassiveBacklog
	s.mu.Unlock()
	writeResult(w, map[string]string{"Result": "OK"})
}

// Crawls

func (s *StubScanner) startSpiderHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	id := strconv.Itoa(s.nextScanID)
	s.nextScanID++
	s.spiders[id] = 0
	s.mu.Unlock()
	writeResult(w, map[string]string{"scan": id})
}

func (s *StubScanner) spiderStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("scanId")
	s.mu.Lock()
	pct, ok := s.spiders[id]
	if ok {
		next := pct + s.cfg.SpiderStep
		if next > 100 {
			next = 100
		}
		s.spiders[id] = next
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "Does Not Exist", http.StatusBadRequest)
		return
	}
	writeResult(w, map[string]string{"status": strconv.Itoa(pct)})
}

// Attack scans

func (s *StubScanner) startActiveHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	id := strconv.Itoa(s.nextScanID)
	s.nextScanID++
	s.ascans[id] = 0
	s.mu.Unlock()
	writeResult(w, map[string]string{"scan": id})
}

func (s *StubScanner) activeStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("scanId")
	s.mu.Lock()
	pct, ok := s.ascans[id]
	if ok {
		next := pct + s.cfg.ActiveStep
		if next > 100 {
			next = 100
		}
		s.ascans[id] = next
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "Does Not Exist", http.StatusBadRequest)
		return
	}
	writeResult(w, map[string]string{"status": strconv.Itoa(pct)})
}

// Browser crawl

func (s *StubScanner) ajaxActionHandler(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/JSON/ajaxSpider/action/")
	s.mu.Lock()
	switch strings.TrimSuffix(action, "/") {
	case "scan":
		s.ajaxActive = true
		s.ajaxPolls = 0
	case "stop":
		s.ajaxActive = false
	}
	s.mu.Unlock()
	// Option setters and anything else just succeed.
	writeResult(w, map[string]string{"Result": "OK"})
}

func (s *StubScanner) ajaxStatusHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := "stopped"
	if s.ajaxActive {
		s.ajaxPolls++
		if s.ajaxPolls >= s.cfg.AjaxPolls {
			s.ajaxActive = false
		} else {
			status = "running"
		}
	}
	s.mu.Unlock()
	writeResult(w, map[string]string{"status": status})
}

func (s *StubScanner) ajaxResultsHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := s.ajaxPolls * 7
	s.mu.Unlock()
	writeResult(w, map[string]string{"numberOfResults": strconv.Itoa(n)})
}

// Passive queue

func (s *StubScanner) passiveQueueHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := s.passive
	s.passive -= 2
	if s.passive < 0 {
		s.passive = 0
	}
	s.mu.Unlock()
	writeResult(w, map[string]string{"recordsToScan": strconv.Itoa(n)})
}

// Alerts

var cannedAlerts = []map[string]string{
	{"risk": "High", "alert": "SQL Injection", "url": "http://target/search?q=1", "param": "q", "evidence": "syntax error"},
	{"risk": "High", "alert": "SQL Injection", "url": "http://target/item?id=2", "param": "id", "evidence": "syntax error"},
	{"risk": "Medium", "alert": "X-Frame-Options Header Not Set", "url": "http://target/", "param": "", "evidence": ""},
	{"risk": "Low", "alert": "Cookie Without Secure Flag", "url": "http://target/login", "param": "session", "evidence": "Set-Cookie"},
	{"risk": "Informational", "alert": "Modern Web Application", "url": "http://target/", "param": "", "evidence": ""},
}

func (s *StubScanner) alertsSummaryHandler(w http.ResponseWriter, r *http.Request) {
	counts := map[string]int{}
	for _, a := range cannedAlerts {
		counts[a["risk"]]++
	}
	writeResult(w, map[string]any{"alertsSummary": counts})
}

func (s *StubScanner) alertsHandler(w http.ResponseWriter, r *http.Request) {
	start, _ := strconv.Atoi(r.URL.Query().Get("start"))
	if start >= len(cannedAlerts) {
		writeResult(w, map[string]any{"alerts": []any{}})
		return
	}
	writeResult(w, map[string]any{"alerts": cannedAlerts[start:]})
}

func (s *StubScanner) numberOfAlertsHandler(w http.ResponseWriter, r *http.Request) {
	writeResult(w, map[string]string{"numberOfAlerts": strconv.Itoa(len(cannedAlerts))})
}
