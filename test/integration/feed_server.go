package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"orefalert/internal/oref"
)

var feedBOM = []byte{0xEF, 0xBB, 0xBF}

type activeAlert struct {
	ID       string
	Category int
	Title    string
	Areas    []string
}

type historyRow struct {
	Date     time.Time
	Title    string
	Area     string
	Category int
}

// FeedServer mocks the Pikud HaOref real-time and history endpoints,
// including the UTF-8 BOM and whitespace padding the real feed emits.
type FeedServer struct {
	httpServer *httptest.Server

	mu      sync.Mutex
	active  *activeAlert
	history []historyRow
}

// NewFeedServer starts a mock feed on a random local port.
func NewFeedServer() *FeedServer {
	s := &FeedServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/alerts", s.handleRealTime)
	mux.HandleFunc("/history", s.handleHistory)
	s.httpServer = httptest.NewServer(mux)
	return s
}

// RealTimeURL returns the mock real-time endpoint.
func (s *FeedServer) RealTimeURL() string {
	return s.httpServer.URL + "/alerts"
}

// HistoryURL returns the mock history endpoint.
func (s *FeedServer) HistoryURL() string {
	return s.httpServer.URL + "/history"
}

// Stop shuts the server down.
func (s *FeedServer) Stop() {
	s.httpServer.Close()
}

// SetActive makes the real-time endpoint broadcast an alert for areas.
func (s *FeedServer) SetActive(id string, category int, title string, areas ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = &activeAlert{ID: id, Category: category, Title: title, Areas: areas}
}

// ClearActive makes the real-time endpoint serve the idle body again.
func (s *FeedServer) ClearActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
}

// AddHistory appends a row to the history feed.
func (s *FeedServer) AddHistory(date time.Time, title, area string, category int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, historyRow{Date: date, Title: title, Area: area, Category: category})
}

func (s *FeedServer) handleRealTime(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(feedBOM)
	if active == nil {
		w.Write([]byte("\r\n"))
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"id":    active.ID,
		"cat":   strconv.Itoa(active.Category),
		"title": active.Title,
		"data":  active.Areas,
		"desc":  "היכנסו למרחב המוגן",
	})
	w.Write(payload)
}

func (s *FeedServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rows := make([]map[string]interface{}, 0, len(s.history))
	for _, row := range s.history {
		rows = append(rows, map[string]interface{}{
			"alertDate": row.Date.In(oref.Israel).Format("2006-01-02 15:04:05"),
			"title":     row.Title,
			"data":      row.Area,
			"category":  row.Category,
		})
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(rows)
}
