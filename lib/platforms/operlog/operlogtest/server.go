// Package operlogtest provides an in-memory operlog server for tests. It speaks
// the same json api and renders the same html history view as the real
// service, and records what it was sent.
package operlogtest

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	Username = "operator"
	Password = "hunter2"

	// TimeLayout is how the history view renders timestamps.
	TimeLayout = "2006-01-02 15:04:05"

	sessionCookie = "operlog_session"
)

type Item struct {
	ID             int    `json:"id"`
	Event          string `json:"event"`
	AfterEvent     string `json:"after_event"`
	Operator       string `json:"operator"`
	UsernameReport string `json:"username_report"`
	TimeEvent      string `json:"time_event"`
	TimeReport     string `json:"time_report"`
}

// HistoryRow is a row of the html history table, the text fields are rendered
// verbatim so tests can feed placeholder values like "-----".
type HistoryRow struct {
	Time       time.Time
	Event      string
	Specialist string
	EndTime    string
	Comment    string
	Operator   string
}

type Request struct {
	Method string
	Path   string
	Token  string
}

type Server struct {
	*httptest.Server

	mu sync.Mutex

	location            *time.Location
	loginBroken         bool
	alwaysUnauthorized  bool
	historyMarkupBroken bool
	requireSession      bool

	validToken string
	issued     int
	items      map[int]Item
	nextID     int
	history    []HistoryRow
	sessions   map[string]bool

	logins        int
	formLogins    int
	apiRequests   []Request
	searchQueries []url.Values
}

func NewServer() *Server {
	s := &Server{
		location: time.UTC,
		items:    map[int]Item{},
		nextID:   1,
		sessions: map[string]bool{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/loginapi", s.handleLoginApi)
	mux.HandleFunc("/api", s.handleCollection)
	mux.HandleFunc("/api/", s.handleItem)
	mux.HandleFunc("/login", s.handleFormLogin)
	mux.HandleFunc("/search", s.handleSearch)
	s.Server = httptest.NewServer(mux)
	return s
}

// ValidToken is the only token /api currently accepts.
func (s *Server) ValidToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validToken
}

// ExpireToken makes the current token invalid, as if it timed out server side.
func (s *Server) ExpireToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validToken = ""
}

// SetValidToken makes `token` acceptable without a login.
func (s *Server) SetValidToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validToken = token
}

// SetLocation sets the timezone the history view renders and buckets days in.
func (s *Server) SetLocation(loc *time.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = loc
}

// SetLoginBroken makes /loginapi answer 500 with a non-json body.
func (s *Server) SetLoginBroken(broken bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginBroken = broken
}

// SetAlwaysUnauthorized makes every /api request fail with 401.
func (s *Server) SetAlwaysUnauthorized(always bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alwaysUnauthorized = always
}

// SetHistoryMarkupBroken makes /search render a page without the results table.
func (s *Server) SetHistoryMarkupBroken(broken bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyMarkupBroken = broken
}

// SetRequireSession makes /search redirect to /login without a form login cookie.
func (s *Server) SetRequireSession(require bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requireSession = require
}

// ExpireSessions invalidates every form login cookie handed out so far.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = map[string]bool{}
}

// Requests lists every /api request in arrival order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.apiRequests...)
}

func (s *Server) LoginCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

func (s *Server) FormLoginCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.formLogins
}

// SearchQueries lists the form values of every /search request.
func (s *Server) SearchQueries() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.searchQueries...)
}

func (s *Server) PutItem(item Item) Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == 0 {
		item.ID = s.nextID
	}
	if item.ID >= s.nextID {
		s.nextID = item.ID + 1
	}
	s.items[item.ID] = item
	return item
}

func (s *Server) Item(id int) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	return item, ok
}

func (s *Server) AddHistory(rows ...HistoryRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rows...)
}

func writeJson(w http.ResponseWriter, status int, value any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(value)
}

func (s *Server) handleLoginApi(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins++

	if s.loginBroken {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("<html>internal error</html>"))
		return
	}

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	err := json.NewDecoder(r.Body).Decode(&creds)
	if err != nil || creds.Username != Username || creds.Password != Password {
		writeJson(w, http.StatusUnauthorized, map[string]string{"msg": "bad username or password"})
		return
	}

	s.issued++
	s.validToken = fmt.Sprintf("token-%d", s.issued)
	writeJson(w, http.StatusOK, map[string]string{"access_token": s.validToken})
}

// authorize records the request and reports whether it carried the valid token,
// the caller must hold s.mu.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.apiRequests = append(s.apiRequests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Token:  token,
	})
	if s.alwaysUnauthorized || s.validToken == "" || token != s.validToken {
		writeJson(w, http.StatusUnauthorized, map[string]string{"msg": "Token has expired"})
		return false
	}
	return true
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authorize(w, r) {
		return
	}

	switch r.Method {
	case http.MethodGet:
		out := map[string]Item{}
		for id, item := range s.items {
			out[strconv.Itoa(id)] = item
		}
		writeJson(w, http.StatusOK, out)
	case http.MethodPost:
		var body struct {
			Event      string  `json:"event"`
			AfterEvent *string `json:"after_event"`
		}
		err := json.NewDecoder(r.Body).Decode(&body)
		if err != nil || body.Event == "" {
			writeJson(w, http.StatusBadRequest, map[string]string{"msg": "event is required"})
			return
		}
		now := time.Now().In(s.location)
		item := Item{
			ID:             s.nextID,
			Event:          body.Event,
			Operator:       Username,
			UsernameReport: Username,
			TimeEvent:      now.Format(time.RFC1123Z),
			TimeReport:     now.Format("2006-01-02 15:04"),
		}
		if body.AfterEvent != nil {
			item.AfterEvent = *body.AfterEvent
		}
		s.nextID++
		s.items[item.ID] = item
		writeJson(w, http.StatusCreated, item)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authorize(w, r) {
		return
	}

	id, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/api/"))
	if err != nil {
		writeJson(w, http.StatusNotFound, map[string]string{"msg": "not found"})
		return
	}
	item, ok := s.items[id]
	if !ok {
		writeJson(w, http.StatusNotFound, map[string]string{"msg": "not found"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJson(w, http.StatusOK, item)
	case http.MethodPut:
		var body struct {
			Event      *string `json:"event"`
			AfterEvent *string `json:"after_event"`
		}
		err := json.NewDecoder(r.Body).Decode(&body)
		if err != nil {
			writeJson(w, http.StatusBadRequest, map[string]string{"msg": "bad body"})
			return
		}
		if body.Event != nil {
			item.Event = *body.Event
		}
		if body.AfterEvent != nil {
			item.AfterEvent = *body.AfterEvent
		}
		s.items[id] = item
		writeJson(w, http.StatusCreated, item)
	case http.MethodDelete:
		delete(s.items, id)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleFormLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.formLogins++

	if r.FormValue("username") != Username || r.FormValue("password") != Password {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("<html><body>wrong credentials</body></html>"))
		return
	}

	session := fmt.Sprintf("session-%d", s.formLogins)
	s.sessions[session] = true
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: session, Path: "/"})
	w.Write([]byte("<html><body>welcome</body></html>"))
}

var historyTemplate = template.Must(template.New("history").Parse(`<!DOCTYPE html>
<html>
<head><title>Operations log</title></head>
<body>
<form method="post" action="/search">
  <input name="date1" value="{{.From}}">
  <input name="date2" value="{{.To}}">
  <input name="event" value="">
</form>
{{if not .Broken}}
<table class="table table_oper_log">
  <tr>
    <th>Time</th><th>Event</th><th>Specialist</th><th>End time</th><th>Comment</th><th>Operator</th>
  </tr>
  {{range .Rows}}
  <tr>
    <td>{{.Time}}</td>
    <td>{{.Event}}</td>
    <td>{{.Specialist}}</td>
    <td>{{.EndTime}}</td>
    <td>{{.Comment}}</td>
    <td>{{.Operator}}</td>
  </tr>
  {{end}}
</table>
{{else}}
<p>Maintenance in progress.</p>
{{end}}
</body>
</html>`))

type renderedRow struct {
	Time       string
	Event      string
	Specialist string
	EndTime    string
	Comment    string
	Operator   string
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	err := r.ParseForm()
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchQueries = append(s.searchQueries, r.PostForm)

	if s.requireSession {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil || !s.sessions[cookie.Value] {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
	}

	from, err := time.ParseInLocation("2006-01-02", r.PostForm.Get("date1"), s.location)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	to, err := time.ParseInLocation("2006-01-02", r.PostForm.Get("date2"), s.location)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	// the real view is day granular and includes all of date2
	to = to.AddDate(0, 0, 1)

	var rows []renderedRow
	for _, row := range s.history {
		if row.Time.Before(from) || !row.Time.Before(to) {
			continue
		}
		rows = append(rows, renderedRow{
			Time:       row.Time.In(s.location).Format(TimeLayout),
			Event:      row.Event,
			Specialist: row.Specialist,
			EndTime:    row.EndTime,
			Comment:    row.Comment,
			Operator:   row.Operator,
		})
	}

	w.Header().Set("content-type", "text/html; charset=utf-8")
	historyTemplate.Execute(w, map[string]any{
		"From":   r.PostForm.Get("date1"),
		"To":     r.PostForm.Get("date2"),
		"Broken": s.historyMarkupBroken,
		"Rows":   rows,
	})
}
