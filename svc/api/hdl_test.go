package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mdbin/cfg"
	"mdbin/pkg/domain"
	"mdbin/svc/auth"
	"mdbin/svc/cache"
	"mdbin/svc/db"
	"mdbin/svc/lim"
	"mdbin/svc/svc"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	c := &cfg.Cfg{
		Port:           "0",
		Environment:    "test",
		MaxPasteSize:   domain.MaxContentLength,
		RateLimit:      cfg.RateLimitCfg{RPM: 6000, Burst: 1000},
		SessionTTL:     time.Hour,
		ContextTimeout: 5 * time.Second,
	}
	dsn := fmt.Sprintf("file:apimemdb%d?mode=memory&cache=shared", time.Now().UnixNano())
	store, err := db.NewSQLiteWithConfig(dsn, 10, 5, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	lru, err := cache.NewLRU(100)
	if err != nil {
		t.Fatal(err)
	}
	hasher, err := auth.NewHasher(1, 8*1024, 1)
	if err != nil {
		t.Fatal(err)
	}
	guard, err := auth.NewGuard("adminpw", nil, c.SessionTTL, nil)
	if err != nil {
		t.Fatal(err)
	}
	pasteSvc := svc.NewPaste(store, lru, nil, hasher, c)
	modSvc := svc.NewModeration(store, lru, nil, guard)
	limiter := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, nil)
	t.Cleanup(limiter.Stop)
	return NewServer(c, pasteSvc, modSvc, limiter, store, nil)
}

func doJSON(t *testing.T, srv *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func createPaste(t *testing.T, srv *Server, body CreateReq) CreateResp {
	t.Helper()
	w := doJSON(t, srv, "POST", "/pastes", body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", w.Code, w.Body.String())
	}
	var resp CreateResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestCreateAndViewRoundtrip(t *testing.T) {
	srv := testServer(t)
	created := createPaste(t, srv, CreateReq{Content: "# Title\n\nbody"})

	w := doJSON(t, srv, "GET", "/pastes/"+created.ID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("view returned %d: %s", w.Code, w.Body.String())
	}
	var view domain.PasteView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view.Content != "# Title\n\nbody" || view.Title != "Title" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	srv := testServer(t)
	if w := doJSON(t, srv, "POST", "/pastes", CreateReq{Content: ""}, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("empty content returned %d", w.Code)
	}
	if w := doJSON(t, srv, "POST", "/pastes", CreateReq{Content: "x", Expiration: "forever"}, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad expiration returned %d", w.Code)
	}
	req := httptest.NewRequest("POST", "/pastes", bytes.NewBufferString("content=hi"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("form body returned %d", w.Code)
	}
}

func TestViewMissingPaste(t *testing.T) {
	srv := testServer(t)
	if w := doJSON(t, srv, "GET", "/pastes/nosuchpste", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing paste returned %d", w.Code)
	}
}

func TestUnlockFlow(t *testing.T) {
	srv := testServer(t)
	created := createPaste(t, srv, CreateReq{Content: "secret body", Password: "hunter2"})

	w := doJSON(t, srv, "GET", "/pastes/"+created.ID, nil, nil)
	var gated domain.PasteView
	if err := json.Unmarshal(w.Body.Bytes(), &gated); err != nil {
		t.Fatal(err)
	}
	if !gated.Protected || gated.Content != "" {
		t.Fatalf("gated view leaked: %+v", gated)
	}

	if w := doJSON(t, srv, "POST", "/pastes/"+created.ID+"/unlock", UnlockReq{Password: "wrong"}, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password returned %d", w.Code)
	}
	w = doJSON(t, srv, "POST", "/pastes/"+created.ID+"/unlock", UnlockReq{Password: "hunter2"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unlock returned %d: %s", w.Code, w.Body.String())
	}
	var view domain.PasteView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view.Content != "secret body" {
		t.Fatalf("unlock content = %q", view.Content)
	}

	// unlock against an unprotected paste reads as 404, not 401
	open := createPaste(t, srv, CreateReq{Content: "public"})
	if w := doJSON(t, srv, "POST", "/pastes/"+open.ID+"/unlock", UnlockReq{Password: "x"}, nil); w.Code != http.StatusNotFound {
		t.Fatalf("unlock of public paste returned %d", w.Code)
	}
}

func TestReportEndpoint(t *testing.T) {
	srv := testServer(t)
	created := createPaste(t, srv, CreateReq{Content: "spammy"})

	w := doJSON(t, srv, "POST", "/pastes/"+created.ID+"/report", ReportReq{Reason: "spam"}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("report returned %d: %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, srv, "POST", "/pastes/nosuchpste/report", ReportReq{}, nil); w.Code != http.StatusNotFound {
		t.Fatalf("report against missing paste returned %d", w.Code)
	}
}

func adminLogin(t *testing.T, srv *Server) string {
	t.Helper()
	w := doJSON(t, srv, "POST", "/admin/login", LoginReq{Password: "adminpw"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", w.Code, w.Body.String())
	}
	var resp LoginResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.Token
}

func TestAdminFlow(t *testing.T) {
	srv := testServer(t)
	created := createPaste(t, srv, CreateReq{Content: "to moderate"})
	doJSON(t, srv, "POST", "/pastes/"+created.ID+"/report", ReportReq{Reason: "bad"}, nil)

	if w := doJSON(t, srv, "GET", "/admin/pastes", nil, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated admin list returned %d", w.Code)
	}
	if w := doJSON(t, srv, "POST", "/admin/login", LoginReq{Password: "wrong"}, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad login returned %d", w.Code)
	}

	token := adminLogin(t, srv)
	bearer := map[string]string{"Authorization": "Bearer " + token}

	sess := doJSON(t, srv, "GET", "/admin/session", nil, bearer)
	var sessResp map[string]bool
	if err := json.Unmarshal(sess.Body.Bytes(), &sessResp); err != nil {
		t.Fatal(err)
	}
	if !sessResp["authenticated"] {
		t.Fatal("fresh session reads unauthenticated")
	}

	w := doJSON(t, srv, "GET", "/admin/pastes", nil, bearer)
	if w.Code != http.StatusOK {
		t.Fatalf("admin list returned %d: %s", w.Code, w.Body.String())
	}
	var summaries []domain.PasteSummary
	if err := json.Unmarshal(w.Body.Bytes(), &summaries); err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 || summaries[0].ID != created.ID {
		t.Fatalf("unexpected listing: %+v", summaries)
	}

	w = doJSON(t, srv, "GET", "/admin/reports", nil, bearer)
	if w.Code != http.StatusOK {
		t.Fatalf("reports returned %d", w.Code)
	}
	var reports []domain.ReportView
	if err := json.Unmarshal(w.Body.Bytes(), &reports); err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 || !reports[0].PasteExists {
		t.Fatalf("unexpected reports: %+v", reports)
	}

	if w := doJSON(t, srv, "DELETE", "/admin/pastes/"+created.ID, nil, bearer); w.Code != http.StatusOK {
		t.Fatalf("admin delete returned %d", w.Code)
	}
	if w := doJSON(t, srv, "GET", "/pastes/"+created.ID, nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("deleted paste still served: %d", w.Code)
	}

	// logout revokes the session for every admin route
	if w := doJSON(t, srv, "POST", "/admin/logout", nil, bearer); w.Code != http.StatusOK {
		t.Fatalf("logout returned %d", w.Code)
	}
	if w := doJSON(t, srv, "GET", "/admin/pastes", nil, bearer); w.Code != http.StatusUnauthorized {
		t.Fatalf("token survived logout: %d", w.Code)
	}
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	srv := testServer(t)
	w := doJSON(t, srv, "GET", "/pastes/nosuchpste", nil, nil)
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing security headers")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id")
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)
	w := doJSON(t, srv, "GET", "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health returned %d", w.Code)
	}
	w = doJSON(t, srv, "GET", "/ready", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ready returned %d: %s", w.Code, w.Body.String())
	}
}
