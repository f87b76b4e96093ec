package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"krishimitra/internal/assistant"
	"krishimitra/internal/auth"
	"krishimitra/internal/cache"
	"krishimitra/internal/config"
	"krishimitra/internal/gemini"
	"krishimitra/internal/store"
	"krishimitra/internal/weather"
)

type fakeSelector struct {
	sel         gemini.Selection
	invalidated int
}

func (f *fakeSelector) Select(context.Context) gemini.Selection { return f.sel }
func (f *fakeSelector) Invalidate(context.Context) error { f.invalidated++; return nil }

type fakeGenerator struct {
	mu     sync.Mutex
	answer string
	err    error
	reqs   []gemini.Request
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, req gemini.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.answer, f.err
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type harness struct {
	t          *testing.T
	srv        *Server
	handler    http.Handler
	gen        *fakeGenerator
	sel        *fakeSelector
	st         *store.Store
	weatherHit int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, gen: &fakeGenerator{answer: "Use neem oil spray."}}
	h.sel = &fakeSelector{sel: gemini.Selection{Model: "gemini-2.5-flash", Rule: gemini.RulePriority}}

	ws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.weatherHit++
		city := r.URL.Query().Get("q")
		if city == "Atlantis" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"cod":"404","message":"city not found"}`)
			return
		}
		_, _ = io.WriteString(w, `{"name":"`+city+`","main":{"temp":28.5,"temp_min":27,"temp_max":30,"humidity":60},"weather":[{"description":"clear sky","icon":"01d"}],"wind":{"speed":2.1}}`)
	}))
	t.Cleanup(ws.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "km.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	h.st = st

	sessions, err := auth.NewSessionManager("test-secret", time.Hour)
	require.NoError(t, err)

	cfg := config.Config{WeatherAPIKey: "k", WeatherBaseURL: ws.URL, MaxImageBytes: 1024}
	h.srv = New(cfg, Deps{
		Store:     st,
		Assistant: assistant.New(h.sel, h.gen, time.Second),
		Weather:   weather.NewClient(cfg, ws.Client()),
		Selector:  h.sel,
		Sessions:  sessions,
		Revoked:   cache.NewMemory(),
	})
	h.handler = h.srv.Router()
	return h
}

func (h *harness) do(method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	h.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func (h *harness) json(method, path, token, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return h.do(method, path, token, r, "application/json")
}

// login registers name and returns a session token.
func (h *harness) login(name string) string {
	h.t.Helper()
	rr := h.json(http.MethodPost, "/api/register", "", `{"username":"`+name+`","password":"secret123"}`)
	require.Equal(h.t, http.StatusCreated, rr.Code, rr.Body.String())
	rr = h.json(http.MethodPost, "/api/login", "", `{"username":"`+name+`","password":"secret123"}`)
	require.Equal(h.t, http.StatusOK, rr.Code, rr.Body.String())
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(h.t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.NotEmpty(h.t, out.Token)
	return out.Token
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealthAndMarketPrices(t *testing.T) {
	h := newHarness(t)
	rr := h.json(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	rr = h.json(http.MethodGet, "/api/market_prices", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	prices := decode[[]marketPrice](t, rr)
	require.Len(t, prices, 3)
	require.Equal(t, "Wheat", prices[0].Crop)
	require.Equal(t, "₹2250 / Quintal", prices[0].Price)
}

func TestAccountFlow(t *testing.T) {
	h := newHarness(t)

	rr := h.json(http.MethodPost, "/api/register", "", `{"username":"kisan","password":"123"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	tok := h.login("kisan")
	rr = h.json(http.MethodPost, "/api/register", "", `{"username":"kisan","password":"another1"}`)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = h.json(http.MethodPost, "/api/login", "", `{"username":"kisan","password":"wrongpass"}`)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = h.json(http.MethodPost, "/api/login", "", `{"username":"ghost","password":"wrongpass"}`)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = h.json(http.MethodGet, "/api/me", "", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = h.json(http.MethodGet, "/api/me", "not-a-token", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = h.json(http.MethodGet, "/api/me", tok, "")
	require.Equal(t, http.StatusOK, rr.Code)
	me := decode[store.User](t, rr)
	require.Equal(t, "kisan", me.Username)
	require.Equal(t, store.DefaultCity, me.City)
	require.NotContains(t, rr.Body.String(), "$2a$")

	rr = h.json(http.MethodPost, "/api/me/city", tok, `{"city":"Indore"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "Indore", decode[store.User](t, rr).City)

	rr = h.json(http.MethodPost, "/api/logout", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Header().Get("Set-Cookie"), auth.SessionCookie+"=;")
}

func TestRegister_PasswordTooLong(t *testing.T) {
	h := newHarness(t)
	body := `{"username":"ravi","password":"` + strings.Repeat("a", 80) + `"}`
	rr := h.json(http.MethodPost, "/api/register", "", body)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, auth.ErrPasswordTooLong.Error(), decode[map[string]string](t, rr)["error"])

	_, err := h.st.GetUserByUsername(context.Background(), "ravi")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestLogout_RevokesToken(t *testing.T) {
	h := newHarness(t)
	tok := h.login("meena")
	other := h.login("meena2")
	require.Equal(t, http.StatusOK, h.json(http.MethodGet, "/api/me", tok, "").Code)

	rr := h.json(http.MethodPost, "/api/logout", tok, "")
	require.Equal(t, http.StatusOK, rr.Code)

	require.Equal(t, http.StatusUnauthorized, h.json(http.MethodGet, "/api/me", tok, "").Code)
	require.Equal(t, http.StatusOK, h.json(http.MethodGet, "/api/me", other, "").Code)
}

func TestHealth_StoreDown(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.st.Close())
	rr := h.json(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "unavailable", decode[map[string]string](t, rr)["status"])
}

func TestLogin_SetsCookie(t *testing.T) {
	h := newHarness(t)
	h.login("cookieuser")
	rr := h.json(http.MethodPost, "/api/login", "", `{"username":"cookieuser","password":"secret123"}`)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, auth.SessionCookie, cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(cookies[0])
	out := httptest.NewRecorder()
	h.handler.ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code)
}

func TestChat(t *testing.T) {
	h := newHarness(t)
	tok := h.login("chatter")

	rr := h.json(http.MethodPost, "/api/chat", "", `{"message":"hi"}`)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = h.json(http.MethodPost, "/api/chat", tok, `{"message":"   "}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Zero(t, h.gen.calls())

	rr = h.json(http.MethodPost, "/api/chat", tok, `{"message":"Aphids on mustard?"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	out := decode[map[string]string](t, rr)
	require.Equal(t, "Use neem oil spray.", out["answer"])
	require.Equal(t, "gemini-2.5-flash", out["model"])

	h.gen.err = errors.New("rpc error: code = 429 quota exhausted")
	rr = h.json(http.MethodPost, "/api/chat", tok, `{"message":"again"}`)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, assistant.QuotaMessage, decode[map[string]string](t, rr)["error"])

	h.gen.err = errors.New("model overloaded")
	rr = h.json(http.MethodPost, "/api/chat", tok, `{"message":"again"}`)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Equal(t, "model overloaded", decode[map[string]string](t, rr)["error"])
}

func multipartImage(t *testing.T, fields map[string]string, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if image != nil {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="image"; filename="leaf.png"`)
		hdr.Set("Content-Type", "image/png")
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

var png = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestDiagnoseAndGrade(t *testing.T) {
	h := newHarness(t)
	tok := h.login("grower")

	body, ct := multipartImage(t, map[string]string{"note": "brown spots"}, png)
	rr := h.do(http.MethodPost, "/api/diagnose", tok, body, ct)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, 1, h.gen.calls())
	sent := h.gen.reqs[0]
	require.NotNil(t, sent.Image)
	require.Equal(t, "image/png", sent.Image.MediaType)
	require.Contains(t, sent.Prompt, "brown spots")

	body, ct = multipartImage(t, map[string]string{"crop": "onion"}, png)
	rr = h.do(http.MethodPost, "/api/grade", tok, body, ct)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, h.gen.reqs[1].Prompt, "onion")

	body, ct = multipartImage(t, map[string]string{"note": "no photo"}, nil)
	rr = h.do(http.MethodPost, "/api/diagnose", tok, body, ct)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	body, ct = multipartImage(t, nil, bytes.Repeat([]byte{0x89}, 2048))
	rr = h.do(http.MethodPost, "/api/diagnose", tok, body, ct)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	require.Equal(t, 2, h.gen.calls())
}

func TestWeather(t *testing.T) {
	h := newHarness(t)

	rr := h.json(http.MethodGet, "/api/weather?city=Bhopal", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	rep := decode[weather.Report](t, rr)
	require.Equal(t, "Bhopal", rep.CityName)
	require.Equal(t, 28.5, rep.Temp)
	require.Equal(t, "Clear sky", rep.Description)

	hits := h.weatherHit
	rr = h.json(http.MethodGet, "/api/weather?city=", "", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, hits, h.weatherHit)

	rr = h.json(http.MethodGet, "/api/weather?city=Atlantis", "", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "city not found", decode[map[string]string](t, rr)["error"])

	rr = h.json(http.MethodGet, "/api/weather", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, store.DefaultCity, decode[weather.Report](t, rr).CityName)

	tok := h.login("sagar")
	require.Equal(t, http.StatusOK, h.json(http.MethodPost, "/api/me/city", tok, `{"city":"Sagar"}`).Code)
	rr = h.json(http.MethodGet, "/api/weather", tok, "")
	require.Equal(t, "Sagar", decode[weather.Report](t, rr).CityName)
}

func TestWeather_SavedCityFallsBackToDefault(t *testing.T) {
	h := newHarness(t)
	tok := h.login("lost")
	require.Equal(t, http.StatusOK, h.json(http.MethodPost, "/api/me/city", tok, `{"city":"Atlantis"}`).Code)

	hits := h.weatherHit
	rr := h.json(http.MethodGet, "/api/weather", tok, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, store.DefaultCity, decode[weather.Report](t, rr).CityName)
	require.Equal(t, hits+2, h.weatherHit)

	// An explicit city is not replaced.
	rr = h.json(http.MethodGet, "/api/weather?city=Atlantis", tok, "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWeather_Unavailable(t *testing.T) {
	h := newHarness(t)
	h.srv.Weather = weather.NewClient(config.Config{WeatherAPIKey: "k", WeatherBaseURL: "http://127.0.0.1:1"}, nil)
	rr := h.json(http.MethodGet, "/api/weather?city=Bhopal", "", "")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, weather.ErrUnavailable.Error(), decode[map[string]string](t, rr)["error"])
}

func TestModelEndpoints(t *testing.T) {
	h := newHarness(t)
	rr := h.json(http.MethodGet, "/api/model", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, h.sel.sel, decode[gemini.Selection](t, rr))

	tok := h.login("admin")
	rr = h.json(http.MethodPost, "/api/model/refresh", tok, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, h.sel.invalidated)
}

func TestPosts(t *testing.T) {
	h := newHarness(t)
	tok := h.login("asker")

	require.Equal(t, http.StatusUnauthorized, h.json(http.MethodPost, "/api/posts", "", `{"content":"q"}`).Code)
	require.Equal(t, http.StatusBadRequest, h.json(http.MethodPost, "/api/posts", tok, `{"content":""}`).Code)
	require.Equal(t, http.StatusCreated, h.json(http.MethodPost, "/api/posts", tok, `{"content":"First?"}`).Code)
	require.Equal(t, http.StatusCreated, h.json(http.MethodPost, "/api/posts", tok, `{"content":"Second?"}`).Code)

	rr := h.json(http.MethodGet, "/api/posts", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	posts := decode[[]store.Post](t, rr)
	require.Len(t, posts, 2)
	require.Equal(t, "Second?", posts[0].Content)
	require.Equal(t, "asker", posts[0].Author)

	require.Equal(t, http.StatusBadRequest, h.json(http.MethodGet, "/api/posts?limit=x", "", "").Code)
}

func TestInventory(t *testing.T) {
	h := newHarness(t)
	owner := h.login("owner")
	other := h.login("other")

	rr := h.json(http.MethodPost, "/api/inventory", owner, `{"name":"Harvester","price_per_day":"2500.50","location":"Katni"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	item := decode[store.Item](t, rr)
	require.Equal(t, "2500.5", item.PricePerDay.String())
	require.True(t, item.Available)

	id := "/api/inventory/" + strconv.FormatInt(item.ID, 10)
	require.Equal(t, http.StatusOK, h.json(http.MethodGet, id, "", "").Code)
	require.Equal(t, http.StatusForbidden, h.json(http.MethodPut, id, other, `{"name":"Mine","price_per_day":"1"}`).Code)
	require.Equal(t, http.StatusForbidden, h.json(http.MethodDelete, id, other, "").Code)

	rr = h.json(http.MethodPut, id, owner, `{"name":"Harvester","price_per_day":"2000","available":false}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.False(t, decode[store.Item](t, rr).Available)

	rr = h.json(http.MethodGet, "/api/inventory?available=true", "", "")
	require.Empty(t, decode[[]store.Item](t, rr))
	rr = h.json(http.MethodGet, "/api/inventory", "", "")
	require.Len(t, decode[[]store.Item](t, rr), 1)

	require.Equal(t, http.StatusNoContent, h.json(http.MethodDelete, id, owner, "").Code)
	require.Equal(t, http.StatusNotFound, h.json(http.MethodGet, id, "", "").Code)
	require.Equal(t, http.StatusBadRequest, h.json(http.MethodGet, "/api/inventory/abc", "", "").Code)
}

func TestSoilTests(t *testing.T) {
	h := newHarness(t)
	tok := h.login("soil")

	require.Equal(t, http.StatusUnauthorized, h.json(http.MethodGet, "/api/soil_tests", "", "").Code)
	rr := h.json(http.MethodPost, "/api/soil_tests", tok, `{"field_name":"East","ph":15,"nitrogen":10}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "pH")

	rr = h.json(http.MethodPost, "/api/soil_tests", tok, `{"field_name":"East","ph":6.5,"nitrogen":240,"phosphorus":18,"potassium":150}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	created := decode[store.SoilTest](t, rr)

	rr = h.json(http.MethodGet, "/api/soil_tests", tok, "")
	require.Len(t, decode[[]store.SoilTest](t, rr), 1)

	path := "/api/soil_tests/" + strconv.FormatInt(created.ID, 10)
	require.Equal(t, http.StatusNoContent, h.json(http.MethodDelete, path, tok, "").Code)
	require.Equal(t, http.StatusNotFound, h.json(http.MethodDelete, path, tok, "").Code)
}

func TestRecoverMiddleware(t *testing.T) {
	s := New(config.Config{}, Deps{})
	h := s.withRecover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "boom")
}

func TestConcurrencyLimit(t *testing.T) {
	s := New(config.Config{MaxConcurrentRequests: 1}, Deps{})
	s.sem <- struct{}{}
	h := s.withConcurrencyLimit(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	<-s.sem
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.json(http.MethodGet, "/health", "", "")
	rr := h.json(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "krishimitra_http_requests_total")
}
