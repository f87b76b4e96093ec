package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"krishimitra/internal/store"
	"krishimitra/internal/weather"
)

// handleWeather uses ?city= when given, else the logged-in user's city, else
// the configured default. An explicitly empty city is a 400. A saved city the
// provider does not know falls back to the default city.
func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	var city string
	saved := false
	if q := r.URL.Query(); q.Has("city") {
		city = q.Get("city")
	} else {
		city = s.cfg.DefaultCity
		if u, err := s.userFromRequest(r); err == nil && u != nil && u.City != "" {
			city = u.City
			saved = true
		}
	}
	rep, err := s.Weather.Fetch(r.Context(), city)
	var nf *weather.CityNotFoundError
	if saved && errors.As(err, &nf) && !strings.EqualFold(city, s.cfg.DefaultCity) {
		logrus.WithField("city", city).Warnf("saved city not found, using %s", s.cfg.DefaultCity)
		rep, err = s.Weather.Fetch(r.Context(), s.cfg.DefaultCity)
	}
	if err != nil {
		switch {
		case errors.Is(err, weather.ErrEmptyCity):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &nf):
			writeError(w, http.StatusNotFound, nf.Error())
		default:
			if errors.Is(err, weather.ErrNotConfigured) {
				logrus.Error("weather lookup attempted without an API key")
			}
			writeError(w, http.StatusInternalServerError, weather.ErrUnavailable.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type marketPrice struct {
	Crop  string `json:"crop"`
	Price string `json:"price"`
}

// Placeholder mandi rates until a live feed is wired in.
var marketPrices = []marketPrice{
	{Crop: "Wheat", Price: "₹2250 / Quintal"},
	{Crop: "Tomato", Price: "₹1800 / Quintal"},
	{Crop: "Potato", Price: "₹2100 / Quintal"},
}

func (s *Server) handleMarketPrices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, marketPrices)
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	posts, err := s.Store.ListPosts(r.Context(), limit)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	p, err := s.Store.CreatePost(r.Context(), currentUser(r.Context()).ID, req.Content)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	onlyAvailable := false
	if v := r.URL.Query().Get("available"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "available must be true or false")
			return
		}
		onlyAvailable = b
	}
	items, err := s.Store.ListItems(r.Context(), onlyAvailable)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	it, err := s.Store.GetItem(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var in store.ItemInput
	if !s.decodeJSON(w, r, &in) {
		return
	}
	it, err := s.Store.CreateItem(r.Context(), currentUser(r.Context()).ID, in)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in store.ItemInput
	if !s.decodeJSON(w, r, &in) {
		return
	}
	it, err := s.Store.UpdateItem(r.Context(), currentUser(r.Context()).ID, id, in)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.Store.DeleteItem(r.Context(), currentUser(r.Context()).ID, id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSoilTests(w http.ResponseWriter, r *http.Request) {
	tests, err := s.Store.ListSoilTests(r.Context(), currentUser(r.Context()).ID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tests)
}

func (s *Server) handleCreateSoilTest(w http.ResponseWriter, r *http.Request) {
	var in store.SoilTest
	if !s.decodeJSON(w, r, &in) {
		return
	}
	t, err := s.Store.CreateSoilTest(r.Context(), currentUser(r.Context()).ID, in)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleDeleteSoilTest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.Store.DeleteSoilTest(r.Context(), currentUser(r.Context()).ID, id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
