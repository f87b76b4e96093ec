package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"krishimitra/internal/assistant"
	"krishimitra/internal/gemini"
)

// writeResult maps an AI result onto the caller-facing shape: {answer} on
// success, {error} with 429 for quota and 502 for other failures.
func writeResult(w http.ResponseWriter, res assistant.Result) {
	switch res.Kind {
	case assistant.KindOK:
		writeJSON(w, http.StatusOK, map[string]string{"answer": res.Answer, "model": res.Model})
	case assistant.KindQuotaExceeded:
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, res.Error)
	default:
		writeError(w, http.StatusBadGateway, res.Error)
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	writeResult(w, s.Assistant.Chat(r.Context(), req.Message))
}

func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	img, ok := s.readImage(w, r)
	if !ok {
		return
	}
	writeResult(w, s.Assistant.DiagnoseLeaf(r.Context(), img, r.FormValue("note")))
}

func (s *Server) handleGrade(w http.ResponseWriter, r *http.Request) {
	img, ok := s.readImage(w, r)
	if !ok {
		return
	}
	writeResult(w, s.Assistant.GradeCrop(r.Context(), img, r.FormValue("crop")))
}

// readImage pulls the "image" file out of a multipart upload.
func (s *Server) readImage(w http.ResponseWriter, r *http.Request) (*gemini.Image, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.RequestMaxBodyBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxImageBytes); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form with an image")
		return nil, false
	}
	f, hdr, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, assistant.ErrNoImage.Error())
		return nil, false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxImageBytes+1))
	if err != nil {
		logrus.WithField("requestId", requestID(r.Context())).Errorf("read upload: %v", err)
		writeError(w, http.StatusBadRequest, "could not read the uploaded image")
		return nil, false
	}
	img, err := assistant.NewImage(data, hdr.Header.Get("Content-Type"), s.cfg.MaxImageBytes)
	switch {
	case errors.Is(err, assistant.ErrImageTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return nil, false
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return img, true
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	if s.Selector == nil {
		writeJSON(w, http.StatusOK, gemini.Selection{Model: gemini.DefaultModel, Rule: gemini.RuleDefault})
		return
	}
	writeJSON(w, http.StatusOK, s.Selector.Select(r.Context()))
}

// handleModelRefresh drops any cached selection and resolves again.
func (s *Server) handleModelRefresh(w http.ResponseWriter, r *http.Request) {
	if s.Selector == nil {
		writeJSON(w, http.StatusOK, gemini.Selection{Model: gemini.DefaultModel, Rule: gemini.RuleDefault})
		return
	}
	if err := s.Selector.Invalidate(r.Context()); err != nil {
		logrus.Warnf("invalidate model selection: %v", err)
	}
	writeJSON(w, http.StatusOK, s.Selector.Select(r.Context()))
}
