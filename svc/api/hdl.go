package api

import (
	"encoding/json"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/unicode/norm"

	"pastebox/cfg"
	"pastebox/pkg/domain"
	"pastebox/svc/render"
	"pastebox/svc/util"
)

// jsonOverhead allows for quoting and escapes around content in a create body.
const jsonOverhead = 4 * 1024

type Hdl struct {
	store PasteStore
	cfg   *cfg.Cfg
}
type CreateReq struct {
	Content  string   `json:"content"`
	TTLHours *float64 `json:"ttl_hours,omitempty"`
}
type CreateResp struct {
	ID        string     `json:"id"`
	URL       string     `json:"url"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
type RecentResp struct {
	Pastes []domain.Summary `json:"pastes"`
}
type errBody struct {
	Error     domain.ErrDetail `json:"error"`
	RequestID string           `json:"request_id,omitempty"`
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().
			Str("content_type", contentType).
			Str("request_id", requestID).
			Msg("invalid Content-Type header")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		json.NewEncoder(w).Encode(errBody{
			Error:     domain.ErrDetail{Code: "UNSUPPORTED_MEDIA_TYPE", Msg: "expected Content-Type: application/json"},
			RequestID: requestID,
		})
		return
	}
	if ce := r.Header.Get("Content-Encoding"); ce != "" && ce != "identity" {
		log.Warn().Str("content_encoding", ce).Msg("compressed content not allowed")
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}

	limit := int64(h.cfg.MaxPasteSize)*2 + jsonOverhead
	if r.ContentLength > limit {
		log.Warn().Int64("content_length", r.ContentLength).Msg("Content-Length exceeds maximum")
		writeErr(w, domain.ErrPasteTooLarge, requestID)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	var req CreateReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case err == io.EOF:
			log.Warn().Msg("empty request body")
		case errors.As(err, &maxErr):
			log.Warn().Int64("limit", maxErr.Limit).Msg("request body too large")
			writeErr(w, domain.ErrPasteTooLarge, requestID)
			return
		default:
			log.Warn().Err(err).Msg("invalid request")
		}
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}

	params := domain.CreateParams{Content: sanitizeContent(req.Content)}
	if req.TTLHours != nil {
		hours := *req.TTLHours
		if math.IsNaN(hours) || hours < 0 {
			log.Warn().Float64("ttl_hours", hours).Msg("invalid ttl")
			writeErr(w, domain.ErrInvalidTTL, requestID)
			return
		}
		ttl := h.cfg.MaxTTL
		if hours < h.cfg.MaxTTL.Hours() {
			ttl = *domain.TTLHours(hours)
		} else {
			log.Warn().Float64("ttl_hours", hours).Dur("max", h.cfg.MaxTTL).Msg("ttl exceeds max, capping")
		}
		params.TTL = &ttl
	}

	paste, err := h.store.Create(params)
	if err != nil {
		if domain.IsInvalidInput(err) {
			log.Warn().Err(err).Int("content_length", len(params.Content)).Msg("paste rejected")
		} else {
			log.Error().Err(err).Msg("failed to create paste")
		}
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("paste_id", paste.ID).
		Str("content", util.RedactPasteContent(paste.Content)).
		Bool("expires", paste.ExpiresAt != nil).
		Msg("paste created")
	w.Header().Set("Location", "/pastes/"+paste.ID)
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateResp{
		ID:        paste.ID,
		URL:       "/pastes/" + paste.ID,
		CreatedAt: paste.CreatedAt,
		ExpiresAt: paste.ExpiresAt,
	})
}
func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	if !util.ValidID(id) {
		writeErr(w, domain.ErrPasteNotFound, requestID)
		return
	}
	paste, err := h.store.Get(id)
	if err != nil {
		log.Debug().Err(err).Str("paste_id", id).Msg("get failed")
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("paste_id", id).
		Str("client_ip", util.RedactIP(r.RemoteAddr)).
		Msg("paste retrieved")
	json.NewEncoder(w).Encode(paste)
}

// GetPasteHTML serves a syntax-highlighted page for browsers. The lexer is
// chosen by ?lang= and falls back to content analysis.
func (h *Hdl) GetPasteHTML(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	if !util.ValidID(id) {
		writeErr(w, domain.ErrPasteNotFound, requestID)
		return
	}
	paste, err := h.store.Get(id)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	q := r.URL.Query()
	page, lang, err := render.Highlight(paste.Content, q.Get("lang"), q.Get("theme"))
	if err != nil {
		log.Error().Err(err).Str("paste_id", id).Msg("highlight failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", render.ContentSecurityPolicy)
	w.Header().Set("X-Paste-Language", lang)
	w.Write(page)
}
func (h *Hdl) ListRecent(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	limit := h.cfg.RecentLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeErr(w, domain.ErrInvalidRequest, requestID)
			return
		}
		limit = min(n, h.cfg.RecentLimit)
	}
	resp := RecentResp{Pastes: make([]domain.Summary, 0, limit)}
	for p := range h.store.ListRecent() {
		if len(resp.Pastes) == limit {
			break
		}
		resp.Pastes = append(resp.Pastes, domain.NewSummary(p, h.cfg.PreviewLength))
	}
	json.NewEncoder(w).Encode(resp)
}
func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	resp := domain.ToResp(err)
	if statusCode >= 500 {
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(errBody{Error: resp.Error, RequestID: requestID})
}

// sanitizeContent normalizes to NFC and drops invalid UTF-8 and control
// characters other than line breaks and tabs.
func sanitizeContent(s string) string {
	s = norm.NFC.String(s)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}
