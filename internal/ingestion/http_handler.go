package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Handler exposes the landing loader as an HTTP endpoint.
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the service with a POST endpoint taking a multipart
// "file" field and an optional zero-based "headerRow".
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	var headerRow *int
	if raw := strings.TrimSpace(r.FormValue("headerRow")); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid headerRow: %v", err), http.StatusBadRequest)
			return
		}
		headerRow = &idx
	}

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read file: %v", err), http.StatusBadRequest)
		return
	}

	summary, err := h.service.Load(r.Context(), Request{
		FileName:       header.Filename,
		HeaderRowIndex: headerRow,
		Data:           bytes.NewReader(data),
	})
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, ErrUnsupportedFormat) && summary.TotalRows > 0 {
			status = http.StatusInternalServerError
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
