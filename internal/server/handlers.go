package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/julianstephens/habitsync/internal/backend"
	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/wire"
)

const maxBodyBytes = 1 << 20

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]

	filters, err := wire.DecodeFilters(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	docs, err := s.client.ListDocuments(r.Context(), collection, filters...)
	if err != nil {
		writeError(w, err)
		return
	}
	if docs == nil {
		docs = []backend.Document{}
	}
	writeJSON(w, http.StatusOK, wire.ListResponse{Documents: docs, Total: len(docs)})
}

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]

	var req wire.CreateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	doc, err := s.client.CreateDocument(r.Context(), collection, req.ID, req.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) updateDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req wire.UpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	doc, err := s.client.UpdateDocument(r.Context(), vars["collection"], vars["id"], req.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := s.client.DeleteDocument(r.Context(), vars["collection"], vars["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", backend.ErrInvalidDocument)
		}
		return fmt.Errorf("%w: %v", backend.ErrInvalidDocument, err)
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	code, status := wire.Classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorBody(code, err.Error()))
}

func errorBody(code, msg string) wire.ErrorResponse {
	return wire.ErrorResponse{Error: msg, Code: code}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("response write failed", "error", err)
	}
}
