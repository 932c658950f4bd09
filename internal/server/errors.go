package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rdeshpande/chat-gateway/internal/domain"
)

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// writeError maps an error to its HTTP status and the canonical error body.
// Unexpected errors surface as 500 with a generic message; their detail goes
// to the request log, not the client.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "Something went wrong"

	var gwErr *domain.Error
	if errors.As(err, &gwErr) {
		status = gwErr.HTTPStatusCode()
		message = gwErr.Message
	}

	var body errorBody
	body.Error.Message = message
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// dataResponse is the envelope for successful list/get responses.
type dataResponse struct {
	Data any `json:"data"`
}

func writeData(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, dataResponse{Data: v})
}
