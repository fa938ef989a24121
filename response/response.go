package response

import (
	"encoding/json"
	"net/http"
)

type envelope struct {
	Messages []string    `json:"messages"`
	Result   interface{} `json:"result"`
}

// WriteResponse will serialize the result as JSON to the client with a 200
func WriteResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(envelope{
		Messages: []string{},
		Result:   result,
	})
}

// WriteError will serialize the Error to the client with its status code
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	json.NewEncoder(w).Encode(envelope{
		Messages: append([]string{e.Message}, e.Messages...),
		Result:   e.Result,
	})
}
