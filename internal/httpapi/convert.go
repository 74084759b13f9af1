package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"google.golang.org/protobuf/types/known/structpb"
)

// Every response type is a JSON-tagged struct.  The protobuf rendering is the
// same document as a google.protobuf.Struct, so both encodings carry
// identical field names.

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(st *structpb.Struct, dst any) error {
	raw, err := json.Marshal(st.AsMap())
	if err != nil {
		return err
	}
	return strictDecode(bytes.NewReader(raw), dst)
}

func strictDecode(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// decodeBody fills dst from a JSON body or, for protobuf content types, from
// a google.protobuf.Struct body.  Unknown fields are rejected either way.
func decodeBody(r *http.Request, dst any) error {
	if isProtobuf(r) {
		st, err := readStruct(r)
		if err != nil {
			return err
		}
		return fromStruct(st, dst)
	}
	return strictDecode(io.LimitReader(r.Body, maxRequestBody), dst)
}

// respond writes v as JSON, or as a protobuf Struct when the client's Accept
// header asks for it.
func respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if wantsProtobuf(r) {
		st, err := toStruct(v)
		if err != nil {
			http.Error(w, "proto marshal error", http.StatusInternalServerError)
			return
		}
		writeProto(w, status, st)
		return
	}
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}
