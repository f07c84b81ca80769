package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/itemstage/internal/core"
	"github.com/JonMunkholm/itemstage/internal/extract"
)

// readSheet reads the uploaded file from a multipart "file" field or, for
// any other content type, from the raw request body. It also returns the
// file name to record on the session.
func (s *Server) readSheet(w http.ResponseWriter, r *http.Request) (core.Sheet, string, error) {
	maxSize := s.opts.MaxFileSize
	opts := extract.Options{MaxSize: maxSize, HeaderRows: s.opts.HeaderRows}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if r.Body == nil || r.Body == http.NoBody {
			return core.Sheet{}, "", extract.ErrNoFile
		}
		name := r.URL.Query().Get("filename")
		if name == "" {
			name = "upload.csv"
		}
		sheet, err := extract.ReadCSV(r.Body, opts)
		return sheet, name, err
	}

	// Multipart framing adds a little on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return core.Sheet{}, "", fmt.Errorf("%w: limit is %d bytes", extract.ErrFileTooLarge, maxSize)
		}
		return core.Sheet{}, "", fmt.Errorf("%w: invalid form: %v", errBadRequest, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return core.Sheet{}, "", extract.ErrNoFile
	}
	defer file.Close()

	sheet, err := extract.ReadCSV(file, opts)
	return sheet, header.Filename, err
}

// applyRequest is the body of an apply call.
type applyRequest struct {
	IDs []string `json:"ids"`
}

func decodeApply(r *http.Request) (applyRequest, error) {
	var req applyRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 4<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("%w: invalid apply body: %v", errBadRequest, err)
	}
	return req, nil
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// parseBoolParam reports whether a query flag is set to a true value.
func parseBoolParam(r *http.Request, name string) bool {
	b, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && b
}
