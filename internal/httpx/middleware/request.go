package middleware

import (
	"errors"
	"mime"
	"net/http"
)

// ParseFormRequestWithSize parses a urlencoded or multipart body, failing once
// more than maxSize bytes have been read. Use IsTooLarge on the result.
func ParseFormRequestWithSize(w http.ResponseWriter, r *http.Request, maxSize int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return r.ParseMultipartForm(maxSize)
	}
	return r.ParseForm()
}

// IsTooLarge reports whether err came from exceeding the body limit.
func IsTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
