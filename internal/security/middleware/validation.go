package middleware

import (
	"mime"
	"net/http"
)

// maxBodyBytes caps request bodies on the API surface. Nothing this
// service accepts legitimately exceeds 1 MiB.
const maxBodyBytes = 1 << 20

// ValidateJSON rejects mutating requests whose body is not declared as
// JSON and caps the body size before handlers decode it.
func ValidateJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if r.ContentLength != 0 {
				ct := r.Header.Get("Content-Type")
				mediaType, _, err := mime.ParseMediaType(ct)
				if err != nil || mediaType != "application/json" {
					writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
					return
				}
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}
