package storage

import (
	"net/http"
	"strings"
)

// RequestJar is a Jar for one HTTP exchange: it starts from the request's
// Cookie header and emits a Set-Cookie header on the response for every
// write. Reads observe earlier writes made through the same jar.
type RequestJar struct {
	doc *DocumentJar
	w   http.ResponseWriter
}

var _ Jar = (*RequestJar)(nil)

// NewRequestJar creates a jar over r and w. w may be nil for a read-only jar
// and r may be nil for a write-only one.
func NewRequestJar(r *http.Request, w http.ResponseWriter) *RequestJar {
	var header string
	if r != nil {
		header = strings.Join(r.Header.Values("Cookie"), "; ")
	}
	return &RequestJar{doc: NewDocumentJar(header), w: w}
}

func (j *RequestJar) Header() string {
	return j.doc.Header()
}

func (j *RequestJar) SetCookie(directive string) {
	j.doc.SetCookie(directive)
	if j.w != nil {
		j.w.Header().Add("Set-Cookie", directive)
	}
}
