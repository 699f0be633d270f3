package transfer

import (
	"bufio"
	"bytes"
	"net/http"
	"net/textproto"
	"strings"
)

// Response is what a completed transfer delivers to OnEnd.
type Response struct {
	Status int
	// Body is nil when data storage is off or the body was streamed.
	Body []byte
	// Text is the body as a string, empty when data parsing is off.
	Text string
	// Headers holds one entry per response received, redirects included.
	Headers    []http.Header
	RawHeaders []byte
	BodyLen    int64
	HeadersLen int64
}

// ParseHeaders splits a raw header block into one http.Header per response.
func ParseHeaders(raw []byte) []http.Header {
	var out []http.Header
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw)))
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return out
		}
		if !strings.HasPrefix(line, "HTTP/") {
			continue
		}
		mh, err := tp.ReadMIMEHeader()
		out = append(out, http.Header(mh))
		if err != nil {
			return out
		}
	}
}
