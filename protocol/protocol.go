// Package protocol renders the HTTP/1.0 request envelope the client writes to
// the raw connection and reads the response back line by line.
//
// Request format:
//
//	POST <path> HTTP/1.0\r\n
//	Host: <server>\r\n
//	Content-Type: text/xml\r\n
//	User-Agent: <agent>\r\n
//	Content-Length: <n>\r\n
//	<other headers>\r\n
//	\r\n
//	<methodCall body>
//
// The response is accepted only if its first line carries a 200 status; header
// lines are dropped up to the first blank line and the rest is the body.
package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const crlf = "\r\n"

// maxLineSize matches the read size legacy clients use per line.
const maxLineSize = 4096

// ErrBadStatus is returned by DecodeResponse when the status line does not
// carry a 200 status.
var ErrBadStatus = errors.New("protocol: HTTP status code was not 200")

// computed lists the headers NewRequest always sets itself, in render order.
var computed = []string{"Host", "Content-Type", "User-Agent", "Content-Length"}

// Request is one rendered-ready HTTP/1.0 POST.
type Request struct {
	Path   string
	Header *Header
	Body   []byte
}

// NewRequest builds a request whose computed headers (Host, Content-Type,
// User-Agent, Content-Length) come first and override any value in extra. The
// remaining extra headers follow in their insertion order.
func NewRequest(path, host, userAgent string, body []byte, extra *Header) *Request {
	if path == "" {
		path = "/"
	}
	h := NewHeader()
	h.Set("Host", host)
	h.Set("Content-Type", "text/xml")
	h.Set("User-Agent", userAgent)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	if extra != nil {
		extra.Each(func(key, value string) {
			if isComputed(key) {
				return
			}
			h.Set(key, value)
		})
	}
	return &Request{Path: path, Header: h, Body: body}
}

func isComputed(key string) bool {
	for _, c := range computed {
		if strings.EqualFold(c, key) {
			return true
		}
	}
	return false
}

// Encode writes the request line, headers, blank line and body to w.
func Encode(w io.Writer, req *Request) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "POST %s HTTP/1.0%s", req.Path, crlf)
	if req.Header != nil {
		req.Header.Each(func(key, value string) {
			fmt.Fprintf(&b, "%s: %s%s", key, value, crlf)
		})
	}
	b.WriteString(crlf)
	b.Write(req.Body)
	_, err := w.Write(b.Bytes())
	return err
}

// DecodeResponse reads r to EOF and returns the response body.
//
// Every line read, status and headers included, is copied to capture when it is
// non-nil. A status line without "200" stops reading at once with ErrBadStatus.
// An empty response is treated the same way.
func DecodeResponse(r io.Reader, capture io.Writer) ([]byte, error) {
	br := bufio.NewReaderSize(r, maxLineSize)
	var body bytes.Buffer
	gotFirstLine := false
	gettingHeaders := true

	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if capture != nil {
				io.WriteString(capture, line)
			}
			switch {
			case !gotFirstLine:
				if !strings.Contains(line, "200") {
					return nil, ErrBadStatus
				}
				gotFirstLine = true
			case gettingHeaders:
				if strings.TrimSpace(line) == "" {
					gettingHeaders = false
				}
			default:
				body.WriteString(line)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	if !gotFirstLine {
		return nil, ErrBadStatus
	}
	return body.Bytes(), nil
}
