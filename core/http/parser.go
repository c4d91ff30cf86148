package http

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/indigo-web/utils/strcomp"
	"github.com/indigo-web/utils/uf"
	"golang.org/x/net/http/httpguts"
)

// Status tags the result of Parse
type Status uint8

const (
	// Incomplete means more bytes are needed; nothing was consumed
	Incomplete Status = iota
	// Malformed means the stream cannot be resynchronized
	Malformed
	// Complete means Request holds a full request of Consumed bytes
	Complete
)

func (s Status) String() string {
	switch s {
	case Incomplete:
		return "incomplete"
	case Malformed:
		return "malformed"
	case Complete:
		return "complete"
	}
	return "unknown"
}

// Outcome is the result of one Parse call
type Outcome struct {
	Status   Status
	Request  *Request
	Consumed int
}

var (
	crlf           = []byte("\r\n")
	headerBlockEnd = []byte("\r\n\r\n")
)

// Parse reads one request from the front of buf. Trailing bytes after
// Consumed belong to the next pipelined request. The returned request
// never aliases buf.
func Parse(buf []byte) Outcome {
	lineEnd := bytes.Index(buf, crlf)
	if lineEnd == -1 {
		return Outcome{Status: Incomplete}
	}

	line := buf[:lineEnd]
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return Outcome{Status: Malformed}
	}
	sp2 := bytes.IndexByte(line[sp1+1:], ' ')
	if sp2 == -1 {
		return Outcome{Status: Malformed}
	}
	sp2 += sp1 + 1

	headerEnd := bytes.Index(buf[lineEnd:], headerBlockEnd)
	if headerEnd == -1 {
		return Outcome{Status: Incomplete}
	}
	headerEnd += lineEnd
	bodyStart := headerEnd + len(headerBlockEnd)

	req := AcquireRequest()
	req.Method = string(line[:sp1])
	req.Version = string(line[sp2+1:])
	parseTarget(req, line[sp1+1:sp2])

	if headerEnd > lineEnd && !parseHeaders(req, buf[lineEnd+len(crlf):headerEnd]) {
		ReleaseRequest(req)
		return Outcome{Status: Malformed}
	}

	bodyLen := 0
	if cl, ok := req.Header(HeaderContentLength); ok {
		n, err := strconv.ParseUint(strings.TrimSpace(cl), 10, 31)
		if err != nil {
			ReleaseRequest(req)
			return Outcome{Status: Malformed}
		}
		bodyLen = int(n)
	}

	if len(buf)-bodyStart < bodyLen {
		ReleaseRequest(req)
		return Outcome{Status: Incomplete}
	}
	req.Body = append(req.Body[:0], buf[bodyStart:bodyStart+bodyLen]...)

	return Outcome{
		Status:   Complete,
		Request:  req,
		Consumed: bodyStart + bodyLen,
	}
}

// parseHeaders fills req.Headers from CRLF separated lines. Lines
// without a colon or with an invalid field name are skipped. Names that
// differ only in case collapse to the last occurrence. It reports false
// when Content-Length is repeated with different values.
func parseHeaders(req *Request, block []byte) bool {
	for len(block) > 0 {
		var line []byte
		if i := bytes.Index(block, crlf); i >= 0 {
			line, block = block[:i], block[i+len(crlf):]
		} else {
			line, block = block, nil
		}

		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		name := line[:colon]
		if !httpguts.ValidHeaderFieldName(uf.B2S(name)) {
			continue
		}
		value := string(bytes.TrimLeft(line[colon+1:], " \t"))
		if !setHeader(req.Headers, string(name), value) {
			return false
		}
	}
	return true
}

// setHeader stores name, replacing any case variant of it already present
func setHeader(headers map[string]string, name, value string) bool {
	for k, prev := range headers {
		if !strcomp.EqualFold(k, name) {
			continue
		}
		if prev != value && strcomp.EqualFold(name, HeaderContentLength) {
			return false
		}
		delete(headers, k)
		break
	}
	headers[name] = value
	return true
}

func parseTarget(req *Request, target []byte) {
	req.RawTarget = string(target)

	path, query, hasQuery := bytes.Cut(target, []byte{'?'})
	req.Path = unescape(path, false)
	if !hasQuery {
		return
	}

	req.Query = make(map[string]string)
	for len(query) > 0 {
		var pair []byte
		pair, query, _ = bytes.Cut(query, []byte{'&'})
		if len(pair) == 0 {
			continue
		}
		key, value, _ := bytes.Cut(pair, []byte{'='})
		req.Query[unescape(key, true)] = unescape(value, true)
	}
}

// unescape decodes %XX escapes, and '+' as space when plusSpace is set.
// Escapes that are truncated or not hex are kept literally.
func unescape(s []byte, plusSpace bool) string {
	if bytes.IndexByte(s, '%') == -1 && (!plusSpace || bytes.IndexByte(s, '+') == -1) {
		return string(s)
	}

	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			out = append(out, unhex(s[i+1])<<4|unhex(s[i+2]))
			i += 2
		case c == '+' && plusSpace:
			out = append(out, ' ')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
