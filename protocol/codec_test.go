package protocol

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestWriteRequest_GetOrder(t *testing.T) {
	var buf bytes.Buffer
	req := &Request{
		Method:  "GET",
		Host:    "example.test",
		Path:    "/hello",
		Headers: []Header{{Name: "Accept", Value: "*/*"}},
	}
	if _, err := WriteRequest(&buf, req); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}

	got := buf.String()
	want := "GET /hello HTTP/1.1\r\n" +
		"Host: example.test\r\n" +
		"User-Agent: " + UserAgent + "\r\n" +
		"Connection: close\r\n" +
		"Accept: */*\r\n" +
		"\r\n"
	if got != want {
		t.Fatalf("unexpected request bytes:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestWriteRequest_PostIncludesContentLength(t *testing.T) {
	var buf bytes.Buffer
	req := &Request{
		Method: "POST",
		Host:   "x.test",
		Path:   "/path",
		Body:   []byte("ab"),
	}
	if _, err := WriteRequest(&buf, req); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "POST /path HTTP/1.1\r\n") {
		t.Fatalf("missing request line: %q", got)
	}
	if !strings.Contains(got, "Content-Length: 2\r\n") {
		t.Fatalf("missing Content-Length: %q", got)
	}
	if !strings.HasSuffix(got, "\r\n\r\nab") {
		t.Fatalf("missing body after blank line: %q", got)
	}
}

func TestWriteRequest_ResumeAddsRangeHeader(t *testing.T) {
	var buf bytes.Buffer
	req := &Request{Method: "GET", Host: "x.test", Path: "/f", ResumeOffset: 100}
	if _, err := WriteRequest(&buf, req); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	if !strings.Contains(buf.String(), "Range: bytes=100-\r\n") {
		t.Fatalf("missing Range header: %q", buf.String())
	}
}

func TestReadResponseHead_ContentLength(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"
	r := bufio.NewReader(strings.NewReader(raw))

	head, err := ReadResponseHead(r)
	if err != nil {
		t.Fatalf("ReadResponseHead: %v", err)
	}
	if head.StatusCode != 200 || head.Framing != FramingContentLength || head.ContentLength != 5 {
		t.Fatalf("unexpected head: %+v", head)
	}

	var body bytes.Buffer
	if err := ReadBody(r, head, &body, 0, nil); err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	if body.String() != "hello" {
		t.Fatalf("body = %q, want hello", body.String())
	}
}

func TestReadResponseHead_CaseInsensitiveHeaders(t *testing.T) {
	raw := "HTTP/1.1 301 Moved\r\nLOCATION: http://b.test/y\r\ncontent-length: 0\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))

	head, err := ReadResponseHead(r)
	if err != nil {
		t.Fatalf("ReadResponseHead: %v", err)
	}
	if !head.IsRedirect() {
		t.Fatalf("expected redirect status to be recognized")
	}
	if head.Location != "http://b.test/y" {
		t.Fatalf("Location = %q", head.Location)
	}
}

func TestReadBody_Chunked(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))

	head, err := ReadResponseHead(r)
	if err != nil {
		t.Fatalf("ReadResponseHead: %v", err)
	}
	if head.Framing != FramingChunked {
		t.Fatalf("expected chunked framing, got %v", head.Framing)
	}

	var body bytes.Buffer
	var downloaded int
	if err := ReadBody(r, head, &body, 0, func(n int) { downloaded += n }); err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	if body.String() != "Wikipedia" {
		t.Fatalf("body = %q, want Wikipedia", body.String())
	}
	if downloaded != len("Wikipedia") {
		t.Fatalf("downloaded = %d, want %d", downloaded, len("Wikipedia"))
	}
}

func TestReadBody_ChunkedBeatsContentLength(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 999\r\nTransfer-Encoding: CHUNKED\r\n\r\n" +
		"3\r\nabc\r\n0\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))

	head, err := ReadResponseHead(r)
	if err != nil {
		t.Fatalf("ReadResponseHead: %v", err)
	}
	if head.Framing != FramingChunked {
		t.Fatalf("chunked must take priority over content-length, got %v", head.Framing)
	}
}

func TestReadBody_ReadToClose(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n\r\nhello world"
	r := bufio.NewReader(strings.NewReader(raw))

	head, err := ReadResponseHead(r)
	if err != nil {
		t.Fatalf("ReadResponseHead: %v", err)
	}
	if head.Framing != FramingReadToClose {
		t.Fatalf("expected read-to-close framing, got %v", head.Framing)
	}

	var body bytes.Buffer
	if err := ReadBody(r, head, &body, 0, nil); err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	if body.String() != "hello world" {
		t.Fatalf("body = %q", body.String())
	}
}

func TestReadBody_ContentLengthZero(t *testing.T) {
	raw := "HTTP/1.1 204 No Content\r\nContent-Length: 0\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))

	head, err := ReadResponseHead(r)
	if err != nil {
		t.Fatalf("ReadResponseHead: %v", err)
	}

	var body bytes.Buffer
	if err := ReadBody(r, head, &body, 0, nil); err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	if body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", body.String())
	}
}

func TestReadResponseHead_MissingTrailingCRLFIsError(t *testing.T) {
	raw := "HTTP/1.1 200 OK" // no CRLF at all, EOF mid-line
	r := bufio.NewReader(strings.NewReader(raw))

	if _, err := ReadResponseHead(r); err == nil {
		t.Fatalf("expected parse error for unterminated status line")
	}
}
