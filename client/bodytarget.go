package client

import (
	"bytes"
	"io"
	"os"

	httperrors "github.com/quillhttp/httpcore/errors"
	"github.com/quillhttp/httpcore/protocol"
)

// selectBodyDestination implements §4.5 step 4, run exactly once after
// redirects have settled. It returns the writer to stream the body into,
// the underlying *os.File when one was opened (nil for the in-memory
// case), the downloaded-bytes counter's starting value, and an override
// for the reported total (-1 when none applies).
func selectBodyDestination(d Descriptor, head *protocol.ResponseHead, resumeOffset int64) (io.Writer, *os.File, int64, int64, error) {
	if d.OutputPath == "" {
		return &bytes.Buffer{}, nil, 0, -1, nil
	}

	switch {
	case resumeOffset > 0 && head.StatusCode == 206:
		f, err := os.OpenFile(d.OutputPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
		if err != nil {
			return nil, nil, 0, -1, httperrors.NewKindError(httperrors.KindFileOpenFailed, "failed to open output file for append", err)
		}
		total := int64(-1)
		if head.Framing == protocol.FramingContentLength {
			total = head.ContentLength + resumeOffset
		}
		return f, f, resumeOffset, total, nil

	case resumeOffset > 0 && head.StatusCode == 200:
		// Server ignored the Range header; restart the file from zero.
		f, err := os.OpenFile(d.OutputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, nil, 0, -1, httperrors.NewKindError(httperrors.KindFileOpenFailed, "failed to open output file for write", err)
		}
		return f, f, 0, -1, nil

	default:
		f, err := os.OpenFile(d.OutputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, nil, 0, -1, httperrors.NewKindError(httperrors.KindFileOpenFailed, "failed to open output file for write", err)
		}
		return f, f, 0, -1, nil
	}
}
