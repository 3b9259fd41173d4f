package audit

import (
	"bytes"
	"log/slog"
)

func newBufSlog(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}
