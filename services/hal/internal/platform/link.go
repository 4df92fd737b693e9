package platform

import (
	"io"

	"usarthal-go/services/hal/internal/platform/streameng"
)

type streamLink = streameng.Link

// closeLink is a stream that owns an OS handle.
type closeLink interface {
	streameng.Link
	io.Closer
}
