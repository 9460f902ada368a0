package transport

import (
	"io"

	"github.com/rs/zerolog"
)

// log defaults to disabled, matching client's restraint about logging
// inside a library meant to be embedded (§10.1). client.SetLogger installs
// the real sink here too, so a consumer only has one switch to flip.
var log = zerolog.New(io.Discard)

// SetLogger installs the sink every transport log line is written to. Pass
// zerolog.New(io.Discard) (the default) to silence it again.
func SetLogger(l zerolog.Logger) {
	log = l
}
