package gossip

import (
	"io"
	"log/slog"

	"github.com/lklynet/hypermind/internal/gossipmsg"
)

// RunReadLoop reads newline-delimited frames from r and feeds each one to
// HandleInbound until r returns an error (including io.EOF), at which
// point it returns so the caller can tear the connection down at the
// transport level (spec §4.4 "Failure semantics": read errors close the
// connection). c identifies the connection frames arrived on, for relay
// exclusion and peer-id binding.
//
// Centralizing the loop here, rather than in internal/swarm and
// internal/bootstrap separately, keeps both transports down to "open a
// byte stream, hand it to RunReadLoop" and avoids duplicating the framing
// and oversize-drop bookkeeping in two places.
func (e *Engine) RunReadLoop(c Conn, r io.Reader) error {
	fr := gossipmsg.NewFrameReader(r)
	for {
		frame, oversized, err := fr.ReadFrame()
		if oversized {
			slog.Debug("gossip: dropped oversize or garbage input", "peer", c.PeerID())
		}
		if len(frame) > 0 {
			e.HandleInbound(c, frame, len(frame)+1)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
