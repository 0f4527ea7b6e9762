package signal

import (
	"github.com/pion/webrtc/v2"
)

// OfferPromiseResponse is the object returned through an OfferPromise. It
// wraps an SDP answer and a potential error.
type OfferPromiseResponse struct {
	Answer *webrtc.SessionDescription
	Error  error
}

// OfferPromise lets the stream layer process and answer an SDP offer
// asynchronously. From is the signal ID of the peer making the offer.
type OfferPromise struct {
	From     string
	Offer    webrtc.SessionDescription
	RespChan chan<- OfferPromiseResponse
}

// Respond sends the answer, or the error, back to the signal. RespChan is
// buffered by the signal, so Respond does not block.
func (p *OfferPromise) Respond(answer *webrtc.SessionDescription, err error) {
	p.RespChan <- OfferPromiseResponse{Answer: answer, Error: err}
}
