package controllers

import "github.com/zerofinancial/relay/internal/relay"

// Common request/response types for HTTP controllers

// appendResp reports how many log payloads were stored.
type appendResp struct {
	Accepted int    `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// configReq replaces the upload configuration.
type configReq struct {
	Endpoint string            `json:"endpoint"`
	Headers  map[string]string `json:"headers"`
}

func (r configReq) toConfiguration() relay.Configuration {
	return relay.Configuration{Endpoint: r.Endpoint, Headers: r.Headers}
}

// backgroundEventsReq is sent by a host that was woken for transfer events.
type backgroundEventsReq struct {
	Identifier string `json:"identifier"`
}

// backgroundEventsResp tells the host whether its completion ran.
type backgroundEventsResp struct {
	Completed bool `json:"completed"`
}

// statsResp is the stats payload plus the queue identity.
type statsResp struct {
	relay.Stats
	Identity string `json:"identity"`
}
