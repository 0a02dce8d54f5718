package model

// UpstreamRequest is a single protocol call to the upstream. Protocol names
// the SQL-over-HTTP endpoint (appended to the base URL); Fields carries the
// protocol-specific body, which for authenticated protocols embeds the
// principal and secret again — the upstream checks them inside the payload in
// addition to HTTP Basic auth.
type UpstreamRequest struct {
	Protocol string
	Fields   map[string]any
	// CallerID identifies the caller on whose behalf the request runs, for
	// credential validity bookkeeping. 0 when no caller is involved.
	CallerID int64
}

// Body returns the JSON-serializable request body: the protocol-specific
// fields plus the Protocol discriminator itself.
func (r UpstreamRequest) Body() map[string]any {
	body := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		body[k] = v
	}
	body["Protocol"] = r.Protocol
	return body
}
