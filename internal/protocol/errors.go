package protocol

import "campsite.sim/internal/sim/site"

// Transport codes. Edit outcomes use the site's E_* result codes.
const (
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrSiteBusy        = "E_SITE_BUSY"
	ErrRateLimit       = "E_RATE_LIMIT"
	ErrStale           = "E_STALE"
	ErrInternal        = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrSiteBusy:        {},
	ErrRateLimit:       {},
	ErrStale:           {},
	ErrInternal:        {},

	site.CodeInvalidCell:       {},
	site.CodeOccupied:          {},
	site.CodeNotOccupied:       {},
	site.CodeBadFootprint:      {},
	site.CodeUnknownKind:       {},
	site.CodeUnknownObject:     {},
	site.CodeUnknownTask:       {},
	site.CodeUnknownAgent:      {},
	site.CodeInvalidTransition: {},
	site.CodeNotWalkable:       {},
	site.CodeUtility:           {},
	site.CodeBadRequest:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
