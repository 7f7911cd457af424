package event

import (
	"errors"
	"fmt"
)

// Code identifies a rejection category. Codes are stable and are the
// contract the API layer maps onto HTTP statuses.
type Code string

const (
	CodeMalformedEvent      Code = "malformed_event"
	CodeIDMismatch          Code = "id_mismatch"
	CodeInvalidSignature    Code = "invalid_signature"
	CodePayloadTooLarge     Code = "payload_too_large"
	CodeTimestampOutOfRange Code = "timestamp_out_of_range"
	CodeKindValidation      Code = "kind_validation"
	CodeRateLimited         Code = "rate_limited"
)

// Rejection is a typed refusal to admit an event. It carries enough
// structure (code, offending field or rule, disclosed limit) for callers
// to build a precise response without parsing the message.
type Rejection struct {
	Code   Code
	Field  string // offending field, when one can be named
	Rule   string // kind rule that failed, for CodeKindValidation
	Limit  int64  // disclosed bound, for size/skew/rate rejections
	Detail string
}

func (r *Rejection) Error() string {
	switch {
	case r.Rule != "":
		return fmt.Sprintf("%s: rule %q: %s", r.Code, r.Rule, r.Detail)
	case r.Field != "":
		return fmt.Sprintf("%s: field %q: %s", r.Code, r.Field, r.Detail)
	default:
		return fmt.Sprintf("%s: %s", r.Code, r.Detail)
	}
}

// AsRejection unwraps err into a *Rejection if one is in the chain.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// Malformed builds a structural rejection for the named field.
func Malformed(field, detail string) *Rejection {
	return &Rejection{Code: CodeMalformedEvent, Field: field, Detail: detail}
}

// IDMismatch reports that the supplied id does not equal the recomputed one.
func IDMismatch(supplied, computed string) *Rejection {
	return &Rejection{
		Code:   CodeIDMismatch,
		Field:  "id",
		Detail: fmt.Sprintf("supplied id %s does not match computed id %s", supplied, computed),
	}
}

// InvalidSignature covers bad signature bytes, bad pubkey encoding, or a
// signature that does not verify against the id.
func InvalidSignature(detail string) *Rejection {
	return &Rejection{Code: CodeInvalidSignature, Field: "sig", Detail: detail}
}

// PayloadTooLarge discloses the configured bound to the caller.
func PayloadTooLarge(size, limit int64) *Rejection {
	return &Rejection{
		Code:   CodePayloadTooLarge,
		Limit:  limit,
		Detail: fmt.Sprintf("payload is %d bytes, limit is %d", size, limit),
	}
}

// TimestampOutOfRange discloses the clock-skew tolerance in seconds.
func TimestampOutOfRange(createdAt, toleranceSec int64) *Rejection {
	return &Rejection{
		Code:   CodeTimestampOutOfRange,
		Field:  "created_at",
		Limit:  toleranceSec,
		Detail: fmt.Sprintf("created_at %d is beyond the %ds future tolerance", createdAt, toleranceSec),
	}
}

// KindViolation names the kind rule that refused the event.
func KindViolation(rule, detail string) *Rejection {
	return &Rejection{Code: CodeKindValidation, Rule: rule, Detail: detail}
}

// RateLimited reports per-author backpressure with the allowed rate.
func RateLimited(pubkey string, rpm int64) *Rejection {
	return &Rejection{
		Code:   CodeRateLimited,
		Field:  "pubkey",
		Limit:  rpm,
		Detail: fmt.Sprintf("author %s exceeded %d events per minute", pubkey, rpm),
	}
}
