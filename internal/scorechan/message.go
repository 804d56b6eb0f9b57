package scorechan

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/park285/arcade-scores/internal/domain"
	"github.com/park285/arcade-scores/pkg/scoredto"
)

// Message kinds. Frames with any other kind are ignored.
const (
	KindReport  = "report"
	KindRequest = "request"
	KindReply   = "reply"
)

type Message = scoredto.Frame

func knownKind(k string) bool {
	return k == KindReport || k == KindRequest || k == KindReply
}

// ParseScore validates an untrusted frame value. Anything that is not a JSON
// number holding an integer in [0, domain.MaxScore] is ErrMalformedReport.
func ParseScore(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, domain.ErrMalformedReport
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, domain.ErrMalformedReport
	}
	if dec.More() {
		return 0, domain.ErrMalformedReport
	}
	num, ok := v.(json.Number)
	if !ok {
		return 0, domain.ErrMalformedReport
	}
	if n, err := num.Int64(); err == nil {
		if !domain.ValidScore(n) {
			return 0, domain.ErrMalformedReport
		}
		return n, nil
	}
	// 1e3 or 12.0 style integers
	f, err := num.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, domain.ErrMalformedReport
	}
	if f < 0 || f > float64(domain.MaxScore) {
		return 0, domain.ErrMalformedReport
	}
	return int64(f), nil
}

func encodeScore(v int64) json.RawMessage {
	return json.RawMessage(strconv.AppendInt(nil, v, 10))
}
