// Package codec converts between in-memory log batches and the Loki wire
// shapes: the push payload on the way out, query and label responses on the
// way back.
package codec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/lokiship/internal/model"
)

type pushStream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"` // [timestamp ns as string, line]
}

type pushRequest struct {
	Streams []pushStream `json:"streams"`
}

// EncodePush serializes a batch into the Loki push body:
// {"streams":[{"stream":{...},"values":[["<ns>","line"],...]}]}
func EncodePush(b *model.PushBatch) ([]byte, error) {
	req := pushRequest{Streams: make([]pushStream, 0, len(b.Streams()))}
	for _, s := range b.Streams() {
		ps := pushStream{
			Stream: s.Labels,
			Values: make([][2]string, 0, len(s.Entries)),
		}
		for _, e := range s.Entries {
			ps.Values = append(ps.Values, [2]string{
				strconv.FormatInt(e.Timestamp, 10),
				e.Line,
			})
		}
		req.Streams = append(req.Streams, ps)
	}
	return json.Marshal(req)
}

// TimestampNanos normalizes a record timestamp to Unix nanoseconds. A zero
// time falls back to now, which is sampled at encode time rather than at
// record creation. Best effort only; see NormalizeTimestamp for raw inputs.
func TimestampNanos(t time.Time, now time.Time) int64 {
	if t.IsZero() {
		return now.UnixNano()
	}
	return t.UnixNano()
}

// NormalizeTimestamp maps an untyped timestamp value, as found in raw push
// payloads, to Unix nanoseconds:
//   - time.Time: converted directly
//   - string: parsed as RFC 3339
//   - numeric: assumed seconds since epoch, scaled to nanoseconds
//   - missing or unparseable: now
func NormalizeTimestamp(v interface{}, now time.Time) int64 {
	switch t := v.(type) {
	case time.Time:
		return TimestampNanos(t, now)
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UnixNano()
		}
	case float64:
		return int64(t * 1e9)
	case int64:
		return t * 1_000_000_000
	case int:
		return int64(t) * 1_000_000_000
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return int64(f * 1e9)
		}
	}
	return now.UnixNano()
}

// Line renders an untyped message as the log line. Non-string payloads are
// serialized to canonical JSON text where possible.
func Line(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprint(v)
}

// DecodeQuery parses a query_range response body. The status string and the
// data payload pass through unchanged; result streams are additionally
// decoded for convenience. Malformed bodies return an error, never panic.
func DecodeQuery(body []byte) (*model.QueryResult, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse query response: %w", err)
	}

	res := &model.QueryResult{
		Status: string(v.GetStringBytes("status")),
	}
	data := v.Get("data")
	if data == nil {
		return res, nil
	}
	res.Data = data.MarshalTo(nil)

	for _, rv := range data.GetArray("result") {
		s := model.Stream{Labels: model.LabelSet{}}
		if obj := rv.GetObject("stream"); obj != nil {
			obj.Visit(func(key []byte, val *fastjson.Value) {
				s.Labels[string(key)] = string(val.GetStringBytes())
			})
		}
		for _, pair := range rv.GetArray("values") {
			arr := pair.GetArray()
			if len(arr) != 2 {
				continue
			}
			ts, err := strconv.ParseInt(string(arr[0].GetStringBytes()), 10, 64)
			if err != nil {
				continue
			}
			s.Entries = append(s.Entries, model.Entry{
				Timestamp: ts,
				Line:      string(arr[1].GetStringBytes()),
			})
		}
		res.Streams = append(res.Streams, s)
	}
	return res, nil
}

// DecodeLabels parses a labels response body: {"data":["name",...]}.
func DecodeLabels(body []byte) ([]string, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse labels response: %w", err)
	}
	values := v.GetArray("data")
	labels := make([]string, 0, len(values))
	for _, lv := range values {
		labels = append(labels, string(lv.GetStringBytes()))
	}
	return labels, nil
}
