package provider

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/metricengine/internal/contracts"
)

var dateLayouts = []string{
	contracts.DateLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Record is one decoded JSON object
type Record map[string]interface{}

// Lookup resolves a dotted path ("ratios.pe" or "items.0.value")
func (r Record) Lookup(path string) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(r)

	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = next
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}

	if cur == nil {
		return nil, false
	}
	return cur, true
}

// Float resolves path as a number. Numeric strings are accepted.
func (r Record) Float(path string) (float64, bool) {
	v, ok := r.Lookup(path)
	if !ok {
		return 0, false
	}

	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Strings resolves path as a list of strings (peer lists)
func (r Record) Strings(path string) []string {
	v, ok := r.Lookup(path)
	if !ok {
		return nil
	}

	switch list := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		// "MSFT,GOOGL" 형태도 허용
		var out []string
		for _, s := range strings.Split(list, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Entry is one dated element of a series payload
type Entry struct {
	Date   time.Time
	Record Record
}

// Payload is a normalized provider response
type Payload struct {
	Endpoint string
	Kind     Kind
	Object   Record
	Series   []Entry // 최신순
}

// AsOf returns the latest entry dated on or before date
func (p *Payload) AsOf(date time.Time) (Entry, bool) {
	entries := p.Until(date)
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[0], true
}

// Until returns the entries dated on or before date, most recent first
func (p *Payload) Until(date time.Time) []Entry {
	day := contracts.DateOnly(date)
	idx := sort.Search(len(p.Series), func(i int) bool {
		return !p.Series[i].Date.After(day)
	})
	return p.Series[idx:]
}

// Normalize decodes body into a Payload shaped by the endpoint kind
func Normalize(ep Endpoint, body []byte) (*Payload, error) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrMalformedPayload, err)
	}

	p := &Payload{Endpoint: ep.ID, Kind: ep.Kind}

	switch v := raw.(type) {
	case []interface{}:
		if ep.Kind == KindObject {
			p.Object = firstRecord(v)
			return p, nil
		}
		return p, p.fillSeries(ep, v)

	case map[string]interface{}:
		if ep.ListKey != "" {
			list, ok := v[ep.ListKey].([]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: %s has no list %q", contracts.ErrMalformedPayload, ep.ID, ep.ListKey)
			}
			if ep.Kind == KindObject {
				p.Object = firstRecord(list)
				return p, nil
			}
			return p, p.fillSeries(ep, list)
		}
		if ep.Kind == KindSeries {
			if msg, ok := v["Error Message"].(string); ok {
				return nil, fmt.Errorf("%w: %s", contracts.ErrMalformedPayload, msg)
			}
			return nil, fmt.Errorf("%w: %s expected a list", contracts.ErrMalformedPayload, ep.ID)
		}
		p.Object = Record(v)
		return p, nil

	default:
		return nil, fmt.Errorf("%w: %s unexpected json %T", contracts.ErrMalformedPayload, ep.ID, raw)
	}
}

func (p *Payload) fillSeries(ep Endpoint, list []interface{}) error {
	field := ep.DateField
	if field == "" {
		field = "date"
	}

	entries := make([]Entry, 0, len(list))
	for _, item := range list {
		rec, ok := item.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: %s series element is %T", contracts.ErrMalformedPayload, ep.ID, item)
		}
		raw, _ := rec[field].(string)
		date, ok := ParseDate(raw)
		if !ok {
			// 날짜 없는 행은 시점 비교가 불가능하므로 제외
			continue
		}
		entries = append(entries, Entry{Date: date, Record: Record(rec)})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date.After(entries[j].Date)
	})
	p.Series = entries
	return nil
}

func firstRecord(list []interface{}) Record {
	for _, item := range list {
		if rec, ok := item.(map[string]interface{}); ok {
			return Record(rec)
		}
	}
	return Record{}
}

// ParseDate accepts the date layouts providers commonly emit
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return contracts.DateOnly(t), true
		}
	}
	return time.Time{}, false
}
