// Package query parses chart parameters and builds the Elasticsearch
// query DSL bodies for every chart.
package query

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ThaoDoan2/ElasticClient/internal/telemetry"
	apperrors "github.com/ThaoDoan2/ElasticClient/pkg/errors"
)

// Params are the filters shared by every chart. From and To are whole UTC
// days and both are inclusive.
type Params struct {
	From         time.Time
	To           time.Time
	Countries    []string
	GameVersions []string
	Platforms    []string
	Products     []string
	Placements   []string
	MinLevel     *int
	MaxLevel     *int
}

// Limits bound the date range a request may ask for.
type Limits struct {
	DefaultRangeDays int
	MaxRangeDays     int
}

// Parse reads Params from query-string style values. now supplies the
// default range end when toDate is missing.
func Parse(v url.Values, lim Limits, now time.Time) (Params, error) {
	var p Params
	today := truncateDay(now)

	from, err := parseDay(v, "fromDate", "from")
	if err != nil {
		return p, err
	}
	to, err := parseDay(v, "toDate", "to")
	if err != nil {
		return p, err
	}
	days := lim.DefaultRangeDays
	if days < 1 {
		days = 7
	}
	switch {
	case from == nil && to == nil:
		p.To = today
		p.From = today.AddDate(0, 0, -(days - 1))
	case from == nil:
		p.To = *to
		p.From = to.AddDate(0, 0, -(days - 1))
	case to == nil:
		p.From = *from
		p.To = today
		if p.To.Before(p.From) {
			p.To = p.From
		}
	default:
		p.From, p.To = *from, *to
	}
	if p.From.After(p.To) {
		return p, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"fromDate %s is after toDate %s", p.From.Format(telemetry.DateLayout), p.To.Format(telemetry.DateLayout))
	}
	if span := p.Days(); lim.MaxRangeDays > 0 && span > lim.MaxRangeDays {
		return p, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"date range of %d days exceeds the maximum of %d", span, lim.MaxRangeDays)
	}

	p.Countries = list(v, "country", "countryCode")
	p.GameVersions = list(v, "gameVersion", "version")
	p.Platforms = list(v, "platform")
	p.Products = list(v, "products", "products[]", "productId")
	p.Placements = list(v, "placements", "placements[]", "placement")

	if p.MinLevel, err = parseLevel(v, "minLevel"); err != nil {
		return p, err
	}
	if p.MaxLevel, err = parseLevel(v, "maxLevel"); err != nil {
		return p, err
	}
	if p.MinLevel != nil && p.MaxLevel != nil && *p.MinLevel > *p.MaxLevel {
		return p, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"minLevel %d is greater than maxLevel %d", *p.MinLevel, *p.MaxLevel)
	}
	return p, nil
}

// ValuesFromJSON flattens a JSON object body into url.Values so POSTed
// filters go through Parse. Arrays become repeated values.
func ValuesFromJSON(body []byte) (url.Values, error) {
	v := url.Values{}
	if len(strings.TrimSpace(string(body))) == 0 {
		return v, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid JSON body: %v", err)
	}
	for key, raw := range obj {
		switch val := raw.(type) {
		case nil:
		case []any:
			for _, item := range val {
				if s := scalar(item); s != "" {
					v.Add(key, s)
				}
			}
		default:
			if s := scalar(val); s != "" {
				v.Set(key, s)
			}
		}
	}
	return v, nil
}

func scalar(x any) string {
	switch val := x.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	}
	return ""
}

// Days returns the number of days in the range, counting both ends.
func (p Params) Days() int {
	return int(p.To.Sub(p.From).Hours()/24) + 1
}

// Key is a stable rendering of p used to derive cache keys.
func (p Params) Key() string {
	var b strings.Builder
	b.WriteString(p.From.Format(telemetry.DateLayout))
	b.WriteString("..")
	b.WriteString(p.To.Format(telemetry.DateLayout))
	writeList := func(name string, values []string) {
		if len(values) == 0 {
			return
		}
		sorted := slices.Clone(values)
		slices.Sort(sorted)
		fmt.Fprintf(&b, "|%s=%s", name, strings.Join(sorted, ","))
	}
	writeList("country", p.Countries)
	writeList("gameVersion", p.GameVersions)
	writeList("platform", p.Platforms)
	writeList("products", p.Products)
	writeList("placements", p.Placements)
	if p.MinLevel != nil {
		fmt.Fprintf(&b, "|minLevel=%d", *p.MinLevel)
	}
	if p.MaxLevel != nil {
		fmt.Fprintf(&b, "|maxLevel=%d", *p.MaxLevel)
	}
	return b.String()
}

func parseDay(v url.Values, keys ...string) (*time.Time, error) {
	for _, key := range keys {
		raw := strings.TrimSpace(v.Get(key))
		if raw == "" {
			continue
		}
		day, err := time.Parse(telemetry.DateLayout, raw)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
				"%s must be yyyy-MM-dd, got %q", key, raw)
		}
		return &day, nil
	}
	return nil, nil
}

func parseLevel(v url.Values, key string) (*int, error) {
	raw := strings.TrimSpace(v.Get(key))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"%s must be an integer, got %q", key, raw)
	}
	return &n, nil
}

// list collects the values of every alias, splitting comma-separated
// entries and dropping blanks and duplicates.
func list(v url.Values, keys ...string) []string {
	var out []string
	for _, key := range keys {
		for _, raw := range v[key] {
			for _, part := range strings.Split(raw, ",") {
				part = strings.TrimSpace(part)
				if part != "" && !slices.Contains(out, part) {
					out = append(out, part)
				}
			}
		}
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
