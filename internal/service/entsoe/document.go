package entsoe

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Reason code returned in an acknowledgement when the query matched nothing.
const reasonNoData = "999"

const isoMinute = "2006-01-02T15:04Z"

// Element names are matched without a namespace so price, load and
// generation documents decode through the same structs.
type document struct {
	XMLName    xml.Name
	TimeSeries []timeSeries `xml:"TimeSeries"`
	Reasons    []reason     `xml:"Reason"`
}

type reason struct {
	Code string `xml:"code"`
	Text string `xml:"text"`
}

type timeSeries struct {
	CurveType string   `xml:"curveType"`
	PSRType   string   `xml:"MktPSRType>psrType"`
	Periods   []period `xml:"Period"`
}

type period struct {
	Start      string  `xml:"timeInterval>start"`
	End        string  `xml:"timeInterval>end"`
	Resolution string  `xml:"resolution"`
	Points     []point `xml:"Point"`
}

type point struct {
	Position int      `xml:"position"`
	Price    *float64 `xml:"price.amount"`
	Quantity *float64 `xml:"quantity"`
}

// sample is one decoded value at the start of its resolution step.
type sample struct {
	ts      time.Time
	psrType string
	value   float64
}

// AcknowledgementError carries a non-empty rejection from the platform.
type AcknowledgementError struct {
	Code string
	Text string
}

func (e *AcknowledgementError) Error() string {
	return fmt.Sprintf("entsoe acknowledgement %s: %s", e.Code, e.Text)
}

func parseDocument(body []byte) ([]sample, error) {
	var doc document
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode entsoe xml: %w", err)
	}
	if strings.HasPrefix(doc.XMLName.Local, "Acknowledgement") {
		for _, r := range doc.Reasons {
			if r.Code == reasonNoData {
				return nil, nil
			}
		}
		ack := &AcknowledgementError{}
		if len(doc.Reasons) > 0 {
			ack.Code, ack.Text = doc.Reasons[0].Code, doc.Reasons[0].Text
		}
		return nil, ack
	}

	var out []sample
	for _, ts := range doc.TimeSeries {
		for _, p := range ts.Periods {
			s, err := p.samples(ts.CurveType == "A03", ts.PSRType)
			if err != nil {
				return nil, err
			}
			out = append(out, s...)
		}
	}
	return out, nil
}

func parseResolution(r string) (time.Duration, error) {
	switch r {
	case "PT60M", "PT1H":
		return time.Hour, nil
	case "PT30M":
		return 30 * time.Minute, nil
	case "PT15M":
		return 15 * time.Minute, nil
	}
	return 0, fmt.Errorf("unsupported resolution %q", r)
}

// samples expands a period's points. With curve type A03 a position that is
// left out repeats the previous value until the next listed position or the
// end of the period.
func (p period) samples(compressed bool, psrType string) ([]sample, error) {
	start, err := time.Parse(isoMinute, p.Start)
	if err != nil {
		return nil, fmt.Errorf("period start %q: %w", p.Start, err)
	}
	step, err := parseResolution(p.Resolution)
	if err != nil {
		return nil, err
	}
	points := append([]point(nil), p.Points...)
	sort.SliceStable(points, func(i, j int) bool { return points[i].Position < points[j].Position })

	last := 0
	if compressed && p.End != "" {
		end, err := time.Parse(isoMinute, p.End)
		if err != nil {
			return nil, fmt.Errorf("period end %q: %w", p.End, err)
		}
		last = int(end.Sub(start) / step)
	}

	var out []sample
	for i, pt := range points {
		v, ok := pt.value()
		if !ok || pt.Position < 1 {
			continue
		}
		until := pt.Position
		if compressed {
			if i+1 < len(points) {
				until = points[i+1].Position - 1
			} else if last > until {
				until = last
			}
		}
		for pos := pt.Position; pos <= until; pos++ {
			out = append(out, sample{ts: start.Add(time.Duration(pos-1) * step), psrType: psrType, value: v})
		}
	}
	return out, nil
}

func (pt point) value() (float64, bool) {
	switch {
	case pt.Price != nil:
		return *pt.Price, true
	case pt.Quantity != nil:
		return *pt.Quantity, true
	}
	return 0, false
}

// formatPeriod renders the yyyyMMddHHmm UTC form used in query parameters.
func formatPeriod(t time.Time) string {
	return t.UTC().Format("200601021504")
}
