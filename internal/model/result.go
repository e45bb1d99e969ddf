package model

import (
	"fmt"
	"time"
)

type Provider int

const (
	HHLA Provider = iota
	Eurogate
)

func (p Provider) String() string {
	return [...]string{"hhla", "eurogate"}[p]
}

func (p Provider) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Provider) UnmarshalText(b []byte) error {
	parsed, err := ParseProvider(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func ParseProvider(s string) (Provider, error) {
	switch s {
	case "hhla":
		return HHLA, nil
	case "eurogate":
		return Eurogate, nil
	default:
		return 0, fmt.Errorf("unknown provider %q", s)
	}
}

type NormalizedStatus int

const (
	Preannounced NormalizedStatus = iota
	Discharged
	Ready
	DeliveredOut
)

func (s NormalizedStatus) String() string {
	return [...]string{"PREANNOUNCED", "DISCHARGED", "READY", "DELIVERED_OUT"}[s]
}

func (s NormalizedStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *NormalizedStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "PREANNOUNCED":
		*s = Preannounced
	case "DISCHARGED":
		*s = Discharged
	case "READY":
		*s = Ready
	case "DELIVERED_OUT":
		*s = DeliveredOut
	default:
		return fmt.Errorf("unknown normalized status %q", b)
	}
	return nil
}

// ScrapeResult is one observation of a container on a terminal portal.
// RawText and ParsedFields are kept verbatim for audit and reparsing; they
// never participate in change detection.
type ScrapeResult struct {
	Provider             Provider          `json:"provider"`
	ContainerNo          string            `json:"container_no"`
	Terminal             string            `json:"terminal,omitempty"`
	ShippingLine         string            `json:"shipping_line,omitempty"`
	IsoCode              string            `json:"iso_code,omitempty"`
	StatusRaw            string            `json:"status_raw,omitempty"`
	NormalizedStatus     NormalizedStatus  `json:"normalized_status"`
	ReadyForLoading      *bool             `json:"ready_for_loading"`
	DischargeOrderStatus string            `json:"discharge_order_status,omitempty"`
	DischargeOrderTs     *time.Time        `json:"discharge_order_ts,omitempty"`
	DeliveredOut         bool              `json:"delivered_out"`
	ParsedFields         map[string]string `json:"parsed_json,omitempty"`
	RawText              string            `json:"raw_text,omitempty"`
	ScrapedAt            time.Time         `json:"scraped_at"`
}

// StatusChangeEvent is emitted to the notification broker only when the
// fingerprint of a container's record differs from the last persisted one.
type StatusChangeEvent struct {
	ContainerNo string            `json:"container_no"`
	Provider    Provider          `json:"provider"`
	OldStatus   *NormalizedStatus `json:"old_status"` // nil for a first observation
	NewStatus   NormalizedStatus  `json:"new_status"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Result      *ScrapeResult     `json:"result"`
}
