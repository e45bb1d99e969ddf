// Package fingerprint computes the content digest used to decide whether a
// scrape represents a genuine status change. Only the semantically
// significant fields participate; raw page text, the parsed field bag, and
// the capture timestamp are noise by definition.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/portwatch/container-scrape-worker/internal/model"
)

// significant is a fixed-order projection of ScrapeResult. Serializing this
// struct (never a map) keeps the byte stream deterministic, so equal field
// values always produce an identical digest.
type significant struct {
	Provider             string `json:"provider"`
	ContainerNo          string `json:"container_no"`
	Terminal             string `json:"terminal"`
	ShippingLine         string `json:"shipping_line"`
	IsoCode              string `json:"iso_code"`
	StatusRaw            string `json:"status_raw"`
	NormalizedStatus     string `json:"normalized_status"`
	ReadyForLoading      string `json:"ready_for_loading"`
	DischargeOrderStatus string `json:"discharge_order_status"`
	DischargeOrderTs     string `json:"discharge_order_ts"`
	DeliveredOut         bool   `json:"delivered_out"`
}

func Compute(r *model.ScrapeResult) string {
	s := significant{
		Provider:             r.Provider.String(),
		ContainerNo:          r.ContainerNo,
		Terminal:             r.Terminal,
		ShippingLine:         r.ShippingLine,
		IsoCode:              r.IsoCode,
		StatusRaw:            r.StatusRaw,
		NormalizedStatus:     r.NormalizedStatus.String(),
		ReadyForLoading:      triState(r.ReadyForLoading),
		DischargeOrderStatus: r.DischargeOrderStatus,
		DeliveredOut:         r.DeliveredOut,
	}
	if r.DischargeOrderTs != nil {
		s.DischargeOrderTs = r.DischargeOrderTs.Format(time.RFC3339)
	}

	body, err := jsoniter.Marshal(&s)
	if err != nil {
		// A struct of strings and a bool cannot fail to marshal.
		panic(err)
	}
	hash := sha256.New()
	hash.Write(body)
	return hex.EncodeToString(hash.Sum(nil))
}

// triState keeps nil distinguishable from false in the digest input.
func triState(b *bool) string {
	switch {
	case b == nil:
		return "unreported"
	case *b:
		return "true"
	default:
		return "false"
	}
}
