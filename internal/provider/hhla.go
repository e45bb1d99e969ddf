package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/portwatch/container-scrape-worker/config"
	"github.com/portwatch/container-scrape-worker/internal/browser"
	"github.com/portwatch/container-scrape-worker/internal/model"
	"github.com/portwatch/container-scrape-worker/internal/status"
)

const hhlaDefaultURL = "https://coast.hhla.de/container"

// hhlaDefaults reflects the COAST portal as of writing. The SPA renders the
// container record into a flat detail list behind an accordion row.
var hhlaDefaults = portalVocabulary{
	BaseURL: hhlaDefaultURL,
	SearchSelectors: []string{
		`input[placeholder*="Container"]`,
		`input[name*="container"]`,
		`input[id*="container"]`,
		`input[type="search"]`,
		`input[type="text"]`,
	},
	SubmitSelectors: []string{
		`button[type="submit"]`,
		`button[aria-label*="Suche"]`,
	},
	ExpandSelectors: []string{
		`[class*="accordion"] button`,
		`[class*="expand"]`,
		`[aria-expanded="false"]`,
	},
	SuccessKeywords:    []string{"Bestandsstatus", "Avisiert", "Vorgemeldet", "Eingelagert", "Ausgeliefert"},
	NotFoundPhrases:    []string{"kein Ergebnis", "keine Treffer", "nicht gefunden"},
	SettleDelay:        2 * time.Second,
	ResultTimeout:      15 * time.Second,
	LocatePerCandidate: 3 * time.Second,
}

type HHLAScraper struct {
	flow *portalFlow
	log  *slog.Logger
}

func NewHHLAScraper(cfg *config.ProviderConfig, log *slog.Logger) *HHLAScraper {
	return &HHLAScraper{
		flow: &portalFlow{
			name:  model.HHLA.String(),
			vocab: hhlaDefaults.override(cfg),
			log:   log,
		},
		log: log,
	}
}

func (h *HHLAScraper) Provider() model.Provider { return model.HHLA }

func (h *HHLAScraper) BaseURL() string { return h.flow.vocab.BaseURL }

func (h *HHLAScraper) Scrape(ctx context.Context, containerNo string,
	s browser.Session) (*model.ScrapeResult, error) {
	text, err := h.flow.capture(ctx, containerNo, s)
	if err != nil {
		return nil, err
	}
	if err := h.flow.classify(text, containerNo); err != nil {
		return nil, err
	}

	statusRaw := extractLabeled(text, []string{"Bestandsstatus", "Status"})
	terminal := extractLabeled(text, []string{"Terminal", "Standort"})
	shippingLine := extractLabeled(text, []string{"Reederei", "Shipping Line"})
	isoCode := extractLabeled(text, []string{"ISO-Code", "ISO Code", "Typ"})
	ready := extractTriState(text, []string{"Ladebereit", "Auslieferbereit"})
	dischargeStatus, dischargeTs := extractStatusWithTimestamp(text, []string{"Entladeauftrag"})

	delivered := containsFold(statusRaw, "ausgeliefert")
	norm := status.Normalize(delivered, ready, dischargeStatus, text)

	return &model.ScrapeResult{
		Provider:             model.HHLA,
		ContainerNo:          containerNo,
		Terminal:             terminal,
		ShippingLine:         shippingLine,
		IsoCode:              isoCode,
		StatusRaw:            statusRaw,
		NormalizedStatus:     norm,
		ReadyForLoading:      ready,
		DischargeOrderStatus: dischargeStatus,
		DischargeOrderTs:     dischargeTs,
		DeliveredOut:         norm == model.DeliveredOut,
		ParsedFields: map[string]string{
			"status":          statusRaw,
			"terminal":        terminal,
			"shipping_line":   shippingLine,
			"iso_code":        isoCode,
			"discharge_order": dischargeStatus,
		},
		RawText:   text,
		ScrapedAt: time.Now().UTC(),
	}, nil
}
