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

const eurogateDefaultURL = "https://www.eurogate.de/eportal/container/status"

// The EUROGATE portal labels differ from COAST ("Containerstatus" instead of
// "Bestandsstatus", abbreviated line names) and the not-found wording is its
// own, but the interaction sequence is the same shared flow.
var eurogateDefaults = portalVocabulary{
	BaseURL: eurogateDefaultURL,
	SearchSelectors: []string{
		`input[placeholder*="Containernummer"]`,
		`input[name*="containerNo"]`,
		`input[id*="container"]`,
		`input[type="search"]`,
		`input[type="text"]`,
	},
	SubmitSelectors: []string{
		`button[type="submit"]`,
		`input[type="submit"]`,
	},
	ExpandSelectors: []string{
		`[class*="panel-toggle"]`,
		`[class*="accordion"]`,
		`[aria-expanded="false"]`,
	},
	SuccessKeywords:    []string{"Containerstatus", "Avisiert", "Eingelagert", "Ausgeliefert", "Entladeauftrag"},
	NotFoundPhrases:    []string{"kein Ergebnis", "keine Daten", "Container nicht gefunden"},
	SettleDelay:        2 * time.Second,
	ResultTimeout:      20 * time.Second,
	LocatePerCandidate: 3 * time.Second,
}

type EurogateScraper struct {
	flow *portalFlow
	log  *slog.Logger
}

func NewEurogateScraper(cfg *config.ProviderConfig, log *slog.Logger) *EurogateScraper {
	return &EurogateScraper{
		flow: &portalFlow{
			name:  model.Eurogate.String(),
			vocab: eurogateDefaults.override(cfg),
			log:   log,
		},
		log: log,
	}
}

func (e *EurogateScraper) Provider() model.Provider { return model.Eurogate }

func (e *EurogateScraper) BaseURL() string { return e.flow.vocab.BaseURL }

func (e *EurogateScraper) Scrape(ctx context.Context, containerNo string,
	s browser.Session) (*model.ScrapeResult, error) {
	text, err := e.flow.capture(ctx, containerNo, s)
	if err != nil {
		return nil, err
	}
	if err := e.flow.classify(text, containerNo); err != nil {
		return nil, err
	}

	statusRaw := extractLabeled(text, []string{"Containerstatus", "Bestandsstatus", "Status"})
	terminal := extractLabeled(text, []string{"Terminal", "Anlage"})
	shippingLine := extractLabeled(text, []string{"Reederei", "Linie"})
	isoCode := extractLabeled(text, []string{"ISO-Code", "ISO Typ", "ISO"})
	ready := extractTriState(text, []string{"Ladebereit", "Bereitgestellt"})
	dischargeStatus, dischargeTs := extractStatusWithTimestamp(text, []string{"Entladeauftrag", "Entladeauftrag Status"})

	delivered := containsFold(statusRaw, "ausgeliefert")
	norm := status.Normalize(delivered, ready, dischargeStatus, text)

	return &model.ScrapeResult{
		Provider:             model.Eurogate,
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
