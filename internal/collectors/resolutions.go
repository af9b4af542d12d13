package collectors

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sdibella/kalshi-signal-bot/internal/domain"
	"github.com/sdibella/kalshi-signal-bot/internal/kalshi"
)

const nwsCLINYCURL = "https://forecast.weather.gov/product.php?site=OKX&product=CLI&issuedby=NYC"

var maxTempPattern = regexp.MustCompile(`(?is)MAXIMUM TEMPERATURE.*?TODAY\s+(-?\d+)`)

// ResolutionCollector discovers recently-closed markets per configured
// series, fetches their settled status, and for weather markets
// enriches the result with today's NWS CLI benchmark when the API omits
// a result.
type ResolutionCollector struct {
	http   *resty.Client
	client *kalshi.Client

	TargetSeriesTickers []string
	LookbackHours       int
}

func NewResolutionCollector(client *kalshi.Client, targetSeriesTickers []string, lookbackHours int) *ResolutionCollector {
	return &ResolutionCollector{
		http:                resty.New().SetTimeout(20 * time.Second),
		client:              client,
		TargetSeriesTickers: targetSeriesTickers,
		LookbackHours:       lookbackHours,
	}
}

// FetchNWSCLIMaxTemp scrapes today's NWS CLI product for NYC's reported
// maximum temperature, used to infer weather-market results the Kalshi
// API itself leaves blank.
func (c *ResolutionCollector) FetchNWSCLIMaxTemp(ctx context.Context) (int, bool) {
	resp, err := c.http.R().SetContext(ctx).
		SetHeader("User-Agent", "kalshi-signal-bot/1.0 (education project)").
		Get(nwsCLINYCURL)
	if err != nil || resp.IsError() {
		slog.Warn("nws_cli_fetch_failed", "status", statusOf(resp), "err", err)
		return 0, false
	}
	match := maxTempPattern.FindStringSubmatch(resp.String())
	if len(match) < 2 {
		return 0, false
	}
	temp, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return temp, true
}

// CollectResolutions discovers candidate tickers across the configured
// series (plus any seed tickers already known to the caller), fetches
// each candidate's current status, and returns a Resolution for every
// one that has settled.
func (c *ResolutionCollector) CollectResolutions(ctx context.Context, seedTickers []string, now time.Time) []domain.Resolution {
	candidates := c.discoverCandidates(ctx, seedTickers, now)

	var nwsTemp *int
	var out []domain.Resolution
	for _, ticker := range candidates {
		market, err := c.client.GetMarket(ctx, ticker)
		if err != nil {
			slog.Warn("resolution_fetch_failed", "ticker", ticker, "err", err)
			continue
		}
		if !strings.EqualFold(market.Status, "settled") {
			continue
		}

		result := inferResult(market.Result)
		resolvedAt := parseAPITime(market.CloseTime)
		if resolvedAt.IsZero() {
			resolvedAt = now
		}

		isWeatherToday := strings.HasPrefix(strings.ToUpper(market.Ticker), "KXHIGHNY") && sameLocalDate(resolvedAt, now)
		if result == domain.ResultUnknown && isWeatherToday {
			if nwsTemp == nil {
				if temp, ok := c.FetchNWSCLIMaxTemp(ctx); ok {
					nwsTemp = &temp
				}
			}
			if nwsTemp != nil {
				dm := domain.Market{Ticker: market.Ticker, Title: market.Title, RawAttributes: map[string]any{
					"floor_strike": market.FloorStrike,
					"cap_strike":   market.CapStrike,
					"subtitle":     market.Subtitle,
					"yes_sub_title": market.YesSubTitle,
				}}
				if lower, upper, boundsOK := domain.ParseBracketBounds(dm); boundsOK {
					result = domain.ResultForBounds(float64(*nwsTemp), lower, upper)
				}
			}
		}

		res := domain.Resolution{
			Ticker:     market.Ticker,
			ResolvedAt: resolvedAt,
			Result:     result,
		}
		if strike := market.StrikePrice(); strike > 0 {
			v := strike
			res.ActualValue = &v
		} else if isWeatherToday && nwsTemp != nil {
			v := float64(*nwsTemp)
			res.ActualValue = &v
		}
		out = append(out, res)
	}
	return out
}

func (c *ResolutionCollector) discoverCandidates(ctx context.Context, seedTickers []string, now time.Time) []string {
	seen := map[string]bool{}
	var candidates []string
	for _, t := range seedTickers {
		t = strings.TrimSpace(t)
		if t != "" && !seen[t] {
			seen[t] = true
			candidates = append(candidates, t)
		}
	}

	lookbackStart := now.Add(-time.Duration(max(1, c.LookbackHours)) * time.Hour)
	for _, series := range c.TargetSeriesTickers {
		series = strings.ToUpper(strings.TrimSpace(series))
		if series == "" {
			continue
		}
		markets, err := c.client.GetMarkets(ctx, series, "")
		if err != nil {
			slog.Warn("resolution_discovery_failed", "series", series, "err", err)
			continue
		}
		for _, m := range markets {
			if seen[m.Ticker] {
				continue
			}
			if strings.EqualFold(m.Status, "settled") {
				seen[m.Ticker] = true
				candidates = append(candidates, m.Ticker)
				continue
			}
			closeTime := parseAPITime(m.CloseTime)
			if !closeTime.IsZero() && !closeTime.Before(lookbackStart) && !closeTime.After(now) {
				seen[m.Ticker] = true
				candidates = append(candidates, m.Ticker)
			}
		}
	}
	return candidates
}

func parseAPITime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func sameLocalDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func inferResult(result string) domain.ResolutionResult {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "yes":
		return domain.ResultYes
	case "no":
		return domain.ResultNo
	default:
		return domain.ResultUnknown
	}
}
