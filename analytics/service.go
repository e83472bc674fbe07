package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"churnlens/db"
)

// Querier is the read side of the customers store the service needs.
type Querier interface {
	KPITotals(ctx context.Context) (db.KPITotals, error)
	ChurnBySegment(ctx context.Context, column string) ([]db.SegmentCount, error)
	ChurnByFlag(ctx context.Context, column string) ([]db.SegmentCount, error)
	ChurnedTenures(ctx context.Context) ([]float64, error)
	ChurnedMonthlyCharges(ctx context.Context) ([]float64, error)
}

// KPIs are the headline metrics for the overview dashboard.
type KPIs struct {
	ChurnedUsers     int     `json:"churned_users"`
	ChurnRateOverall float64 `json:"churn_rate_overall"`
	AvgTenure        float64 `json:"avg_tenure"`
	AvgMonthly       float64 `json:"avg_monthly"`
}

// SegmentChurn is one group of a categorical churn breakdown.
type SegmentChurn struct {
	Key       string  `json:"key"`
	ChurnRate float64 `json:"churn_rate"`
	N         int     `json:"n"`
}

// FeatureChurn compares churn across the Yes/No split of one service
// flag. The Yes row always precedes the No row.
type FeatureChurn struct {
	Feature   string  `json:"feature"`
	Value     string  `json:"value"`
	ChurnRate float64 `json:"churn_rate"`
	N         int     `json:"n"`
}

// Bin is one interval of a churned-customer distribution.
type Bin struct {
	Range string  `json:"range"`
	Count int     `json:"count"`
	Pct   float64 `json:"pct"`
}

// defaultFeatures is the flag pair compared when the caller names none.
var defaultFeatures = []string{"online_security", "tech_support"}

type binEdge struct {
	label string
	lo    float64
	hi    float64 // inclusive; math.Inf(1) for open-ended
}

// Bin layouts are fixed: every response carries all bins in this order,
// zero-filled when empty.
var tenureBinEdges = []binEdge{
	{"0–3", 0, 3},
	{"4–6", 4, 6},
	{"7–12", 7, 12},
	{"13–24", 13, 24},
	{"25+", 25, math.Inf(1)},
}

var monthlyBinEdges = []binEdge{
	{"0–35", 0, 35},
	{"36–65", 36, 65},
	{"66–95", 66, 95},
	{"96+", 96, math.Inf(1)},
}

// Service computes churn aggregates over the store, caching each result
// for a short TTL so dashboard refreshes do not hammer the database.
type Service struct {
	querier Querier
	cache   *expirable.LRU[string, interface{}]
	logger  *zap.Logger
}

// NewService builds a service with an expiring result cache. A cacheSize
// of zero disables eviction by size but keeps the TTL.
func NewService(querier Querier, cacheSize int, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{
		querier: querier,
		cache:   expirable.NewLRU[string, interface{}](cacheSize, nil, ttl),
		logger:  logger,
	}
}

// InvalidateCache drops all cached aggregates. Called after an import.
func (s *Service) InvalidateCache() {
	s.cache.Purge()
	s.logger.Info("analytics cache purged")
}

// KPIs returns the overview metrics.
func (s *Service) KPIs(ctx context.Context) (KPIs, error) {
	if v, ok := s.cache.Get("kpis"); ok {
		return v.(KPIs), nil
	}
	totals, err := s.querier.KPITotals(ctx)
	if err != nil {
		return KPIs{}, err
	}
	k := KPIs{
		ChurnedUsers:     totals.ChurnedUsers,
		ChurnRateOverall: round(rate(totals.ChurnedUsers, totals.TotalCustomers), 4),
		AvgTenure:        round(totals.AvgTenure, 1),
		AvgMonthly:       round(totals.AvgMonthly, 1),
	}
	s.cache.Add("kpis", k)
	return k, nil
}

// ChurnByContract breaks churn down by contract type, highest rate first.
func (s *Service) ChurnByContract(ctx context.Context) ([]SegmentChurn, error) {
	return s.segmentChurn(ctx, "contract")
}

// ChurnByPayment breaks churn down by payment method, highest rate first.
func (s *Service) ChurnByPayment(ctx context.Context) ([]SegmentChurn, error) {
	return s.segmentChurn(ctx, "payment_method")
}

func (s *Service) segmentChurn(ctx context.Context, column string) ([]SegmentChurn, error) {
	if v, ok := s.cache.Get(column); ok {
		return v.([]SegmentChurn), nil
	}
	counts, err := s.querier.ChurnBySegment(ctx, column)
	if err != nil {
		return nil, err
	}
	out := make([]SegmentChurn, 0, len(counts))
	for _, c := range counts {
		out = append(out, SegmentChurn{
			Key:       c.Key,
			ChurnRate: round(rate(c.Churned, c.Total), 4),
			N:         c.Total,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChurnRate > out[j].ChurnRate })
	s.cache.Add(column, out)
	return out, nil
}

// AvailableFeatures lists the flag columns FeatureChurn accepts, sorted.
func (s *Service) AvailableFeatures() []string {
	features := db.FlagColumns()
	sort.Strings(features)
	return features
}

// FeatureChurn compares churn across the Yes/No split of each requested
// flag, in request order. An empty request uses the default pair; an
// unknown feature name fails the whole request.
func (s *Service) FeatureChurn(ctx context.Context, features []string) ([]FeatureChurn, error) {
	if len(features) == 0 {
		features = defaultFeatures
	}
	for _, f := range features {
		if !db.ValidFlagColumn(f) {
			return nil, fmt.Errorf("unsupported feature %q", f)
		}
	}

	key := "features:" + strings.Join(features, ",")
	if v, ok := s.cache.Get(key); ok {
		return v.([]FeatureChurn), nil
	}

	out := make([]FeatureChurn, 0, 2*len(features))
	for _, feature := range features {
		counts, err := s.querier.ChurnByFlag(ctx, feature)
		if err != nil {
			return nil, err
		}
		byValue := make(map[string]db.SegmentCount, 2)
		for _, c := range counts {
			byValue[c.Key] = c
		}
		for _, value := range []string{"Yes", "No"} {
			c := byValue[value]
			out = append(out, FeatureChurn{
				Feature:   feature,
				Value:     value,
				ChurnRate: round(rate(c.Churned, c.Total), 4),
				N:         c.Total,
			})
		}
	}
	s.cache.Add(key, out)
	return out, nil
}

// TenureBins returns the tenure distribution of churned customers.
func (s *Service) TenureBins(ctx context.Context) ([]Bin, error) {
	if v, ok := s.cache.Get("tenure_bins"); ok {
		return v.([]Bin), nil
	}
	values, err := s.querier.ChurnedTenures(ctx)
	if err != nil {
		return nil, err
	}
	bins := buildBins(tenureBinEdges, values)
	s.cache.Add("tenure_bins", bins)
	return bins, nil
}

// MonthlyBins returns the monthly-charge distribution of churned customers.
func (s *Service) MonthlyBins(ctx context.Context) ([]Bin, error) {
	if v, ok := s.cache.Get("monthly_bins"); ok {
		return v.([]Bin), nil
	}
	values, err := s.querier.ChurnedMonthlyCharges(ctx)
	if err != nil {
		return nil, err
	}
	bins := buildBins(monthlyBinEdges, values)
	s.cache.Add("monthly_bins", bins)
	return bins, nil
}

func buildBins(edges []binEdge, values []float64) []Bin {
	counts := make([]int, len(edges))
	total := 0
	for _, v := range values {
		for i, e := range edges {
			if v >= e.lo && v <= e.hi {
				counts[i]++
				total++
				break
			}
		}
	}
	bins := make([]Bin, len(edges))
	for i, e := range edges {
		bins[i] = Bin{
			Range: e.label,
			Count: counts[i],
			Pct:   round(rate(counts[i], total), 4),
		}
	}
	return bins
}

func rate(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

func round(v float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))
	return math.Round(v*factor) / factor
}
