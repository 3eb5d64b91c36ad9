package usecase

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shelfsignal/backend/internal/domain"
)

// Platform is a marketplace variant. Each variant knows its product id
// format and carries the extractor tuned to its phrasing.
type Platform interface {
	ID() domain.PlatformID
	NormalizeProductID(raw string) (string, error)
	Signals() *SignalExtractor
}

var (
	asinRegex         = regexp.MustCompile(`^[A-Z0-9]{10}$`)
	mercadoLivreRegex = regexp.MustCompile(`^(ML[A-Z])-?(\d{6,})$`)
)

// Amazon listings use "2.5K+ bought in past month" and, on amazon.com.br,
// "Mais de 4 mil compras no mês passado".
type Amazon struct {
	signals *SignalExtractor
}

// NewAmazon creates the Amazon platform
func NewAmazon(config ExtractorConfig) (*Amazon, error) {
	config.RuleOrder = []string{RulePlusSuffix, RuleOpenPrefix, RulePlusPrefix, RuleCountKeyword, RuleKeywordCount}
	signals, err := NewSignalExtractor(config)
	if err != nil {
		return nil, err
	}
	return &Amazon{signals: signals}, nil
}

func (a *Amazon) ID() domain.PlatformID { return domain.PlatformAmazon }

func (a *Amazon) Signals() *SignalExtractor { return a.signals }

// NormalizeProductID validates an ASIN
func (a *Amazon) NormalizeProductID(raw string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if !asinRegex.MatchString(id) {
		return "", fmt.Errorf("%w: amazon asin %q", domain.ErrInvalidProductID, raw)
	}
	return id, nil
}

// MercadoLivre listings use "+5 mil vendidos" and "Mais de 100 vendidos".
type MercadoLivre struct {
	signals *SignalExtractor
}

// NewMercadoLivre creates the Mercado Livre platform
func NewMercadoLivre(config ExtractorConfig) (*MercadoLivre, error) {
	config.RuleOrder = DefaultRuleOrder
	signals, err := NewSignalExtractor(config)
	if err != nil {
		return nil, err
	}
	return &MercadoLivre{signals: signals}, nil
}

func (m *MercadoLivre) ID() domain.PlatformID { return domain.PlatformMercadoLivre }

func (m *MercadoLivre) Signals() *SignalExtractor { return m.signals }

// NormalizeProductID accepts "MLB-1234567" and "mlb1234567", returning "MLB1234567"
func (m *MercadoLivre) NormalizeProductID(raw string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	sub := mercadoLivreRegex.FindStringSubmatch(id)
	if sub == nil {
		return "", fmt.Errorf("%w: mercado livre id %q", domain.ErrInvalidProductID, raw)
	}
	return sub[1] + sub[2], nil
}

// PlatformRegistry is the strategy table of marketplace variants
type PlatformRegistry struct {
	platforms map[domain.PlatformID]Platform
}

// NewPlatformRegistry registers the given platforms
func NewPlatformRegistry(platforms ...Platform) *PlatformRegistry {
	r := &PlatformRegistry{platforms: make(map[domain.PlatformID]Platform, len(platforms))}
	for _, p := range platforms {
		r.platforms[p.ID()] = p
	}
	return r
}

// NewDefaultPlatformRegistry registers Amazon and Mercado Livre with one extractor configuration
func NewDefaultPlatformRegistry(config ExtractorConfig) (*PlatformRegistry, error) {
	amazon, err := NewAmazon(config)
	if err != nil {
		return nil, err
	}
	mercadoLivre, err := NewMercadoLivre(config)
	if err != nil {
		return nil, err
	}
	return NewPlatformRegistry(amazon, mercadoLivre), nil
}

// Get resolves a platform id, case-insensitively
func (r *PlatformRegistry) Get(id domain.PlatformID) (Platform, error) {
	p, ok := r.platforms[domain.PlatformID(strings.ToLower(strings.TrimSpace(string(id))))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownPlatform, id)
	}
	return p, nil
}

// IDs lists the registered platforms in a stable order
func (r *PlatformRegistry) IDs() []domain.PlatformID {
	ids := make([]domain.PlatformID, 0, len(r.platforms))
	for id := range r.platforms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
