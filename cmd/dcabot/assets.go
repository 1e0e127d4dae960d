package main

import (
	"github.com/alejandrodnm/dcabot/config"
	"github.com/alejandrodnm/dcabot/internal/adapters/kraken"
	"github.com/alejandrodnm/dcabot/internal/domain"
)

// buildAssets traduce los activos de la configuración a domain.AssetConfig,
// derivando los nombres de Kraken cuando no vienen sobreescritos.
func buildAssets(cfg *config.Config) ([]domain.AssetConfig, error) {
	parsed, err := cfg.ParsedAssets()
	if err != nil {
		return nil, err
	}

	cur := cfg.Exchange.Currency
	out := make([]domain.AssetConfig, 0, len(parsed))
	for _, p := range parsed {
		a := domain.AssetConfig{
			ID:           p.ID,
			OrderSymbol:  p.Symbol,
			OrderPair:    orDefault(p.OrderPair, kraken.OrderPair(p.Symbol, cur)),
			PricePair:    orDefault(p.PricePair, kraken.PricePair(p.Symbol, cur)),
			BalanceKey:   orDefault(p.BalanceKey, kraken.BalanceKey(p.Symbol)),
			Allocation:   p.Allocation,
			MinOrderSize: p.MinOrderSize,
		}
		a.PriceKey = a.PricePair
		if p.WithdrawalKey != "" {
			a.Withdrawal = &domain.WithdrawalConfig{Key: p.WithdrawalKey, Threshold: p.WithdrawalTarget}
		}
		out = append(out, a)
	}
	return out, nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
