package proctor

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// WalletSource is one step of the wallet fallback chain.
type WalletSource struct {
	Name   string
	Lookup func(ctx context.Context) (string, error)
}

// StaticWallet returns a source that always yields addr.
func StaticWallet(name, addr string) WalletSource {
	return WalletSource{
		Name:   name,
		Lookup: func(context.Context) (string, error) { return addr, nil },
	}
}

// WalletResolver picks the learner's wallet address from an ordered list of
// sources. Resolution never fails: the empty string is the last resort.
type WalletResolver struct {
	sources []WalletSource
	log     zerolog.Logger
}

func NewWalletResolver(log zerolog.Logger, sources ...WalletSource) *WalletResolver {
	return &WalletResolver{sources: sources, log: log}
}

// Resolve returns the first non-empty address.
func (w *WalletResolver) Resolve(ctx context.Context) string {
	if w == nil {
		return ""
	}
	for _, src := range w.sources {
		if src.Lookup == nil {
			continue
		}
		addr, err := src.Lookup(ctx)
		if err != nil {
			w.log.Warn().Err(err).Str("source", src.Name).Msg("Wallet lookup failed")
			continue
		}
		if addr = strings.TrimSpace(addr); addr != "" {
			return addr
		}
	}
	return ""
}
