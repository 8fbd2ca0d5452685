package wallet

// Config configures a Wallet at load time.
type Config struct {
	WalletPath     string
	CurrentMintURL string

	// DomainSeparation is kept for config-file backward compatibility;
	// HashToCurve is always domain-separated now (NUT-00 v1).
	DomainSeparation bool
}
