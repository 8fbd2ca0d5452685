package mint

import (
	"github.com/hashpool/gonuts/cashu/nuts/nut06"
	"github.com/hashpool/gonuts/mint/lightning"
)

// LogLevel controls verbosity of the mint's slog logger.
type LogLevel int

const (
	Info LogLevel = iota
	Debug
	Disable
)

// Backend selects which storage.MintDB implementation LoadMint
// constructs.
type Backend int

const (
	SqliteBackend Backend = iota
	MemoryBackend
)

// MintInfo holds the operator-facing fields of NUT-06 mint info that
// come from config rather than derived state (pubkey, nuts support
// table). SetMintInfo merges this with the derived fields into the
// nut06.MintInfo served on /v1/info.
type MintInfo struct {
	Name            string
	Description     string
	LongDescription string
	Motd            string
	IconURL         string
	URLs            []string
	Contact         []nut06.ContactInfo
}

type Config struct {
	RotateKeyset      bool
	Port              int
	MintPath          string
	Backend           Backend
	DerivationPathIdx uint32
	InputFeePpk       uint
	MintInfo          MintInfo
	Limits            MintLimits

	LightningClient lightning.Client
	EnableMPP       bool

	LogLevel LogLevel

	EnableAdminServer bool

	MeltTimeout int
}

type MintMethodSettings struct {
	MinAmount uint64
	MaxAmount uint64
}

type MeltMethodSettings struct {
	MinAmount uint64
	MaxAmount uint64
}

type MintLimits struct {
	MaxBalance      uint64
	MintingSettings MintMethodSettings
	MeltingSettings MeltMethodSettings
}

// ServerConfig configures the HTTP server that exposes a Mint over the
// NUT endpoint table. It is deliberately separate from Config, which
// configures the Mint itself.
type ServerConfig struct {
	Port        int
	MeltTimeout int
}

