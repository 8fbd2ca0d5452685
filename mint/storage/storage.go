package storage

import (
	"context"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"
	"github.com/hashpool/gonuts/cashu"
	"github.com/hashpool/gonuts/cashu/nuts/nut04"
	"github.com/hashpool/gonuts/cashu/nuts/nut05"
	"github.com/hashpool/gonuts/cashu/nuts/nutxx"
)

type MintDB interface {
	SaveSeed([]byte) error
	GetSeed() ([]byte, error)

	SaveKeyset(DBKeyset) error
	GetKeysets() ([]DBKeyset, error)
	UpdateKeysetActive(keysetId string, active bool) error

	SaveProofs(cashu.Proofs) error
	GetProofsUsed(Ys []string) ([]DBProof, error)
	AddPendingProofs(proofs cashu.Proofs, quoteId string) error
	GetPendingProofs(Ys []string) ([]DBProof, error)
	GetPendingProofsByQuote(quoteId string) ([]DBProof, error)
	RemovePendingProofs(Ys []string) error

	SaveMintQuote(MintQuote) error
	GetMintQuote(string) (MintQuote, error)
	GetMintQuoteByPaymentHash(string) (MintQuote, error)
	UpdateMintQuoteState(quoteId string, state nut04.State) error

	SaveMeltQuote(MeltQuote) error
	GetMeltQuote(string) (MeltQuote, error)
	// used to check if a melt quote already exists for the passed invoice
	GetMeltQuoteByPaymentRequest(string) (*MeltQuote, error)
	UpdateMeltQuote(quoteId string, preimage string, state nut05.State) error

	SaveBlindSignatures(B_s []string, blindSignatures cashu.BlindedSignatures) error
	GetBlindSignature(B_ string) (cashu.BlindedSignature, error)
	GetBlindSignatures(B_s []string) (cashu.BlindedSignatures, error)

	// these return a map of keyset id and amount
	GetIssuedEcash() (map[string]uint64, error)
	GetRedeemedEcash() (map[string]uint64, error)

	// BeginTx opens a QuoteStore transaction covering the mining-share
	// issuance pipeline: mint quotes, premint secrets, keyset counters
	// and the pubkey lookup index. All-or-nothing issuance (single and
	// batch) is built entirely out of one BeginTx/Commit pair.
	BeginTx(ctx context.Context) (Tx, error)

	// LookupMintQuotesByPubkeys reads the secondary pubkey index
	// written alongside every locked mint quote. Read-only, so it
	// doesn't need a Tx.
	LookupMintQuotesByPubkeys(pubkeys []string, filter nutxx.StateFilter, specific nut04.State) ([]LookupItem, error)

	Close() error
}

// Tx is a QuoteStore transaction. Every mutating quote-store operation
// used by MintIssuer and BatchIssuer goes through one: the keyset
// counter increment, the quote's Paid->Pending->Issued transitions,
// and the premint-secrets bookkeeping all commit or roll back
// together, giving the at-most-once issuance guarantee spec.md asks
// for.
type Tx interface {
	AddMintQuote(MintQuote) error
	GetMintQuote(id string) (MintQuote, error)
	UpdateMintQuoteState(id string, state nut04.State, amountPaid, amountIssued uint64) error
	RemoveMintQuote(id string) error

	AddPreMintSecrets(quoteId string, secrets []PreMintSecretsRow) error
	GetPreMintSecrets(quoteId string) ([]PreMintSecretsRow, error)
	RemovePreMintSecrets(quoteId string) error

	// IncrementKeysetCounter atomically reserves the next n indices in
	// keysetId's counter and returns the first index reserved, so
	// concurrent callers never derive overlapping secrets.
	IncrementKeysetCounter(keysetId string, n uint32) (uint32, error)

	SetQuoteTTL(quoteId string, expiry int64) error
	GetQuoteTTL(quoteId string) (int64, error)

	Commit() error
	Rollback() error
}

// PreMintSecretsRow is the persisted form of a blinded output the mint
// has accepted but not yet signed — kept so a crash between accept and
// sign doesn't lose the binding between a quote and its outputs. The
// mint fills only KeysetId, Amount and B_; Secret and R stay empty.
type PreMintSecretsRow struct {
	QuoteId  string
	KeysetId string
	Amount   uint64
	Secret   string
	R        string // hex-encoded blinding factor
	B_       string // hex-encoded blinded message point
}

// LookupItem is the pubkey-index entry returned by
// LookupMintQuotesByPubkeys.
type LookupItem struct {
	Pubkey   string
	QuoteId  string
	Method   string
	Amount   uint64
	KeysetId string
	State    nut04.State
}

type DBKeyset struct {
	Id                string
	Unit              string
	Active            bool
	Seed              string
	DerivationPathIdx uint32
	InputFeePpk       uint
}

type DBProof struct {
	Amount  uint64
	Id      string
	Secret  string
	Y       string
	C       string
	Witness string
	// for proofs in pending table
	MeltQuoteId string
}

type MintQuote struct {
	// Id is the mint's own quote identifier. Unlike MeltQuote.Id (kept
	// as a hex string to match the teacher's hand-rolled ids), mint
	// quotes use a real UUID so hashpool's pool-side callers can rely
	// on a parseable wire format.
	Id     uuid.UUID
	Method cashu.PaymentMethod
	Unit   cashu.CurrencyUnit

	Amount         uint64
	PaymentRequest string
	// PaymentHash is the Lightning payment hash for bolt11/bolt12
	// quotes, or the hex-encoded mining-share header hash for
	// MiningShare quotes.
	PaymentHash string
	State       nut04.State
	Expiry      uint64
	Pubkey      *secp256k1.PublicKey

	// KeysetId is set at creation for MiningShare quotes (it dictates
	// which key must sign every output) and on first issuance for
	// Lightning quotes.
	KeysetId     string
	AmountPaid   uint64
	AmountIssued uint64
}

// ToStringID returns the quote id in its wire (text) form, the boundary
// conversion between the mint's internal uuid.UUID and every wire/SQL
// shape that moves quote ids as plain strings.
func (q MintQuote) ToStringID() string {
	return q.Id.String()
}

type MeltQuote struct {
	Id             string
	InvoiceRequest string
	PaymentHash    string
	Amount         uint64
	FeeReserve     uint64
	State          nut05.State
	Expiry         uint64
	Preimage       string
	IsMpp          bool
	// used when the melt quote is MPP
	AmountMsat uint64
}
