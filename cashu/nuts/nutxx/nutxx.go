// Package nutxx contains the wire types for the unregistered
// mining-share ecash NUT: quoting a mint against a Bitcoin mining
// share, pubkey-indexed quote lookup, and batch issuance.
//
// [NUT-XX]: placeholder pending a registered number
package nutxx

import "github.com/hashpool/gonuts/cashu"

// QuoteState is the wire enum for mining-share quotes. Unlike the
// internal nut04.State, it omits UNPAID: a mining-share quote is proof
// of paid work the moment it's created, so a client never observes it
// unpaid.
type QuoteState string

const (
	Paid   QuoteState = "PAID"
	Pending QuoteState = "PENDING"
	Issued QuoteState = "ISSUED"
)

// MintQuoteMiningShareRequest is posted by the party minting a quote
// against an accepted share (typically a pool or stratum proxy). The
// blinded messages are included here, not in MintMiningShareRequest,
// because a mining-share quote is paid at creation time.
type MintQuoteMiningShareRequest struct {
	Amount          uint64                `json:"amount"`
	Unit            string                `json:"unit"`
	HeaderHash      string                `json:"header_hash"`
	Pubkey          string                `json:"pubkey"`
	KeysetId        string                `json:"keyset_id"`
	BlindedMessages cashu.BlindedMessages `json:"blinded_messages"`
}

type MintQuoteMiningShareResponse struct {
	Quote     string     `json:"quote"`
	Amount    uint64     `json:"amount"`
	Unit      string     `json:"unit"`
	State     QuoteState `json:"state"`
	KeysetId  string     `json:"keyset_id"`
	Expiry    int64      `json:"expiry"`
}

// MintMiningShareRequest references a quote by id only: the keyset_id
// and amount were fixed at quote creation, and the blinded messages
// were already recorded then.
type MintMiningShareRequest struct {
	Quote     string `json:"quote"`
	Signature string `json:"signature,omitempty"`
}

type MintMiningShareResponse struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}

// BatchMintRequest redeems many quotes into one shared output set
// under a single HTTP call. Signature is nullable per-slot: a nil
// entry is only valid for a quote with no locking pubkey.
type BatchMintRequest struct {
	Quote     []string              `json:"quote"`
	Outputs   cashu.BlindedMessages `json:"outputs"`
	Signature []*string             `json:"signature,omitempty"`
}

type BatchMintResponse struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}

// StateFilter narrows LookupRequest results by quote state.
type StateFilter string

const (
	All         StateFilter = "all"
	OnlyPaid    StateFilter = "only_paid"
	OnlyUnpaid  StateFilter = "only_unpaid"
	OnlyIssued  StateFilter = "only_issued"
	Specific    StateFilter = "specific"
)

type LookupRequest struct {
	Pubkeys     []string    `json:"pubkeys"`
	StateFilter StateFilter `json:"state_filter"`
	// State is only read when StateFilter == Specific.
	State string `json:"state,omitempty"`
}

type LookupItem struct {
	Pubkey   string     `json:"pubkey"`
	Quote    string     `json:"quote"`
	Method   string     `json:"method"`
	Amount   uint64     `json:"amount"`
	KeysetId string     `json:"keyset_id"`
	State    QuoteState `json:"state"`
}

type LookupResponse struct {
	Quotes []LookupItem `json:"quotes"`
}
