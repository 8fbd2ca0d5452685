// Package nut04 contains structs as defined in [NUT-04]
//
// [NUT-04]: https://github.com/cashubtc/nuts/blob/main/04.md
package nut04

import (
	"fmt"

	"github.com/hashpool/gonuts/cashu"
)

// State is the internal lifecycle of a mint quote, shared by every
// payment method (bolt11, bolt12, mining-share). Unpaid is the only
// state a mining-share quote never visits: a share is proof of paid
// work at creation time, so MiningShareQuote starts at Paid.
type State int

const (
	Unpaid State = iota
	Paid
	Pending
	Issued
)

func (s State) String() string {
	switch s {
	case Unpaid:
		return "UNPAID"
	case Paid:
		return "PAID"
	case Pending:
		return "PENDING"
	case Issued:
		return "ISSUED"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *State) UnmarshalJSON(data []byte) error {
	str := string(data)
	if len(str) >= 2 {
		str = str[1 : len(str)-1]
	}
	switch str {
	case "UNPAID":
		*s = Unpaid
	case "PAID":
		*s = Paid
	case "PENDING":
		*s = Pending
	case "ISSUED":
		*s = Issued
	default:
		return fmt.Errorf("nut04: unknown quote state %q", str)
	}
	return nil
}

type PostMintQuoteBolt11Request struct {
	Amount uint64 `json:"amount"`
	Unit   string `json:"unit"`
}

type PostMintQuoteBolt11Response struct {
	Quote   string `json:"quote"`
	Request string `json:"request"`
	Paid    bool   `json:"paid"`
	State   State  `json:"state"`
	Expiry  int64  `json:"expiry"`
}

type PostMintBolt11Request struct {
	Quote   string                `json:"quote"`
	Outputs cashu.BlindedMessages `json:"outputs"`
}

type PostMintBolt11Response struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}
