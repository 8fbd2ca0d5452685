package mint

import (
	"context"

	"github.com/hashpool/gonuts/cashu"
	"github.com/hashpool/gonuts/cashu/nuts/nut04"
	"github.com/hashpool/gonuts/cashu/nuts/nutxx"
	"github.com/hashpool/gonuts/mint/storage"
)

// BatchMint redeems many mining-share quotes into one shared output
// set under a single transaction: either every quote transitions
// Paid->Issued and the outputs are signed, or nothing happens.
func (m *Mint) BatchMint(req nutxx.BatchMintRequest) (cashu.BlindedSignatures, error) {
	if len(req.Quote) == 0 {
		return nil, cashu.BatchEmptyErr
	}
	if len(req.Quote) > maxBatchQuotes {
		return nil, cashu.BatchSizeExceededErr
	}
	if err := checkNoDuplicateQuotes(req.Quote); err != nil {
		return nil, err
	}
	if req.Signature != nil && len(req.Signature) != len(req.Quote) {
		return nil, cashu.SignatureCountMismatchErr
	}

	ctx := context.Background()
	tx, err := m.db.BeginTx(ctx)
	if err != nil {
		return nil, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}
	defer tx.Rollback()

	quotes := make([]storage.MintQuote, len(req.Quote))
	var commonMethod cashu.PaymentMethod
	var commonUnit cashu.CurrencyUnit
	var commonKeysetId string
	var amountTotal uint64

	for i, quoteId := range req.Quote {
		quote, err := tx.GetMintQuote(quoteId)
		if err != nil {
			return nil, cashu.UnknownQuoteErr
		}
		if err := m.lockQuoteForIssuance(&quote); err != nil {
			return nil, err
		}

		if i == 0 {
			commonMethod = quote.Method
			commonUnit = quote.Unit
			commonKeysetId = quote.KeysetId
		} else {
			if quote.Method != commonMethod {
				return nil, cashu.BatchPaymentMethodMismatchErr
			}
			if quote.Unit != commonUnit {
				return nil, cashu.BatchCurrencyUnitMismatchErr
			}
			if quote.KeysetId != commonKeysetId {
				return nil, cashu.BatchKeysetMismatchErr
			}
		}

		var hexSig string
		if req.Signature != nil && req.Signature[i] != nil {
			hexSig = *req.Signature[i]
		}
		if err := verifyQuoteSignature(quote, []string{quoteId}, req.Outputs, hexSig); err != nil {
			return nil, err
		}

		amountTotal += quote.Amount
		quotes[i] = quote
	}

	if err := m.validateOutputsAgainstAmount(req.Outputs, commonKeysetId, amountTotal); err != nil {
		return nil, err
	}

	for i, quote := range quotes {
		if err := tx.UpdateMintQuoteState(req.Quote[i], nut04.Pending, quote.AmountPaid, quote.AmountIssued); err != nil {
			return nil, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
		}
		m.pending.acquire(req.Quote[i])
	}

	sigs, err := m.signBlindedMessages(req.Outputs)
	if err != nil {
		return nil, err
	}

	for i, quote := range quotes {
		if err := tx.UpdateMintQuoteState(req.Quote[i], nut04.Issued, quote.AmountPaid, quote.Amount); err != nil {
			return nil, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}
	for _, quoteId := range req.Quote {
		m.pending.release(quoteId)
	}

	return sigs, nil
}

func checkNoDuplicateQuotes(quoteIds []string) error {
	seen := make(map[string]bool, len(quoteIds))
	for _, id := range quoteIds {
		if seen[id] {
			return cashu.BatchDuplicateQuoteErr
		}
		seen[id] = true
	}
	return nil
}
