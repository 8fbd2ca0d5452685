package mint

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"
	"github.com/hashpool/gonuts/cashu"
	"github.com/hashpool/gonuts/cashu/nuts/nut04"
	"github.com/hashpool/gonuts/cashu/nuts/nut20"
	"github.com/hashpool/gonuts/cashu/nuts/nutxx"
	"github.com/hashpool/gonuts/mint/storage"
)

const (
	// DefaultPendingLeaseTimeout bounds how long an issuance attempt
	// may hold a quote in Pending before the reaper releases it back
	// to Paid.
	DefaultPendingLeaseTimeout = 2 * time.Minute

	maxOutputsPerRequest = 64
	maxBatchQuotes       = 100
)

// pendingLeases tracks the mint-local leases MintIssuer and BatchIssuer
// take while a quote sits in Pending, so a crash or an abandoned HTTP
// call doesn't strand the quote there forever.
type pendingLeases struct {
	mu     sync.Mutex
	leased map[string]time.Time
}

func newPendingLeases() *pendingLeases {
	return &pendingLeases{leased: make(map[string]time.Time)}
}

func (p *pendingLeases) acquire(quoteId string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leased[quoteId] = time.Now()
}

func (p *pendingLeases) release(quoteId string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.leased, quoteId)
}

func (p *pendingLeases) expired(timeout time.Duration) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var stuck []string
	now := time.Now()
	for id, leasedAt := range p.leased {
		if now.Sub(leasedAt) > timeout {
			stuck = append(stuck, id)
		}
	}
	return stuck
}

// ReapExpiredPending returns every quote whose Pending lease has been
// held longer than timeout back to Paid. Called on a ticker by
// StartPendingReaper, mirroring the ticker-driven loop invoicesub.go
// already runs for bolt11 invoice polling.
func (m *Mint) ReapExpiredPending(ctx context.Context, timeout time.Duration) {
	for _, quoteId := range m.pending.expired(timeout) {
		if err := m.releasePendingQuote(ctx, quoteId); err != nil {
			m.logErrorf("reaper: releasing quote '%v': %v", quoteId, err)
			continue
		}
		m.pending.release(quoteId)
	}
}

func (m *Mint) releasePendingQuote(ctx context.Context, quoteId string) error {
	tx, err := m.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	quote, err := tx.GetMintQuote(quoteId)
	if err != nil {
		return nil // quote already gone; nothing to release
	}
	if quote.State != nut04.Pending {
		return nil // already resolved by the issuing call
	}
	if err := tx.UpdateMintQuoteState(quoteId, nut04.Paid, quote.AmountPaid, quote.AmountIssued); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	m.logInfof("reaper: released stuck pending quote '%v' back to paid", quoteId)
	return nil
}

// StartPendingReaper runs ReapExpiredPending on interval until ctx is
// canceled.
func (m *Mint) StartPendingReaper(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.ReapExpiredPending(ctx, timeout)
			}
		}
	}()
}

// RequestMiningShareQuote creates a quote against an already-accepted
// mining share. Unlike a bolt11 quote it is Paid from the moment it's
// created: a header hash clearing the pool's difficulty target is
// proof of work already done, so there is nothing left to wait on.
func (m *Mint) RequestMiningShareQuote(req nutxx.MintQuoteMiningShareRequest) (storage.MintQuote, error) {
	unit, err := cashu.ParseCurrencyUnit(req.Unit)
	if err != nil || unit != cashu.Hash {
		return storage.MintQuote{}, cashu.UnitNotSupportedErr
	}
	if req.HeaderHash == "" {
		return storage.MintQuote{}, cashu.BuildCashuError("header hash cannot be empty", cashu.StandardErrCode)
	}
	if m.limits.MintingSettings.MaxAmount > 0 && req.Amount > m.limits.MintingSettings.MaxAmount {
		return storage.MintQuote{}, cashu.MintAmountExceededErr
	}

	keysetId := req.KeysetId
	if keysetId == "" {
		active, err := m.ActiveKeysetForUnit(cashu.Hash)
		if err != nil {
			return storage.MintQuote{}, cashu.UnknownKeysetErr
		}
		keysetId = active.Id
	}
	keyset, ok := m.activeKeysets[keysetId]
	if !ok || keyset.Unit != cashu.Hash.String() {
		return storage.MintQuote{}, cashu.UnknownKeysetErr
	}

	if err := m.validateOutputsAgainstAmount(req.BlindedMessages, keysetId, req.Amount); err != nil {
		return storage.MintQuote{}, err
	}

	var pubkey *secp256k1.PublicKey
	if req.Pubkey != "" {
		pubkey, err = parseHexPubkey(req.Pubkey)
		if err != nil {
			return storage.MintQuote{}, cashu.BuildCashuError("invalid pubkey: "+err.Error(), cashu.StandardErrCode)
		}
	}

	quote := storage.MintQuote{
		Id:          uuid.New(),
		Method:      cashu.MiningShare,
		Unit:        cashu.Hash,
		Amount:      req.Amount,
		PaymentHash: req.HeaderHash,
		State:       nut04.Paid,
		Expiry:      0, // mining-share quotes don't expire
		Pubkey:      pubkey,
		KeysetId:    keysetId,
		AmountPaid:  req.Amount,
	}

	ctx := context.Background()
	tx, err := m.db.BeginTx(ctx)
	if err != nil {
		return storage.MintQuote{}, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}
	defer tx.Rollback()

	if err := tx.AddMintQuote(quote); err != nil {
		return storage.MintQuote{}, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}

	premint := make([]storage.PreMintSecretsRow, len(req.BlindedMessages))
	for i, bm := range req.BlindedMessages {
		premint[i] = storage.PreMintSecretsRow{
			QuoteId:  quote.ToStringID(),
			KeysetId: bm.Id,
			Amount:   bm.Amount,
			B_:       bm.B_,
		}
	}
	if err := tx.AddPreMintSecrets(quote.ToStringID(), premint); err != nil {
		return storage.MintQuote{}, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}

	if err := tx.Commit(); err != nil {
		return storage.MintQuote{}, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}

	m.logInfof("created mining-share quote '%v' for %v %v", quote.Id, quote.Amount, quote.Unit)
	return quote, nil
}

// GetMiningShareQuoteState returns the current state of a mining-share
// quote.
func (m *Mint) GetMiningShareQuoteState(quoteId string) (storage.MintQuote, error) {
	quote, err := m.db.GetMintQuote(quoteId)
	if err != nil {
		return storage.MintQuote{}, cashu.UnknownQuoteErr
	}
	return quote, nil
}

// MintMiningShare runs the 8-step validation pipeline against a Paid
// mining-share quote and, if it passes, signs the outputs recorded at
// quote creation and transitions the quote Paid->Pending->Issued.
func (m *Mint) MintMiningShare(req nutxx.MintMiningShareRequest) (cashu.BlindedSignatures, error) {
	ctx := context.Background()
	tx, err := m.db.BeginTx(ctx)
	if err != nil {
		return nil, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}
	defer tx.Rollback()

	quote, err := tx.GetMintQuote(req.Quote)
	if err != nil {
		return nil, cashu.UnknownQuoteErr
	}

	if err := m.lockQuoteForIssuance(&quote); err != nil {
		return nil, err
	}

	premint, err := tx.GetPreMintSecrets(req.Quote)
	if err != nil || len(premint) == 0 {
		return nil, cashu.UnknownQuoteErr
	}
	outputs := premintOutputs(premint)

	if err := verifyQuoteSignature(quote, []string{req.Quote}, outputs, req.Signature); err != nil {
		return nil, err
	}

	if err := tx.UpdateMintQuoteState(req.Quote, nut04.Pending, quote.AmountPaid, quote.AmountIssued); err != nil {
		return nil, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}
	m.pending.acquire(req.Quote)

	sigs, err := m.signBlindedMessages(outputs)
	if err != nil {
		return nil, err
	}

	if err := tx.UpdateMintQuoteState(req.Quote, nut04.Issued, quote.AmountPaid, quote.Amount); err != nil {
		return nil, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}
	if err := tx.RemovePreMintSecrets(req.Quote); err != nil {
		return nil, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}
	if err := tx.Commit(); err != nil {
		return nil, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}
	m.pending.release(req.Quote)

	return sigs, nil
}

// lockQuoteForIssuance runs validation steps 1-3 of the MintIssuer
// pipeline: the quote must exist (checked by the caller), not be
// expired, and be Paid.
func (m *Mint) lockQuoteForIssuance(quote *storage.MintQuote) error {
	if quote.Expiry != 0 && uint64(time.Now().Unix()) > quote.Expiry {
		return cashu.QuoteExpiredErr
	}
	switch quote.State {
	case nut04.Issued:
		return cashu.MintQuoteAlreadyIssued
	case nut04.Pending:
		return cashu.QuotePendingLeaseErr
	case nut04.Unpaid:
		return cashu.UnpaidQuoteErr
	case nut04.Paid:
		return nil
	default:
		return cashu.UnpaidQuoteErr
	}
}

// verifyQuoteSignature implements step 4 of the pipeline: a quote
// locked to a pubkey requires a valid NUT-20 signature over the quote
// id(s) and outputs; an unlocked quote must not carry one.
func verifyQuoteSignature(quote storage.MintQuote, quoteIds []string, outputs cashu.BlindedMessages, hexSig string) error {
	if quote.Pubkey == nil {
		if hexSig != "" {
			return cashu.SignatureMissingOrInvalidErr
		}
		return nil
	}
	if hexSig == "" {
		return cashu.SignatureMissingOrInvalidErr
	}
	sigBytes, err := hex.DecodeString(hexSig)
	if err != nil {
		return cashu.SignatureMissingOrInvalidErr
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return cashu.SignatureMissingOrInvalidErr
	}
	if !nut20.VerifyMintQuotesSignature(sig, quoteIds, outputs, quote.Pubkey) {
		return cashu.SignatureMissingOrInvalidErr
	}
	return nil
}

// validateOutputsAgainstAmount implements steps 5-8 of the MintIssuer
// pipeline for a single quote: one shared keyset, denominations that
// exist in that keyset, a sum matching amount, and a sane output
// count.
func (m *Mint) validateOutputsAgainstAmount(outputs cashu.BlindedMessages, keysetId string, amount uint64) error {
	if len(outputs) == 0 || len(outputs) > maxOutputsPerRequest {
		return cashu.OutputCountExceededErr
	}
	keyset, ok := m.keysets[keysetId]
	if !ok {
		return cashu.UnknownKeysetErr
	}

	var sum uint64
	for _, bm := range outputs {
		if bm.Id != keysetId {
			return cashu.KeysetMismatchErr
		}
		if _, ok := keyset.Keys[bm.Amount]; !ok {
			return cashu.InvalidAmountDenominationErr
		}
		sum += bm.Amount
	}
	if sum != amount {
		return cashu.AmountMismatchErr
	}
	return nil
}

func premintOutputs(rows []storage.PreMintSecretsRow) cashu.BlindedMessages {
	outputs := make(cashu.BlindedMessages, len(rows))
	for i, row := range rows {
		outputs[i] = cashu.BlindedMessage{Id: row.KeysetId, Amount: row.Amount, B_: row.B_}
	}
	return outputs
}

func parseHexPubkey(hexKey string) (*secp256k1.PublicKey, error) {
	b, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, err
	}
	return secp256k1.ParsePubKey(b)
}

// LookupMiningShareQuotes wraps storage.LookupMintQuotesByPubkeys,
// translating the internal nut04.State filter result into the wire
// nutxx.LookupItem shape.
func (m *Mint) LookupMiningShareQuotes(req nutxx.LookupRequest) (nutxx.LookupResponse, error) {
	var specific nut04.State
	if req.StateFilter == nutxx.Specific {
		switch nutxx.QuoteState(req.State) {
		case nutxx.Paid:
			specific = nut04.Paid
		case nutxx.Pending:
			specific = nut04.Pending
		case nutxx.Issued:
			specific = nut04.Issued
		default:
			return nutxx.LookupResponse{}, cashu.BuildCashuError("invalid state filter value", cashu.StandardErrCode)
		}
	}

	items, err := m.db.LookupMintQuotesByPubkeys(req.Pubkeys, req.StateFilter, specific)
	if err != nil {
		return nutxx.LookupResponse{}, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}

	out := make([]nutxx.LookupItem, len(items))
	for i, item := range items {
		out[i] = nutxx.LookupItem{
			Pubkey:   item.Pubkey,
			Quote:    item.QuoteId,
			Method:   item.Method,
			Amount:   item.Amount,
			KeysetId: item.KeysetId,
			State:    wireQuoteState(item.State),
		}
	}
	return nutxx.LookupResponse{Quotes: out}, nil
}

func wireQuoteState(state nut04.State) nutxx.QuoteState {
	switch state {
	case nut04.Pending:
		return nutxx.Pending
	case nut04.Issued:
		return nutxx.Issued
	default:
		return nutxx.Paid
	}
}
