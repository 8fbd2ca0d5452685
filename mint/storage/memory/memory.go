// Package memory is a mutex-guarded, in-memory MintDB. It is the
// reference implementation of the QuoteStore transactional contract
// (linearizable counter increment, at-most-once Paid->Issued) and the
// default backend for tests.
package memory

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/hashpool/gonuts/cashu"
	"github.com/hashpool/gonuts/cashu/nuts/nut04"
	"github.com/hashpool/gonuts/cashu/nuts/nut05"
	"github.com/hashpool/gonuts/cashu/nuts/nutxx"
	"github.com/hashpool/gonuts/crypto"
	"github.com/hashpool/gonuts/mint/storage"
)

type Store struct {
	mu sync.Mutex

	seed []byte

	keysets map[string]storage.DBKeyset

	proofsUsed    map[string]storage.DBProof // keyed by Y
	pendingProofs map[string]storage.DBProof // keyed by Y

	mintQuotes map[string]storage.MintQuote
	meltQuotes map[string]storage.MeltQuote

	blindSignatures map[string]cashu.BlindedSignature // keyed by B_

	keysetCounters map[string]uint32
	premintSecrets map[string][]storage.PreMintSecretsRow // keyed by quote id
	quoteTTLs      map[string]int64
	pubkeyIndex    map[string][]string // pubkey -> quote ids
}

func New() *Store {
	return &Store{
		keysets:         make(map[string]storage.DBKeyset),
		proofsUsed:      make(map[string]storage.DBProof),
		pendingProofs:   make(map[string]storage.DBProof),
		mintQuotes:      make(map[string]storage.MintQuote),
		meltQuotes:      make(map[string]storage.MeltQuote),
		blindSignatures: make(map[string]cashu.BlindedSignature),
		keysetCounters:  make(map[string]uint32),
		premintSecrets:  make(map[string][]storage.PreMintSecretsRow),
		quoteTTLs:       make(map[string]int64),
		pubkeyIndex:     make(map[string][]string),
	}
}

func (s *Store) SaveSeed(seed []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seed = append([]byte(nil), seed...)
	return nil
}

func (s *Store) GetSeed() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seed == nil {
		return nil, sql.ErrNoRows
	}
	return append([]byte(nil), s.seed...), nil
}

func (s *Store) SaveKeyset(ks storage.DBKeyset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keysets[ks.Id] = ks
	return nil
}

func (s *Store) GetKeysets() ([]storage.DBKeyset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.DBKeyset, 0, len(s.keysets))
	for _, ks := range s.keysets {
		out = append(out, ks)
	}
	return out, nil
}

func (s *Store) UpdateKeysetActive(keysetId string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ks, ok := s.keysets[keysetId]
	if !ok {
		return errors.New("memory: unknown keyset")
	}
	ks.Active = active
	s.keysets[keysetId] = ks
	return nil
}

func (s *Store) SaveProofs(proofs cashu.Proofs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range proofs {
		Y, err := crypto.HashToCurve([]byte(p.Secret))
		if err != nil {
			return err
		}
		y := hex.EncodeToString(Y.SerializeCompressed())
		s.proofsUsed[y] = storage.DBProof{
			Amount: p.Amount, Id: p.Id, Secret: p.Secret, Y: y, C: p.C, Witness: p.Witness,
		}
	}
	return nil
}

func (s *Store) GetProofsUsed(Ys []string) ([]storage.DBProof, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.DBProof, 0, len(Ys))
	for _, y := range Ys {
		for _, p := range s.proofsUsed {
			if p.Y == y {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (s *Store) AddPendingProofs(proofs cashu.Proofs, quoteId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range proofs {
		Y, err := crypto.HashToCurve([]byte(p.Secret))
		if err != nil {
			return err
		}
		y := hex.EncodeToString(Y.SerializeCompressed())
		s.pendingProofs[y] = storage.DBProof{
			Amount: p.Amount, Id: p.Id, Secret: p.Secret, Y: y, C: p.C,
			Witness: p.Witness, MeltQuoteId: quoteId,
		}
	}
	return nil
}

func (s *Store) GetPendingProofs(Ys []string) ([]storage.DBProof, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.DBProof, 0, len(Ys))
	for _, y := range Ys {
		if p, ok := s.pendingProofs[y]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) GetPendingProofsByQuote(quoteId string) ([]storage.DBProof, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.DBProof, 0)
	for _, p := range s.pendingProofs {
		if p.MeltQuoteId == quoteId {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) RemovePendingProofs(Ys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, y := range Ys {
		delete(s.pendingProofs, y)
	}
	return nil
}

func (s *Store) SaveMintQuote(q storage.MintQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveMintQuoteLocked(q)
	return nil
}

func (s *Store) saveMintQuoteLocked(q storage.MintQuote) {
	s.mintQuotes[q.Id.String()] = q
	if q.Pubkey != nil {
		pub := pubkeyHex(q.Pubkey)
		s.indexPubkeyLocked(pub, q.Id.String())
	}
}

func (s *Store) indexPubkeyLocked(pubkeyHex, quoteId string) {
	for _, id := range s.pubkeyIndex[pubkeyHex] {
		if id == quoteId {
			return
		}
	}
	s.pubkeyIndex[pubkeyHex] = append(s.pubkeyIndex[pubkeyHex], quoteId)
}

func pubkeyHex(pub *secp256k1.PublicKey) string {
	return hex.EncodeToString(pub.SerializeCompressed())
}

func (s *Store) GetMintQuote(id string) (storage.MintQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.mintQuotes[id]
	if !ok {
		return storage.MintQuote{}, cashu.UnknownQuoteErr
	}
	return q, nil
}

func (s *Store) GetMintQuoteByPaymentHash(hash string) (storage.MintQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.mintQuotes {
		if q.PaymentHash == hash {
			return q, nil
		}
	}
	return storage.MintQuote{}, cashu.UnknownQuoteErr
}

func (s *Store) UpdateMintQuoteState(quoteId string, state nut04.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.mintQuotes[quoteId]
	if !ok {
		return cashu.UnknownQuoteErr
	}
	q.State = state
	s.mintQuotes[quoteId] = q
	return nil
}

func (s *Store) SaveMeltQuote(q storage.MeltQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meltQuotes[q.Id] = q
	return nil
}

func (s *Store) GetMeltQuote(id string) (storage.MeltQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.meltQuotes[id]
	if !ok {
		return storage.MeltQuote{}, cashu.QuoteNotExistErr
	}
	return q, nil
}

func (s *Store) GetMeltQuoteByPaymentRequest(request string) (*storage.MeltQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.meltQuotes {
		if q.InvoiceRequest == request {
			cp := q
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateMeltQuote(quoteId string, preimage string, state nut05.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.meltQuotes[quoteId]
	if !ok {
		return cashu.QuoteNotExistErr
	}
	q.Preimage = preimage
	q.State = state
	s.meltQuotes[quoteId] = q
	return nil
}

func (s *Store) SaveBlindSignatures(B_s []string, sigs cashu.BlindedSignatures) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range B_s {
		s.blindSignatures[b] = sigs[i]
	}
	return nil
}

func (s *Store) GetBlindSignature(B_ string) (cashu.BlindedSignature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.blindSignatures[B_]
	if !ok {
		return cashu.BlindedSignature{}, sql.ErrNoRows
	}
	return sig, nil
}

func (s *Store) GetBlindSignatures(B_s []string) (cashu.BlindedSignatures, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(cashu.BlindedSignatures, 0, len(B_s))
	for _, b := range B_s {
		if sig, ok := s.blindSignatures[b]; ok {
			out = append(out, sig)
		}
	}
	return out, nil
}

func (s *Store) GetIssuedEcash() (map[string]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint64)
	for _, sig := range s.blindSignatures {
		out[sig.Id] += sig.Amount
	}
	return out, nil
}

func (s *Store) GetRedeemedEcash() (map[string]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint64)
	for _, p := range s.proofsUsed {
		out[p.Id] += p.Amount
	}
	return out, nil
}

func (s *Store) LookupMintQuotesByPubkeys(pubkeys []string, filter nutxx.StateFilter, specific nut04.State) ([]storage.LookupItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]storage.LookupItem, 0)
	for _, pk := range pubkeys {
		for _, quoteId := range s.pubkeyIndex[pk] {
			q, ok := s.mintQuotes[quoteId]
			if !ok {
				continue
			}
			if !stateMatches(q.State, filter, specific) {
				continue
			}
			out = append(out, storage.LookupItem{
				Pubkey:   pk,
				QuoteId:  q.Id.String(),
				Method:   q.Method.String(),
				Amount:   q.Amount,
				KeysetId: q.KeysetId,
				State:    q.State,
			})
		}
	}
	return out, nil
}

func stateMatches(state nut04.State, filter nutxx.StateFilter, specific nut04.State) bool {
	switch filter {
	case nutxx.All, "":
		return true
	case nutxx.OnlyPaid:
		return state == nut04.Paid
	case nutxx.OnlyUnpaid:
		return state == nut04.Unpaid
	case nutxx.OnlyIssued:
		return state == nut04.Issued
	case nutxx.Specific:
		return state == specific
	default:
		return false
	}
}

func (s *Store) Close() error { return nil }

// BeginTx takes the store's single mutex for the duration of the
// transaction. This mirrors the teacher's db.SetMaxOpenConns(1) trick
// for sqlite: a single writer gives linearizability for free, without
// needing real nested transactions over an in-memory map.
func (s *Store) BeginTx(ctx context.Context) (storage.Tx, error) {
	s.mu.Lock()
	return &tx{store: s}, nil
}

type tx struct {
	store *Store
	done  bool
}

func (t *tx) finish() {
	if !t.done {
		t.done = true
		t.store.mu.Unlock()
	}
}

func (t *tx) Commit() error {
	t.finish()
	return nil
}

func (t *tx) Rollback() error {
	t.finish()
	return nil
}

func (t *tx) AddMintQuote(q storage.MintQuote) error {
	t.store.saveMintQuoteLocked(q)
	return nil
}

func (t *tx) GetMintQuote(id string) (storage.MintQuote, error) {
	q, ok := t.store.mintQuotes[id]
	if !ok {
		return storage.MintQuote{}, cashu.UnknownQuoteErr
	}
	return q, nil
}

func (t *tx) UpdateMintQuoteState(id string, state nut04.State, amountPaid, amountIssued uint64) error {
	q, ok := t.store.mintQuotes[id]
	if !ok {
		return cashu.UnknownQuoteErr
	}
	q.State = state
	q.AmountPaid = amountPaid
	q.AmountIssued = amountIssued
	t.store.mintQuotes[id] = q
	return nil
}

func (t *tx) RemoveMintQuote(id string) error {
	q, ok := t.store.mintQuotes[id]
	if ok && q.Pubkey != nil {
		pub := pubkeyHex(q.Pubkey)
		ids := t.store.pubkeyIndex[pub]
		for i, existing := range ids {
			if existing == id {
				t.store.pubkeyIndex[pub] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
	}
	delete(t.store.mintQuotes, id)
	return nil
}

func (t *tx) AddPreMintSecrets(quoteId string, secrets []storage.PreMintSecretsRow) error {
	t.store.premintSecrets[quoteId] = secrets
	return nil
}

func (t *tx) GetPreMintSecrets(quoteId string) ([]storage.PreMintSecretsRow, error) {
	return t.store.premintSecrets[quoteId], nil
}

func (t *tx) RemovePreMintSecrets(quoteId string) error {
	delete(t.store.premintSecrets, quoteId)
	return nil
}

func (t *tx) IncrementKeysetCounter(keysetId string, n uint32) (uint32, error) {
	start := t.store.keysetCounters[keysetId]
	t.store.keysetCounters[keysetId] = start + n
	return start, nil
}

func (t *tx) SetQuoteTTL(quoteId string, expiry int64) error {
	t.store.quoteTTLs[quoteId] = expiry
	return nil
}

func (t *tx) GetQuoteTTL(quoteId string) (int64, error) {
	return t.store.quoteTTLs[quoteId], nil
}
