package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/hashpool/gonuts/cashu"
	"github.com/hashpool/gonuts/cashu/nuts/nut20"
	"github.com/hashpool/gonuts/cashu/nuts/nutxx"
	"github.com/hashpool/gonuts/crypto"
)

// minMiningShareAmount and maxMiningShareAmount bound the hash-unit
// amount a single mining-share quote can mint. A share that clears
// the pool's difficulty target is always worth at least one unit; 256
// keeps one quote inside a single keyset's denomination range (the
// keyset only derives keys up to amount 2^63, but issuance of larger
// shares should be batched instead of minted as one oversized output).
const (
	minMiningShareAmount = 1
	maxMiningShareAmount = 256
)

var (
	ErrMiningShareAmountOutOfRange = errors.New("mining-share amount out of range [1, 256]")
	ErrMiningShareHeaderHashEmpty  = errors.New("mining-share header hash is empty")
)

// RequestMiningShareQuote asks the mint for a quote against an accepted
// share identified by headerHash, locking the quote (and everything it
// issues) to pubkey. Unlike a bolt11 quote, a mining-share quote is
// paid at creation time, so the blinded messages travel in the same
// request instead of a follow-up mint call.
func (w *Wallet) RequestMiningShareQuote(
	amount uint64,
	headerHash string,
	pubkey *secp256k1.PublicKey,
) (*nutxx.MintQuoteMiningShareResponse, cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {
	if amount < minMiningShareAmount || amount > maxMiningShareAmount {
		return nil, nil, nil, nil, ErrMiningShareAmountOutOfRange
	}
	if headerHash == "" {
		return nil, nil, nil, nil, ErrMiningShareHeaderHashEmpty
	}

	keyset := w.activeMiningShareKeyset()
	if keyset.Id == "" {
		return nil, nil, nil, nil, fmt.Errorf("no active %s keyset from mint %s", cashu.Hash, w.MintURL)
	}

	outputs, secrets, rs, err := w.CreateBlindedMessages(amount, keyset)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("CreateBlindedMessages: %v", err)
	}

	req := nutxx.MintQuoteMiningShareRequest{
		Amount:          amount,
		Unit:            cashu.Hash.String(),
		HeaderHash:      headerHash,
		KeysetId:        keyset.Id,
		BlindedMessages: outputs,
	}
	if pubkey != nil {
		req.Pubkey = hex.EncodeToString(pubkey.SerializeCompressed())
	}

	quoteResponse, err := PostMintQuoteMiningShare(w.MintURL, req)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	return quoteResponse, outputs, secrets, rs, nil
}

// PollMiningShareQuoteState refreshes the state of a previously created
// mining-share quote.
func (w *Wallet) PollMiningShareQuoteState(quoteId string) (*nutxx.MintQuoteMiningShareResponse, error) {
	return GetMintQuoteMiningShareState(w.MintURL, quoteId)
}

// MintMiningShare redeems a paid mining-share quote for the blinded
// signatures over the outputs supplied at quote creation, and unblinds
// them into spendable proofs. privateKey is required whenever the
// quote was created with a locking pubkey and must be nil otherwise:
// the mint rejects a quote without a locking pubkey if the request
// carries a signature.
func (w *Wallet) MintMiningShare(
	quoteId string,
	outputs cashu.BlindedMessages,
	secrets []string,
	rs []*secp256k1.PrivateKey,
	privateKey *secp256k1.PrivateKey,
) (cashu.Proofs, error) {
	req := nutxx.MintMiningShareRequest{Quote: quoteId}
	if privateKey != nil {
		sig, err := nut20.SignMintQuote(privateKey, quoteId, outputs)
		if err != nil {
			return nil, fmt.Errorf("nut20.SignMintQuote: %v", err)
		}
		req.Signature = hex.EncodeToString(sig.Serialize())
	}

	resp, err := PostMintMiningShare(w.MintURL, req)
	if err != nil {
		return nil, err
	}

	keyset := w.activeMiningShareKeyset()
	proofs, err := w.ConstructProofs(resp.Signatures, secrets, rs, &keyset)
	if err != nil {
		return nil, fmt.Errorf("wallet.ConstructProofs: %v", err)
	}
	if err := verifyConstructedProofsDLEQ(proofs, keyset); err != nil {
		return nil, err
	}

	if err := w.StoreProofs(proofs); err != nil {
		return nil, err
	}
	return proofs, nil
}

// MintMiningShareBatch redeems many paid mining-share quotes into one
// shared output set. Quotes with no locking pubkey carry a nil
// signature slot; every other quote in the batch needs a valid
// signature from its own quote's locking key.
func (w *Wallet) MintMiningShareBatch(
	quoteIds []string,
	outputs cashu.BlindedMessages,
	secretsPerQuote [][]string,
	rsPerQuote [][]*secp256k1.PrivateKey,
	privateKeys []*secp256k1.PrivateKey,
) (cashu.Proofs, error) {
	if len(quoteIds) != len(privateKeys) {
		return nil, errors.New("quoteIds and privateKeys must have the same length")
	}

	signatures := make([]*string, len(quoteIds))
	for i, quoteId := range quoteIds {
		if privateKeys[i] == nil {
			continue
		}
		sig, err := nut20.SignMintQuotes(privateKeys[i], []string{quoteId}, outputs)
		if err != nil {
			return nil, fmt.Errorf("nut20.SignMintQuotes: %v", err)
		}
		hexSig := hex.EncodeToString(sig.Serialize())
		signatures[i] = &hexSig
	}

	batchReq := nutxx.BatchMintRequest{
		Quote:     quoteIds,
		Outputs:   outputs,
		Signature: signatures,
	}

	resp, err := PostBatchMint(w.MintURL, batchReq)
	if err != nil {
		return nil, err
	}

	var allSecrets []string
	var allRs []*secp256k1.PrivateKey
	for i := range secretsPerQuote {
		allSecrets = append(allSecrets, secretsPerQuote[i]...)
		allRs = append(allRs, rsPerQuote[i]...)
	}

	keyset := w.activeMiningShareKeyset()
	proofs, err := w.ConstructProofs(resp.Signatures, allSecrets, allRs, &keyset)
	if err != nil {
		return nil, fmt.Errorf("wallet.ConstructProofs: %v", err)
	}
	if err := verifyConstructedProofsDLEQ(proofs, keyset); err != nil {
		return nil, err
	}

	if err := w.StoreProofs(proofs); err != nil {
		return nil, err
	}
	return proofs, nil
}

// LookupMiningShareQuotes asks the mint for every mining-share quote
// locked to any of pubkeys, optionally narrowed to one state.
func (w *Wallet) LookupMiningShareQuotes(pubkeys []string, filter nutxx.StateFilter, state string) (*nutxx.LookupResponse, error) {
	req := nutxx.LookupRequest{Pubkeys: pubkeys, StateFilter: filter, State: state}
	return PostLookupMintQuotes(w.MintURL, req)
}

func (w *Wallet) activeMiningShareKeyset() crypto.WalletKeyset {
	var keyset crypto.WalletKeyset
	for _, ks := range w.ActiveKeysets {
		if ks.Unit == cashu.Hash.String() {
			keyset = ks
			break
		}
	}
	return keyset
}
