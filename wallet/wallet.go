package wallet

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/hashpool/gonuts/cashu"
	"github.com/hashpool/gonuts/cashu/nuts/nut03"
	"github.com/hashpool/gonuts/cashu/nuts/nut04"
	"github.com/hashpool/gonuts/cashu/nuts/nut05"
	"github.com/hashpool/gonuts/cashu/nuts/nut12"
	"github.com/hashpool/gonuts/crypto"
	"github.com/hashpool/gonuts/wallet/storage"
)

type Wallet struct {
	db storage.WalletDB

	// current mint url
	MintURL string

	// active keysets from current mint
	ActiveKeysets map[string]crypto.WalletKeyset
	// list of inactive keysets (if any) from current mint
	InactiveKeysets map[string]crypto.WalletKeyset

	proofs           cashu.Proofs
	domainSeparation bool
}

func InitStorage(path string) (storage.WalletDB, error) {
	// bolt db atm
	return storage.InitBolt(path)
}

func LoadWallet(config Config) (*Wallet, error) {
	db, err := InitStorage(config.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("InitStorage: %v", err)
	}

	wallet := &Wallet{db: db}
	allKeysets := wallet.db.GetKeysets()
	mintURL, err := url.Parse(config.CurrentMintURL)
	if err != nil {
		return nil, fmt.Errorf("invalid mint url: %v", err)
	}
	wallet.MintURL = mintURL.String()

	activeKeysets, err := GetMintActiveKeysets(wallet.MintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting current keyset from mint: %v", err)
	}
	wallet.ActiveKeysets = activeKeysets

	for _, keyset := range activeKeysets {
		ks := keyset
		// save current keyset if new
		mintKeysets, ok := allKeysets[keyset.MintURL]
		if !ok {
			if err := db.SaveKeyset(&ks); err != nil {
				return nil, fmt.Errorf("error setting up wallet: %v", err)
			}
			continue
		}
		found := false
		for _, saved := range mintKeysets {
			if saved.Id == keyset.Id {
				found = true
				break
			}
		}
		if !found {
			if err := db.SaveKeyset(&ks); err != nil {
				return nil, fmt.Errorf("error setting up wallet: %v", err)
			}
		}
	}

	inactiveKeysets, err := GetCurrentMintInactiveKeysets(wallet.MintURL)
	if err != nil {
		return nil, fmt.Errorf("error setting up wallet: %v", err)
	}
	wallet.InactiveKeysets = inactiveKeysets
	wallet.proofs = wallet.db.GetProofs()
	wallet.domainSeparation = config.DomainSeparation

	return wallet, nil
}

func GetMintActiveKeysets(mintURL string) (map[string]crypto.WalletKeyset, error) {
	keysRes, err := GetActiveKeysets(mintURL)
	if err != nil {
		return nil, err
	}

	activeKeysets := make(map[string]crypto.WalletKeyset)
	for _, keyset := range keysRes.Keysets {
		pubkeys := make(map[uint64]*secp256k1.PublicKey, len(keyset.Keys))
		for amount, key := range keyset.Keys {
			pkbytes, err := hex.DecodeString(key)
			if err != nil {
				return nil, err
			}
			pubkey, err := secp256k1.ParsePubKey(pkbytes)
			if err != nil {
				return nil, err
			}
			pubkeys[amount] = pubkey
		}

		activeKeysets[keyset.Id] = crypto.WalletKeyset{
			Id:          keyset.Id,
			MintURL:     mintURL,
			Unit:        keyset.Unit,
			Active:      true,
			PublicKeys:  pubkeys,
			InputFeePpk: keyset.InputFeePpk,
		}
	}

	return activeKeysets, nil
}

func GetCurrentMintInactiveKeysets(mintURL string) (map[string]crypto.WalletKeyset, error) {
	keysetsRes, err := GetAllKeysets(mintURL)
	if err != nil {
		return nil, err
	}

	inactiveKeysets := make(map[string]crypto.WalletKeyset)
	for _, keyset := range keysetsRes.Keysets {
		if !keyset.Active {
			inactiveKeysets[keyset.Id] = crypto.WalletKeyset{
				Id:          keyset.Id,
				MintURL:     mintURL,
				Unit:        keyset.Unit,
				Active:      keyset.Active,
				InputFeePpk: keyset.InputFeePpk,
			}
		}
	}
	return inactiveKeysets, nil
}

func (w *Wallet) GetBalance() uint64 {
	var balance uint64 = 0
	for _, proof := range w.proofs {
		balance += proof.Amount
	}
	return balance
}

// Mnemonic returns the seed phrase this wallet was created from, so it
// can be backed up and used with Restore.
func (w *Wallet) Mnemonic() string {
	return w.db.GetMnemonic()
}

func (w *Wallet) RequestMint(amount uint64) (*nut04.PostMintQuoteBolt11Response, error) {
	mintRequest := nut04.PostMintQuoteBolt11Request{Amount: amount, Unit: cashu.Sat.String()}
	return PostMintQuoteBolt11(w.MintURL, mintRequest)
}

func (w *Wallet) CheckQuotePaid(quoteId string) bool {
	quote, err := GetMintQuoteState(w.MintURL, quoteId)
	if err != nil {
		return false
	}
	return quote.State == nut04.Paid
}

func (w *Wallet) MintTokens(quoteId string, blindedMessages cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	mintRequest := nut04.PostMintBolt11Request{Quote: quoteId, Outputs: blindedMessages}
	response, err := PostMintBolt11(w.MintURL, mintRequest)
	if err != nil {
		return nil, err
	}
	return response.Signatures, nil
}

func (w *Wallet) Send(amount uint64) (*cashu.Token, error) {
	proofsToSend, err := w.getProofsForAmount(amount)
	if err != nil {
		return nil, err
	}

	token := cashu.NewToken(proofsToSend, w.MintURL, cashu.Sat)
	return &token, nil
}

func (w *Wallet) Receive(token cashu.Token) error {
	var proofsToSwap cashu.Proofs
	for _, tokenProof := range token.Token {
		proofsToSwap = append(proofsToSwap, tokenProof.Proofs...)
	}

	activeSatKeyset := w.GetActiveSatKeyset()
	outputs, secrets, rs, err := w.CreateBlindedMessages(token.TotalAmount(), activeSatKeyset)
	if err != nil {
		return fmt.Errorf("CreateBlindedMessages: %v", err)
	}

	swapRequest := nut03.PostSwapRequest{Inputs: proofsToSwap, Outputs: outputs}
	swapResponse, err := PostSwap(w.MintURL, swapRequest)
	if err != nil {
		return err
	}

	proofs, err := w.ConstructProofs(swapResponse.Signatures, secrets, rs, &activeSatKeyset)
	if err != nil {
		return fmt.Errorf("wallet.ConstructProofs: %v", err)
	}
	if err := verifyConstructedProofsDLEQ(proofs, activeSatKeyset); err != nil {
		return err
	}

	return w.StoreProofs(proofs)
}

func (w *Wallet) Melt(meltRequest nut05.PostMeltQuoteBolt11Request) (*nut05.PostMeltBolt11Response, error) {
	meltQuote, err := PostMeltQuoteBolt11(w.MintURL, meltRequest)
	if err != nil {
		return nil, err
	}

	amountNeeded := meltQuote.Amount + meltQuote.FeeReserve
	proofs, err := w.getProofsForAmount(amountNeeded)
	if err != nil {
		return nil, err
	}

	meltBolt11Request := nut05.PostMeltBolt11Request{Quote: meltQuote.Quote, Inputs: proofs}
	meltResponse, err := PostMeltBolt11(w.MintURL, meltBolt11Request)
	if err != nil {
		return nil, err
	}

	// only delete proofs after invoice has been paid
	if meltResponse.Paid {
		for _, proof := range proofs {
			w.db.DeleteProof(proof.Secret)
		}
	}

	return meltResponse, nil
}

func (w *Wallet) getProofsForAmount(amount uint64) (cashu.Proofs, error) {
	balance := w.GetBalance()
	if balance < amount {
		return nil, errors.New("not enough funds")
	}

	// use proofs from inactive keysets first
	var activeKeysetProofs, inactiveKeysetProofs cashu.Proofs
	for _, proof := range w.proofs {
		if _, isInactive := w.InactiveKeysets[proof.Id]; isInactive {
			inactiveKeysetProofs = append(inactiveKeysetProofs, proof)
		} else {
			activeKeysetProofs = append(activeKeysetProofs, proof)
		}
	}

	var selectedProofs cashu.Proofs
	var currentProofsAmount uint64 = 0
	addKeysetProofs := func(proofs cashu.Proofs) {
		for currentProofsAmount < amount && len(proofs) > 0 {
			proof := proofs[0]
			proofs = proofs[1:]
			selectedProofs = append(selectedProofs, proof)
			currentProofsAmount += proof.Amount
		}
	}

	addKeysetProofs(inactiveKeysetProofs)
	addKeysetProofs(activeKeysetProofs)

	activeSatKeyset := w.GetActiveSatKeyset()
	// blinded messages for send amount
	send, secrets, rs, err := w.CreateBlindedMessages(amount, activeSatKeyset)
	if err != nil {
		return nil, err
	}

	// blinded messages for change amount
	change, changeSecrets, changeRs, err := w.CreateBlindedMessages(currentProofsAmount-amount, activeSatKeyset)
	if err != nil {
		return nil, err
	}

	blindedMessages := make(cashu.BlindedMessages, len(send))
	copy(blindedMessages, send)
	blindedMessages = append(blindedMessages, change...)
	secrets = append(secrets, changeSecrets...)
	rs = append(rs, changeRs...)
	cashu.SortBlindedMessages(blindedMessages, secrets, rs)

	swapRequest := nut03.PostSwapRequest{Inputs: selectedProofs, Outputs: blindedMessages}
	swapResponse, err := PostSwap(w.MintURL, swapRequest)
	if err != nil {
		return nil, err
	}

	for _, proof := range selectedProofs {
		w.db.DeleteProof(proof.Secret)
	}

	proofs, err := w.ConstructProofs(swapResponse.Signatures, secrets, rs, &activeSatKeyset)
	if err != nil {
		return nil, fmt.Errorf("wallet.ConstructProofs: %v", err)
	}

	var proofsToSend cashu.Proofs
	var remaining cashu.Proofs
	sendAmounts := make(map[uint64]int)
	for _, msg := range send {
		sendAmounts[msg.Amount]++
	}
	for _, proof := range proofs {
		if sendAmounts[proof.Amount] > 0 {
			proofsToSend = append(proofsToSend, proof)
			sendAmounts[proof.Amount]--
		} else {
			remaining = append(remaining, proof)
		}
	}

	// remaining proofs are change proofs to save to db
	if err := w.StoreProofs(remaining); err != nil {
		return nil, err
	}
	return proofsToSend, nil
}

// returns Blinded messages, secrets and list of blinding factors
func (w *Wallet) CreateBlindedMessages(amount uint64, keyset crypto.WalletKeyset) (cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {
	splitAmounts := cashu.AmountSplit(amount)
	splitLen := len(splitAmounts)

	blindedMessages := make(cashu.BlindedMessages, splitLen)
	secrets := make([]string, splitLen)
	rs := make([]*secp256k1.PrivateKey, splitLen)

	for i, amt := range splitAmounts {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return nil, nil, nil, err
		}
		secret := hex.EncodeToString(secretBytes)

		B_, r, err := crypto.BlindMessage([]byte(secret), nil)
		if err != nil {
			return nil, nil, nil, err
		}

		blindedMessages[i] = cashu.NewBlindedMessage(keyset.Id, amt, B_)
		secrets[i] = secret
		rs[i] = r
	}

	return blindedMessages, secrets, rs, nil
}

func (w *Wallet) ConstructProofs(blindedSignatures cashu.BlindedSignatures,
	secrets []string, rs []*secp256k1.PrivateKey, keyset *crypto.WalletKeyset) (cashu.Proofs, error) {

	if len(blindedSignatures) != len(secrets) || len(blindedSignatures) != len(rs) {
		return nil, errors.New("lengths do not match")
	}

	proofs := make(cashu.Proofs, len(blindedSignatures))
	for i, blindedSignature := range blindedSignatures {
		C_bytes, err := hex.DecodeString(blindedSignature.C_)
		if err != nil {
			return nil, err
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			return nil, err
		}

		K := keyset.PublicKeys[blindedSignature.Amount]
		C := crypto.UnblindSignature(C_, rs[i], K)
		Cstr := hex.EncodeToString(C.SerializeCompressed())

		var dleq *cashu.DLEQProof
		if blindedSignature.DLEQ != nil {
			dleq = &cashu.DLEQProof{
				E: blindedSignature.DLEQ.E,
				S: blindedSignature.DLEQ.S,
				R: hex.EncodeToString(rs[i].Serialize()),
			}
		}

		proofs[i] = cashu.Proof{
			Amount: blindedSignature.Amount,
			Secret: secrets[i],
			C:      Cstr,
			Id:     blindedSignature.Id,
			DLEQ:   dleq,
		}
	}

	return proofs, nil
}

// verifyConstructedProofsDLEQ checks the DLEQ proofs the mint attached to
// freshly unblinded proofs. A MissingProof result is not an error, since
// not every mint signs DLEQ proofs on blind signatures; Invalid is.
func verifyConstructedProofsDLEQ(proofs cashu.Proofs, keyset crypto.WalletKeyset) error {
	switch nut12.VerifyProofsDLEQ(proofs, keyset) {
	case nut12.Invalid:
		return errors.New("mint returned invalid DLEQ proof")
	default:
		return nil
	}
}

func (w *Wallet) GetActiveSatKeyset() crypto.WalletKeyset {
	var activeKeyset crypto.WalletKeyset
	for _, keyset := range w.ActiveKeysets {
		if keyset.Unit == cashu.Sat.String() {
			activeKeyset = keyset
			break
		}
	}
	return activeKeyset
}

func (w *Wallet) StoreProofs(proofs cashu.Proofs) error {
	if err := w.db.SaveProofs(proofs); err != nil {
		return err
	}
	w.proofs = append(w.proofs, proofs...)
	return nil
}

func (w *Wallet) SaveInvoice(quote storage.MintQuote) error {
	return w.db.SaveMintQuote(quote)
}

var ErrInvoiceNotFound = errors.New("invoice not found")

func (w *Wallet) GetInvoice(quoteId string) *storage.MintQuote {
	return w.db.GetMintQuoteById(quoteId)
}
