package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/hashpool/gonuts/cashu"
	"github.com/hashpool/gonuts/crypto"
)

// GetMintActiveKeyset gets the active keyset with the specified unit
func GetMintActiveKeyset(mintURL string, unit cashu.CurrencyUnit) (*crypto.WalletKeyset, error) {
	keysets, err := GetAllKeysets(mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting active keysets from mint: %v", err)
	}

	for _, keyset := range keysets.Keysets {
		if keyset.Active && keyset.Unit == unit.String() {
			_, err := hex.DecodeString(keyset.Id)
			if err == nil {
				keys, err := GetKeysetKeys(mintURL, keyset.Id)
				if err != nil {
					return nil, err
				}
				return &crypto.WalletKeyset{
					Id:          keyset.Id,
					MintURL:     mintURL,
					Unit:        keyset.Unit,
					Active:      true,
					PublicKeys:  keys,
					InputFeePpk: keyset.InputFeePpk,
				}, nil
			}
		}
	}

	return nil, errors.New("could not find an active keyset for the unit")
}

func GetMintInactiveKeysets(mintURL string, unit cashu.CurrencyUnit) (map[string]crypto.WalletKeyset, error) {
	keysetsResponse, err := GetAllKeysets(mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting keysets from mint: %v", err)
	}

	inactiveKeysets := make(map[string]crypto.WalletKeyset)
	for _, keysetRes := range keysetsResponse.Keysets {
		_, err := hex.DecodeString(keysetRes.Id)
		if !keysetRes.Active && keysetRes.Unit == unit.String() && err == nil {
			keyset := crypto.WalletKeyset{
				Id:          keysetRes.Id,
				MintURL:     mintURL,
				Unit:        keysetRes.Unit,
				Active:      keysetRes.Active,
				InputFeePpk: keysetRes.InputFeePpk,
			}
			inactiveKeysets[keyset.Id] = keyset
		}
	}
	return inactiveKeysets, nil
}

func GetKeysetKeys(mintURL, id string) (map[uint64]*secp256k1.PublicKey, error) {
	keysetsResponse, err := GetKeysetById(mintURL, id)
	if err != nil {
		return nil, fmt.Errorf("error getting keyset from mint: %v", err)
	}

	var keys crypto.PublicKeys
	if len(keysetsResponse.Keysets) > 0 {
		keys = keysetsResponse.Keysets[0].Keys
	}
	derivedId := crypto.DeriveKeysetId(keys)
	if id != derivedId {
		return nil, fmt.Errorf("got invalid keyset: derived id '%v' but got '%v' from mint", derivedId, keysetsResponse.Keysets[0].Id)
	}

	return keys, nil
}

// refreshActiveKeyset checks whether the mint's active keyset for sat has
// changed since LoadWallet, inactivating the old one and adopting the new
// one if so.
func (w *Wallet) refreshActiveKeyset() (*crypto.WalletKeyset, error) {
	current := w.GetActiveSatKeyset()

	allKeysets, err := GetAllKeysets(w.MintURL)
	if err != nil {
		return nil, err
	}

	for _, keyset := range allKeysets.Keysets {
		if keyset.Active && keyset.Unit == cashu.Sat.String() && keyset.Id != current.Id {
			keys, err := GetKeysetKeys(w.MintURL, keyset.Id)
			if err != nil {
				return nil, err
			}
			newActive := crypto.WalletKeyset{
				Id:          keyset.Id,
				MintURL:     w.MintURL,
				Unit:        keyset.Unit,
				Active:      true,
				PublicKeys:  keys,
				InputFeePpk: keyset.InputFeePpk,
			}
			if err := w.db.SaveKeyset(&newActive); err != nil {
				return nil, err
			}

			current.Active = false
			if err := w.db.SaveKeyset(&current); err != nil {
				return nil, err
			}
			w.InactiveKeysets[current.Id] = current
			w.ActiveKeysets[newActive.Id] = newActive
			delete(w.ActiveKeysets, current.Id)
			return &newActive, nil
		}
	}

	return &current, nil
}
