package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"
	"github.com/hashpool/gonuts/cashu"
	"github.com/hashpool/gonuts/cashu/nuts/nut04"
	"github.com/hashpool/gonuts/cashu/nuts/nut05"
	"github.com/hashpool/gonuts/cashu/nuts/nutxx"
	"github.com/hashpool/gonuts/crypto"
	"github.com/hashpool/gonuts/mint/storage"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrations embed.FS

type SQLiteDB struct {
	db *sql.DB
}

// create a temporary directory with the migration files.
// migration files are embedded with go:embed. These are then read
// and copied to a temporary directory.
// This is needed to pass the directory to migrate.New
func migrationsDir() (string, error) {
	tempDir, err := os.MkdirTemp("", "migrations")
	if err != nil {
		return "", err
	}

	migrationFiles, err := migrations.ReadDir("migrations")
	if err != nil {
		return "", err
	}

	for _, file := range migrationFiles {
		filePath := filepath.Join(tempDir, file.Name())

		migrationFilePath := filepath.Join("migrations", file.Name())
		migrationFile, err := migrations.Open(migrationFilePath)
		if err != nil {
			return "", err
		}
		defer migrationFile.Close()

		destFile, err := os.Create(filePath)
		if err != nil {
			return "", err
		}
		defer destFile.Close()

		_, err = io.Copy(destFile, migrationFile)
		if err != nil {
			return "", err
		}
	}

	return tempDir, nil
}

func InitSQLite(path string) (*SQLiteDB, error) {
	dbpath := filepath.Join(path, "mint.sqlite.db")
	db, err := sql.Open("sqlite3", dbpath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	tempMigrationsDir, err := migrationsDir()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tempMigrationsDir)

	m, err := migrate.New(fmt.Sprintf("file://%s", tempMigrationsDir), fmt.Sprintf("sqlite3://%s", dbpath))
	if err != nil {
		return nil, err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &SQLiteDB{db: db}, nil
}

func (sqlite *SQLiteDB) Close() error {
	return sqlite.db.Close()
}

func (sqlite *SQLiteDB) SaveSeed(seed []byte) error {
	hexSeed := hex.EncodeToString(seed)

	_, err := sqlite.db.Exec(`
	INSERT INTO seed (id, seed) VALUES (?, ?)
	`, "id", hexSeed)

	return err
}

func (sqlite *SQLiteDB) GetSeed() ([]byte, error) {
	var hexSeed string
	row := sqlite.db.QueryRow("SELECT seed FROM seed WHERE id = id")
	err := row.Scan(&hexSeed)
	if err != nil {
		return nil, err
	}

	seed, err := hex.DecodeString(hexSeed)
	if err != nil {
		return nil, err
	}

	return seed, nil
}

func (sqlite *SQLiteDB) SaveKeyset(keyset storage.DBKeyset) error {
	_, err := sqlite.db.Exec(`
		INSERT INTO keysets (id, unit, active, seed, derivation_path_idx, input_fee_ppk) VALUES (?, ?, ?, ?, ?, ?)
	`, keyset.Id, keyset.Unit, keyset.Active, keyset.Seed, keyset.DerivationPathIdx, keyset.InputFeePpk)

	return err
}

func (sqlite *SQLiteDB) GetKeysets() ([]storage.DBKeyset, error) {
	keysets := []storage.DBKeyset{}

	rows, err := sqlite.db.Query("SELECT * FROM keysets")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var keyset storage.DBKeyset
		err := rows.Scan(
			&keyset.Id,
			&keyset.Unit,
			&keyset.Active,
			&keyset.Seed,
			&keyset.DerivationPathIdx,
			&keyset.InputFeePpk,
		)
		if err != nil {
			return nil, err
		}
		keysets = append(keysets, keyset)
	}

	return keysets, nil
}

func (sqlite *SQLiteDB) UpdateKeysetActive(id string, active bool) error {
	result, err := sqlite.db.Exec("UPDATE keysets SET active = ? WHERE id = ?", active, id)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return errors.New("keyset was not updated")
	}
	return nil
}

func (sqlite *SQLiteDB) SaveProofs(proofs cashu.Proofs) error {
	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT INTO proofs (y, amount, keyset_id, secret, c, witness) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, proof := range proofs {
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			return err
		}
		Yhex := hex.EncodeToString(Y.SerializeCompressed())

		if _, err := stmt.Exec(Yhex, proof.Amount, proof.Id, proof.Secret, proof.C, proof.Witness); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	return nil
}

func (sqlite *SQLiteDB) GetProofsUsed(Ys []string) ([]storage.DBProof, error) {
	proofs := []storage.DBProof{}
	query := `SELECT * FROM proofs WHERE y in (?` + strings.Repeat(",?", len(Ys)-1) + `)`

	args := make([]any, len(Ys))
	for i, y := range Ys {
		args[i] = y
	}

	rows, err := sqlite.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var proof storage.DBProof
		var witness sql.NullString

		err := rows.Scan(
			&proof.Y,
			&proof.Amount,
			&proof.Id,
			&proof.Secret,
			&proof.C,
			&witness,
		)
		if err != nil {
			return nil, err
		}
		if witness.Valid {
			proof.Witness = witness.String
		}

		proofs = append(proofs, proof)
	}

	return proofs, nil
}

func (sqlite *SQLiteDB) AddPendingProofs(proofs cashu.Proofs, quoteId string) error {
	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT INTO pending_proofs (y, amount, keyset_id, secret, c, witness, melt_quote_id) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, proof := range proofs {
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			return err
		}
		Yhex := hex.EncodeToString(Y.SerializeCompressed())

		if _, err := stmt.Exec(Yhex, proof.Amount, proof.Id, proof.Secret, proof.C, proof.Witness, quoteId); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	return nil
}

func (sqlite *SQLiteDB) GetPendingProofs(Ys []string) ([]storage.DBProof, error) {
	proofs := []storage.DBProof{}
	query := `SELECT * FROM pending_proofs WHERE y in (?` + strings.Repeat(",?", len(Ys)-1) + `)`

	args := make([]any, len(Ys))
	for i, y := range Ys {
		args[i] = y
	}

	rows, err := sqlite.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var proof storage.DBProof
		var witness sql.NullString

		err := rows.Scan(
			&proof.Y,
			&proof.Amount,
			&proof.Id,
			&proof.Secret,
			&proof.C,
			&proof.MeltQuoteId,
			&witness,
		)
		if err != nil {
			return nil, err
		}

		if witness.Valid {
			proof.Witness = witness.String
		}

		proofs = append(proofs, proof)
	}

	return proofs, nil
}

func (sqlite *SQLiteDB) GetPendingProofsByQuote(quoteId string) ([]storage.DBProof, error) {
	proofs := []storage.DBProof{}
	query := `SELECT y, amount, keyset_id, secret, c, witness FROM pending_proofs WHERE melt_quote_id = ?`

	rows, err := sqlite.db.Query(query, quoteId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var proof storage.DBProof
		var witness sql.NullString

		err := rows.Scan(
			&proof.Y,
			&proof.Amount,
			&proof.Id,
			&proof.Secret,
			&proof.C,
			&witness,
		)
		if err != nil {
			return nil, err
		}

		if witness.Valid {
			proof.Witness = witness.String
		}

		proofs = append(proofs, proof)
	}

	return proofs, nil
}

func (sqlite *SQLiteDB) RemovePendingProofs(Ys []string) error {
	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("DELETE FROM pending_proofs WHERE y = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, y := range Ys {
		if _, err := stmt.Exec(y); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	return nil
}

func (sqlite *SQLiteDB) SaveMintQuote(mintQuote storage.MintQuote) error {
	var pubkey string
	if mintQuote.Pubkey != nil {
		pubkey = hex.EncodeToString(mintQuote.Pubkey.SerializeCompressed())
	}

	_, err := sqlite.db.Exec(
		`INSERT INTO mint_quotes
		(id, method, unit, payment_request, payment_hash, amount, state, expiry, pubkey, keyset_id, amount_paid, amount_issued)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mintQuote.Id.String(),
		mintQuote.Method.String(),
		mintQuote.Unit.String(),
		mintQuote.PaymentRequest,
		mintQuote.PaymentHash,
		mintQuote.Amount,
		mintQuote.State.String(),
		mintQuote.Expiry,
		pubkey,
		mintQuote.KeysetId,
		mintQuote.AmountPaid,
		mintQuote.AmountIssued,
	)
	if err != nil {
		return err
	}

	if mintQuote.Pubkey != nil {
		if _, err := sqlite.db.Exec(
			`INSERT OR IGNORE INTO pubkey_index (pubkey, quote_id) VALUES (?, ?)`,
			pubkey, mintQuote.Id.String(),
		); err != nil {
			return err
		}
	}

	return nil
}

func scanMintQuote(row *sql.Row) (storage.MintQuote, error) {
	var mintQuote storage.MintQuote
	var id, method, unit, state string
	var pubkey sql.NullString

	err := row.Scan(
		&id,
		&method,
		&unit,
		&mintQuote.PaymentRequest,
		&mintQuote.PaymentHash,
		&mintQuote.Amount,
		&state,
		&mintQuote.Expiry,
		&pubkey,
		&mintQuote.KeysetId,
		&mintQuote.AmountPaid,
		&mintQuote.AmountIssued,
	)
	if err != nil {
		return storage.MintQuote{}, err
	}
	quoteId, err := uuid.Parse(id)
	if err != nil {
		return storage.MintQuote{}, fmt.Errorf("invalid quote id in db: %v", err)
	}
	mintQuote.Id = quoteId
	mintQuote.State = nut04.StringToState(state)

	paymentMethod, err := cashu.ParsePaymentMethod(method)
	if err != nil {
		return storage.MintQuote{}, fmt.Errorf("invalid payment method in db: %v", err)
	}
	mintQuote.Method = paymentMethod

	currencyUnit, err := cashu.ParseCurrencyUnit(unit)
	if err != nil {
		return storage.MintQuote{}, fmt.Errorf("invalid currency unit in db: %v", err)
	}
	mintQuote.Unit = currencyUnit

	if pubkey.Valid && len(pubkey.String) > 0 {
		// these should not error because validation is done before saving with public key
		// if there is an error, something bad happened
		hexPubkey, err := hex.DecodeString(pubkey.String)
		if err != nil {
			return storage.MintQuote{}, fmt.Errorf("invalid public key in db: %v", err)
		}

		publicKey, err := secp256k1.ParsePubKey(hexPubkey)
		if err != nil {
			return storage.MintQuote{}, fmt.Errorf("invalid public key in db: %v", err)
		}
		mintQuote.Pubkey = publicKey
	}

	return mintQuote, nil
}

func (sqlite *SQLiteDB) GetMintQuote(quoteId string) (storage.MintQuote, error) {
	row := sqlite.db.QueryRow(
		`SELECT id, method, unit, payment_request, payment_hash, amount, state, expiry, pubkey, keyset_id, amount_paid, amount_issued
		FROM mint_quotes WHERE id = ?`, quoteId)
	return scanMintQuote(row)
}

func (sqlite *SQLiteDB) GetMintQuoteByPaymentHash(paymentHash string) (storage.MintQuote, error) {
	row := sqlite.db.QueryRow(
		`SELECT id, method, unit, payment_request, payment_hash, amount, state, expiry, pubkey, keyset_id, amount_paid, amount_issued
		FROM mint_quotes WHERE payment_hash = ?`, paymentHash)
	return scanMintQuote(row)
}

func (sqlite *SQLiteDB) UpdateMintQuoteState(quoteId string, state nut04.State) error {
	updatedState := state.String()
	result, err := sqlite.db.Exec("UPDATE mint_quotes SET state = ? WHERE id = ?", updatedState, quoteId)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return errors.New("mint quote was not updated")
	}
	return nil
}

func (sqlite *SQLiteDB) SaveMeltQuote(meltQuote storage.MeltQuote) error {
	_, err := sqlite.db.Exec(`
		INSERT INTO melt_quotes 
		(id, request, payment_hash, amount, fee_reserve, state, expiry, preimage, is_mpp, amount_msat) 
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meltQuote.Id,
		meltQuote.InvoiceRequest,
		meltQuote.PaymentHash,
		meltQuote.Amount,
		meltQuote.FeeReserve,
		meltQuote.State.String(),
		meltQuote.Expiry,
		meltQuote.Preimage,
		meltQuote.IsMpp,
		meltQuote.AmountMsat,
	)

	return err
}

func (sqlite *SQLiteDB) GetMeltQuote(quoteId string) (storage.MeltQuote, error) {
	row := sqlite.db.QueryRow("SELECT * FROM melt_quotes WHERE id = ?", quoteId)

	var meltQuote storage.MeltQuote
	var state string
	var isMpp sql.NullBool
	var amountMsat sql.NullInt64

	err := row.Scan(
		&meltQuote.Id,
		&meltQuote.InvoiceRequest,
		&meltQuote.PaymentHash,
		&meltQuote.Amount,
		&meltQuote.FeeReserve,
		&state,
		&meltQuote.Expiry,
		&meltQuote.Preimage,
		&isMpp,
		&amountMsat,
	)
	if err != nil {
		return storage.MeltQuote{}, err
	}
	meltQuote.State = nut05.StringToState(state)
	if isMpp.Valid {
		meltQuote.IsMpp = isMpp.Bool
	}
	if amountMsat.Valid {
		meltQuote.AmountMsat = uint64(amountMsat.Int64)
	}

	return meltQuote, nil
}

func (sqlite *SQLiteDB) GetMeltQuoteByPaymentRequest(invoice string) (*storage.MeltQuote, error) {
	row := sqlite.db.QueryRow("SELECT * FROM melt_quotes WHERE request = ?", invoice)

	var meltQuote storage.MeltQuote
	var state string
	var isMpp sql.NullBool
	var amountMsat sql.NullInt64

	err := row.Scan(
		&meltQuote.Id,
		&meltQuote.InvoiceRequest,
		&meltQuote.PaymentHash,
		&meltQuote.Amount,
		&meltQuote.FeeReserve,
		&state,
		&meltQuote.Expiry,
		&meltQuote.Preimage,
		&isMpp,
		&amountMsat,
	)
	if err != nil {
		return nil, err
	}
	meltQuote.State = nut05.StringToState(state)
	if isMpp.Valid {
		meltQuote.IsMpp = isMpp.Bool
	}
	if amountMsat.Valid {
		meltQuote.AmountMsat = uint64(amountMsat.Int64)
	}

	return &meltQuote, nil
}

func (sqlite *SQLiteDB) UpdateMeltQuote(quoteId, preimage string, state nut05.State) error {
	updatedState := state.String()
	result, err := sqlite.db.Exec(
		"UPDATE melt_quotes SET state = ?, preimage = ? WHERE id = ?",
		updatedState, preimage, quoteId,
	)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return errors.New("melt quote was not updated")
	}
	return nil
}

func (sqlite *SQLiteDB) SaveBlindSignatures(B_s []string, blindSignatures cashu.BlindedSignatures) error {
	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT INTO blind_signatures (b_, c_, keyset_id, amount, e, s) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, sig := range blindSignatures {
		if _, err := stmt.Exec(B_s[i], sig.C_, sig.Id, sig.Amount, sig.DLEQ.E, sig.DLEQ.S); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	return nil
}

func (sqlite *SQLiteDB) GetBlindSignature(B_ string) (cashu.BlindedSignature, error) {
	row := sqlite.db.QueryRow("SELECT amount, c_, keyset_id, e, s FROM blind_signatures WHERE b_ = ?", B_)

	var signature cashu.BlindedSignature
	var e sql.NullString
	var s sql.NullString

	err := row.Scan(
		&signature.Amount,
		&signature.C_,
		&signature.Id,
		&e,
		&s,
	)
	if err != nil {
		return cashu.BlindedSignature{}, err
	}

	if !e.Valid || !s.Valid {
		signature.DLEQ = nil
	} else {
		signature.DLEQ = &cashu.DLEQProof{
			E: e.String,
			S: s.String,
		}
	}

	return signature, nil
}

func (sqlite *SQLiteDB) GetBlindSignatures(B_s []string) (cashu.BlindedSignatures, error) {
	signatures := cashu.BlindedSignatures{}
	query := `SELECT amount, c_, keyset_id, e, s FROM blind_signatures WHERE b_ in (?` + strings.Repeat(",?", len(B_s)-1) + `)`

	args := make([]any, len(B_s))
	for i, B_ := range B_s {
		args[i] = B_
	}

	rows, err := sqlite.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var signature cashu.BlindedSignature
		var e sql.NullString
		var s sql.NullString

		err := rows.Scan(
			&signature.Amount,
			&signature.C_,
			&signature.Id,
			&e,
			&s,
		)
		if err != nil {
			return nil, err
		}

		if !e.Valid || !s.Valid {
			signature.DLEQ = nil
		} else {
			signature.DLEQ = &cashu.DLEQProof{
				E: e.String,
				S: s.String,
			}
		}

		signatures = append(signatures, signature)
	}

	return signatures, nil
}

func (sqlite *SQLiteDB) GetIssuedEcash() (map[string]uint64, error) {
	ecashIssued := make(map[string]uint64)

	rows, err := sqlite.db.Query("SELECT * FROM total_issued")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var keysetId string
		var amount uint64
		if err := rows.Scan(&keysetId, &amount); err != nil {
			return nil, err
		}
		ecashIssued[keysetId] = amount
	}

	return ecashIssued, nil
}

func (sqlite *SQLiteDB) GetRedeemedEcash() (map[string]uint64, error) {
	ecashRedeemed := make(map[string]uint64)

	rows, err := sqlite.db.Query("SELECT * FROM total_redeemed")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var keysetId string
		var amount uint64
		if err := rows.Scan(&keysetId, &amount); err != nil {
			return nil, err
		}
		ecashRedeemed[keysetId] = amount
	}

	return ecashRedeemed, nil
}

func (sqlite *SQLiteDB) LookupMintQuotesByPubkeys(pubkeys []string, filter nutxx.StateFilter, specific nut04.State) ([]storage.LookupItem, error) {
	if len(pubkeys) == 0 {
		return []storage.LookupItem{}, nil
	}

	query := `SELECT mq.pubkey, mq.id, mq.method, mq.amount, mq.keyset_id, mq.state
		FROM mint_quotes mq
		JOIN pubkey_index pi ON pi.quote_id = mq.id
		WHERE pi.pubkey IN (?` + strings.Repeat(",?", len(pubkeys)-1) + `)`

	args := make([]any, len(pubkeys))
	for i, pk := range pubkeys {
		args[i] = pk
	}

	rows, err := sqlite.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []storage.LookupItem{}
	for rows.Next() {
		var item storage.LookupItem
		var state string
		if err := rows.Scan(&item.Pubkey, &item.QuoteId, &item.Method, &item.Amount, &item.KeysetId, &state); err != nil {
			return nil, err
		}
		item.State = nut04.StringToState(state)

		if !sqliteStateMatches(item.State, filter, specific) {
			continue
		}
		items = append(items, item)
	}

	return items, nil
}

func sqliteStateMatches(state nut04.State, filter nutxx.StateFilter, specific nut04.State) bool {
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

// BeginTx opens the QuoteStore transaction used by MintIssuer and
// BatchIssuer. The underlying connection pool is capped at one
// connection (see InitSQLite), so a *sql.Tx here already gives the
// same single-writer linearizability the in-memory store gets from
// its mutex.
func (sqlite *SQLiteDB) BeginTx(ctx context.Context) (storage.Tx, error) {
	dbTx, err := sqlite.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: dbTx}, nil
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

func (t *sqlTx) AddMintQuote(q storage.MintQuote) error {
	var pubkey string
	if q.Pubkey != nil {
		pubkey = hex.EncodeToString(q.Pubkey.SerializeCompressed())
	}

	_, err := t.tx.Exec(
		`INSERT INTO mint_quotes
		(id, method, unit, payment_request, payment_hash, amount, state, expiry, pubkey, keyset_id, amount_paid, amount_issued)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.Id.String(), q.Method.String(), q.Unit.String(), q.PaymentRequest, q.PaymentHash,
		q.Amount, q.State.String(), q.Expiry, pubkey, q.KeysetId, q.AmountPaid, q.AmountIssued,
	)
	if err != nil {
		return err
	}

	if q.Pubkey != nil {
		if _, err := t.tx.Exec(`INSERT OR IGNORE INTO pubkey_index (pubkey, quote_id) VALUES (?, ?)`, pubkey, q.Id.String()); err != nil {
			return err
		}
	}

	return nil
}

func (t *sqlTx) GetMintQuote(id string) (storage.MintQuote, error) {
	row := t.tx.QueryRow(
		`SELECT id, method, unit, payment_request, payment_hash, amount, state, expiry, pubkey, keyset_id, amount_paid, amount_issued
		FROM mint_quotes WHERE id = ?`, id)

	var q storage.MintQuote
	var quoteId, method, unit, state string
	var pubkey sql.NullString
	if err := row.Scan(&quoteId, &method, &unit, &q.PaymentRequest, &q.PaymentHash, &q.Amount,
		&state, &q.Expiry, &pubkey, &q.KeysetId, &q.AmountPaid, &q.AmountIssued); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MintQuote{}, cashu.UnknownQuoteErr
		}
		return storage.MintQuote{}, err
	}
	parsedId, err := uuid.Parse(quoteId)
	if err != nil {
		return storage.MintQuote{}, fmt.Errorf("invalid quote id in db: %v", err)
	}
	q.Id = parsedId
	q.State = nut04.StringToState(state)

	paymentMethod, err := cashu.ParsePaymentMethod(method)
	if err != nil {
		return storage.MintQuote{}, fmt.Errorf("invalid payment method in db: %v", err)
	}
	q.Method = paymentMethod

	currencyUnit, err := cashu.ParseCurrencyUnit(unit)
	if err != nil {
		return storage.MintQuote{}, fmt.Errorf("invalid currency unit in db: %v", err)
	}
	q.Unit = currencyUnit

	if pubkey.Valid && len(pubkey.String) > 0 {
		hexPubkey, err := hex.DecodeString(pubkey.String)
		if err != nil {
			return storage.MintQuote{}, fmt.Errorf("invalid public key in db: %v", err)
		}
		publicKey, err := secp256k1.ParsePubKey(hexPubkey)
		if err != nil {
			return storage.MintQuote{}, fmt.Errorf("invalid public key in db: %v", err)
		}
		q.Pubkey = publicKey
	}

	return q, nil
}

func (t *sqlTx) UpdateMintQuoteState(id string, state nut04.State, amountPaid, amountIssued uint64) error {
	result, err := t.tx.Exec(
		`UPDATE mint_quotes SET state = ?, amount_paid = ?, amount_issued = ? WHERE id = ?`,
		state.String(), amountPaid, amountIssued, id,
	)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return cashu.UnknownQuoteErr
	}
	return nil
}

func (t *sqlTx) RemoveMintQuote(id string) error {
	if _, err := t.tx.Exec(`DELETE FROM pubkey_index WHERE quote_id = ?`, id); err != nil {
		return err
	}
	_, err := t.tx.Exec(`DELETE FROM mint_quotes WHERE id = ?`, id)
	return err
}

func (t *sqlTx) AddPreMintSecrets(quoteId string, secrets []storage.PreMintSecretsRow) error {
	stmt, err := t.tx.Prepare(`INSERT INTO premint_secrets (quote_id, keyset_id, amount, secret, r, b_) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range secrets {
		if _, err := stmt.Exec(quoteId, row.KeysetId, row.Amount, row.Secret, row.R, row.B_); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqlTx) GetPreMintSecrets(quoteId string) ([]storage.PreMintSecretsRow, error) {
	rows, err := t.tx.Query(`SELECT quote_id, keyset_id, amount, secret, r, b_ FROM premint_secrets WHERE quote_id = ?`, quoteId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []storage.PreMintSecretsRow{}
	for rows.Next() {
		var row storage.PreMintSecretsRow
		if err := rows.Scan(&row.QuoteId, &row.KeysetId, &row.Amount, &row.Secret, &row.R, &row.B_); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func (t *sqlTx) RemovePreMintSecrets(quoteId string) error {
	_, err := t.tx.Exec(`DELETE FROM premint_secrets WHERE quote_id = ?`, quoteId)
	return err
}

func (t *sqlTx) IncrementKeysetCounter(keysetId string, n uint32) (uint32, error) {
	if _, err := t.tx.Exec(`INSERT OR IGNORE INTO keyset_counters (keyset_id, counter) VALUES (?, 0)`, keysetId); err != nil {
		return 0, err
	}

	var start uint32
	row := t.tx.QueryRow(`SELECT counter FROM keyset_counters WHERE keyset_id = ?`, keysetId)
	if err := row.Scan(&start); err != nil {
		return 0, err
	}

	if _, err := t.tx.Exec(`UPDATE keyset_counters SET counter = ? WHERE keyset_id = ?`, start+n, keysetId); err != nil {
		return 0, err
	}

	return start, nil
}

func (t *sqlTx) SetQuoteTTL(quoteId string, expiry int64) error {
	_, err := t.tx.Exec(`INSERT INTO quote_ttls (quote_id, expiry) VALUES (?, ?)
		ON CONFLICT (quote_id) DO UPDATE SET expiry = excluded.expiry`, quoteId, expiry)
	return err
}

func (t *sqlTx) GetQuoteTTL(quoteId string) (int64, error) {
	var expiry int64
	row := t.tx.QueryRow(`SELECT expiry FROM quote_ttls WHERE quote_id = ?`, quoteId)
	if err := row.Scan(&expiry); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return expiry, nil
}
