// Package crypto implements the blind Diffie-Hellman key exchange (BDHKE)
// used by Cashu to issue and redeem blind signatures, along with the
// DLEQ proofs that let a holder verify a signature without trusting the
// signer.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// domainSeparator tags every HashToCurve input so points derived here can
// never collide with points derived by some other protocol hashing the
// same bytes onto secp256k1.
const domainSeparator = "Secp256k1_HashToCurve_Cashu_"

// HashToCurve deterministically maps secret onto a point on secp256k1 with
// unknown discrete log, per NUT-00.
func HashToCurve(secret []byte) (*secp256k1.PublicKey, error) {
	msgHash := sha256.Sum256(append([]byte(domainSeparator), secret...))

	for counter := uint32(0); counter < 1<<32-1; counter++ {
		h := sha256.New()
		h.Write(msgHash[:])
		h.Write([]byte{
			byte(counter), byte(counter >> 8), byte(counter >> 16), byte(counter >> 24),
		})
		candidate := append([]byte{0x02}, h.Sum(nil)...)
		if point, err := secp256k1.ParsePubKey(candidate); err == nil {
			return point, nil
		}
	}
	return nil, errors.New("crypto: could not find point on curve for secret")
}

// BlindMessage computes B_ = Y + rG for the given secret. If blindingFactor
// is nil, a random one is generated. It returns B_ and the blinding factor
// r used, so callers can persist r for later unblinding.
func BlindMessage(secret []byte, blindingFactor *secp256k1.PrivateKey) (*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {
	Y, err := HashToCurve(secret)
	if err != nil {
		return nil, nil, err
	}

	r := blindingFactor
	if r == nil {
		rBytes := make([]byte, 32)
		if _, err := rand.Read(rBytes); err != nil {
			return nil, nil, err
		}
		r = secp256k1.PrivKeyFromBytes(rBytes)
	}

	var yPoint, rPoint, blinded secp256k1.JacobianPoint
	Y.AsJacobian(&yPoint)
	r.PubKey().AsJacobian(&rPoint)
	secp256k1.AddNonConst(&yPoint, &rPoint, &blinded)
	blinded.ToAffine()

	return secp256k1.NewPublicKey(&blinded.X, &blinded.Y), r, nil
}

// SignBlindedMessage computes C_ = kB_ using the mint's amount-specific
// private key k.
func SignBlindedMessage(B_ *secp256k1.PublicKey, k *secp256k1.PrivateKey) *secp256k1.PublicKey {
	var bPoint, result secp256k1.JacobianPoint
	B_.AsJacobian(&bPoint)
	secp256k1.ScalarMultNonConst(&k.Key, &bPoint, &result)
	result.ToAffine()
	return secp256k1.NewPublicKey(&result.X, &result.Y)
}

// UnblindSignature computes C = C_ - rK, recovering the mint's signature
// on the original (unblinded) secret.
func UnblindSignature(C_ *secp256k1.PublicKey, r *secp256k1.PrivateKey, K *secp256k1.PublicKey) *secp256k1.PublicKey {
	var kPoint, rKPoint, cPoint, c_Point secp256k1.JacobianPoint
	K.AsJacobian(&kPoint)

	var rNeg secp256k1.ModNScalar
	rNeg.NegateVal(&r.Key)
	secp256k1.ScalarMultNonConst(&rNeg, &kPoint, &rKPoint)

	C_.AsJacobian(&c_Point)
	secp256k1.AddNonConst(&c_Point, &rKPoint, &cPoint)
	cPoint.ToAffine()

	return secp256k1.NewPublicKey(&cPoint.X, &cPoint.Y)
}

// Verify reports whether C == k*HashToCurve(secret), i.e. that C is a
// valid signature on secret under private key k.
func Verify(secret []byte, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) bool {
	Y, err := HashToCurve(secret)
	if err != nil {
		return false
	}

	var yPoint, result secp256k1.JacobianPoint
	Y.AsJacobian(&yPoint)
	secp256k1.ScalarMultNonConst(&k.Key, &yPoint, &result)
	result.ToAffine()

	return C.IsEqual(secp256k1.NewPublicKey(&result.X, &result.Y))
}

// dleqChallenge computes e = H(R1 || R2 || A || C_), the Fiat-Shamir
// challenge binding a DLEQ proof to the pair (A, C_) it attests to. Each
// point enters the hash as the hex string of its uncompressed encoding.
func dleqChallenge(R1, R2, A, C_ *secp256k1.PublicKey) *secp256k1.PrivateKey {
	h := sha256.New()
	h.Write([]byte(hex.EncodeToString(R1.SerializeUncompressed())))
	h.Write([]byte(hex.EncodeToString(R2.SerializeUncompressed())))
	h.Write([]byte(hex.EncodeToString(A.SerializeUncompressed())))
	h.Write([]byte(hex.EncodeToString(C_.SerializeUncompressed())))
	return secp256k1.PrivKeyFromBytes(h.Sum(nil))
}

// GenerateDLEQ produces a non-interactive proof that C_ = kB_ was computed
// using the same private key k whose public key is A, without revealing k.
// See NUT-12.
func GenerateDLEQ(k *secp256k1.PrivateKey, A, B_, C_ *secp256k1.PublicKey) (e, s *secp256k1.PrivateKey, err error) {
	pBytes := make([]byte, 32)
	if _, err := rand.Read(pBytes); err != nil {
		return nil, nil, err
	}
	p := secp256k1.PrivKeyFromBytes(pBytes)

	R1 := p.PubKey()

	var bPoint, r2Point secp256k1.JacobianPoint
	B_.AsJacobian(&bPoint)
	secp256k1.ScalarMultNonConst(&p.Key, &bPoint, &r2Point)
	r2Point.ToAffine()
	R2 := secp256k1.NewPublicKey(&r2Point.X, &r2Point.Y)

	e = dleqChallenge(R1, R2, A, C_)

	var s_ secp256k1.ModNScalar
	s_.Mul2(&e.Key, &k.Key).Add(&p.Key)
	sBytes := s_.Bytes()
	s = secp256k1.PrivKeyFromBytes(sBytes[:])

	return e, s, nil
}

// VerifyDLEQ checks a proof produced by GenerateDLEQ against the mint's
// amount-specific public key A and the blinded message/signature pair
// (B_, C_).
func VerifyDLEQ(e, s *secp256k1.PrivateKey, A, B_, C_ *secp256k1.PublicKey) bool {
	if e == nil || s == nil {
		return false
	}

	// R1 = sG - eA
	var aPoint, eaPoint, r1Point secp256k1.JacobianPoint
	A.AsJacobian(&aPoint)
	secp256k1.ScalarMultNonConst(&e.Key, &aPoint, &eaPoint)
	var eaNeg secp256k1.JacobianPoint
	negatePoint(&eaPoint, &eaNeg)
	s.PubKey().AsJacobian(&r1Point)
	var R1Point secp256k1.JacobianPoint
	secp256k1.AddNonConst(&r1Point, &eaNeg, &R1Point)
	R1Point.ToAffine()
	R1 := secp256k1.NewPublicKey(&R1Point.X, &R1Point.Y)

	// R2 = sB_ - eC_
	var bPoint, sbPoint secp256k1.JacobianPoint
	B_.AsJacobian(&bPoint)
	secp256k1.ScalarMultNonConst(&s.Key, &bPoint, &sbPoint)

	var c_Point, ecPoint, ecNeg secp256k1.JacobianPoint
	C_.AsJacobian(&c_Point)
	secp256k1.ScalarMultNonConst(&e.Key, &c_Point, &ecPoint)
	negatePoint(&ecPoint, &ecNeg)

	var R2Point secp256k1.JacobianPoint
	secp256k1.AddNonConst(&sbPoint, &ecNeg, &R2Point)
	R2Point.ToAffine()
	R2 := secp256k1.NewPublicKey(&R2Point.X, &R2Point.Y)

	expected := dleqChallenge(R1, R2, A, C_)
	return expected.Key.Equals(&e.Key)
}

func negatePoint(p *secp256k1.JacobianPoint, out *secp256k1.JacobianPoint) {
	out.X = p.X
	out.Y.Set(&p.Y).Negate(1)
	out.Y.Normalize()
	out.Z = p.Z
}
