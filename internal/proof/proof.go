package proof

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"Orion/internal/protocol"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Artifact accompanies every proof-gated orchestrator transition.
// PublicInputs commits to (epoch, phase, keccak256(ComputedState)).
type Artifact struct {
	PublicInputs  []byte `json:"public_inputs"`
	Proof         []byte `json:"proof"`
	ComputedState []byte `json:"computed_state"`
}

// Verifier accepts or rejects a proof for the given public inputs.
type Verifier interface {
	Verify(ctx context.Context, publicInputs, proof []byte) (bool, error)
}

var commitmentArgs = mustArguments("uint256", "uint8", "bytes32")

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, ts := range types {
		t, err := abi.NewType(ts, "", nil)
		if err != nil {
			panic(fmt.Sprintf("FATAL: abi type %s: %v", ts, err))
		}
		args[i] = abi.Argument{Type: t}
	}
	return args
}

// Commit ABI-encodes the public inputs for a transition.
func Commit(epoch uint64, phase uint8, computedState []byte) ([]byte, error) {
	var digest [32]byte
	copy(digest[:], crypto.Keccak256(computedState))
	return commitmentArgs.Pack(new(big.Int).SetUint64(epoch), phase, digest)
}

// Check verifies that a's public inputs commit to the expected epoch,
// phase and computed state, then asks v to verify the proof. Every
// failure is reported as ErrInvalidProof.
func Check(ctx context.Context, v Verifier, a Artifact, epoch uint64, phase uint8) error {
	if len(a.Proof) == 0 {
		return fmt.Errorf("empty proof: %w", protocol.ErrInvalidProof)
	}
	want, err := Commit(epoch, phase, a.ComputedState)
	if err != nil {
		return fmt.Errorf("commit: %v: %w", err, protocol.ErrInvalidProof)
	}
	if !bytes.Equal(want, a.PublicInputs) {
		return fmt.Errorf("public inputs do not commit to epoch %d phase %d: %w", epoch, phase, protocol.ErrInvalidProof)
	}
	ok, err := v.Verify(ctx, a.PublicInputs, a.Proof)
	if err != nil {
		return fmt.Errorf("verifier: %v: %w", err, protocol.ErrInvalidProof)
	}
	if !ok {
		return protocol.ErrInvalidProof
	}
	return nil
}

// AttestationVerifier accepts a secp256k1 signature over
// keccak256(publicInputs) made by a single trusted attester.
type AttestationVerifier struct {
	attester common.Address
}

func NewAttestationVerifier(attester common.Address) *AttestationVerifier {
	return &AttestationVerifier{attester: attester}
}

func (v *AttestationVerifier) Verify(_ context.Context, publicInputs, proof []byte) (bool, error) {
	if len(proof) != crypto.SignatureLength {
		return false, nil
	}
	pub, err := crypto.SigToPub(crypto.Keccak256(publicInputs), proof)
	if err != nil {
		return false, nil
	}
	return crypto.PubkeyToAddress(*pub) == v.attester, nil
}

// Attester produces artifacts the AttestationVerifier accepts.
type Attester struct {
	key *ecdsa.PrivateKey
}

// NewAttester parses a hex-encoded secp256k1 private key.
func NewAttester(hexKey string) (*Attester, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("attester key: %w", err)
	}
	return &Attester{key: key}, nil
}

// GenerateAttester creates an attester with a fresh key.
func GenerateAttester() (*Attester, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &Attester{key: key}, nil
}

func (a *Attester) Address() common.Address {
	return crypto.PubkeyToAddress(a.key.PublicKey)
}

// Attest commits to computedState for (epoch, phase) and signs it.
func (a *Attester) Attest(epoch uint64, phase uint8, computedState []byte) (Artifact, error) {
	inputs, err := Commit(epoch, phase, computedState)
	if err != nil {
		return Artifact{}, err
	}
	sig, err := crypto.Sign(crypto.Keccak256(inputs), a.key)
	if err != nil {
		return Artifact{}, fmt.Errorf("sign: %w", err)
	}
	return Artifact{PublicInputs: inputs, Proof: sig, ComputedState: computedState}, nil
}
