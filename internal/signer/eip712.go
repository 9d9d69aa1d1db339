// Package signer implements EIP-712 domain hashing and secp256k1
// signing for the venues that require on-chain-verifiable order
// signatures (V1 and V4), plus the process-wide monotonic nonce
// sequencer every signed order draws from.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Domain is the EIP-712 domain a venue's exchange contract verifies
// against.
type Domain struct {
	Name             string
	Version          string
	ChainID          int64
	VerifyingContract string
}

// OrderFields is the canonical field set hashed into the Order struct
// hash. Every CTF-Exchange-style venue (V1 and V4) shares this layout;
// V4's per-order EIP-712 simply supplies a different Domain per call.
type OrderFields struct {
	Salt          string
	Maker         string
	Signer        string
	Taker         string
	TokenID       string
	MakerAmount   string
	TakerAmount   string
	Expiration    string
	Nonce         string
	FeeRateBps    string
	Side          int // 0 = BUY, 1 = SELL
	SignatureType int
}

const orderTypeString = "Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"

// SignOrder produces the packed r||s||v hex signature for an order
// under the given domain, using privateKeyHex (with or without the 0x
// prefix).
func SignOrder(domain Domain, order OrderFields, privateKeyHex string) (string, error) {
	pk, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}

	domainSeparator := buildDomainSeparator(domain)
	orderHash := buildOrderStructHash(order)

	var data []byte
	data = append(data, []byte("\x19\x01")...)
	data = append(data, domainSeparator[:]...)
	data = append(data, orderHash[:]...)

	finalHash := crypto.Keccak256(data)

	sig, err := crypto.Sign(finalHash, pk)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	// Ethereum uses v = 27/28; crypto.Sign returns 0/1.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return hexutil.Encode(sig), nil
}

// AddressFromPrivateKey derives the signer's checksummed address.
func AddressFromPrivateKey(privateKeyHex string) (string, error) {
	pk, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(pk.PublicKey).Hex(), nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if len(hexKey) > 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	return crypto.HexToECDSA(hexKey)
}

func buildDomainSeparator(d Domain) [32]byte {
	domainTypeHash := crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

	nameHash := crypto.Keccak256([]byte(d.Name))
	versionHash := crypto.Keccak256([]byte(d.Version))

	chainIDBytes := common.LeftPadBytes(big.NewInt(d.ChainID).Bytes(), 32)
	contractPadded := common.LeftPadBytes(common.HexToAddress(d.VerifyingContract).Bytes(), 32)

	var data []byte
	data = append(data, domainTypeHash...)
	data = append(data, nameHash...)
	data = append(data, versionHash...)
	data = append(data, chainIDBytes...)
	data = append(data, contractPadded...)

	return [32]byte(crypto.Keccak256(data))
}

func buildOrderStructHash(o OrderFields) [32]byte {
	orderTypeHash := crypto.Keccak256([]byte(orderTypeString))

	salt := padUint256(o.Salt)
	maker := common.LeftPadBytes(common.HexToAddress(o.Maker).Bytes(), 32)
	signerAddr := common.LeftPadBytes(common.HexToAddress(o.Signer).Bytes(), 32)
	taker := common.LeftPadBytes(common.HexToAddress(o.Taker).Bytes(), 32)
	tokenID := padUint256(o.TokenID)
	makerAmount := padUint256(o.MakerAmount)
	takerAmount := padUint256(o.TakerAmount)
	expiration := padUint256(o.Expiration)
	nonce := padUint256(o.Nonce)
	feeRateBps := padUint256(o.FeeRateBps)
	sidePadded := common.LeftPadBytes([]byte{byte(o.Side)}, 32)
	sigTypePadded := common.LeftPadBytes([]byte{byte(o.SignatureType)}, 32)

	var data []byte
	data = append(data, orderTypeHash...)
	data = append(data, salt...)
	data = append(data, maker...)
	data = append(data, signerAddr...)
	data = append(data, taker...)
	data = append(data, tokenID...)
	data = append(data, makerAmount...)
	data = append(data, takerAmount...)
	data = append(data, expiration...)
	data = append(data, nonce...)
	data = append(data, feeRateBps...)
	data = append(data, sidePadded...)
	data = append(data, sigTypePadded...)

	return [32]byte(crypto.Keccak256(data))
}

func padUint256(s string) []byte {
	n := new(big.Int)
	n.SetString(s, 10)
	return common.LeftPadBytes(n.Bytes(), 32)
}
