package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

const (
	polygonRPC     = "https://polygon-rpc.com"
	usdcDecimals   = 1_000_000
	usdcAddress    = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174" // USDC.e on Polygon
	polygonChainID = 137

	allowanceSelector = "0xdd62ed3e" // allowance(address,address)
	approveSelector   = "0x095ea7b3" // approve(address,uint256)
)

// USDCReader is the read-only ERC-20 RPC surface getUSDCAllowance and
// getPendingSettlements draw on, and the write path approveUSDC submits
// a signed tx through. It talks to Polygon with plain JSON-RPC POSTs,
// the same shape the venue adapters' on-chain balance lookup uses.
type USDCReader struct {
	rpcURL     string
	httpClient *http.Client
}

func NewUSDCReader() *USDCReader {
	return &USDCReader{rpcURL: polygonRPC, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

// GetAllowance reads allowance(owner, spender) in dollars (wei/1e6).
func (r *USDCReader) GetAllowance(ctx context.Context, owner, spender string) (decimal.Decimal, error) {
	data := allowanceSelector + padAddress(owner) + padAddress(spender)
	result, err := r.ethCall(ctx, usdcAddress, data)
	if err != nil {
		return decimal.Zero, err
	}
	return hexToUSDC(result), nil
}

// ApproveUSDC signs and submits an approve(spender, amount) tx from the
// wallet behind privateKeyHex. amount is in dollars; zero means max
// uint256 approval, matching the common "approve once" pattern.
func (r *USDCReader) ApproveUSDC(ctx context.Context, privateKeyHex, spender string, amount decimal.Decimal) (string, error) {
	pk, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	from := crypto.PubkeyToAddress(pk.PublicKey)

	amountWei := new(big.Int)
	if amount.IsZero() {
		amountWei, _ = new(big.Int).SetString(strings.Repeat("f", 64), 16)
	} else {
		amountWei = amount.Mul(decimal.NewFromInt(usdcDecimals)).BigInt()
	}

	data := approveSelector + padAddress(spender) + fmt.Sprintf("%064x", amountWei)
	callData := common.FromHex(data)

	nonce, err := r.nonceFor(ctx, from.Hex())
	if err != nil {
		return "", fmt.Errorf("get nonce: %w", err)
	}
	gasPrice, err := r.gasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("get gas price: %w", err)
	}

	to := common.HexToAddress(usdcAddress)
	tx := types.NewTransaction(nonce, to, big.NewInt(0), 100_000, gasPrice, callData)

	signer := types.NewEIP155Signer(big.NewInt(polygonChainID))
	signedTx, err := types.SignTx(tx, signer, pk)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}

	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encode tx: %w", err)
	}

	return r.sendRawTransaction(ctx, "0x"+common.Bytes2Hex(raw))
}

func (r *USDCReader) ethCall(ctx context.Context, to, data string) (string, error) {
	params := []any{
		map[string]string{"to": to, "data": data},
		"latest",
	}
	var result string
	if err := r.rpc(ctx, "eth_call", params, &result); err != nil {
		return "", err
	}
	return result, nil
}

func (r *USDCReader) nonceFor(ctx context.Context, addr string) (uint64, error) {
	var result string
	if err := r.rpc(ctx, "eth_getTransactionCount", []any{addr, "pending"}, &result); err != nil {
		return 0, err
	}
	return hexToUint64(result), nil
}

func (r *USDCReader) gasPrice(ctx context.Context) (*big.Int, error) {
	var result string
	if err := r.rpc(ctx, "eth_gasPrice", []any{}, &result); err != nil {
		return nil, err
	}
	n := new(big.Int)
	n.SetString(strings.TrimPrefix(result, "0x"), 16)
	return n, nil
}

func (r *USDCReader) sendRawTransaction(ctx context.Context, rawTx string) (string, error) {
	var result string
	if err := r.rpc(ctx, "eth_sendRawTransaction", []any{rawTx}, &result); err != nil {
		return "", err
	}
	return result, nil
}

func (r *USDCReader) rpc(ctx context.Context, method string, params []any, out *string) error {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.rpcURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var rpcResp struct {
		Result string `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc %s: %s", method, rpcResp.Error.Message)
	}
	*out = rpcResp.Result
	return nil
}

func padAddress(addr string) string {
	clean := strings.TrimPrefix(addr, "0x")
	return fmt.Sprintf("%064s", clean)
}

func hexToUint64(h string) uint64 {
	n := new(big.Int)
	n.SetString(strings.TrimPrefix(h, "0x"), 16)
	return n.Uint64()
}

func hexToUSDC(h string) decimal.Decimal {
	if h == "" || h == "0x" || h == "0x0" {
		return decimal.Zero
	}
	n := new(big.Int)
	n.SetString(strings.TrimPrefix(h, "0x"), 16)
	return decimal.NewFromBigInt(n, 0).Div(decimal.NewFromInt(usdcDecimals))
}
